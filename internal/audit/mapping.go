package audit

import (
	"net/http"
	"strings"
)

// ActionResource holds action and resource derived from an HTTP route.
type ActionResource struct {
	Action   string
	Resource string
}

type routeKey struct {
	method string
	path   string
}

// authRoutes are the state changing routes of the web app.
var authRoutes = map[routeKey]ActionResource{
	{http.MethodPost, "/login"}:                {"login", "session"},
	{http.MethodPost, "/login/mfa"}:            {"mfa_challenge", "session"},
	{http.MethodPost, "/login/mfa/cancel"}:     {"mfa_challenge_cancel", "session"},
	{http.MethodPost, "/logout"}:               {"logout", "session"},
	{http.MethodPost, "/signup"}:               {"sign_up", "account"},
	{http.MethodGet, "/auth/callback"}:         {"confirm_email", "account"},
	{http.MethodPost, "/forgot-password"}:      {"recover_password", "account"},
	{http.MethodPost, "/profile/mfa/enroll"}:   {"mfa_enroll", "factor"},
	{http.MethodPost, "/profile/mfa/enable"}:   {"mfa_enable", "factor"},
	{http.MethodPost, "/profile/mfa/cancel"}:   {"mfa_enroll_cancel", "factor"},
	{http.MethodPost, "/profile/mfa/unenroll"}: {"mfa_unenroll", "factor"},
}

// ParseRoute returns action and resource for a request. Known auth routes get a named action; other
// routes get the lower case method as action and the first path segment as resource.
// The boolean reports whether the route is an auth action worth auditing.
func ParseRoute(method, path string) (ActionResource, bool) {
	path = strings.TrimSuffix(path, "/")
	if path == "" {
		path = "/"
	}
	if ar, ok := authRoutes[routeKey{method, path}]; ok {
		return ar, true
	}
	resource := strings.TrimPrefix(path, "/")
	if i := strings.Index(resource, "/"); i >= 0 {
		resource = resource[:i]
	}
	if resource == "" {
		resource = "home"
	}
	return ActionResource{Action: strings.ToLower(method), Resource: resource}, false
}
