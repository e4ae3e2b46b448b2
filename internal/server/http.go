package server

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"totp-mfa-demo/internal/audit"
	"totp-mfa-demo/internal/health"
	healthhandler "totp-mfa-demo/internal/health/handler"
	identityhandler "totp-mfa-demo/internal/identity/handler"
	mfahandler "totp-mfa-demo/internal/mfa/handler"
	"totp-mfa-demo/internal/policy/engine"
	"totp-mfa-demo/internal/server/middleware"
	"totp-mfa-demo/internal/session"
	"totp-mfa-demo/internal/telemetry"
	userhandler "totp-mfa-demo/internal/user/handler"
	"totp-mfa-demo/internal/web"
)

// probeRoutes are not traced into telemetry events.
var probeRoutes = map[string]bool{
	"/healthz": true,
	"/readyz":  true,
	"/metrics": true,
}

// Deps holds the handlers and infrastructure of the web server.
type Deps struct {
	Logger   *zap.Logger
	Sessions *session.Manager
	Cookie   session.Cookie
	Policy   engine.Evaluator
	Views    *web.Renderer

	Identity *identityhandler.Handler
	MFA      *mfahandler.Handler
	User     *userhandler.Handler

	// Health backs /readyz. If nil, readiness reports ok.
	Health *health.Checker
	// Audit records auth actions. If nil, nothing is audited.
	Audit audit.AuditLogger
	// Events receives request and auth telemetry. If nil, no events are emitted.
	Events telemetry.EventEmitter
	// RateLimiter caps form posts per client. If nil, posts are not limited.
	RateLimiter *middleware.RateLimiter
}

// NewRouter builds the HTTP handler of the web server.
//
// Page class → routes:
//   - public    → GET /, GET /auth/callback, GET|POST /forgot-password
//   - entry     → GET|POST /login, GET|POST /signup
//   - challenge → POST /login/mfa, POST /login/mfa/cancel
//   - session   → POST /logout
//   - protected → GET /profile, POST /profile/mfa/{enroll,enable,cancel,unenroll}
func NewRouter(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Health == nil {
		d.Health = health.NewChecker(0)
	}

	r := mux.NewRouter()
	r.Handle("/healthz", http.HandlerFunc(healthhandler.Liveness)).Methods(http.MethodGet)
	r.Handle("/readyz", healthhandler.Readiness(d.Health)).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	pages := r.NewRoute().Subrouter()
	pages.Use(
		middleware.Trace,
		middleware.Observe,
		middleware.Session(d.Sessions, d.Cookie),
		middleware.Telemetry(d.Events, probeRoutes),
		middleware.Audit(d.Audit, d.Events),
		middleware.RateLimit(d.RateLimiter),
	)

	page := func(class, path string, h http.HandlerFunc, methods ...string) {
		pages.Handle(path, middleware.Guard(d.Policy, class)(h)).Methods(methods...)
	}

	page(engine.PagePublic, "/", d.Identity.Home, http.MethodGet)
	page(engine.PagePublic, "/auth/callback", d.Identity.Callback, http.MethodGet)
	page(engine.PagePublic, "/forgot-password", d.Identity.ForgotPasswordPage, http.MethodGet)
	page(engine.PagePublic, "/forgot-password", d.Identity.ForgotPassword, http.MethodPost)

	page(engine.PageEntry, "/login", d.Identity.LoginPage, http.MethodGet)
	page(engine.PageEntry, "/login", d.Identity.Login, http.MethodPost)
	page(engine.PageEntry, "/signup", d.Identity.SignUpPage, http.MethodGet)
	page(engine.PageEntry, "/signup", d.Identity.SignUp, http.MethodPost)

	page(engine.PageChallenge, "/login/mfa", d.MFA.Verify, http.MethodPost)
	page(engine.PageChallenge, "/login/mfa/cancel", d.MFA.CancelChallenge, http.MethodPost)

	page(engine.PageProtected, "/profile", d.User.Profile, http.MethodGet)
	page(engine.PageProtected, "/profile/mfa/enroll", d.MFA.Enroll, http.MethodPost)
	page(engine.PageProtected, "/profile/mfa/enable", d.MFA.Enable, http.MethodPost)
	page(engine.PageProtected, "/profile/mfa/cancel", d.MFA.CancelEnrollment, http.MethodPost)
	page(engine.PageProtected, "/profile/mfa/unenroll", d.MFA.Unenroll, http.MethodPost)
	page(engine.PageSession, "/logout", d.Identity.Logout, http.MethodPost)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		d.Views.Render(w, req, http.StatusNotFound, "error", web.Page{Title: "Page not found"})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		d.Views.Render(w, req, http.StatusMethodNotAllowed, "error", web.Page{Title: "Method not allowed"})
	})

	return middleware.RequestContext(d.Logger)(middleware.Recover(r))
}
