package audit

import "testing"

func TestParseRoute(t *testing.T) {
	testCases := []struct {
		method   string
		path     string
		action   string
		resource string
		audited  bool
	}{
		{"POST", "/login", "login", "session", true},
		{"POST", "/login/", "login", "session", true},
		{"POST", "/login/mfa", "mfa_challenge", "session", true},
		{"POST", "/logout", "logout", "session", true},
		{"POST", "/signup", "sign_up", "account", true},
		{"GET", "/auth/callback", "confirm_email", "account", true},
		{"POST", "/profile/mfa/enable", "mfa_enable", "factor", true},
		{"POST", "/profile/mfa/unenroll", "mfa_unenroll", "factor", true},
		{"GET", "/login", "get", "login", false},
		{"GET", "/profile", "get", "profile", false},
		{"GET", "/", "get", "home", false},
		{"DELETE", "/profile/mfa/x", "delete", "profile", false},
	}

	for _, tc := range testCases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			ar, audited := ParseRoute(tc.method, tc.path)
			if ar.Action != tc.action {
				t.Errorf("action = %q, want %q", ar.Action, tc.action)
			}
			if ar.Resource != tc.resource {
				t.Errorf("resource = %q, want %q", ar.Resource, tc.resource)
			}
			if audited != tc.audited {
				t.Errorf("audited = %v, want %v", audited, tc.audited)
			}
		})
	}
}
