package middleware

import (
	"net/http"

	"go.uber.org/zap"

	"totp-mfa-demo/internal/logger"
	"totp-mfa-demo/internal/policy/engine"
	"totp-mfa-demo/internal/session"
	"totp-mfa-demo/internal/web"
)

// Session resolves the auth context of the request once and injects it into the context.
func Session(m *session.Manager, cookie session.Cookie) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			auth := m.Resolve(ctx, cookie.Read(r))
			if auth.Present() {
				ctx = logger.WithContext(ctx, logger.FromContext(ctx).With(zap.String("user_id", auth.UserID())))
			}
			next.ServeHTTP(w, r.WithContext(session.WithAuth(ctx, auth)))
		})
	}
}

// Guard applies the access policy for a page class. A denied request is redirected to the path the
// policy names.
func Guard(ev engine.Evaluator, page string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			auth := session.FromContext(ctx)
			in := engine.SessionInput{
				Present: auth.Present(),
				AAL:     auth.AAL(),
			}
			if auth.Present() {
				in.VerifiedFactor = auth.Record.VerifiedFactor
			}
			// The evaluator logs failures and fails closed.
			d, _ := ev.Evaluate(ctx, page, in)
			if !d.Allow {
				target := d.Redirect
				if target == "" {
					target = engine.LoginPath
				}
				web.Redirect(w, r, target)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
