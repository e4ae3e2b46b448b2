// Package session resolves the per-request auth context from the server-side session record.
package session

import (
	"context"

	"totp-mfa-demo/internal/security"
	"totp-mfa-demo/internal/session/domain"
)

// Auth is the auth context of one request. The zero value is an anonymous visitor.
type Auth struct {
	Record *domain.Record
	Claims *security.Claims
}

// Anonymous returns an auth context without a session.
func Anonymous() *Auth { return &Auth{} }

// Present reports whether the request carries a live provider session.
func (a *Auth) Present() bool {
	return a != nil && a.Record != nil && a.Claims != nil
}

// AAL returns the assurance level of the access token, or empty without a session.
func (a *Auth) AAL() string {
	if !a.Present() {
		return ""
	}
	return a.Claims.AAL
}

// Authenticated reports whether the session passed every factor the account has:
// aal2, or aal1 for an account without a verified factor.
func (a *Auth) Authenticated() bool {
	if !a.Present() {
		return false
	}
	return a.Claims.AAL == security.AAL2 || !a.Record.VerifiedFactor
}

// AccessToken returns the provider access token, or empty.
func (a *Auth) AccessToken() string {
	if !a.Present() {
		return ""
	}
	return a.Record.AccessToken
}

// UserID returns the provider user id, or empty.
func (a *Auth) UserID() string {
	if !a.Present() {
		return ""
	}
	return a.Record.UserID
}

type contextKey struct{ name string }

var authKey = contextKey{"auth"}

// WithAuth returns ctx carrying a. Set once per request by the session middleware.
func WithAuth(ctx context.Context, a *Auth) context.Context {
	return context.WithValue(ctx, authKey, a)
}

// FromContext returns the auth context of the request; Anonymous if none was set.
func FromContext(ctx context.Context) *Auth {
	if a, ok := ctx.Value(authKey).(*Auth); ok && a != nil {
		return a
	}
	return Anonymous()
}
