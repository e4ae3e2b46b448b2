// Package engine decides page access for the session guard with an OPA Rego policy.
package engine

import "context"

// Page classes a route can belong to.
const (
	// PagePublic is reachable with or without a session (home, auth callback, forgot password).
	PagePublic = "public"
	// PageEntry is a credential form (login, signup); authenticated users are sent to the landing page.
	PageEntry = "entry"
	// PageChallenge serves the post-login MFA challenge; it needs a session that is not yet authenticated.
	PageChallenge = "challenge"
	// PageSession needs any live session, authenticated or not (logout).
	PageSession = "session"
	// PageProtected requires an authenticated session.
	PageProtected = "protected"
)

// Redirect targets produced by the built-in policy.
const (
	LoginPath   = "/login"
	LandingPath = "/profile"
)

// SessionInput is the session facts the policy sees.
type SessionInput struct {
	Present bool
	AAL     string
	// VerifiedFactor reports whether the account has at least one verified TOTP factor.
	VerifiedFactor bool
}

// Decision is the outcome of an access evaluation.
type Decision struct {
	Allow bool
	// Redirect is the path to send the browser to when Allow is false.
	Redirect string
	// Authenticated is true for a session that passed every required factor.
	Authenticated bool
}

// Evaluator evaluates the access policy for a page request.
type Evaluator interface {
	Evaluate(ctx context.Context, page string, session SessionInput) (Decision, error)
}
