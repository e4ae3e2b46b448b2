// Package handler serves the MFA challenge after login and the enrollment and removal actions of the
// profile page.
package handler

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"totp-mfa-demo/internal/audit"
	auditdomain "totp-mfa-demo/internal/audit/domain"
	"totp-mfa-demo/internal/logger"
	"totp-mfa-demo/internal/mfa"
	"totp-mfa-demo/internal/policy/engine"
	"totp-mfa-demo/internal/session"
	sessiondomain "totp-mfa-demo/internal/session/domain"
	"totp-mfa-demo/internal/session/repository"
	"totp-mfa-demo/internal/web"
)

// SignOuter revokes a provider session.
type SignOuter interface {
	SignOut(ctx context.Context, accessToken string) error
}

// Handler serves the MFA flows. Every action holds the session lock for its provider calls.
type Handler struct {
	api      mfa.FactorAPI
	factors  *mfa.FactorManager
	signOut  SignOuter
	sessions *session.Manager
	cookie   session.Cookie
	views    *web.Renderer
}

// NewHandler returns a Handler.
func NewHandler(api mfa.FactorAPI, factors *mfa.FactorManager, signOut SignOuter, sessions *session.Manager, cookie session.Cookie, views *web.Renderer) *Handler {
	return &Handler{api: api, factors: factors, signOut: signOut, sessions: sessions, cookie: cookie, views: views}
}

// Verify completes the login of an account with a TOTP factor. On success the aal2 tokens replace the
// password-only ones and the browser goes to the landing page. On failure the challenge surface closes
// and the login page shows the provider message.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	auth := session.FromContext(ctx)
	rec, unlock, err := h.sessions.Acquire(ctx, auth.Record.ID)
	if errors.Is(err, repository.ErrBusy) {
		h.views.Render(w, r, http.StatusConflict, "login", web.Page{
			Title: "Login",
			Error: web.BusyMessage,
			Data:  web.LoginView{Email: auth.Record.Email, Challenge: true},
		})
		return
	}
	if err != nil {
		web.Redirect(w, r, engine.LoginPath)
		return
	}
	defer unlock()
	if !rec.ChallengePending {
		web.Redirect(w, r, engine.LoginPath)
		return
	}

	flow := mfa.NewChallengeFlow(h.api)
	s, err := flow.Confirm(ctx, rec.AccessToken, r.PostFormValue("code"))
	if err == nil {
		err = h.sessions.ApplyTokens(rec, s)
	}
	rec.ChallengePending = false
	if err != nil {
		logger.FromContext(ctx).Info("mfa challenge rejected", zap.String("user_id", rec.UserID), zap.Error(err))
		audit.Record(ctx, auditdomain.OutcomeFailure, rec.UserID, map[string]string{"reason": mfa.Message(err)})
		if serr := h.sessions.Save(ctx, rec); serr != nil && !errors.Is(serr, session.ErrStale) {
			logger.FromContext(ctx).Warn("save session failed", zap.Error(serr))
		}
		h.views.Render(w, r, http.StatusUnauthorized, "login", web.Page{
			Title: "Login",
			Error: mfa.Message(err),
			Data:  web.LoginView{Email: rec.Email, SignedIn: true},
		})
		return
	}

	rec.VerifiedFactor = true
	if err := h.sessions.Save(ctx, rec); err != nil {
		if !errors.Is(err, session.ErrStale) {
			logger.FromContext(ctx).Error("save session failed", zap.Error(err))
		}
		web.Redirect(w, r, engine.LoginPath)
		return
	}
	audit.Record(ctx, auditdomain.OutcomeSuccess, rec.UserID, nil)
	web.Redirect(w, r, engine.LandingPath)
}

// CancelChallenge abandons a pending challenge: the password-only session is revoked and forgotten.
func (h *Handler) CancelChallenge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	auth := session.FromContext(ctx)
	if err := h.signOut.SignOut(ctx, auth.AccessToken()); err != nil {
		logger.FromContext(ctx).Warn("sign out after cancelled challenge failed", zap.Error(err))
	}
	if err := h.sessions.End(ctx, auth.Record.ID); err != nil {
		logger.FromContext(ctx).Warn("end session failed", zap.Error(err))
	}
	h.cookie.Clear(w)
	web.Redirect(w, r, engine.LoginPath)
}

// Enroll creates a TOTP factor and opens the enrollment surface on the profile page. An account that
// already has a verified factor is sent back to the profile without a new factor.
func (h *Handler) Enroll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rec, unlock, ok := h.acquire(w, r)
	if !ok {
		return
	}
	defer unlock()
	if rec.Enrollment != nil || rec.VerifiedFactor {
		web.Redirect(w, r, engine.LandingPath)
		return
	}
	// The account may have gained a factor in another browser since the profile was rendered.
	state, err := h.factors.State(ctx, rec.AccessToken)
	if err != nil {
		logger.FromContext(ctx).Info("list factors before enroll failed", zap.String("user_id", rec.UserID), zap.Error(err))
		audit.Record(ctx, auditdomain.OutcomeFailure, "", map[string]string{"reason": mfa.Message(err)})
		rec.SetError(mfa.Message(err))
		h.save(ctx, rec)
		web.Redirect(w, r, engine.LandingPath)
		return
	}
	if state.IsEnrolled() {
		rec.VerifiedFactor = true
		h.save(ctx, rec)
		web.Redirect(w, r, engine.LandingPath)
		return
	}

	flow := mfa.NewEnrollmentFlow(h.api)
	if err := flow.Start(ctx, rec.AccessToken); err != nil {
		logger.FromContext(ctx).Info("totp enroll failed", zap.String("user_id", rec.UserID), zap.Error(err))
		audit.Record(ctx, auditdomain.OutcomeFailure, "", map[string]string{"reason": mfa.Message(err)})
		rec.SetError(mfa.Message(err))
		h.save(ctx, rec)
		web.Redirect(w, r, engine.LandingPath)
		return
	}
	rec.Enrollment = &sessiondomain.Enrollment{FactorID: flow.FactorID(), QRCode: flow.QRCode()}
	audit.Record(ctx, "", "", map[string]string{"factor_id": flow.FactorID()})
	if !h.save(ctx, rec) {
		// Signed out or replaced meanwhile; nobody will finish this factor.
		if err := flow.Discard(ctx, rec.AccessToken); err != nil {
			logger.FromContext(ctx).Warn("discard orphan factor failed", zap.Error(err))
		}
	}
	web.Redirect(w, r, engine.LandingPath)
}

// Enable verifies the first code of the pending factor. Success activates the factor and stores the
// aal2 tokens. Any failure closes the surface and deletes the unverified factor; there is no retry with
// the same factor. A blank code keeps the surface open without calling the provider.
func (h *Handler) Enable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rec, unlock, ok := h.acquire(w, r)
	if !ok {
		return
	}
	defer unlock()
	if rec.Enrollment == nil {
		web.Redirect(w, r, engine.LandingPath)
		return
	}

	flow := mfa.ResumeEnrollment(h.api, rec.Enrollment.FactorID, rec.Enrollment.QRCode)
	code := r.PostFormValue("code")
	if !flow.CanEnable(code) {
		audit.Record(ctx, auditdomain.OutcomeFailure, "", map[string]string{"reason": "empty code"})
		rec.SetError(mfa.Message(mfa.ErrEmptyCode))
		h.save(ctx, rec)
		web.Redirect(w, r, engine.LandingPath)
		return
	}

	s, err := flow.Enable(ctx, rec.AccessToken, code)
	if err == nil {
		err = h.sessions.ApplyTokens(rec, s)
	}
	if err != nil {
		logger.FromContext(ctx).Info("totp enable failed", zap.String("user_id", rec.UserID), zap.Error(err))
		audit.Record(ctx, auditdomain.OutcomeFailure, "", map[string]string{"reason": mfa.Message(err)})
		if derr := flow.Discard(ctx, rec.AccessToken); derr != nil {
			logger.FromContext(ctx).Warn("discard failed factor failed", zap.Error(derr))
		}
		rec.Enrollment = nil
		rec.SetError(mfa.Message(err))
		h.save(ctx, rec)
		web.Redirect(w, r, engine.LandingPath)
		return
	}
	rec.Enrollment = nil
	rec.VerifiedFactor = true
	h.save(ctx, rec)
	web.Redirect(w, r, engine.LandingPath)
}

// CancelEnrollment closes the enrollment surface and deletes the unverified factor.
func (h *Handler) CancelEnrollment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rec, unlock, ok := h.acquire(w, r)
	if !ok {
		return
	}
	defer unlock()
	if e := rec.Enrollment; e != nil {
		flow := mfa.ResumeEnrollment(h.api, e.FactorID, e.QRCode)
		if err := flow.Discard(ctx, rec.AccessToken); err != nil {
			logger.FromContext(ctx).Warn("discard cancelled factor failed", zap.Error(err))
		}
		rec.Enrollment = nil
		h.save(ctx, rec)
	}
	web.Redirect(w, r, engine.LandingPath)
}

// Unenroll removes the account's TOTP factor. Errors are logged and not shown; the profile is shown
// again either way.
func (h *Handler) Unenroll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rec, unlock, ok := h.acquire(w, r)
	if !ok {
		return
	}
	defer unlock()

	state, err := h.factors.State(ctx, rec.AccessToken)
	if err == nil {
		err = h.factors.Remove(ctx, rec.AccessToken, state)
	}
	if err != nil {
		audit.Record(ctx, auditdomain.OutcomeFailure, "", map[string]string{"reason": mfa.Message(err)})
		web.Redirect(w, r, engine.LandingPath)
		return
	}
	rec.VerifiedFactor = false
	h.save(ctx, rec)
	web.Redirect(w, r, engine.LandingPath)
}

// acquire locks the record of the request. A busy session gets a conflict page.
func (h *Handler) acquire(w http.ResponseWriter, r *http.Request) (*sessiondomain.Record, func(), bool) {
	auth := session.FromContext(r.Context())
	rec, unlock, err := h.sessions.Acquire(r.Context(), auth.Record.ID)
	if errors.Is(err, repository.ErrBusy) {
		h.views.Render(w, r, http.StatusConflict, "error", web.Page{Title: web.BusyMessage, Authenticated: true})
		return nil, nil, false
	}
	if err != nil {
		web.Redirect(w, r, engine.LoginPath)
		return nil, nil, false
	}
	return rec, unlock, true
}

// save writes rec back and reports whether it was stored. Stale writes are dropped silently.
func (h *Handler) save(ctx context.Context, rec *sessiondomain.Record) bool {
	err := h.sessions.Save(ctx, rec)
	if err == nil {
		return true
	}
	if !errors.Is(err, session.ErrStale) {
		logger.FromContext(ctx).Error("save session failed", zap.String("user_id", rec.UserID), zap.Error(err))
	}
	return false
}
