// Package handler serves the profile page: the greeting, the TOTP factor status and the enrollment
// surface.
package handler

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	identitydomain "totp-mfa-demo/internal/identity/domain"
	"totp-mfa-demo/internal/logger"
	"totp-mfa-demo/internal/mfa"
	mfadomain "totp-mfa-demo/internal/mfa/domain"
	"totp-mfa-demo/internal/policy/engine"
	"totp-mfa-demo/internal/security"
	"totp-mfa-demo/internal/session"
	sessiondomain "totp-mfa-demo/internal/session/domain"
	"totp-mfa-demo/internal/web"
)

// AccountReader returns the signed-in account.
type AccountReader interface {
	CurrentUser(ctx context.Context, accessToken string) (*identitydomain.Account, error)
}

// FactorReader returns the account's TOTP factor state.
type FactorReader interface {
	State(ctx context.Context, accessToken string) (mfadomain.FactorState, error)
}

// Handler serves the profile page.
type Handler struct {
	accounts AccountReader
	factors  FactorReader
	sessions *session.Manager
	views    *web.Renderer
}

// NewHandler returns a Handler.
func NewHandler(accounts AccountReader, factors FactorReader, sessions *session.Manager, views *web.Renderer) *Handler {
	return &Handler{accounts: accounts, factors: factors, sessions: sessions, views: views}
}

// Profile greets the user and shows whether TOTP is enabled. The factor list is fetched on every view, so
// the page reflects the result of the last enroll or unenroll.
func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	auth := session.FromContext(ctx)
	rec := auth.Record
	token := auth.AccessToken()
	log := logger.FromContext(ctx)

	view := web.ProfileView{Name: rec.Email}
	page := web.Page{Title: "Profile", Authenticated: true}

	acc, err := h.accounts.CurrentUser(ctx, token)
	if err != nil {
		log.Warn("get user failed", zap.String("user_id", rec.UserID), zap.Error(err))
	} else if name := acc.DisplayName(); name != "" {
		view.Name = name
	}

	state, err := h.factors.State(ctx, token)
	if err != nil {
		log.Warn("list factors failed", zap.String("user_id", rec.UserID), zap.Error(err))
		page.Error = mfa.Message(err)
	}
	view.Status = state.Status()
	view.Enrolled = state.IsEnrolled()

	next := rec.Clone()
	page.SetFlash(next.TakeFlash())
	changed := rec.Flash != nil
	if err == nil && next.VerifiedFactor != state.IsEnrolled() {
		next.VerifiedFactor = state.IsEnrolled()
		changed = true
	}
	if next.VerifiedFactor && auth.AAL() != security.AAL2 {
		// A factor was added by another session; this one has to pass the challenge first.
		next.ChallengePending = true
		h.save(ctx, next)
		web.Redirect(w, r, engine.LoginPath)
		return
	}
	if changed {
		h.save(ctx, next)
	}
	if e := rec.Enrollment; e != nil {
		view.Enrollment = &web.EnrollmentView{QRCode: e.QRCode}
	}
	page.Data = view
	h.views.Render(w, r, http.StatusOK, "profile", page)
}

// save writes rec back; a stale write is dropped.
func (h *Handler) save(ctx context.Context, rec *sessiondomain.Record) {
	if err := h.sessions.Save(ctx, rec); err != nil && !errors.Is(err, session.ErrStale) {
		logger.FromContext(ctx).Warn("save session failed", zap.String("user_id", rec.UserID), zap.Error(err))
	}
}
