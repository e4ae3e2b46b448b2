// Package handler serves the credential pages: home, login, signup, email confirmation, password
// recovery and logout.
package handler

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"totp-mfa-demo/internal/audit"
	auditdomain "totp-mfa-demo/internal/audit/domain"
	"totp-mfa-demo/internal/identity/provider"
	"totp-mfa-demo/internal/identity/service"
	"totp-mfa-demo/internal/logger"
	"totp-mfa-demo/internal/policy/engine"
	"totp-mfa-demo/internal/session"
	"totp-mfa-demo/internal/session/repository"
	"totp-mfa-demo/internal/web"
)

// Handler serves the credential forms.
type Handler struct {
	auth     *service.AuthService
	sessions *session.Manager
	cookie   session.Cookie
	views    *web.Renderer
}

// NewHandler returns a Handler.
func NewHandler(auth *service.AuthService, sessions *session.Manager, cookie session.Cookie, views *web.Renderer) *Handler {
	return &Handler{auth: auth, sessions: sessions, cookie: cookie, views: views}
}

// Home renders the landing page with login and signup links.
func (h *Handler) Home(w http.ResponseWriter, r *http.Request) {
	h.views.Render(w, r, http.StatusOK, "home", web.Page{
		Authenticated: session.FromContext(r.Context()).Authenticated(),
	})
}

// LoginPage renders the login form. A session waiting for its TOTP code gets the challenge surface.
func (h *Handler) LoginPage(w http.ResponseWriter, r *http.Request) {
	auth := session.FromContext(r.Context())
	view := web.LoginView{}
	page := web.Page{Title: "Login"}
	if auth.Present() {
		view.Email = auth.Record.Email
		view.Challenge = auth.Record.ChallengePending
		view.SignedIn = true
		page.SetFlash(h.sessions.TakeFlash(r.Context(), auth.Record))
	}
	page.Data = view
	h.views.Render(w, r, http.StatusOK, "login", page)
}

// Login signs in with email and password. Accounts with a verified TOTP factor stay on the page with the
// challenge surface open; the others go to the landing page.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	form := service.LoginForm{
		Email:    r.PostFormValue("email"),
		Password: r.PostFormValue("password"),
	}
	view := web.LoginView{Email: form.Email}

	unlock, err := h.lockCurrent(ctx, r)
	if err != nil {
		h.views.Render(w, r, http.StatusConflict, "login", web.Page{Title: "Login", Error: web.BusyMessage, Data: view})
		return
	}
	defer unlock()

	res, err := h.auth.Login(ctx, form)
	if err != nil {
		audit.Record(ctx, auditdomain.OutcomeFailure, "", map[string]string{"reason": err.Error()})
		h.views.Render(w, r, formStatus(err), "login", web.Page{Title: "Login", Error: err.Error(), Data: view})
		return
	}
	challenge := res.State == service.StateAwaitingChallenge
	if !h.begin(w, r, res.Session, res.Factor.IsEnrolled(), challenge) {
		return
	}
	if challenge {
		audit.Record(ctx, "", "", map[string]string{"state": string(res.State)})
		view.Challenge = true
		h.views.Render(w, r, http.StatusOK, "login", web.Page{Title: "Login", Data: view})
		return
	}
	web.Redirect(w, r, engine.LandingPath)
}

// SignUpPage renders the signup form.
func (h *Handler) SignUpPage(w http.ResponseWriter, r *http.Request) {
	h.views.Render(w, r, http.StatusOK, "signup", web.Page{Title: "Sign Up", Data: web.SignUpView{}})
}

// SignUp creates the account and shows the success panel in place of the form.
func (h *Handler) SignUp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	form := service.SignUpForm{
		FirstName:   r.PostFormValue("first_name"),
		LastName:    r.PostFormValue("last_name"),
		Email:       r.PostFormValue("email"),
		Password:    r.PostFormValue("password"),
		AcceptTerms: r.PostFormValue("terms") != "",
	}
	view := web.SignUpView{FirstName: form.FirstName, LastName: form.LastName, Email: form.Email}

	res, err := h.auth.SignUp(ctx, form)
	if err != nil {
		audit.Record(ctx, auditdomain.OutcomeFailure, "", map[string]string{"reason": err.Error()})
		h.views.Render(w, r, formStatus(err), "signup", web.Page{Title: "Sign Up", Error: err.Error(), Data: view})
		return
	}
	audit.Record(ctx, auditdomain.OutcomeSuccess, res.Account.ID, nil)
	view.Email = res.Account.Email
	view.Success = true
	h.views.Render(w, r, http.StatusOK, "signup", web.Page{Title: "Sign Up", Data: view})
}

// Callback redeems the link of a confirmation email and signs the account in.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	if msg := q.Get("error_description"); msg != "" {
		audit.Record(ctx, auditdomain.OutcomeFailure, "", map[string]string{"reason": msg})
		h.views.Render(w, r, http.StatusBadRequest, "login", web.Page{Title: "Login", Error: msg, Data: web.LoginView{}})
		return
	}
	res, err := h.auth.ConfirmEmail(ctx, q.Get("token_hash"), q.Get("type"))
	if err != nil {
		audit.Record(ctx, auditdomain.OutcomeFailure, "", map[string]string{"reason": err.Error()})
		h.views.Render(w, r, formStatus(err), "login", web.Page{Title: "Login", Error: err.Error(), Data: web.LoginView{}})
		return
	}
	challenge := res.State == service.StateAwaitingChallenge
	if !h.begin(w, r, res.Session, res.Factor.IsEnrolled(), challenge) {
		return
	}
	if challenge {
		web.Redirect(w, r, engine.LoginPath)
		return
	}
	web.Redirect(w, r, engine.LandingPath)
}

// ForgotPasswordPage renders the recovery form.
func (h *Handler) ForgotPasswordPage(w http.ResponseWriter, r *http.Request) {
	h.views.Render(w, r, http.StatusOK, "forgot_password", web.Page{Title: "Forgot password", Data: web.ForgotPasswordView{}})
}

// ForgotPassword requests a recovery email.
func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	form := service.RecoverForm{Email: r.PostFormValue("email")}
	view := web.ForgotPasswordView{Email: form.Email}
	if err := h.auth.RecoverPassword(r.Context(), form); err != nil {
		audit.Record(r.Context(), auditdomain.OutcomeFailure, "", map[string]string{"reason": err.Error()})
		h.views.Render(w, r, formStatus(err), "forgot_password", web.Page{Title: "Forgot password", Error: err.Error(), Data: view})
		return
	}
	view.Sent = true
	h.views.Render(w, r, http.StatusOK, "forgot_password", web.Page{Title: "Forgot password", Data: view})
}

// Logout revokes the provider session and forgets the record. When the provider fails the user stays
// signed in on the profile page.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	auth := session.FromContext(ctx)
	if err := h.auth.SignOut(ctx, auth.AccessToken()); err != nil {
		logger.FromContext(ctx).Error("sign out failed", zap.String("user_id", auth.UserID()), zap.Error(err))
		audit.Record(ctx, auditdomain.OutcomeFailure, auth.UserID(), map[string]string{"reason": err.Error()})
		web.Redirect(w, r, engine.LandingPath)
		return
	}
	if auth.Present() {
		if err := h.sessions.End(ctx, auth.Record.ID); err != nil {
			logger.FromContext(ctx).Warn("end session failed", zap.Error(err))
		}
	}
	h.cookie.Clear(w)
	web.Redirect(w, r, engine.LoginPath)
}

// begin replaces the current record with one for s and sets the cookie. It renders an error page and
// returns false when the record cannot be stored.
func (h *Handler) begin(w http.ResponseWriter, r *http.Request, s *provider.Session, verifiedFactor, challenge bool) bool {
	ctx := r.Context()
	if old := h.cookie.Read(r); old != "" {
		if err := h.sessions.End(ctx, old); err != nil {
			logger.FromContext(ctx).Warn("end previous session failed", zap.Error(err))
		}
	}
	rec, err := h.sessions.Begin(ctx, s, verifiedFactor, challenge)
	if err != nil {
		logger.FromContext(ctx).Error("begin session failed", zap.Error(err))
		audit.Record(ctx, auditdomain.OutcomeFailure, "", map[string]string{"reason": "session store"})
		h.views.Render(w, r, http.StatusInternalServerError, "error", web.Page{Title: "Something went wrong, please try again"})
		return false
	}
	audit.Record(ctx, "", rec.UserID, nil)
	h.cookie.Set(w, rec.ID)
	return true
}

// lockCurrent takes the lock of the record named by the cookie, if any.
func (h *Handler) lockCurrent(ctx context.Context, r *http.Request) (func(), error) {
	id := h.cookie.Read(r)
	if id == "" {
		return func() {}, nil
	}
	unlock, err := h.sessions.Lock(ctx, id)
	if errors.Is(err, repository.ErrBusy) {
		return nil, err
	}
	if err != nil {
		logger.FromContext(ctx).Warn("session lock failed", zap.Error(err))
		return func() {}, nil
	}
	return unlock, nil
}

func formStatus(err error) int {
	if errors.Is(err, service.ErrMissingField) {
		return http.StatusUnprocessableEntity
	}
	return web.ErrorStatus(err)
}
