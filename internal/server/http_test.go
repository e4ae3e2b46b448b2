package server

import (
	"context"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	identityhandler "totp-mfa-demo/internal/identity/handler"
	"totp-mfa-demo/internal/identity/provider/providertest"
	"totp-mfa-demo/internal/identity/service"
	"totp-mfa-demo/internal/mfa"
	mfahandler "totp-mfa-demo/internal/mfa/handler"
	"totp-mfa-demo/internal/policy/engine"
	"totp-mfa-demo/internal/security"
	"totp-mfa-demo/internal/session"
	"totp-mfa-demo/internal/session/repository"
	userhandler "totp-mfa-demo/internal/user/handler"
	"totp-mfa-demo/internal/web"
)

const (
	annEmail    = "ann@example.com"
	annPassword = "correct horse"
)

type testApp struct {
	idp  *providertest.Server
	repo *repository.MemoryRepository
	srv  *httptest.Server
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	idp := providertest.NewServer()
	t.Cleanup(idp.Close)

	client := idp.Client()
	repo := repository.NewMemoryRepository(time.Hour)
	sessions := session.NewManager(repo, client, security.NewTestTokenVerifier(), nil)
	cookie := session.Cookie{Name: "mfa_session", MaxAge: time.Hour}
	views := web.MustNewRenderer()
	policy, err := engine.NewOPAEvaluator(context.Background(), "", nil)
	require.NoError(t, err)
	factors := mfa.NewFactorManager(client, nil)
	auth := service.NewAuthService(client, "http://localhost:3000/auth/callback")

	h := NewRouter(Deps{
		Sessions: sessions,
		Cookie:   cookie,
		Policy:   policy,
		Views:    views,
		Identity: identityhandler.NewHandler(auth, sessions, cookie, views),
		MFA:      mfahandler.NewHandler(client, factors, client, sessions, cookie, views),
		User:     userhandler.NewHandler(auth, factors, sessions, views),
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &testApp{idp: idp, repo: repo, srv: srv}
}

// browser keeps cookies and does not follow redirects.
type browser struct {
	t      *testing.T
	base   string
	client *http.Client
}

func (a *testApp) browser(t *testing.T) *browser {
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &browser{
		t:    t,
		base: a.srv.URL,
		client: &http.Client{
			Jar: jar,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

type page struct {
	status   int
	location string
	body     string
}

func (b *browser) get(path string) page {
	b.t.Helper()
	resp, err := b.client.Get(b.base + path)
	require.NoError(b.t, err)
	return readPage(b.t, resp)
}

func (b *browser) post(path string, form url.Values) page {
	b.t.Helper()
	resp, err := b.client.PostForm(b.base+path, form)
	require.NoError(b.t, err)
	return readPage(b.t, resp)
}

func readPage(t *testing.T, resp *http.Response) page {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return page{status: resp.StatusCode, location: resp.Header.Get("Location"), body: string(body)}
}

func (b *browser) login(email, password string) page {
	return b.post("/login", url.Values{"email": {email}, "password": {password}})
}

func TestLogin_NoFactorRedirectsToLanding(t *testing.T) {
	app := newTestApp(t)
	app.idp.AddUser(annEmail, annPassword, "Ann")
	b := app.browser(t)

	p := b.login(annEmail, annPassword)
	assert.Equal(t, http.StatusSeeOther, p.status)
	assert.Equal(t, "/profile", p.location)

	p = b.get("/profile")
	require.Equal(t, http.StatusOK, p.status)
	assert.Contains(t, p.body, "Welcome, Ann")
	assert.Contains(t, p.body, "Disabled")
	assert.Contains(t, p.body, "Configure")

	p = b.get("/login")
	assert.Equal(t, http.StatusSeeOther, p.status, "entry pages send authenticated users away")
	assert.Equal(t, "/profile", p.location)
}

func TestLogin_ProviderMessageShownVerbatim(t *testing.T) {
	app := newTestApp(t)
	app.idp.AddUser(annEmail, annPassword, "Ann")
	b := app.browser(t)

	p := b.login(annEmail, "wrong")
	assert.Equal(t, http.StatusBadRequest, p.status)
	assert.Contains(t, p.body, "Invalid login credentials")
	assert.Contains(t, p.body, `value="ann@example.com"`)

	p = b.login("", "")
	assert.Equal(t, http.StatusUnprocessableEntity, p.status)
	assert.Contains(t, p.body, "Email is required")
}

func TestProtectedPagesRequireSession(t *testing.T) {
	app := newTestApp(t)
	b := app.browser(t)

	p := b.get("/profile")
	assert.Equal(t, http.StatusSeeOther, p.status)
	assert.Equal(t, "/login", p.location)
	p = b.post("/profile/mfa/enroll", nil)
	assert.Equal(t, "/login", p.location)
	p = b.post("/login/mfa", url.Values{"code": {providertest.ValidCode}})
	assert.Equal(t, "/login", p.location)
}

func TestLogin_WithFactorOpensChallenge(t *testing.T) {
	app := newTestApp(t)
	app.idp.AddUser(annEmail, annPassword, "Ann")
	app.idp.AddVerifiedFactor(annEmail)
	b := app.browser(t)

	p := b.login(annEmail, annPassword)
	assert.Equal(t, http.StatusOK, p.status, "no navigation while the challenge is open")
	assert.Empty(t, p.location)
	assert.Contains(t, p.body, `id="mfa-challenge"`)

	p = b.get("/profile")
	assert.Equal(t, http.StatusSeeOther, p.status, "password-only session is not authenticated")
	assert.Equal(t, "/login", p.location)

	p = b.get("/login")
	assert.Equal(t, http.StatusOK, p.status)
	assert.Contains(t, p.body, `id="mfa-challenge"`, "reloading keeps the challenge open")
}

func TestChallenge_SuccessRedirectsOnce(t *testing.T) {
	app := newTestApp(t)
	app.idp.AddUser(annEmail, annPassword, "Ann")
	app.idp.AddVerifiedFactor(annEmail)
	b := app.browser(t)
	b.login(annEmail, annPassword)

	p := b.post("/login/mfa", url.Values{"code": {providertest.ValidCode}})
	assert.Equal(t, http.StatusSeeOther, p.status)
	assert.Equal(t, "/profile", p.location)

	p = b.get("/profile")
	require.Equal(t, http.StatusOK, p.status)
	assert.Contains(t, p.body, "Enabled")
	assert.Contains(t, p.body, "Remove")

	p = b.post("/login/mfa", url.Values{"code": {providertest.ValidCode}})
	assert.Equal(t, "/profile", p.location, "a confirmed session cannot confirm again")
	assert.Equal(t, 1, app.idp.Calls("verify"))
}

func TestChallenge_WrongCodeRejects(t *testing.T) {
	app := newTestApp(t)
	app.idp.AddUser(annEmail, annPassword, "Ann")
	app.idp.AddVerifiedFactor(annEmail)
	b := app.browser(t)
	b.login(annEmail, annPassword)

	p := b.post("/login/mfa", url.Values{"code": {"000000"}})
	assert.Equal(t, http.StatusUnauthorized, p.status)
	assert.Empty(t, p.location, "no navigation on failure")
	assert.Contains(t, p.body, "Invalid TOTP code entered")
	assert.NotContains(t, p.body, `id="mfa-challenge"`, "the surface closes")

	p = b.get("/profile")
	assert.Equal(t, http.StatusSeeOther, p.status)
	assert.Equal(t, "/login", p.location)

	p = b.post("/login/mfa", url.Values{"code": {providertest.ValidCode}})
	assert.Equal(t, "/login", p.location, "no retry after a rejected challenge")
	p = b.get("/profile")
	assert.Equal(t, "/login", p.location)
}

func TestChallenge_LogoutAfterRejection(t *testing.T) {
	app := newTestApp(t)
	app.idp.AddUser(annEmail, annPassword, "Ann")
	app.idp.AddVerifiedFactor(annEmail)
	b := app.browser(t)
	b.login(annEmail, annPassword)

	p := b.post("/login/mfa", url.Values{"code": {"000000"}})
	require.Equal(t, http.StatusUnauthorized, p.status)
	assert.Contains(t, p.body, `id="signed-in-logout"`)

	p = b.post("/logout", nil)
	assert.Equal(t, "/login", p.location)
	assert.Equal(t, 1, app.idp.Calls("sign_out"))

	p = b.get("/login")
	require.Equal(t, http.StatusOK, p.status)
	assert.NotContains(t, p.body, `id="signed-in-logout"`, "the session is gone")
}

func TestLogout_RequiresSession(t *testing.T) {
	app := newTestApp(t)
	b := app.browser(t)

	p := b.post("/logout", nil)
	assert.Equal(t, "/login", p.location)
	assert.Equal(t, 0, app.idp.Calls("sign_out"))
}

func TestChallenge_Cancel(t *testing.T) {
	app := newTestApp(t)
	app.idp.AddUser(annEmail, annPassword, "Ann")
	app.idp.AddVerifiedFactor(annEmail)
	b := app.browser(t)
	b.login(annEmail, annPassword)

	p := b.post("/login/mfa/cancel", nil)
	assert.Equal(t, "/login", p.location)
	assert.Equal(t, 1, app.idp.Calls("sign_out"))

	p = b.get("/login")
	assert.Equal(t, http.StatusOK, p.status)
	assert.NotContains(t, p.body, `id="mfa-challenge"`)
}

func TestEnrollment_Success(t *testing.T) {
	app := newTestApp(t)
	app.idp.AddUser(annEmail, annPassword, "Ann")
	b := app.browser(t)
	b.login(annEmail, annPassword)

	p := b.post("/profile/mfa/enroll", nil)
	assert.Equal(t, "/profile", p.location)

	p = b.get("/profile")
	require.Equal(t, http.StatusOK, p.status)
	assert.Contains(t, p.body, `id="mfa-enroll"`)
	assert.Contains(t, p.body, `src="data:image/svg+xml;utf-8,`)

	p = b.post("/profile/mfa/enable", url.Values{"code": {"  "}})
	assert.Equal(t, "/profile", p.location)
	assert.Equal(t, 0, app.idp.Calls("challenge"), "blank code makes no provider call")
	p = b.get("/profile")
	assert.Contains(t, p.body, "Enter the code from your authenticator app")
	assert.Contains(t, p.body, `id="mfa-enroll"`, "the surface stays open")

	p = b.post("/profile/mfa/enable", url.Values{"code": {providertest.ValidCode}})
	assert.Equal(t, "/profile", p.location)

	p = b.get("/profile")
	require.Equal(t, http.StatusOK, p.status, "the aal2 tokens keep the session authenticated")
	assert.Contains(t, p.body, "Enabled")
	assert.NotContains(t, p.body, `id="mfa-enroll"`)

	factors := app.idp.Factors(annEmail)
	require.Len(t, factors, 1)
	assert.Equal(t, "verified", factors[0].Status)
}

func TestEnrollment_WrongCodeFails(t *testing.T) {
	app := newTestApp(t)
	app.idp.AddUser(annEmail, annPassword, "Ann")
	b := app.browser(t)
	b.login(annEmail, annPassword)
	b.post("/profile/mfa/enroll", nil)

	p := b.post("/profile/mfa/enable", url.Values{"code": {"000000"}})
	assert.Equal(t, "/profile", p.location)

	p = b.get("/profile")
	require.Equal(t, http.StatusOK, p.status)
	assert.Contains(t, p.body, "Invalid TOTP code entered")
	assert.Contains(t, p.body, "Disabled")
	assert.NotContains(t, p.body, `id="mfa-enroll"`, "the surface closes")
	assert.Empty(t, app.idp.Factors(annEmail), "the unverified factor is discarded")
}

func TestEnrollment_Cancel(t *testing.T) {
	app := newTestApp(t)
	app.idp.AddUser(annEmail, annPassword, "Ann")
	b := app.browser(t)
	b.login(annEmail, annPassword)
	b.post("/profile/mfa/enroll", nil)
	require.Len(t, app.idp.Factors(annEmail), 1)

	p := b.post("/profile/mfa/cancel", nil)
	assert.Equal(t, "/profile", p.location)
	assert.Empty(t, app.idp.Factors(annEmail))

	p = b.get("/profile")
	assert.NotContains(t, p.body, `id="mfa-enroll"`)
}

func TestEnrollment_RefusedWithVerifiedFactor(t *testing.T) {
	app := newTestApp(t)
	app.idp.AddUser(annEmail, annPassword, "Ann")
	app.idp.AddVerifiedFactor(annEmail)
	b := app.browser(t)
	b.login(annEmail, annPassword)
	b.post("/login/mfa", url.Values{"code": {providertest.ValidCode}})

	p := b.post("/profile/mfa/enroll", nil)
	assert.Equal(t, "/profile", p.location)
	assert.Equal(t, 0, app.idp.Calls("enroll"))

	p = b.get("/profile")
	require.Equal(t, http.StatusOK, p.status)
	assert.Contains(t, p.body, "Enabled")
	assert.NotContains(t, p.body, `id="mfa-enroll"`)
	assert.Len(t, app.idp.Factors(annEmail), 1)
}

func TestEnrollment_RefusedWhenFactorAddedElsewhere(t *testing.T) {
	app := newTestApp(t)
	app.idp.AddUser(annEmail, annPassword, "Ann")
	b := app.browser(t)
	b.login(annEmail, annPassword)
	app.idp.AddVerifiedFactor(annEmail)

	p := b.post("/profile/mfa/enroll", nil)
	assert.Equal(t, "/profile", p.location)
	assert.Equal(t, 0, app.idp.Calls("enroll"))
	assert.Len(t, app.idp.Factors(annEmail), 1)

	p = b.get("/profile")
	assert.Equal(t, "/login", p.location, "the password-only session has to pass the challenge")
}

func TestUnenroll_ShowsDisabled(t *testing.T) {
	app := newTestApp(t)
	app.idp.AddUser(annEmail, annPassword, "Ann")
	app.idp.AddVerifiedFactor(annEmail)
	b := app.browser(t)
	b.login(annEmail, annPassword)
	b.post("/login/mfa", url.Values{"code": {providertest.ValidCode}})

	p := b.post("/profile/mfa/unenroll", nil)
	assert.Equal(t, "/profile", p.location)

	p = b.get("/profile")
	require.Equal(t, http.StatusOK, p.status)
	assert.Contains(t, p.body, "Disabled")
	assert.Contains(t, p.body, "Configure")
	assert.Empty(t, app.idp.Factors(annEmail))
}

func TestUnenroll_ErrorShowsNoMessage(t *testing.T) {
	app := newTestApp(t)
	app.idp.AddUser(annEmail, annPassword, "Ann")
	app.idp.AddVerifiedFactor(annEmail)
	b := app.browser(t)
	b.login(annEmail, annPassword)
	b.post("/login/mfa", url.Values{"code": {providertest.ValidCode}})
	app.idp.Fail("unenroll", providertest.Failure{Status: http.StatusInternalServerError, Message: "database error"})

	p := b.post("/profile/mfa/unenroll", nil)
	assert.Equal(t, "/profile", p.location)

	p = b.get("/profile")
	require.Equal(t, http.StatusOK, p.status)
	assert.Contains(t, p.body, "Enabled")
	assert.NotContains(t, p.body, "database error")
}

func TestSignUp_ShowsSuccessPanel(t *testing.T) {
	app := newTestApp(t)
	b := app.browser(t)

	p := b.post("/signup", url.Values{
		"first_name": {"Ann"},
		"last_name":  {"Lee"},
		"email":      {annEmail},
		"password":   {annPassword},
		"terms":      {"on"},
	})
	require.Equal(t, http.StatusOK, p.status)
	assert.Contains(t, p.body, "Account created successfully!")
	assert.Contains(t, p.body, "Thanks for joining Company")
	assert.NotContains(t, p.body, `action="/signup"`)
	assert.False(t, app.idp.Confirmed(annEmail))

	p = b.get("/auth/callback?token_hash=" + url.QueryEscape(providertest.EmailToken(annEmail)) + "&type=email")
	assert.Equal(t, http.StatusSeeOther, p.status)
	assert.Equal(t, "/profile", p.location)
	assert.True(t, app.idp.Confirmed(annEmail))

	p = b.get("/profile")
	require.Equal(t, http.StatusOK, p.status)
	assert.Contains(t, p.body, "Welcome, Ann")
}

func TestSignUp_RequiresTerms(t *testing.T) {
	app := newTestApp(t)
	b := app.browser(t)

	p := b.post("/signup", url.Values{
		"first_name": {"Ann"},
		"last_name":  {"Lee"},
		"email":      {annEmail},
		"password":   {annPassword},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, p.status)
	assert.Contains(t, p.body, "You must accept the Terms of Service")
	assert.Contains(t, p.body, `action="/signup"`)
	assert.Equal(t, 0, app.idp.Calls("sign_up"))
}

func TestForgotPassword(t *testing.T) {
	app := newTestApp(t)
	app.idp.AddUser(annEmail, annPassword, "Ann")
	b := app.browser(t)

	p := b.post("/forgot-password", url.Values{"email": {annEmail}})
	require.Equal(t, http.StatusOK, p.status)
	assert.Contains(t, p.body, "password reset link is on its way")
	assert.Equal(t, 1, app.idp.Calls("recover"))
}

func TestLogout(t *testing.T) {
	app := newTestApp(t)
	app.idp.AddUser(annEmail, annPassword, "Ann")
	b := app.browser(t)
	b.login(annEmail, annPassword)

	app.idp.Fail("sign_out", providertest.Failure{Status: http.StatusInternalServerError, Message: "boom"})
	p := b.post("/logout", nil)
	assert.Equal(t, "/profile", p.location, "a failed sign out keeps the user signed in")
	assert.Equal(t, http.StatusOK, b.get("/profile").status)

	app.idp.Heal("sign_out")
	p = b.post("/logout", nil)
	assert.Equal(t, "/login", p.location)

	p = b.get("/profile")
	assert.Equal(t, "/login", p.location)
}

func TestLogin_BusySession(t *testing.T) {
	app := newTestApp(t)
	app.idp.AddUser(annEmail, annPassword, "Ann")
	app.idp.AddVerifiedFactor(annEmail)
	b := app.browser(t)
	b.login(annEmail, annPassword)

	u, err := url.Parse(app.srv.URL)
	require.NoError(t, err)
	var id string
	for _, c := range b.client.Jar.Cookies(u) {
		if c.Name == "mfa_session" {
			id = c.Value
		}
	}
	require.NotEmpty(t, id)
	unlock, err := app.repo.Lock(context.Background(), id, time.Minute)
	require.NoError(t, err)
	defer unlock()

	p := b.post("/login/mfa", url.Values{"code": {providertest.ValidCode}})
	assert.Equal(t, http.StatusConflict, p.status)
	assert.Contains(t, p.body, web.BusyMessage)
	assert.Equal(t, 0, app.idp.Calls("verify"))
}

func TestHealthAndNotFound(t *testing.T) {
	app := newTestApp(t)
	b := app.browser(t)

	p := b.get("/healthz")
	assert.Equal(t, http.StatusOK, p.status)
	p = b.get("/readyz")
	assert.Equal(t, http.StatusOK, p.status)
	p = b.get("/metrics")
	assert.Equal(t, http.StatusOK, p.status)
	assert.True(t, strings.Contains(p.body, "mfa_demo_http_requests_total") || strings.Contains(p.body, "go_goroutines"))
	p = b.get("/nope")
	assert.Equal(t, http.StatusNotFound, p.status)
	assert.Contains(t, p.body, "Page not found")
}
