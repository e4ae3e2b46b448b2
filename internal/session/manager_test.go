package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"totp-mfa-demo/internal/identity/provider"
	"totp-mfa-demo/internal/security"
	"totp-mfa-demo/internal/session/domain"
	"totp-mfa-demo/internal/session/repository"
)

type fakeRefresher struct {
	session *provider.Session
	err     error
	calls   int
}

func (f *fakeRefresher) Refresh(ctx context.Context, refreshToken string) (*provider.Session, error) {
	f.calls++
	return f.session, f.err
}

func tokens(userID, aal string, ttl time.Duration) *provider.Session {
	return &provider.Session{
		AccessToken:  security.IssueTestToken(userID, aal, ttl),
		RefreshToken: "rt-" + userID,
		ExpiresIn:    int64(ttl.Seconds()),
	}
}

func newTestManager(refresher *fakeRefresher) (*Manager, *repository.MemoryRepository) {
	repo := repository.NewMemoryRepository(time.Hour)
	return NewManager(repo, refresher, security.NewTestTokenVerifier(), nil), repo
}

func TestManager_BeginResolve(t *testing.T) {
	m, _ := newTestManager(&fakeRefresher{})
	ctx := context.Background()

	rec, err := m.Begin(ctx, tokens("u1", security.AAL1, time.Hour), false, false)
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "u1", rec.UserID)
	assert.Equal(t, "u1@example.com", rec.Email)

	auth := m.Resolve(ctx, rec.ID)
	require.True(t, auth.Present())
	assert.Equal(t, security.AAL1, auth.AAL())
	assert.True(t, auth.Authenticated(), "aal1 without a verified factor is authenticated")
	assert.Equal(t, rec.AccessToken, auth.AccessToken())
	assert.Equal(t, "u1", auth.UserID())
}

func TestManager_PasswordOnlySessionWithFactorIsNotAuthenticated(t *testing.T) {
	m, _ := newTestManager(&fakeRefresher{})
	ctx := context.Background()

	rec, err := m.Begin(ctx, tokens("u1", security.AAL1, time.Hour), true, true)
	require.NoError(t, err)

	auth := m.Resolve(ctx, rec.ID)
	require.True(t, auth.Present())
	assert.False(t, auth.Authenticated())
	assert.True(t, auth.Record.ChallengePending)

	require.NoError(t, m.ApplyTokens(auth.Record, tokens("u1", security.AAL2, time.Hour)))
	auth.Record.ChallengePending = false
	require.NoError(t, m.Save(ctx, auth.Record))

	auth = m.Resolve(ctx, rec.ID)
	assert.True(t, auth.Authenticated())
	assert.Equal(t, security.AAL2, auth.AAL())
}

func TestManager_ResolveFailsClosed(t *testing.T) {
	m, repo := newTestManager(&fakeRefresher{err: &provider.Error{Status: http.StatusBadRequest, Message: "Invalid Refresh Token"}})
	ctx := context.Background()

	assert.False(t, m.Resolve(ctx, "").Present(), "empty id")
	assert.False(t, m.Resolve(ctx, "missing").Present(), "missing record")

	// Expired access token with a failing refresh.
	expired := &domain.Record{ID: "s-expired", UserID: "u1", AccessToken: security.IssueTestToken("u1", security.AAL2, -time.Minute), RefreshToken: "rt", ExpiresAt: time.Now().Add(-time.Minute)}
	require.NoError(t, repo.Create(ctx, expired))
	assert.False(t, m.Resolve(ctx, "s-expired").Present(), "refresh failure")

	// Garbage token.
	garbage := &domain.Record{ID: "s-garbage", UserID: "u1", AccessToken: "garbage", ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, repo.Create(ctx, garbage))
	assert.False(t, m.Resolve(ctx, "s-garbage").Present(), "undecodable token")

	// Token of another user.
	other := &domain.Record{ID: "s-other", UserID: "u1", AccessToken: security.IssueTestToken("u2", security.AAL2, time.Hour), ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, repo.Create(ctx, other))
	assert.False(t, m.Resolve(ctx, "s-other").Present(), "subject mismatch")
}

func TestManager_ResolveRefreshesExpiredToken(t *testing.T) {
	refresher := &fakeRefresher{session: tokens("u1", security.AAL2, time.Hour)}
	m, repo := newTestManager(refresher)
	ctx := context.Background()

	rec := &domain.Record{ID: "s1", UserID: "u1", AccessToken: security.IssueTestToken("u1", security.AAL2, -time.Minute), RefreshToken: "rt", ExpiresAt: time.Now().Add(-time.Minute), VerifiedFactor: true}
	require.NoError(t, repo.Create(ctx, rec))

	auth := m.Resolve(ctx, "s1")
	require.True(t, auth.Present())
	assert.True(t, auth.Authenticated())
	assert.Equal(t, 1, refresher.calls)

	stored, err := repo.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, refresher.session.AccessToken, stored.AccessToken)
	assert.Equal(t, "rt-u1", stored.RefreshToken)
	assert.True(t, stored.ExpiresAt.After(time.Now()))

	// The refreshed token is current; no second refresh.
	m.Resolve(ctx, "s1")
	assert.Equal(t, 1, refresher.calls)
}

func TestManager_ApplyTokensRejectsOtherUser(t *testing.T) {
	m, _ := newTestManager(&fakeRefresher{})
	rec := &domain.Record{UserID: "u1"}
	err := m.ApplyTokens(rec, tokens("u2", security.AAL2, time.Hour))
	assert.True(t, errors.Is(err, ErrUserMismatch))
	assert.Empty(t, rec.AccessToken)
}

func TestManager_SaveDropsStaleWrites(t *testing.T) {
	m, _ := newTestManager(&fakeRefresher{})
	ctx := context.Background()

	rec, err := m.Begin(ctx, tokens("u1", security.AAL1, time.Hour), false, false)
	require.NoError(t, err)
	first, err := m.Reload(ctx, rec.ID)
	require.NoError(t, err)
	second, err := m.Reload(ctx, rec.ID)
	require.NoError(t, err)

	first.SetError("first")
	require.NoError(t, m.Save(ctx, first))
	second.SetError("second")
	assert.ErrorIs(t, m.Save(ctx, second), ErrStale)

	// A write after sign-out is dropped as well.
	require.NoError(t, m.End(ctx, rec.ID))
	assert.ErrorIs(t, m.Save(ctx, first), ErrStale)
	assert.False(t, m.Resolve(ctx, rec.ID).Present())
}

func TestManager_Lock(t *testing.T) {
	m, _ := newTestManager(&fakeRefresher{})
	ctx := context.Background()
	unlock, err := m.Lock(ctx, "s1")
	require.NoError(t, err)
	_, err = m.Lock(ctx, "s1")
	assert.ErrorIs(t, err, repository.ErrBusy)
	unlock()
	_, err = m.Lock(ctx, "s1")
	assert.NoError(t, err)
}

func TestManager_Acquire(t *testing.T) {
	m, _ := newTestManager(&fakeRefresher{})
	ctx := context.Background()
	rec, err := m.Begin(ctx, tokens("u1", security.AAL1, time.Hour), false, false)
	require.NoError(t, err)

	got, unlock, err := m.Acquire(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Version, got.Version)

	_, _, err = m.Acquire(ctx, rec.ID)
	assert.ErrorIs(t, err, repository.ErrBusy)
	unlock()

	_, unlock, err = m.Acquire(ctx, rec.ID)
	require.NoError(t, err)
	unlock()

	// A failed load releases the lock.
	_, _, err = m.Acquire(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, _, err = m.Acquire(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestManager_TakeFlash(t *testing.T) {
	m, _ := newTestManager(&fakeRefresher{})
	ctx := context.Background()
	rec, err := m.Begin(ctx, tokens("u1", security.AAL1, time.Hour), false, false)
	require.NoError(t, err)
	assert.Nil(t, m.TakeFlash(ctx, rec))

	rec.SetError("Invalid TOTP code entered")
	require.NoError(t, m.Save(ctx, rec))

	stored, err := m.Reload(ctx, rec.ID)
	require.NoError(t, err)
	f := m.TakeFlash(ctx, stored)
	require.NotNil(t, f)
	assert.Equal(t, domain.FlashError, f.Kind)
	assert.Equal(t, "Invalid TOTP code entered", f.Message)

	stored, err = m.Reload(ctx, rec.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.Flash, "flash is shown once")
}

func TestContext(t *testing.T) {
	ctx := context.Background()
	assert.False(t, FromContext(ctx).Present())

	a := &Auth{Record: &domain.Record{ID: "s1", UserID: "u1"}, Claims: &security.Claims{AAL: security.AAL2}}
	got := FromContext(WithAuth(ctx, a))
	assert.Same(t, a, got)
	assert.True(t, got.Authenticated())
}

func TestCookie(t *testing.T) {
	c := Cookie{Name: "mfa_session", MaxAge: time.Hour}
	w := httptest.NewRecorder()
	c.Set(w, "s1")
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "s1", cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)
	assert.Equal(t, 3600, cookies[0].MaxAge)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(cookies[0])
	assert.Equal(t, "s1", c.Read(r))
	assert.Empty(t, c.Read(httptest.NewRequest(http.MethodGet, "/", nil)))

	w = httptest.NewRecorder()
	c.Clear(w)
	cleared := w.Result().Cookies()
	require.Len(t, cleared, 1)
	assert.True(t, cleared[0].MaxAge < 0)
}
