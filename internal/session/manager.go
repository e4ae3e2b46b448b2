package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"totp-mfa-demo/internal/identity/provider"
	"totp-mfa-demo/internal/security"
	"totp-mfa-demo/internal/session/domain"
	"totp-mfa-demo/internal/session/repository"
)

const (
	// refreshSkew refreshes access tokens that expire within this window.
	refreshSkew = 30 * time.Second
	// lockTTL bounds a flow action; longer than the provider timeout.
	lockTTL = 30 * time.Second
)

var (
	// ErrStale is returned by Save when the record was replaced or removed since it was read.
	// The caller drops its result.
	ErrStale = errors.New("session record changed since it was read")
	// ErrUserMismatch is returned when new tokens belong to another user than the record.
	ErrUserMismatch = errors.New("tokens belong to another user")
)

// Refresher exchanges a refresh token for a new provider session.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*provider.Session, error)
}

// Manager creates, resolves and ends session records.
type Manager struct {
	repo      repository.Repository
	refresher Refresher
	verifier  *security.TokenVerifier
	logger    *zap.Logger
	nowF      func() time.Time
}

// NewManager returns a Manager.
func NewManager(repo repository.Repository, refresher Refresher, verifier *security.TokenVerifier, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		repo:      repo,
		refresher: refresher,
		verifier:  verifier,
		logger:    logger,
		nowF:      time.Now,
	}
}

// Resolve loads the auth context for record id. Any failure (missing record, store error, refresh error,
// undecodable token) yields an anonymous context. No retries.
func (m *Manager) Resolve(ctx context.Context, id string) *Auth {
	if id == "" {
		return Anonymous()
	}
	rec, err := m.repo.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			m.logger.Warn("session lookup failed", zap.Error(err))
		}
		return Anonymous()
	}
	if rec.AccessExpired(m.nowF(), refreshSkew) {
		rec, err = m.refresh(ctx, rec)
		if err != nil {
			m.logger.Info("session refresh failed", zap.String("user_id", rec.UserID), zap.Error(err))
			return Anonymous()
		}
	}
	claims, err := m.verifier.Decode(rec.AccessToken)
	if err != nil || claims.Subject != rec.UserID {
		m.logger.Info("session token rejected", zap.String("user_id", rec.UserID), zap.Error(err))
		return Anonymous()
	}
	return &Auth{Record: rec, Claims: claims}
}

func (m *Manager) refresh(ctx context.Context, rec *domain.Record) (*domain.Record, error) {
	if rec.RefreshToken == "" {
		return rec, fmt.Errorf("no refresh token")
	}
	s, err := m.refresher.Refresh(ctx, rec.RefreshToken)
	if err != nil {
		return rec, err
	}
	if err := m.ApplyTokens(rec, s); err != nil {
		return rec, err
	}
	err = m.repo.Update(ctx, rec)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, repository.ErrConflict) {
		return rec, err
	}
	// Another request refreshed first; use its tokens if they are current.
	fresh, gerr := m.repo.Get(ctx, rec.ID)
	if gerr != nil {
		return rec, gerr
	}
	if fresh.AccessExpired(m.nowF(), 0) {
		return rec, err
	}
	return fresh, nil
}

// ApplyTokens replaces the tokens of rec with s. The new access token must belong to rec's user,
// unless rec has no user yet.
func (m *Manager) ApplyTokens(rec *domain.Record, s *provider.Session) error {
	claims, err := m.verifier.Decode(s.AccessToken)
	if err != nil {
		return err
	}
	if rec.UserID != "" && claims.Subject != rec.UserID {
		return ErrUserMismatch
	}
	rec.UserID = claims.Subject
	if claims.Email != "" {
		rec.Email = claims.Email
	}
	rec.AccessToken = s.AccessToken
	if s.RefreshToken != "" {
		rec.RefreshToken = s.RefreshToken
	}
	rec.ExpiresAt = s.Expiry(m.nowF())
	if exp := claims.ExpiresAt; exp != nil && exp.Time.Before(rec.ExpiresAt) {
		rec.ExpiresAt = exp.Time
	}
	return nil
}

// Begin stores a new record for a freshly signed-in provider session.
func (m *Manager) Begin(ctx context.Context, s *provider.Session, verifiedFactor, challengePending bool) (*domain.Record, error) {
	rec := &domain.Record{
		ID:               uuid.NewString(),
		VerifiedFactor:   verifiedFactor,
		ChallengePending: challengePending,
	}
	if err := m.ApplyTokens(rec, s); err != nil {
		return nil, err
	}
	if err := m.repo.Create(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Save writes rec back. Returns ErrStale if the record was changed or removed since it was read.
func (m *Manager) Save(ctx context.Context, rec *domain.Record) error {
	err := m.repo.Update(ctx, rec)
	if errors.Is(err, repository.ErrConflict) || errors.Is(err, repository.ErrNotFound) {
		m.logger.Debug("dropping stale session write", zap.String("user_id", rec.UserID))
		return ErrStale
	}
	return err
}

// End removes record id. Removing a missing record is not an error.
func (m *Manager) End(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	return m.repo.Delete(ctx, id)
}

// Lock serializes flow actions on record id. Returns repository.ErrBusy while another action runs.
func (m *Manager) Lock(ctx context.Context, id string) (func(), error) {
	return m.repo.Lock(ctx, id, lockTTL)
}

// Reload returns the current stored version of record id.
func (m *Manager) Reload(ctx context.Context, id string) (*domain.Record, error) {
	return m.repo.Get(ctx, id)
}

// Acquire locks record id and returns its current version. Call unlock when the action is done.
// Returns repository.ErrBusy while another action holds the lock.
func (m *Manager) Acquire(ctx context.Context, id string) (*domain.Record, func(), error) {
	unlock, err := m.Lock(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	rec, err := m.repo.Get(ctx, id)
	if err != nil {
		unlock()
		return nil, nil, err
	}
	return rec, unlock, nil
}

// TakeFlash returns the pending flash of rec and clears it in the store. A lost race leaves the flash for
// the next page.
func (m *Manager) TakeFlash(ctx context.Context, rec *domain.Record) *domain.Flash {
	if rec == nil || rec.Flash == nil {
		return nil
	}
	next := rec.Clone()
	f := next.TakeFlash()
	if err := m.Save(ctx, next); err != nil && !errors.Is(err, ErrStale) {
		m.logger.Warn("clear flash failed", zap.String("user_id", rec.UserID), zap.Error(err))
	}
	return f
}
