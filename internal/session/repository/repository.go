package repository

import (
	"context"
	"errors"
	"time"

	"totp-mfa-demo/internal/session/domain"
)

var (
	// ErrNotFound is returned when no live record has the id.
	ErrNotFound = errors.New("session not found")
	// ErrConflict is returned when a write carries a stale version or the id already exists.
	ErrConflict = errors.New("session was modified concurrently")
	// ErrBusy is returned by Lock while another request holds the session.
	ErrBusy = errors.New("a request is already in progress for this session")
)

// Repository persists session records. Records expire after the repository's TTL without writes.
type Repository interface {
	Get(ctx context.Context, id string) (*domain.Record, error)
	// Create stores a new record with Version 1.
	Create(ctx context.Context, r *domain.Record) error
	// Update replaces the record if its stored version equals r.Version, then increments r.Version.
	// Returns ErrNotFound if the record is gone and ErrConflict on a version mismatch.
	Update(ctx context.Context, r *domain.Record) error
	Delete(ctx context.Context, id string) error
	// Lock takes the per-session lock for at most ttl. Returns ErrBusy if held.
	Lock(ctx context.Context, id string, ttl time.Duration) (unlock func(), err error)
}
