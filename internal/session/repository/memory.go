package repository

import (
	"context"
	"sync"
	"time"

	"totp-mfa-demo/internal/session/domain"
)

// sweepInterval is the minimum time between two sweeps of expired records and locks.
const sweepInterval = time.Minute

type entry struct {
	rec       *domain.Record
	expiresAt time.Time
}

// MemoryRepository is an in-process Repository. Records are lost on restart.
type MemoryRepository struct {
	mu      sync.RWMutex
	m       map[string]entry
	locks   map[string]lockEntry
	lockSeq uint64
	ttl     time.Duration
	swept   time.Time
	nowF    func() time.Time
}

type lockEntry struct {
	token     uint64
	expiresAt time.Time
}

// NewMemoryRepository returns a repository whose records live for ttl after their last write.
func NewMemoryRepository(ttl time.Duration) *MemoryRepository {
	return &MemoryRepository{
		m:     make(map[string]entry),
		locks: make(map[string]lockEntry),
		ttl:   ttl,
		nowF:  func() time.Time { return time.Now().UTC() },
	}
}

// Get returns a copy of the record if present and not expired.
func (s *MemoryRepository) Get(ctx context.Context, id string) (*domain.Record, error) {
	s.mu.RLock()
	e, ok := s.m[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if !e.expiresAt.After(s.nowF()) {
		s.mu.Lock()
		if cur, ok := s.m[id]; ok && cur.expiresAt == e.expiresAt {
			delete(s.m, id)
		}
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	return e.rec.Clone(), nil
}

// Create stores r. Returns ErrConflict if a live record has the same id.
// Expired records of abandoned browsers are dropped here, at most once per sweepInterval.
func (s *MemoryRepository) Create(ctx context.Context, r *domain.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowF()
	s.sweepLocked(now)
	if e, ok := s.m[r.ID]; ok && e.expiresAt.After(now) {
		return ErrConflict
	}
	r.Version = 1
	r.CreatedAt = now
	r.UpdatedAt = now
	s.m[r.ID] = entry{rec: r.Clone(), expiresAt: now.Add(s.ttl)}
	return nil
}

// Update replaces r when the stored version matches.
func (s *MemoryRepository) Update(ctx context.Context, r *domain.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowF()
	e, ok := s.m[r.ID]
	if !ok || !e.expiresAt.After(now) {
		return ErrNotFound
	}
	if e.rec.Version != r.Version {
		return ErrConflict
	}
	r.Version++
	r.UpdatedAt = now
	s.m[r.ID] = entry{rec: r.Clone(), expiresAt: now.Add(s.ttl)}
	return nil
}

// Delete removes the record and its lock.
func (s *MemoryRepository) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, id)
	delete(s.locks, id)
	return nil
}

// sweepLocked removes expired records and locks. Caller holds s.mu.
func (s *MemoryRepository) sweepLocked(now time.Time) {
	if now.Sub(s.swept) < sweepInterval {
		return
	}
	s.swept = now
	for id, e := range s.m {
		if !e.expiresAt.After(now) {
			delete(s.m, id)
		}
	}
	for id, l := range s.locks {
		if !l.expiresAt.After(now) {
			delete(s.locks, id)
		}
	}
}

// Lock takes the per-session lock. An expired lock is taken over.
func (s *MemoryRepository) Lock(ctx context.Context, id string, ttl time.Duration) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowF()
	if l, ok := s.locks[id]; ok && l.expiresAt.After(now) {
		return nil, ErrBusy
	}
	s.lockSeq++
	token := s.lockSeq
	s.locks[id] = lockEntry{token: token, expiresAt: now.Add(ttl)}
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if l, ok := s.locks[id]; ok && l.token == token {
			delete(s.locks, id)
		}
	}, nil
}
