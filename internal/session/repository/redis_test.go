package repository

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"totp-mfa-demo/internal/security"
	"totp-mfa-demo/internal/session/domain"
)

// newTestRedisRepository connects to TEST_REDIS_URL; the tests are skipped when it is unset.
func newTestRedisRepository(t *testing.T) *RedisRepository {
	t.Helper()
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	client, err := NewRedisClient(context.Background(), url)
	if err != nil {
		t.Fatalf("NewRedisClient: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	sealer, err := security.NewSealer("redis-test-secret")
	if err != nil {
		t.Fatalf("NewSealer: %v", err)
	}
	return NewRedisRepository(client, sealer, time.Minute)
}

func TestRedisRepository_CreateGetUpdateDelete(t *testing.T) {
	s := newTestRedisRepository(t)
	ctx := context.Background()
	id := uuid.NewString()

	r := &domain.Record{ID: id, UserID: "u1", AccessToken: "secret-access-token"}
	if err := s.Create(ctx, r); err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() { s.Delete(context.Background(), id) })

	raw, err := s.client.Get(ctx, recordKey(id)).Bytes()
	if err != nil {
		t.Fatalf("raw Get: %v", err)
	}
	if len(raw) == 0 || bytes.Contains(raw, []byte("secret-access-token")) {
		t.Error("record is stored in plaintext")
	}

	a, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	b, _ := s.Get(ctx, id)
	a.VerifiedFactor = true
	if err := s.Update(ctx, a); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := s.Update(ctx, b); err != ErrConflict {
		t.Errorf("Update stale: want ErrConflict, got %v", err)
	}
	if err := s.Delete(ctx, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, id); err != ErrNotFound {
		t.Errorf("Get deleted: want ErrNotFound, got %v", err)
	}
	if err := s.Update(ctx, a); err != ErrNotFound {
		t.Errorf("Update deleted: want ErrNotFound, got %v", err)
	}
}

func TestRedisRepository_Lock(t *testing.T) {
	s := newTestRedisRepository(t)
	ctx := context.Background()
	id := uuid.NewString()

	unlock, err := s.Lock(ctx, id, time.Minute)
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if _, err := s.Lock(ctx, id, time.Minute); err != ErrBusy {
		t.Errorf("second Lock: want ErrBusy, got %v", err)
	}
	unlock()
	unlock2, err := s.Lock(ctx, id, time.Minute)
	if err != nil {
		t.Fatalf("Lock after unlock: %v", err)
	}
	unlock2()
}
