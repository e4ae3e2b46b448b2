package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"totp-mfa-demo/internal/security"
	"totp-mfa-demo/internal/session/domain"
)

const keyPrefix = "mfa-demo:session:"

// unlockScript deletes the lock only if it still holds the caller's token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisRepository stores records in Redis, sealed so provider tokens are not readable at rest.
type RedisRepository struct {
	client *redis.Client
	sealer *security.Sealer
	ttl    time.Duration
	nowF   func() time.Time
}

// NewRedisRepository returns a repository whose records live for ttl after their last write.
func NewRedisRepository(client *redis.Client, sealer *security.Sealer, ttl time.Duration) *RedisRepository {
	return &RedisRepository{
		client: client,
		sealer: sealer,
		ttl:    ttl,
		nowF:   func() time.Time { return time.Now().UTC() },
	}
}

// NewRedisClient parses a redis:// URL and pings the server.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func recordKey(id string) string { return keyPrefix + id }

func lockKey(id string) string { return keyPrefix + id + ":lock" }

func (s *RedisRepository) encode(r *domain.Record) ([]byte, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return s.sealer.Seal(raw, []byte(r.ID))
}

func (s *RedisRepository) decode(id string, sealed []byte) (*domain.Record, error) {
	raw, err := s.sealer.Open(sealed, []byte(id))
	if err != nil {
		return nil, err
	}
	var r domain.Record
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Get returns the record. Records sealed with another key are reported as ErrNotFound.
func (s *RedisRepository) Get(ctx context.Context, id string) (*domain.Record, error) {
	sealed, err := s.client.Get(ctx, recordKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r, err := s.decode(id, sealed)
	if errors.Is(err, security.ErrSealedData) {
		return nil, ErrNotFound
	}
	return r, err
}

// Create stores r with SET NX.
func (s *RedisRepository) Create(ctx context.Context, r *domain.Record) error {
	now := s.nowF()
	r.Version = 1
	r.CreatedAt = now
	r.UpdatedAt = now
	val, err := s.encode(r)
	if err != nil {
		return err
	}
	ok, err := s.client.SetNX(ctx, recordKey(r.ID), val, s.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	return nil
}

// Update replaces r under WATCH so a concurrent write between the version read and the SET aborts.
func (s *RedisRepository) Update(ctx context.Context, r *domain.Record) error {
	key := recordKey(r.ID)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		sealed, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		cur, err := s.decode(r.ID, sealed)
		if err != nil {
			return ErrNotFound
		}
		if cur.Version != r.Version {
			return ErrConflict
		}
		next := r.Clone()
		next.Version++
		next.UpdatedAt = s.nowF()
		val, err := s.encode(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, val, s.ttl)
			return nil
		})
		if err != nil {
			return err
		}
		r.Version = next.Version
		r.UpdatedAt = next.UpdatedAt
		return nil
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrConflict
	}
	return err
}

// Delete removes the record and its lock.
func (s *RedisRepository) Delete(ctx context.Context, id string) error {
	return s.client.Del(ctx, recordKey(id), lockKey(id)).Err()
}

// Lock takes the per-session lock with SET NX PX ttl.
func (s *RedisRepository) Lock(ctx context.Context, id string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	ok, err := s.client.SetNX(ctx, lockKey(id), token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrBusy
	}
	return func() {
		// Released with a fresh context: the request context may already be cancelled.
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = unlockScript.Run(ctx, s.client, []string{lockKey(id)}, token).Err()
	}, nil
}

// PingContext checks the Redis connection.
func (s *RedisRepository) PingContext(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
