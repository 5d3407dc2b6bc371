package verification

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrNoCode = errors.New("verification: code not found or expired")

// Pending is an issued, unconsumed code.
type Pending struct {
	Code      string
	Email     string
	ExpiresAt time.Time
	Attempts  int
}

// CodeStore keeps at most one pending code per user.
type CodeStore interface {
	Save(ctx context.Context, userID string, p Pending) error
	Load(ctx context.Context, userID string) (Pending, error)
	AddAttempt(ctx context.Context, userID string) (int, error)
	// Consume deletes the pending code only if it still equals code and
	// reports whether this call removed it.
	Consume(ctx context.Context, userID, code string) (bool, error)
	Delete(ctx context.Context, userID string) error
}

// MemoryCodeStore is an in-process CodeStore for tests and local runs.
type MemoryCodeStore struct {
	mu      sync.Mutex
	pending map[string]Pending
	clock   func() time.Time
}

func NewMemoryCodeStore(clock func() time.Time) *MemoryCodeStore {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryCodeStore{pending: map[string]Pending{}, clock: clock}
}

func (s *MemoryCodeStore) Save(ctx context.Context, userID string, p Pending) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[userID] = p
	return nil
}

func (s *MemoryCodeStore) Load(ctx context.Context, userID string) (Pending, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[userID]
	if !ok || !s.clock().Before(p.ExpiresAt) {
		delete(s.pending, userID)
		return Pending{}, ErrNoCode
	}
	return p, nil
}

func (s *MemoryCodeStore) AddAttempt(ctx context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[userID]
	if !ok {
		return 0, ErrNoCode
	}
	p.Attempts++
	s.pending[userID] = p
	return p.Attempts, nil
}

func (s *MemoryCodeStore) Consume(ctx context.Context, userID, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[userID]
	if !ok || p.Code != code || !s.clock().Before(p.ExpiresAt) {
		return false, nil
	}
	delete(s.pending, userID)
	return true, nil
}

func (s *MemoryCodeStore) Delete(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, userID)
	return nil
}

// RedisCodeStore keeps one hash per user and lets Redis expire it.
type RedisCodeStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisCodeStore(client redis.UniversalClient, prefix string) (*RedisCodeStore, error) {
	if client == nil {
		return nil, errors.New("verification: redis client is nil")
	}
	if prefix == "" {
		prefix = "voiceai:verify:"
	}
	return &RedisCodeStore{client: client, prefix: prefix}, nil
}

func (s *RedisCodeStore) key(userID string) string { return s.prefix + userID }

func (s *RedisCodeStore) Save(ctx context.Context, userID string, p Pending) error {
	key := s.key(userID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			"code", p.Code,
			"email", p.Email,
			"expires_at", strconv.FormatInt(p.ExpiresAt.UnixMilli(), 10),
			"attempts", p.Attempts,
		)
		pipe.PExpireAt(ctx, key, p.ExpiresAt)
		return nil
	})
	if err != nil {
		return fmt.Errorf("verification: save: %w", err)
	}
	return nil
}

func (s *RedisCodeStore) Load(ctx context.Context, userID string) (Pending, error) {
	vals, err := s.client.HGetAll(ctx, s.key(userID)).Result()
	if err != nil {
		return Pending{}, fmt.Errorf("verification: load: %w", err)
	}
	code, ok := vals["code"]
	if !ok || code == "" {
		return Pending{}, ErrNoCode
	}
	ms, err := strconv.ParseInt(vals["expires_at"], 10, 64)
	if err != nil {
		return Pending{}, ErrNoCode
	}
	attempts, _ := strconv.Atoi(vals["attempts"])
	return Pending{
		Code:      code,
		Email:     vals["email"],
		ExpiresAt: time.UnixMilli(ms).UTC(),
		Attempts:  attempts,
	}, nil
}

var addAttemptScript = redis.NewScript(`
-- KEYS[1] = pending code hash
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
return redis.call('HINCRBY', KEYS[1], 'attempts', 1)
`)

func (s *RedisCodeStore) AddAttempt(ctx context.Context, userID string) (int, error) {
	n, err := addAttemptScript.Run(ctx, s.client, []string{s.key(userID)}).Int()
	if err != nil {
		return 0, fmt.Errorf("verification: attempt: %w", err)
	}
	if n < 0 {
		return 0, ErrNoCode
	}
	return n, nil
}

var consumeScript = redis.NewScript(`
-- KEYS[1] = pending code hash
-- ARGV[1] = submitted code
if redis.call('HGET', KEYS[1], 'code') ~= ARGV[1] then
  return 0
end
redis.call('DEL', KEYS[1])
return 1
`)

func (s *RedisCodeStore) Consume(ctx context.Context, userID, code string) (bool, error) {
	n, err := consumeScript.Run(ctx, s.client, []string{s.key(userID)}, code).Int()
	if err != nil {
		return false, fmt.Errorf("verification: consume: %w", err)
	}
	return n == 1, nil
}

func (s *RedisCodeStore) Delete(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, s.key(userID)).Err(); err != nil {
		return fmt.Errorf("verification: delete: %w", err)
	}
	return nil
}
