package breaker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	goredis "github.com/redis/go-redis/v9"

	"github.com/eventix/eventix/pkg/redis"
)

// RedisStore keeps breaker entries in Redis so every gateway replica
// shares the same view of an upstream's health.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed breaker store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func breakerKey(upstream string) string {
	return "breaker:" + upstream
}

func (s *RedisStore) Get(ctx context.Context, upstream string) (Entry, error) {
	payload, err := s.client.Client().Get(ctx, breakerKey(upstream)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return Entry{State: StateClosed}, nil
		}
		return Entry{}, err
	}
	var entry Entry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return Entry{State: StateClosed}, nil
	}
	return entry, nil
}

func (s *RedisStore) Set(ctx context.Context, upstream string, entry Entry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return s.client.Client().Set(ctx, breakerKey(upstream), payload, 0).Err()
}

// MemoryStore is an in-process breaker store for tests and single
// replica runs.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (s *MemoryStore) Get(ctx context.Context, upstream string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[upstream]
	if !ok {
		return Entry{State: StateClosed}, nil
	}
	return entry, nil
}

func (s *MemoryStore) Set(ctx context.Context, upstream string, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[upstream] = entry
	return nil
}
