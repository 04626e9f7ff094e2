package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/eventix/eventix/internal/user/domain"
	"github.com/eventix/eventix/pkg/redis"
)

// RedisSessionRepository stores refresh-token sessions in Redis, keyed
// by the token itself, with the refresh TTL as expiry. Logout is a
// delete; expiry needs no sweeper.
type RedisSessionRepository struct {
	client *redis.Client
}

// NewRedisSessionRepository creates a new RedisSessionRepository
func NewRedisSessionRepository(client *redis.Client) *RedisSessionRepository {
	return &RedisSessionRepository{client: client}
}

func sessionKey(refreshToken string) string {
	return "session:" + refreshToken
}

func (r *RedisSessionRepository) Create(ctx context.Context, session *domain.Session, ttl time.Duration) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := r.client.Client().Set(ctx, sessionKey(session.RefreshToken), payload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

func (r *RedisSessionRepository) GetByRefreshToken(ctx context.Context, refreshToken string) (*domain.Session, error) {
	payload, err := r.client.Client().Get(ctx, sessionKey(refreshToken)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	var session domain.Session
	if err := json.Unmarshal(payload, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}

func (r *RedisSessionRepository) Delete(ctx context.Context, refreshToken string) error {
	if err := r.client.Client().Del(ctx, sessionKey(refreshToken)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
