package repository

import (
	"context"
	"time"

	"github.com/eventix/eventix/internal/user/domain"
)

// UserRepository persists user accounts. Lookups return (nil, nil)
// when no user matches.
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
}

// SessionRepository tracks issued refresh tokens.
type SessionRepository interface {
	Create(ctx context.Context, session *domain.Session, ttl time.Duration) error
	GetByRefreshToken(ctx context.Context, refreshToken string) (*domain.Session, error)
	Delete(ctx context.Context, refreshToken string) error
}

// NotificationRepository persists emitted notifications. Record is an
// insert keyed (user_id, source_event_id), reporting whether a new row
// landed, so a replayed event is a no-op.
type NotificationRepository interface {
	Record(ctx context.Context, notification *domain.Notification) (bool, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.Notification, error)
}
