package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eventix/eventix/internal/user/domain"
	"github.com/eventix/eventix/internal/user/repository"
	"github.com/eventix/eventix/pkg/logger"
)

// NotificationService records the messages emitted to users. Delivery
// itself is just a log line; the row keyed by source event id is what
// keeps replays from emitting twice.
type NotificationService interface {
	// Emit records one notification for the source event. Replays of
	// the same event are silently dropped.
	Emit(ctx context.Context, userID string, kind domain.NotificationType, subject, body, sourceEventID string) error
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.Notification, error)
}

type notificationService struct {
	notifications repository.NotificationRepository
	log           *zap.Logger
}

// NewNotificationService creates a new NotificationService
func NewNotificationService(notifications repository.NotificationRepository) NotificationService {
	return &notificationService{
		notifications: notifications,
		log:           logger.Get().With(zap.String("component", "notification_service")).Zap(),
	}
}

func (s *notificationService) Emit(ctx context.Context, userID string, kind domain.NotificationType, subject, body, sourceEventID string) error {
	if userID == "" || sourceEventID == "" {
		return fmt.Errorf("notification needs a user and a source event")
	}

	recorded, err := s.notifications.Record(ctx, &domain.Notification{
		ID:            uuid.New().String(),
		UserID:        userID,
		Type:          kind,
		Subject:       subject,
		Body:          body,
		SourceEventID: sourceEventID,
	})
	if err != nil {
		return err
	}
	if !recorded {
		return nil
	}

	s.log.Info("notification emitted",
		zap.String("user_id", userID),
		zap.String("type", string(kind)),
		zap.String("subject", subject))
	return nil
}

func (s *notificationService) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.notifications.ListByUser(ctx, userID, limit, offset)
}
