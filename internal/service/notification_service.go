package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/gradebook-api/internal/models"
	appErrors "github.com/noah-isme/gradebook-api/pkg/errors"
	"github.com/noah-isme/gradebook-api/pkg/events"
	"github.com/noah-isme/gradebook-api/pkg/jobs"
)

const notificationJobType = "notification.fanout"

// jobDispatcher is the enqueue side of a jobs.Queue.
type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

type notificationStore interface {
	CreateMany(ctx context.Context, notifications []models.Notification) error
	ListByUser(ctx context.Context, userID string, page models.PageRequest) ([]models.Notification, int, error)
	CountUnseen(ctx context.Context, userID string) (int, error)
	MarkSeen(ctx context.Context, userID, id string) error
}

// notifier is the fire-and-forget sink the domain services write to.
type notifier interface {
	Notify(ctx context.Context, userID string, payload models.NotificationPayload)
	NotifyMany(ctx context.Context, userIDs []string, payload models.NotificationPayload)
}

type notificationJob struct {
	UserIDs []string
	Payload models.NotificationPayload
}

// NotificationService fans notifications out through the background queue.
// The worker persists one row per recipient and publishes each row to the
// event exchange. Delivery failures are logged and counted, never returned.
type NotificationService struct {
	repo      notificationStore
	publisher events.Publisher
	metrics   *MetricsService
	queue     jobDispatcher
	logger    *zap.Logger
}

// NewNotificationService constructs a NotificationService. Without a queue
// (see SetQueue) notifications are delivered inline.
func NewNotificationService(repo notificationStore, publisher events.Publisher, metrics *MetricsService, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &NotificationService{repo: repo, publisher: publisher, metrics: metrics, logger: logger}
}

// SetQueue routes deliveries through a job queue whose handler is Handle.
func (s *NotificationService) SetQueue(queue jobDispatcher) {
	s.queue = queue
}

// Notify sends a notification to one user.
func (s *NotificationService) Notify(ctx context.Context, userID string, payload models.NotificationPayload) {
	s.NotifyMany(ctx, []string{userID}, payload)
}

// NotifyMany sends the same notification to every distinct recipient.
func (s *NotificationService) NotifyMany(ctx context.Context, userIDs []string, payload models.NotificationPayload) {
	recipients := uniqueNonEmpty(userIDs)
	if len(recipients) == 0 {
		return
	}
	job := jobs.Job{
		ID:      uuid.NewString(),
		Type:    notificationJobType,
		Payload: notificationJob{UserIDs: recipients, Payload: payload},
	}
	if s.queue == nil {
		if err := s.Handle(ctx, job); err != nil {
			s.logger.Warn("notification delivery failed", zap.String("type", string(payload.Type)), zap.Error(err))
		}
		return
	}
	if err := s.queue.Enqueue(job); err != nil {
		s.metrics.RecordNotification(string(payload.Type), false)
		s.logger.Warn("notification enqueue failed", zap.String("type", string(payload.Type)), zap.Int("recipients", len(recipients)), zap.Error(err))
	}
}

// Handle is the queue handler. A persistence failure is returned so the queue
// retries; publish failures only get logged because the rows already exist.
func (s *NotificationService) Handle(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(notificationJob)
	if !ok {
		return fmt.Errorf("unexpected notification payload %T", job.Payload)
	}
	data, err := json.Marshal(payload.Payload.Data)
	if err != nil {
		s.metrics.RecordNotification(string(payload.Payload.Type), false)
		return fmt.Errorf("marshal notification data: %w", err)
	}
	if payload.Payload.Data == nil {
		data = []byte("{}")
	}

	rows := make([]models.Notification, 0, len(payload.UserIDs))
	for _, userID := range payload.UserIDs {
		rows = append(rows, models.Notification{
			UserID:      userID,
			Title:       payload.Payload.Title,
			Description: payload.Payload.Description,
			Type:        payload.Payload.Type,
			Data:        data,
		})
	}
	if err := s.repo.CreateMany(ctx, rows); err != nil {
		s.metrics.RecordNotification(string(payload.Payload.Type), false)
		return err
	}
	s.metrics.RecordNotification(string(payload.Payload.Type), true)

	routingKey := events.RoutingKey(string(payload.Payload.Type))
	for _, row := range rows {
		if err := s.publisher.Publish(ctx, routingKey, row); err != nil {
			s.logger.Warn("notification publish failed", zap.String("notification_id", row.ID), zap.Error(err))
		}
	}
	return nil
}

// List returns the caller's notifications, newest first.
func (s *NotificationService) List(ctx context.Context, userID string, page models.PageRequest) ([]models.Notification, *models.Pagination, error) {
	items, total, err := s.repo.ListByUser(ctx, userID, page)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list notifications")
	}
	p, size, _ := page.Normalize()
	return items, newPagination(p, size, total), nil
}

// CountUnseen returns the number of unread notifications.
func (s *NotificationService) CountUnseen(ctx context.Context, userID string) (int, error) {
	count, err := s.repo.CountUnseen(ctx, userID)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count notifications")
	}
	return count, nil
}

// MarkSeen flags one of the caller's notifications as read.
func (s *NotificationService) MarkSeen(ctx context.Context, userID, id string) error {
	if err := s.repo.MarkSeen(ctx, userID, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "notification not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update notification")
	}
	return nil
}

func uniqueNonEmpty(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func newPagination(page, size, total int) *models.Pagination {
	return &models.Pagination{Page: page, PageSize: size, TotalCount: total}
}
