package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/gradebook-api/internal/models"
)

// NotificationRepository persists per-user notifications.
type NotificationRepository struct {
	db *sqlx.DB
}

// NewNotificationRepository constructs a NotificationRepository.
func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// CreateMany inserts notifications in a single statement.
func (r *NotificationRepository) CreateMany(ctx context.Context, notifications []models.Notification) error {
	if len(notifications) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for i := range notifications {
		if notifications[i].ID == "" {
			notifications[i].ID = uuid.NewString()
		}
		if notifications[i].CreatedAt.IsZero() {
			notifications[i].CreatedAt = now
		}
		if len(notifications[i].Data) == 0 {
			notifications[i].Data = []byte("{}")
		}
	}
	const query = `INSERT INTO notifications (id, user_id, title, description, type, data, seen, created_at) VALUES (:id, :user_id, :title, :description, :type, :data, :seen, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, notifications); err != nil {
		return fmt.Errorf("create notifications: %w", err)
	}
	return nil
}

// ListByUser returns a user's notifications, newest first, with a total count.
func (r *NotificationRepository) ListByUser(ctx context.Context, userID string, page models.PageRequest) ([]models.Notification, int, error) {
	_, size, offset := page.Normalize()
	query := fmt.Sprintf(`SELECT id, user_id, title, description, type, data, seen, created_at FROM notifications WHERE user_id = $1 ORDER BY created_at DESC LIMIT %d OFFSET %d`, size, offset)
	var notifications []models.Notification
	if err := r.db.SelectContext(ctx, &notifications, query, userID); err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM notifications WHERE user_id = $1`, userID); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}
	return notifications, total, nil
}

// CountUnseen returns the number of unseen notifications of a user.
func (r *NotificationRepository) CountUnseen(ctx context.Context, userID string) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND seen = FALSE`, userID); err != nil {
		return 0, fmt.Errorf("count unseen notifications: %w", err)
	}
	return count, nil
}

// MarkSeen flags a notification owned by userID as seen.
func (r *NotificationRepository) MarkSeen(ctx context.Context, userID, id string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE notifications SET seen = TRUE WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("mark notification seen: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
