package models

import (
	"encoding/json"
	"time"
)

// NotificationType classifies a notification.
type NotificationType string

const (
	NotificationCompositionFinalized NotificationType = "GRADE_COMPOSITION_FINALIZED"
	NotificationReviewRequested      NotificationType = "GRADE_REVIEW_REQUESTED"
	NotificationReviewDecision       NotificationType = "MARK_REVIEW_DECISION"
	NotificationComment              NotificationType = "COMMENT"
	NotificationCommentReply         NotificationType = "COMMENT_REPLY"
	NotificationClassInvitation      NotificationType = "CLASS_INVITATION"
)

// Notification is a message delivered to one user.
type Notification struct {
	ID          string           `db:"id" json:"id"`
	UserID      string           `db:"user_id" json:"user_id"`
	Title       string           `db:"title" json:"title"`
	Description string           `db:"description" json:"description"`
	Type        NotificationType `db:"type" json:"type"`
	Data        json.RawMessage  `db:"data" json:"data,omitempty"`
	Seen        bool             `db:"seen" json:"seen"`
	CreatedAt   time.Time        `db:"created_at" json:"created_at"`
}

// NotificationPayload is the content fanned out to recipients.
type NotificationPayload struct {
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	Type        NotificationType       `json:"type"`
	Data        map[string]interface{} `json:"data,omitempty"`
}
