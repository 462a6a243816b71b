package models

import "time"

// ReviewComment is a node of a review's discussion. Top-level comments have
// Level 1 and no ParentID; replies have Level parent.Level+1.
type ReviewComment struct {
	ID        string    `db:"id" json:"id"`
	ReviewID  string    `db:"review_id" json:"review_id"`
	ParentID  *string   `db:"parent_id" json:"parent_id,omitempty"`
	UserID    *string   `db:"user_id" json:"user_id"`
	Content   string    `db:"content" json:"content"`
	Level     int       `db:"level" json:"level"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// CommentRequest carries comment content.
type CommentRequest struct {
	Content string `json:"content" validate:"required,min=1,max=2000"`
}
