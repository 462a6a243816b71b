package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/gradebook-api/internal/models"
)

const commentColumns = `id, review_id, parent_id, user_id, content, level, created_at, updated_at`

// CommentRepository persists review comments as a flat table keyed by id.
type CommentRepository struct {
	db *sqlx.DB
}

// NewCommentRepository constructs a CommentRepository.
func NewCommentRepository(db *sqlx.DB) *CommentRepository {
	return &CommentRepository{db: db}
}

// Create inserts a comment while its review is still PENDING. For replies the
// level is derived from the parent row in the same statement. sql.ErrNoRows
// means the review is no longer pending or the parent is not on this review.
func (r *CommentRepository) Create(ctx context.Context, comment *models.ReviewComment) error {
	if comment.ID == "" {
		comment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	comment.CreatedAt = now
	comment.UpdatedAt = now

	var query string
	args := []interface{}{comment.ID, comment.ReviewID, comment.UserID, comment.Content, now}
	if comment.ParentID == nil {
		query = `INSERT INTO review_comments (id, review_id, parent_id, user_id, content, level, created_at, updated_at)
SELECT $1::uuid, rv.id, NULL::uuid, $3::uuid, $4::text, 1, $5::timestamptz, $5::timestamptz FROM reviews rv WHERE rv.id = $2::uuid AND rv.status = 'PENDING'
RETURNING level`
	} else {
		query = `INSERT INTO review_comments (id, review_id, parent_id, user_id, content, level, created_at, updated_at)
SELECT $1::uuid, p.review_id, p.id, $3::uuid, $4::text, p.level + 1, $5::timestamptz, $5::timestamptz FROM review_comments p JOIN reviews rv ON rv.id = p.review_id
WHERE p.id = $6::uuid AND p.review_id = $2::uuid AND rv.status = 'PENDING'
RETURNING level`
		args = append(args, *comment.ParentID)
	}

	if err := r.db.GetContext(ctx, &comment.Level, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return err
		}
		return fmt.Errorf("create review comment: %w", err)
	}
	return nil
}

// FindByID returns a comment.
func (r *CommentRepository) FindByID(ctx context.Context, id string) (*models.ReviewComment, error) {
	var comment models.ReviewComment
	if err := r.db.GetContext(ctx, &comment, `SELECT `+commentColumns+` FROM review_comments WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find review comment: %w", err)
	}
	return &comment, nil
}

// ListTopLevel returns the level-1 comments of a review, newest first.
func (r *CommentRepository) ListTopLevel(ctx context.Context, reviewID string) ([]models.ReviewComment, error) {
	var comments []models.ReviewComment
	query := `SELECT ` + commentColumns + ` FROM review_comments WHERE review_id = $1 AND parent_id IS NULL ORDER BY created_at DESC`
	if err := r.db.SelectContext(ctx, &comments, query, reviewID); err != nil {
		return nil, fmt.Errorf("list review comments: %w", err)
	}
	return comments, nil
}

// ListReplies returns the direct replies to a comment, oldest first.
func (r *CommentRepository) ListReplies(ctx context.Context, parentID string) ([]models.ReviewComment, error) {
	var comments []models.ReviewComment
	query := `SELECT ` + commentColumns + ` FROM review_comments WHERE parent_id = $1 ORDER BY created_at ASC`
	if err := r.db.SelectContext(ctx, &comments, query, parentID); err != nil {
		return nil, fmt.Errorf("list comment replies: %w", err)
	}
	return comments, nil
}

// TopLevelAuthors returns the distinct authors of a review's top-level comments.
func (r *CommentRepository) TopLevelAuthors(ctx context.Context, reviewID string) ([]string, error) {
	var ids []string
	const query = `SELECT DISTINCT user_id FROM review_comments WHERE review_id = $1 AND parent_id IS NULL AND user_id IS NOT NULL`
	if err := r.db.SelectContext(ctx, &ids, query, reviewID); err != nil {
		return nil, fmt.Errorf("list top-level comment authors: %w", err)
	}
	return ids, nil
}

// ReplyAuthors returns the distinct authors of the replies to a comment.
func (r *CommentRepository) ReplyAuthors(ctx context.Context, parentID string) ([]string, error) {
	var ids []string
	const query = `SELECT DISTINCT user_id FROM review_comments WHERE parent_id = $1 AND user_id IS NOT NULL`
	if err := r.db.SelectContext(ctx, &ids, query, parentID); err != nil {
		return nil, fmt.Errorf("list reply authors: %w", err)
	}
	return ids, nil
}

// UpdateContent edits a comment's text.
func (r *CommentRepository) UpdateContent(ctx context.Context, id, content string) (*models.ReviewComment, error) {
	var comment models.ReviewComment
	query := `UPDATE review_comments SET content = $2, updated_at = $3 WHERE id = $1 RETURNING ` + commentColumns
	if err := r.db.GetContext(ctx, &comment, query, id, content, time.Now().UTC()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("update review comment: %w", err)
	}
	return &comment, nil
}

// Delete removes a comment; replies cascade.
func (r *CommentRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM review_comments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete review comment: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
