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
	"github.com/noah-isme/gradebook-api/pkg/database"
)

const reviewColumns = `r.id, r.grade_id, r.class_id, r.requester_id, r.ended_by, r.explanation, r.expected_grade, r.current_grade, r.final_grade, r.status, r.created_at, r.updated_at`

const reviewDetailSelect = `SELECT ` + reviewColumns + `, g.student_id, g.composition_id, c.name AS composition_name
FROM reviews r JOIN grades g ON g.id = r.grade_id JOIN compositions c ON c.id = g.composition_id`

// ReviewRepository persists grade reviews.
type ReviewRepository struct {
	db *sqlx.DB
}

// NewReviewRepository constructs a ReviewRepository.
func NewReviewRepository(db *sqlx.DB) *ReviewRepository {
	return &ReviewRepository{db: db}
}

// Create inserts a PENDING review. A second pending review on the same grade
// violates reviews_one_pending_per_grade.
func (r *ReviewRepository) Create(ctx context.Context, review *models.Review) error {
	if review.ID == "" {
		review.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	review.CreatedAt = now
	review.UpdatedAt = now
	review.Status = models.ReviewStatusPending

	const query = `INSERT INTO reviews (id, grade_id, class_id, requester_id, explanation, expected_grade, current_grade, status, created_at, updated_at) VALUES (:id, :grade_id, :class_id, :requester_id, :explanation, :expected_grade, :current_grade, :status, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, review); err != nil {
		return fmt.Errorf("create review: %w", err)
	}
	return nil
}

// FindByID returns a review with its grade context.
func (r *ReviewRepository) FindByID(ctx context.Context, id string) (*models.ReviewDetail, error) {
	var review models.ReviewDetail
	if err := r.db.GetContext(ctx, &review, reviewDetailSelect+` WHERE r.id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find review: %w", err)
	}
	return &review, nil
}

// HasPending reports whether a PENDING review exists for the grade.
func (r *ReviewRepository) HasPending(ctx context.Context, gradeID string) (bool, error) {
	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM reviews WHERE grade_id = $1 AND status = 'PENDING')`, gradeID); err != nil {
		return false, fmt.Errorf("check pending review: %w", err)
	}
	return exists, nil
}

// List returns reviews of a class, newest first, with a total count.
func (r *ReviewRepository) List(ctx context.Context, filter models.ReviewFilter) ([]models.ReviewDetail, int, error) {
	where := ` WHERE r.class_id = $1`
	args := []interface{}{filter.ClassID}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		where += fmt.Sprintf(` AND r.status = $%d`, len(args))
	}
	if filter.RequesterID != nil {
		args = append(args, *filter.RequesterID)
		where += fmt.Sprintf(` AND r.requester_id = $%d`, len(args))
	}
	_, size, offset := models.PageRequest{Page: filter.Page, PageSize: filter.PageSize}.Normalize()

	var reviews []models.ReviewDetail
	listQuery := fmt.Sprintf(`%s%s ORDER BY r.created_at DESC LIMIT %d OFFSET %d`, reviewDetailSelect, where, size, offset)
	if err := r.db.SelectContext(ctx, &reviews, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list reviews: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM reviews r`+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count reviews: %w", err)
	}
	return reviews, total, nil
}

// Decide resolves a PENDING review. An ACCEPTED decision also overwrites the
// grade value regardless of the composition's finalized flag. A review that is
// no longer PENDING yields sql.ErrNoRows.
func (r *ReviewRepository) Decide(ctx context.Context, decision models.ReviewDecision) (*models.Review, error) {
	var review models.Review
	err := database.WithTx(ctx, r.db, nil, func(tx *sqlx.Tx) error {
		const query = `UPDATE reviews r SET status = $2, final_grade = $3, ended_by = $4, updated_at = $5
WHERE r.id = $1 AND r.status = 'PENDING' RETURNING ` + reviewColumns
		if err := tx.GetContext(ctx, &review, query, decision.ReviewID, decision.Status, decision.FinalGrade, decision.EndedBy, decision.DecidedAt); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return err
			}
			return fmt.Errorf("decide review: %w", err)
		}
		if decision.Status != models.ReviewStatusAccepted {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `UPDATE grades SET value = $2 WHERE id = $1`, decision.GradeID, decision.FinalGrade); err != nil {
			return fmt.Errorf("apply review grade: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &review, nil
}
