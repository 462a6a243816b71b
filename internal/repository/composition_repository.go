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

const compositionColumns = `id, class_id, name, percentage, position, finalized, created_at, updated_at`

// SnapshotCheck inspects the ordered compositions of a class while the class
// is locked and rejects the pending write by returning an error.
type SnapshotCheck func(snapshot []models.Composition) error

// ReorderPlanner computes the position rewrites for a locked, ordered snapshot.
type ReorderPlanner func(snapshot []models.Composition) ([]models.OrderChange, error)

// FinalizeCheck decides whether a locked composition may be finalized given
// the number of its ungraded students.
type FinalizeCheck func(composition *models.Composition, ungraded int) error

// CompositionRepository persists compositions. Every write that depends on the
// set of compositions of a class runs under the class row lock.
type CompositionRepository struct {
	db *sqlx.DB
}

// NewCompositionRepository constructs a CompositionRepository.
func NewCompositionRepository(db *sqlx.DB) *CompositionRepository {
	return &CompositionRepository{db: db}
}

// FindByID returns a composition.
func (r *CompositionRepository) FindByID(ctx context.Context, id string) (*models.Composition, error) {
	query := `SELECT ` + compositionColumns + ` FROM compositions WHERE id = $1`
	var composition models.Composition
	if err := r.db.GetContext(ctx, &composition, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find composition: %w", err)
	}
	return &composition, nil
}

// ListByClass returns a class's compositions sorted by position.
func (r *CompositionRepository) ListByClass(ctx context.Context, classID string) ([]models.Composition, error) {
	return listCompositions(ctx, r.db, classID)
}

type selecter interface {
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

func listCompositions(ctx context.Context, q selecter, classID string) ([]models.Composition, error) {
	query := `SELECT ` + compositionColumns + ` FROM compositions WHERE class_id = $1 ORDER BY position ASC`
	var compositions []models.Composition
	if err := q.SelectContext(ctx, &compositions, query, classID); err != nil {
		return nil, fmt.Errorf("list compositions: %w", err)
	}
	return compositions, nil
}

// lockedSnapshot locks the class and reads its ordered compositions.
func lockedSnapshot(ctx context.Context, tx *sqlx.Tx, classID string) ([]models.Composition, error) {
	if err := LockClass(ctx, tx, classID); err != nil {
		return nil, err
	}
	return listCompositions(ctx, tx, classID)
}

// Create appends a composition to its class and inserts a null grade for every
// student on the roster. check runs against the locked snapshot first; the new
// composition's Order must be set by the caller from that snapshot.
func (r *CompositionRepository) Create(ctx context.Context, composition *models.Composition, check SnapshotCheck) error {
	if composition.ID == "" {
		composition.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	composition.CreatedAt = now
	composition.UpdatedAt = now

	return database.WithTx(ctx, r.db, nil, func(tx *sqlx.Tx) error {
		snapshot, err := lockedSnapshot(ctx, tx, composition.ClassID)
		if err != nil {
			return err
		}
		if err := check(snapshot); err != nil {
			return err
		}
		const insertComposition = `INSERT INTO compositions (id, class_id, name, percentage, position, finalized, created_at, updated_at) VALUES (:id, :class_id, :name, :percentage, :position, :finalized, :created_at, :updated_at)`
		if _, err := tx.NamedExecContext(ctx, insertComposition, composition); err != nil {
			return fmt.Errorf("create composition: %w", err)
		}
		const insertGrades = `INSERT INTO grades (id, student_id, class_id, composition_id, value)
SELECT gen_random_uuid(), s.id, s.class_id, $1::uuid, NULL::integer FROM students s WHERE s.class_id = $2::uuid`
		if _, err := tx.ExecContext(ctx, insertGrades, composition.ID, composition.ClassID); err != nil {
			return fmt.Errorf("create composition grades: %w", err)
		}
		return nil
	})
}

// UpdatePercentage changes the weight of a composition after check accepts the locked snapshot.
func (r *CompositionRepository) UpdatePercentage(ctx context.Context, composition *models.Composition, percentage int, check SnapshotCheck) error {
	return database.WithTx(ctx, r.db, nil, func(tx *sqlx.Tx) error {
		snapshot, err := lockedSnapshot(ctx, tx, composition.ClassID)
		if err != nil {
			return err
		}
		if err := check(snapshot); err != nil {
			return err
		}
		composition.Percentage = percentage
		composition.UpdatedAt = time.Now().UTC()
		res, err := tx.ExecContext(ctx, `UPDATE compositions SET percentage = $2, updated_at = $3 WHERE id = $1`, composition.ID, percentage, composition.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update composition percentage: %w", err)
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return sql.ErrNoRows
		}
		return nil
	})
}

// Rename updates the display name.
func (r *CompositionRepository) Rename(ctx context.Context, id, name string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE compositions SET name = $2, updated_at = $3 WHERE id = $1`, id, name, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("rename composition: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Reorder applies the plan computed from the locked snapshot of classID.
func (r *CompositionRepository) Reorder(ctx context.Context, classID string, plan ReorderPlanner) ([]models.OrderChange, error) {
	var applied []models.OrderChange
	err := database.WithTx(ctx, r.db, nil, func(tx *sqlx.Tx) error {
		snapshot, err := lockedSnapshot(ctx, tx, classID)
		if err != nil {
			return err
		}
		changes, err := plan(snapshot)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		for _, change := range changes {
			if _, err := tx.ExecContext(ctx, `UPDATE compositions SET position = $2, updated_at = $3 WHERE id = $1`, change.CompositionID, change.To, now); err != nil {
				return fmt.Errorf("update composition position: %w", err)
			}
		}
		applied = changes
		return nil
	})
	if err != nil {
		return nil, err
	}
	return applied, nil
}

// Delete removes a composition and closes the gap it leaves in the ordering.
// Grades, reviews and review comments cascade through foreign keys.
func (r *CompositionRepository) Delete(ctx context.Context, classID, id string) error {
	return database.WithTx(ctx, r.db, nil, func(tx *sqlx.Tx) error {
		if err := LockClass(ctx, tx, classID); err != nil {
			return err
		}
		var position int
		if err := tx.GetContext(ctx, &position, `DELETE FROM compositions WHERE id = $1 AND class_id = $2 RETURNING position`, id, classID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return err
			}
			return fmt.Errorf("delete composition: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE compositions SET position = position - 1 WHERE class_id = $1 AND position > $2`, classID, position); err != nil {
			return fmt.Errorf("compact composition positions: %w", err)
		}
		return nil
	})
}

// Finalize locks the composition, counts its ungraded students, lets check
// decide, and marks it finalized.
func (r *CompositionRepository) Finalize(ctx context.Context, id string, check FinalizeCheck) (*models.Composition, error) {
	var composition models.Composition
	err := database.WithTx(ctx, r.db, nil, func(tx *sqlx.Tx) error {
		query := `SELECT ` + compositionColumns + ` FROM compositions WHERE id = $1 FOR UPDATE`
		if err := tx.GetContext(ctx, &composition, query, id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return err
			}
			return fmt.Errorf("lock composition: %w", err)
		}
		var ungraded int
		if err := tx.GetContext(ctx, &ungraded, `SELECT COUNT(*) FROM grades WHERE composition_id = $1 AND value IS NULL`, id); err != nil {
			return fmt.Errorf("count ungraded: %w", err)
		}
		if err := check(&composition, ungraded); err != nil {
			return err
		}
		composition.Finalized = true
		composition.UpdatedAt = time.Now().UTC()
		if _, err := tx.ExecContext(ctx, `UPDATE compositions SET finalized = TRUE, updated_at = $2 WHERE id = $1`, id, composition.UpdatedAt); err != nil {
			return fmt.Errorf("finalize composition: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &composition, nil
}
