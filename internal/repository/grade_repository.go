package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/gradebook-api/internal/models"
	"github.com/noah-isme/gradebook-api/pkg/database"
)

const gradeDetailSelect = `SELECT g.id, g.student_id, g.class_id, g.composition_id, g.value,
c.name AS composition_name, c.percentage, c.position, c.finalized
FROM grades g JOIN compositions c ON c.id = g.composition_id`

// CompositionCheck inspects a locked composition before its grades change.
type CompositionCheck func(composition *models.Composition) error

// GradeValue is one student's new value in a bulk update.
type GradeValue struct {
	StudentID string
	Value     *int
}

// MissingGradeError reports a student with no grade row for the composition.
type MissingGradeError struct {
	StudentID string
}

func (e *MissingGradeError) Error() string {
	return fmt.Sprintf("no grade for student %s", e.StudentID)
}

// GradeRepository reads and writes grade values.
type GradeRepository struct {
	db *sqlx.DB
}

// NewGradeRepository constructs a GradeRepository.
func NewGradeRepository(db *sqlx.DB) *GradeRepository {
	return &GradeRepository{db: db}
}

// FindDetail returns a grade joined with its composition.
func (r *GradeRepository) FindDetail(ctx context.Context, id string) (*models.GradeDetail, error) {
	var grade models.GradeDetail
	if err := r.db.GetContext(ctx, &grade, gradeDetailSelect+` WHERE g.id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find grade: %w", err)
	}
	return &grade, nil
}

// ListByClass returns every grade of a class ordered by composition position.
func (r *GradeRepository) ListByClass(ctx context.Context, classID string) ([]models.GradeDetail, error) {
	var grades []models.GradeDetail
	if err := r.db.SelectContext(ctx, &grades, gradeDetailSelect+` WHERE g.class_id = $1 ORDER BY g.student_id ASC, c.position ASC`, classID); err != nil {
		return nil, fmt.Errorf("list class grades: %w", err)
	}
	return grades, nil
}

// ListByStudent returns one student's grades ordered by composition position.
func (r *GradeRepository) ListByStudent(ctx context.Context, classID, studentID string) ([]models.GradeDetail, error) {
	var grades []models.GradeDetail
	if err := r.db.SelectContext(ctx, &grades, gradeDetailSelect+` WHERE g.class_id = $1 AND g.student_id = $2 ORDER BY c.position ASC`, classID, studentID); err != nil {
		return nil, fmt.Errorf("list student grades: %w", err)
	}
	return grades, nil
}

func lockComposition(ctx context.Context, tx *sqlx.Tx, compositionID string) (*models.Composition, error) {
	query := `SELECT ` + compositionColumns + ` FROM compositions WHERE id = $1 FOR UPDATE`
	var composition models.Composition
	if err := tx.GetContext(ctx, &composition, query, compositionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("lock composition: %w", err)
	}
	return &composition, nil
}

// UpdateValues writes every value in one transaction; a student without a
// grade row aborts the whole batch with *MissingGradeError.
func (r *GradeRepository) UpdateValues(ctx context.Context, compositionID string, values []GradeValue, check CompositionCheck) error {
	return database.WithTx(ctx, r.db, nil, func(tx *sqlx.Tx) error {
		composition, err := lockComposition(ctx, tx, compositionID)
		if err != nil {
			return err
		}
		if err := check(composition); err != nil {
			return err
		}
		for _, v := range values {
			res, err := tx.ExecContext(ctx, `UPDATE grades SET value = $3 WHERE composition_id = $1 AND student_id = $2`, compositionID, v.StudentID, v.Value)
			if err != nil {
				return fmt.Errorf("update grade: %w", err)
			}
			if affected, _ := res.RowsAffected(); affected == 0 {
				return &MissingGradeError{StudentID: v.StudentID}
			}
		}
		return nil
	})
}

// UpdateValue writes a single student's grade and returns the stored row.
func (r *GradeRepository) UpdateValue(ctx context.Context, compositionID, studentID string, value *int, check CompositionCheck) (*models.Grade, error) {
	var grade models.Grade
	err := database.WithTx(ctx, r.db, nil, func(tx *sqlx.Tx) error {
		composition, err := lockComposition(ctx, tx, compositionID)
		if err != nil {
			return err
		}
		if err := check(composition); err != nil {
			return err
		}
		const query = `UPDATE grades SET value = $3 WHERE composition_id = $1 AND student_id = $2 RETURNING id, student_id, class_id, composition_id, value`
		if err := tx.GetContext(ctx, &grade, query, compositionID, studentID, value); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return err
			}
			return fmt.Errorf("update grade: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &grade, nil
}
