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

// ErrRosterNotEmpty is returned when a roster upload targets a class that already has students.
var ErrRosterNotEmpty = errors.New("class roster is not empty")

const insertGradesForStudent = `INSERT INTO grades (id, student_id, class_id, composition_id, value)
SELECT gen_random_uuid(), $1::text, $2::uuid, c.id, NULL::integer FROM compositions c WHERE c.class_id = $2::uuid`

// StudentRepository persists class rosters and account mappings.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs a StudentRepository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// ListByClass returns the roster ordered by student ID.
func (r *StudentRepository) ListByClass(ctx context.Context, classID string) ([]models.Student, error) {
	const query = `SELECT id, class_id, name, user_id FROM students WHERE class_id = $1 ORDER BY id ASC`
	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query, classID); err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	return students, nil
}

// FindByID returns one roster entry.
func (r *StudentRepository) FindByID(ctx context.Context, classID, studentID string) (*models.Student, error) {
	const query = `SELECT id, class_id, name, user_id FROM students WHERE class_id = $1 AND id = $2`
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, classID, studentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find student: %w", err)
	}
	return &student, nil
}

// FindByUser returns the roster entry mapped to a user in a class.
func (r *StudentRepository) FindByUser(ctx context.Context, classID, userID string) (*models.Student, error) {
	const query = `SELECT id, class_id, name, user_id FROM students WHERE class_id = $1 AND user_id = $2`
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, classID, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find student by user: %w", err)
	}
	return &student, nil
}

// ReplaceRoster inserts an uploaded roster into an empty class and creates a
// null grade for every (student, composition) pair.
func (r *StudentRepository) ReplaceRoster(ctx context.Context, classID string, students []models.Student) error {
	return database.WithTx(ctx, r.db, nil, func(tx *sqlx.Tx) error {
		if err := LockClass(ctx, tx, classID); err != nil {
			return err
		}
		var count int
		if err := tx.GetContext(ctx, &count, `SELECT COUNT(*) FROM students WHERE class_id = $1`, classID); err != nil {
			return fmt.Errorf("count students: %w", err)
		}
		if count > 0 {
			return ErrRosterNotEmpty
		}
		if len(students) == 0 {
			return nil
		}
		for i := range students {
			students[i].ClassID = classID
		}
		const insertStudents = `INSERT INTO students (id, class_id, name, user_id) VALUES (:id, :class_id, :name, :user_id)`
		if _, err := tx.NamedExecContext(ctx, insertStudents, students); err != nil {
			return fmt.Errorf("insert students: %w", err)
		}
		const insertGrades = `INSERT INTO grades (id, student_id, class_id, composition_id, value)
SELECT gen_random_uuid(), s.id, s.class_id, c.id, NULL::integer FROM students s JOIN compositions c ON c.class_id = s.class_id WHERE s.class_id = $1`
		if _, err := tx.ExecContext(ctx, insertGrades, classID); err != nil {
			return fmt.Errorf("insert roster grades: %w", err)
		}
		return nil
	})
}

// Create adds a single student and one null grade per existing composition.
func (r *StudentRepository) Create(ctx context.Context, student *models.Student) error {
	return database.WithTx(ctx, r.db, nil, func(tx *sqlx.Tx) error {
		if err := LockClass(ctx, tx, student.ClassID); err != nil {
			return err
		}
		const query = `INSERT INTO students (id, class_id, name, user_id) VALUES (:id, :class_id, :name, :user_id)`
		if _, err := tx.NamedExecContext(ctx, query, student); err != nil {
			return fmt.Errorf("create student: %w", err)
		}
		if _, err := tx.ExecContext(ctx, insertGradesForStudent, student.ID, student.ClassID); err != nil {
			return fmt.Errorf("create student grades: %w", err)
		}
		return nil
	})
}

// Update renames a student and/or changes its ID; grades follow via ON UPDATE CASCADE.
func (r *StudentRepository) Update(ctx context.Context, classID, studentID string, student *models.Student) error {
	const query = `UPDATE students SET id = $3, name = $4 WHERE class_id = $1 AND id = $2`
	res, err := r.db.ExecContext(ctx, query, classID, studentID, student.ID, student.Name)
	if err != nil {
		return fmt.Errorf("update student: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes a student; its grades and their reviews cascade.
func (r *StudentRepository) Delete(ctx context.Context, classID, studentID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM students WHERE class_id = $1 AND id = $2`, classID, studentID)
	if err != nil {
		return fmt.Errorf("delete student: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteAll clears the roster of a class.
func (r *StudentRepository) DeleteAll(ctx context.Context, classID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM students WHERE class_id = $1`, classID)
	if err != nil {
		return 0, fmt.Errorf("clear students: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}

// MapUser links an unmapped roster entry to a user.
func (r *StudentRepository) MapUser(ctx context.Context, classID, studentID, userID string) error {
	const query = `UPDATE students SET user_id = $3 WHERE class_id = $1 AND id = $2 AND user_id IS NULL`
	res, err := r.db.ExecContext(ctx, query, classID, studentID, userID)
	if err != nil {
		return fmt.Errorf("map student: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// UnmapUser clears the mapping of a user in a class.
func (r *StudentRepository) UnmapUser(ctx context.Context, classID, userID string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE students SET user_id = NULL WHERE class_id = $1 AND user_id = $2`, classID, userID)
	if err != nil {
		return fmt.Errorf("unmap student: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
