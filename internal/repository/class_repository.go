package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/gradebook-api/internal/models"
	"github.com/noah-isme/gradebook-api/pkg/database"
)

const classColumns = `c.id, c.name, c.description, c.code, c.owner_id, c.created_at, c.updated_at, c.deleted_at`

// ClassRepository persists classes, their memberships and invitations.
type ClassRepository struct {
	db *sqlx.DB
}

// NewClassRepository constructs a ClassRepository.
func NewClassRepository(db *sqlx.DB) *ClassRepository {
	return &ClassRepository{db: db}
}

// IsUniqueViolation reports whether err is a Postgres unique constraint failure.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// CreateWithOwner inserts the class and the owner's TEACHER membership in one transaction.
func (r *ClassRepository) CreateWithOwner(ctx context.Context, class *models.Class) error {
	if class.ID == "" {
		class.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	class.CreatedAt = now
	class.UpdatedAt = now

	return database.WithTx(ctx, r.db, nil, func(tx *sqlx.Tx) error {
		const insertClass = `INSERT INTO classes (id, name, description, code, owner_id, created_at, updated_at) VALUES (:id, :name, :description, :code, :owner_id, :created_at, :updated_at)`
		if _, err := tx.NamedExecContext(ctx, insertClass, class); err != nil {
			return fmt.Errorf("create class: %w", err)
		}
		const insertMember = `INSERT INTO class_members (id, class_id, user_id, role, joined_at) VALUES ($1, $2, $3, $4, $5)`
		if _, err := tx.ExecContext(ctx, insertMember, uuid.NewString(), class.ID, class.OwnerID, models.ClassRoleTeacher, now); err != nil {
			return fmt.Errorf("create owner membership: %w", err)
		}
		return nil
	})
}

// CodeExists reports whether a join code is already taken.
func (r *ClassRepository) CodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM classes WHERE code = $1)`, code); err != nil {
		return false, fmt.Errorf("check class code: %w", err)
	}
	return exists, nil
}

// FindByID returns a non-deleted class unless includeDeleted is set.
func (r *ClassRepository) FindByID(ctx context.Context, id string, includeDeleted bool) (*models.Class, error) {
	query := `SELECT ` + classColumns + ` FROM classes c WHERE c.id = $1`
	if !includeDeleted {
		query += ` AND c.deleted_at IS NULL`
	}
	var class models.Class
	if err := r.db.GetContext(ctx, &class, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find class: %w", err)
	}
	return &class, nil
}

// FindByCode returns a live class by its join code.
func (r *ClassRepository) FindByCode(ctx context.Context, code string) (*models.Class, error) {
	query := `SELECT ` + classColumns + ` FROM classes c WHERE c.code = $1 AND c.deleted_at IS NULL`
	var class models.Class
	if err := r.db.GetContext(ctx, &class, query, code); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find class by code: %w", err)
	}
	return &class, nil
}

// ListOwned returns the live classes owned by a user.
func (r *ClassRepository) ListOwned(ctx context.Context, ownerID string) ([]models.Class, error) {
	query := `SELECT ` + classColumns + ` FROM classes c WHERE c.owner_id = $1 AND c.deleted_at IS NULL ORDER BY c.created_at DESC`
	var classes []models.Class
	if err := r.db.SelectContext(ctx, &classes, query, ownerID); err != nil {
		return nil, fmt.Errorf("list owned classes: %w", err)
	}
	return classes, nil
}

// ListJoined returns the live classes a user is a member of, optionally filtered by role.
func (r *ClassRepository) ListJoined(ctx context.Context, userID string, role *models.ClassRole) ([]models.JoinedClass, error) {
	query := `SELECT ` + classColumns + `, m.role FROM classes c JOIN class_members m ON m.class_id = c.id WHERE m.user_id = $1 AND c.deleted_at IS NULL`
	args := []interface{}{userID}
	if role != nil {
		query += ` AND m.role = $2`
		args = append(args, *role)
	}
	query += ` ORDER BY m.joined_at DESC`
	var classes []models.JoinedClass
	if err := r.db.SelectContext(ctx, &classes, query, args...); err != nil {
		return nil, fmt.Errorf("list joined classes: %w", err)
	}
	return classes, nil
}

// List returns classes for administrators with a total count.
func (r *ClassRepository) List(ctx context.Context, filter models.ClassFilter) ([]models.Class, int, error) {
	baseQuery := `FROM classes c WHERE 1=1`
	var args []interface{}
	if !filter.IncludeDeleted {
		baseQuery += ` AND c.deleted_at IS NULL`
	}
	if filter.Search != "" {
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
		baseQuery += fmt.Sprintf(` AND (LOWER(c.name) LIKE $%d OR LOWER(c.code) LIKE $%d)`, len(args), len(args))
	}

	_, size, offset := models.PageRequest{Page: filter.Page, PageSize: filter.PageSize}.Normalize()
	listQuery := fmt.Sprintf(`SELECT %s %s ORDER BY c.created_at DESC LIMIT %d OFFSET %d`, classColumns, baseQuery, size, offset)

	var classes []models.Class
	if err := r.db.SelectContext(ctx, &classes, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list classes: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) `+baseQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count classes: %w", err)
	}
	return classes, total, nil
}

// Update writes name and description.
func (r *ClassRepository) Update(ctx context.Context, class *models.Class) error {
	class.UpdatedAt = time.Now().UTC()
	const query = `UPDATE classes SET name = :name, description = :description, updated_at = :updated_at WHERE id = :id AND deleted_at IS NULL`
	res, err := r.db.NamedExecContext(ctx, query, class)
	if err != nil {
		return fmt.Errorf("update class: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SetDeleted soft deletes or restores a class.
func (r *ClassRepository) SetDeleted(ctx context.Context, id string, deleted bool) error {
	var deletedAt *time.Time
	if deleted {
		now := time.Now().UTC()
		deletedAt = &now
	}
	res, err := r.db.ExecContext(ctx, `UPDATE classes SET deleted_at = $2, updated_at = $3 WHERE id = $1`, id, deletedAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set class deleted: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// FindMember returns a user's membership in a class.
func (r *ClassRepository) FindMember(ctx context.Context, classID, userID string) (*models.ClassMember, error) {
	const query = `SELECT id, class_id, user_id, role, joined_at FROM class_members WHERE class_id = $1 AND user_id = $2`
	var member models.ClassMember
	if err := r.db.GetContext(ctx, &member, query, classID, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find class member: %w", err)
	}
	return &member, nil
}

// AddMember inserts a membership; an existing membership is a unique violation.
func (r *ClassRepository) AddMember(ctx context.Context, member *models.ClassMember) error {
	if member.ID == "" {
		member.ID = uuid.NewString()
	}
	if member.JoinedAt.IsZero() {
		member.JoinedAt = time.Now().UTC()
	}
	const query = `INSERT INTO class_members (id, class_id, user_id, role, joined_at) VALUES (:id, :class_id, :user_id, :role, :joined_at)`
	if _, err := r.db.NamedExecContext(ctx, query, member); err != nil {
		return fmt.Errorf("add class member: %w", err)
	}
	return nil
}

// RemoveMember deletes a membership and clears the user's roster mapping in the class.
func (r *ClassRepository) RemoveMember(ctx context.Context, classID, userID string) error {
	return database.WithTx(ctx, r.db, nil, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM class_members WHERE class_id = $1 AND user_id = $2`, classID, userID)
		if err != nil {
			return fmt.Errorf("remove class member: %w", err)
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return sql.ErrNoRows
		}
		if _, err := tx.ExecContext(ctx, `UPDATE students SET user_id = NULL WHERE class_id = $1 AND user_id = $2`, classID, userID); err != nil {
			return fmt.Errorf("unmap removed member: %w", err)
		}
		return nil
	})
}

// ListMembers returns the members of a class with their user details.
func (r *ClassRepository) ListMembers(ctx context.Context, classID string, role *models.ClassRole) ([]models.ClassMemberDetail, error) {
	query := `SELECT m.id, m.class_id, m.user_id, m.role, m.joined_at, u.email, u.full_name, (c.owner_id = m.user_id) AS is_owner
FROM class_members m JOIN users u ON u.id = m.user_id JOIN classes c ON c.id = m.class_id
WHERE m.class_id = $1`
	args := []interface{}{classID}
	if role != nil {
		query += ` AND m.role = $2`
		args = append(args, *role)
	}
	query += ` ORDER BY m.role DESC, u.full_name ASC`
	var members []models.ClassMemberDetail
	if err := r.db.SelectContext(ctx, &members, query, args...); err != nil {
		return nil, fmt.Errorf("list class members: %w", err)
	}
	return members, nil
}

// ListMemberIDs returns the user IDs holding a role in a class.
func (r *ClassRepository) ListMemberIDs(ctx context.Context, classID string, role models.ClassRole) ([]string, error) {
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, `SELECT user_id FROM class_members WHERE class_id = $1 AND role = $2`, classID, role); err != nil {
		return nil, fmt.Errorf("list class member ids: %w", err)
	}
	return ids, nil
}

// CreateInvitation stores an invitation token.
func (r *ClassRepository) CreateInvitation(ctx context.Context, inv *models.Invitation) error {
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO invitations (id, class_id, token, role, expired_at, created_at) VALUES (:id, :class_id, :token, :role, :expired_at, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, inv); err != nil {
		return fmt.Errorf("create invitation: %w", err)
	}
	return nil
}

// FindInvitation returns an invitation by token.
func (r *ClassRepository) FindInvitation(ctx context.Context, token string) (*models.Invitation, error) {
	const query = `SELECT id, class_id, token, role, expired_at, created_at FROM invitations WHERE token = $1`
	var inv models.Invitation
	if err := r.db.GetContext(ctx, &inv, query, token); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find invitation: %w", err)
	}
	return &inv, nil
}

// LockClass takes a row lock on the class for the duration of tx. Writers that
// must observe a stable snapshot of a class's compositions serialize here.
func LockClass(ctx context.Context, tx *sqlx.Tx, classID string) error {
	var id string
	if err := tx.GetContext(ctx, &id, `SELECT id FROM classes WHERE id = $1 FOR UPDATE`, classID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return err
		}
		return fmt.Errorf("lock class: %w", err)
	}
	return nil
}
