package service

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/gradebook-api/internal/models"
	"github.com/noah-isme/gradebook-api/internal/repository"
	"github.com/noah-isme/gradebook-api/pkg/csvimport"
	appErrors "github.com/noah-isme/gradebook-api/pkg/errors"
)

type studentRepository interface {
	ListByClass(ctx context.Context, classID string) ([]models.Student, error)
	FindByID(ctx context.Context, classID, studentID string) (*models.Student, error)
	FindByUser(ctx context.Context, classID, userID string) (*models.Student, error)
	ReplaceRoster(ctx context.Context, classID string, students []models.Student) error
	Create(ctx context.Context, student *models.Student) error
	Update(ctx context.Context, classID, studentID string, student *models.Student) error
	Delete(ctx context.Context, classID, studentID string) error
	DeleteAll(ctx context.Context, classID string) (int64, error)
	MapUser(ctx context.Context, classID, studentID, userID string) error
	UnmapUser(ctx context.Context, classID, userID string) error
}

// classAuthorizer is the slice of ClassService other services check permissions with.
type classAuthorizer interface {
	Access(ctx context.Context, actor models.Actor, classID string) (*ClassAccess, error)
	ValidatePermission(ctx context.Context, actor models.Actor, classID string, opts models.PermissionOptions) (*ClassAccess, error)
}

// gradeBoardCache drops cached boards after roster or grade changes.
type gradeBoardCache interface {
	InvalidateGradeBoard(ctx context.Context, classID string)
}

// StudentService manages the roster of a class and the mapping of accounts to roster entries.
type StudentService struct {
	repo      studentRepository
	classes   classAuthorizer
	cache     gradeBoardCache
	validator *validator.Validate
	logger    *zap.Logger
}

// NewStudentService constructs the student service.
func NewStudentService(repo studentRepository, classes classAuthorizer, cache gradeBoardCache, validate *validator.Validate, logger *zap.Logger) *StudentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StudentService{repo: repo, classes: classes, cache: cache, validator: validate, logger: logger}
}

// List returns the roster of a class.
func (s *StudentService) List(ctx context.Context, actor models.Actor, classID string) ([]models.Student, error) {
	if _, err := s.classes.ValidatePermission(ctx, actor, classID, models.DefaultPermissionOptions()); err != nil {
		return nil, err
	}
	students, err := s.repo.ListByClass(ctx, classID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}
	return students, nil
}

// Upload loads a roster CSV (student_id, student_name) into a class that has
// no students yet. Every composition gets a null grade for each new student.
func (s *StudentService) Upload(ctx context.Context, actor models.Actor, classID string, r io.Reader) ([]models.Student, error) {
	if _, err := s.classes.ValidatePermission(ctx, actor, classID, models.RequireRole(models.ClassRoleTeacher)); err != nil {
		return nil, err
	}
	rows, err := csvimport.ReadRoster(r)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid csv file: "+err.Error())
	}
	students := make([]models.Student, 0, len(rows))
	for _, row := range rows {
		students = append(students, models.Student{ID: row.StudentID, ClassID: classID, Name: row.Name})
	}
	if err := s.repo.ReplaceRoster(ctx, classID, students); err != nil {
		if errors.Is(err, repository.ErrRosterNotEmpty) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "class already has students")
		}
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to import students")
	}
	s.invalidate(ctx, classID)
	s.logger.Info("roster imported", zap.String("class_id", classID), zap.Int("students", len(students)))
	return students, nil
}

// Add appends one student to the roster.
func (s *StudentService) Add(ctx context.Context, actor models.Actor, classID string, req models.AddStudentRequest) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}
	if _, err := s.classes.ValidatePermission(ctx, actor, classID, models.RequireRole(models.ClassRoleTeacher)); err != nil {
		return nil, err
	}
	student := &models.Student{ID: strings.TrimSpace(req.StudentID), ClassID: classID, Name: strings.TrimSpace(req.Name)}
	if err := s.repo.Create(ctx, student); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "student id already exists in this class")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to add student")
	}
	s.invalidate(ctx, classID)
	return student, nil
}

// Update renames a roster entry or changes its student ID.
func (s *StudentService) Update(ctx context.Context, actor models.Actor, classID, studentID string, req models.UpdateStudentRequest) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}
	if _, err := s.classes.ValidatePermission(ctx, actor, classID, models.RequireRole(models.ClassRoleTeacher)); err != nil {
		return nil, err
	}
	student, err := s.find(ctx, classID, studentID)
	if err != nil {
		return nil, err
	}
	if req.StudentID != nil {
		student.ID = strings.TrimSpace(*req.StudentID)
	}
	if req.Name != nil {
		student.Name = strings.TrimSpace(*req.Name)
	}
	if err := s.repo.Update(ctx, classID, studentID, student); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		if repository.IsUniqueViolation(err) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "student id already exists in this class")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update student")
	}
	s.invalidate(ctx, classID)
	return student, nil
}

// Delete removes a roster entry together with its grades.
func (s *StudentService) Delete(ctx context.Context, actor models.Actor, classID, studentID string) error {
	if _, err := s.classes.ValidatePermission(ctx, actor, classID, models.RequireRole(models.ClassRoleTeacher)); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, classID, studentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete student")
	}
	s.invalidate(ctx, classID)
	return nil
}

// Clear empties the roster of a class.
func (s *StudentService) Clear(ctx context.Context, actor models.Actor, classID string) (int64, error) {
	if _, err := s.classes.ValidatePermission(ctx, actor, classID, models.RequireRole(models.ClassRoleTeacher)); err != nil {
		return 0, err
	}
	removed, err := s.repo.DeleteAll(ctx, classID)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to clear students")
	}
	s.invalidate(ctx, classID)
	return removed, nil
}

// Mapped returns the roster entry linked to the caller, if any.
func (s *StudentService) Mapped(ctx context.Context, actor models.Actor, classID string) (*models.MappedStudent, error) {
	if _, err := s.classes.ValidatePermission(ctx, actor, classID, models.DefaultPermissionOptions()); err != nil {
		return nil, err
	}
	student, err := s.repo.FindByUser(ctx, classID, actor.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &models.MappedStudent{}, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load mapping")
	}
	return &models.MappedStudent{StudentID: &student.ID}, nil
}

// Map links a STUDENT member to a free roster entry. Students may only map themselves.
func (s *StudentService) Map(ctx context.Context, actor models.Actor, classID string, req models.MapStudentRequest) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid mapping payload")
	}
	access, err := s.classes.ValidatePermission(ctx, actor, classID, models.DefaultPermissionOptions())
	if err != nil {
		return nil, err
	}
	assignee := req.UserID
	if assignee == "" {
		assignee = actor.UserID
	}
	if access.IsStudent() && assignee != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "you cannot map student id for others")
	}
	target, err := s.classes.Access(ctx, models.Actor{UserID: assignee}, classID)
	if err != nil {
		return nil, err
	}
	if !target.IsStudent() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "assignee is not a student of this class")
	}
	if _, err := s.repo.FindByUser(ctx, classID, assignee); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "assignee is already mapped")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load mapping")
	}
	student, err := s.find(ctx, classID, req.StudentID)
	if err != nil {
		return nil, err
	}
	if student.UserID != nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "student id already mapped")
	}
	if err := s.repo.MapUser(ctx, classID, student.ID, assignee); err != nil {
		if errors.Is(err, sql.ErrNoRows) || repository.IsUniqueViolation(err) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "student id already mapped")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to map student")
	}
	student.UserID = &assignee
	s.invalidate(ctx, classID)
	return student, nil
}

// Unmap clears a user's roster mapping. Students may only unmap themselves.
func (s *StudentService) Unmap(ctx context.Context, actor models.Actor, classID string, req models.UnmapStudentRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid mapping payload")
	}
	access, err := s.classes.ValidatePermission(ctx, actor, classID, models.DefaultPermissionOptions())
	if err != nil {
		return err
	}
	target := req.UserID
	if target == "" {
		target = actor.UserID
	}
	if access.IsStudent() && target != actor.UserID {
		return appErrors.Clone(appErrors.ErrForbidden, "you cannot unmap student id for others")
	}
	if err := s.repo.UnmapUser(ctx, classID, target); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "this student is not mapped")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to unmap student")
	}
	s.invalidate(ctx, classID)
	return nil
}

func (s *StudentService) find(ctx context.Context, classID, studentID string) (*models.Student, error) {
	student, err := s.repo.FindByID(ctx, classID, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student id not found in this class")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return student, nil
}

func (s *StudentService) invalidate(ctx context.Context, classID string) {
	if s.cache != nil {
		s.cache.InvalidateGradeBoard(ctx, classID)
	}
}
