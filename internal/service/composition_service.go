package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/gradebook-api/internal/models"
	"github.com/noah-isme/gradebook-api/internal/repository"
	"github.com/noah-isme/gradebook-api/pkg/csvimport"
	appErrors "github.com/noah-isme/gradebook-api/pkg/errors"
)

type compositionRepository interface {
	FindByID(ctx context.Context, id string) (*models.Composition, error)
	ListByClass(ctx context.Context, classID string) ([]models.Composition, error)
	Create(ctx context.Context, composition *models.Composition, check repository.SnapshotCheck) error
	UpdatePercentage(ctx context.Context, composition *models.Composition, percentage int, check repository.SnapshotCheck) error
	Rename(ctx context.Context, id, name string) error
	Reorder(ctx context.Context, classID string, plan repository.ReorderPlanner) ([]models.OrderChange, error)
	Delete(ctx context.Context, classID, id string) error
	Finalize(ctx context.Context, id string, check repository.FinalizeCheck) (*models.Composition, error)
}

type gradeWriter interface {
	UpdateValues(ctx context.Context, compositionID string, values []repository.GradeValue, check repository.CompositionCheck) error
	UpdateValue(ctx context.Context, compositionID, studentID string, value *int, check repository.CompositionCheck) (*models.Grade, error)
}

// CheckPercentageCap rejects a weight change that would push the class total
// over MaxTotalPercentage. excludeID names the composition being replaced.
func CheckPercentageCap(snapshot []models.Composition, excludeID string, percentage int) error {
	total := percentage
	for _, c := range snapshot {
		if c.ID == excludeID {
			continue
		}
		total += c.Percentage
	}
	if total > models.MaxTotalPercentage {
		return appErrors.Clone(appErrors.ErrPercentageExceeded, fmt.Sprintf("total percentage would be %d, the maximum is %d", total, models.MaxTotalPercentage))
	}
	return nil
}

// PlanReorder moves targetID to newOrder within the ordered snapshot and
// returns the position rewrites that leave the class densely numbered 1..N.
// Moving to the current position yields no changes.
func PlanReorder(snapshot []models.Composition, targetID string, newOrder int) ([]models.OrderChange, error) {
	n := len(snapshot)
	if newOrder < 1 || newOrder > n {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("order must be between 1 and %d", n))
	}
	from := -1
	for i, c := range snapshot {
		if c.ID == targetID {
			from = i
			break
		}
	}
	if from < 0 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "composition not found")
	}

	ordered := make([]models.Composition, 0, n)
	ordered = append(ordered, snapshot[:from]...)
	ordered = append(ordered, snapshot[from+1:]...)
	to := newOrder - 1
	ordered = append(ordered[:to], append([]models.Composition{snapshot[from]}, ordered[to:]...)...)

	var changes []models.OrderChange
	for i, c := range ordered {
		if c.Order != i+1 {
			changes = append(changes, models.OrderChange{CompositionID: c.ID, From: c.Order, To: i + 1})
		}
	}
	return changes, nil
}

// CheckFinalizable allows finalization only once and only when every student is graded.
func CheckFinalizable(composition *models.Composition, ungraded int) error {
	if composition.Finalized {
		return appErrors.Clone(appErrors.ErrFinalized, "composition is already finalized")
	}
	if ungraded > 0 {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%d student(s) are not graded yet", ungraded))
	}
	return nil
}

// ensureEditable guards grade writes on a finalized composition.
func ensureEditable(composition *models.Composition) error {
	if composition.Finalized {
		return appErrors.Clone(appErrors.ErrFinalized, "cannot modify a finalized composition's grades")
	}
	return nil
}

// CompositionService runs the ordering engine and the finalization gate.
// Every mutation executes in one transaction under the class row lock, with
// the decision made by the pure planners above against the locked snapshot.
type CompositionService struct {
	repo      compositionRepository
	grades    gradeWriter
	students  rosterReader
	classes   classAuthorizer
	cache     gradeBoardCache
	notifier  notifier
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewCompositionService constructs a CompositionService.
func NewCompositionService(repo compositionRepository, grades gradeWriter, students rosterReader, classes classAuthorizer, cache gradeBoardCache, notifier notifier, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *CompositionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CompositionService{repo: repo, grades: grades, students: students, classes: classes, cache: cache, notifier: notifier, metrics: metrics, validator: validate, logger: logger}
}

// List returns the compositions of a class in order.
func (s *CompositionService) List(ctx context.Context, actor models.Actor, classID string) ([]models.Composition, error) {
	if _, err := s.classes.ValidatePermission(ctx, actor, classID, models.DefaultPermissionOptions()); err != nil {
		return nil, err
	}
	compositions, err := s.repo.ListByClass(ctx, classID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list compositions")
	}
	return compositions, nil
}

// Get returns a composition visible to the caller.
func (s *CompositionService) Get(ctx context.Context, actor models.Actor, id string) (*models.Composition, error) {
	return s.authorize(ctx, actor, id, models.DefaultPermissionOptions())
}

// Create appends a composition and gives every rostered student a null grade for it.
func (s *CompositionService) Create(ctx context.Context, actor models.Actor, req models.CreateCompositionRequest) (*models.Composition, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid composition payload")
	}
	if _, err := s.classes.ValidatePermission(ctx, actor, req.ClassID, models.RequireRole(models.ClassRoleTeacher)); err != nil {
		return nil, err
	}
	composition := &models.Composition{ClassID: req.ClassID, Name: strings.TrimSpace(req.Name), Percentage: req.Percentage}
	err := s.repo.Create(ctx, composition, func(snapshot []models.Composition) error {
		if err := CheckPercentageCap(snapshot, "", req.Percentage); err != nil {
			return err
		}
		composition.Order = len(snapshot) + 1
		return nil
	})
	if err != nil {
		return nil, s.mapError(err, "failed to create composition")
	}
	s.invalidate(ctx, composition.ClassID)
	return composition, nil
}

// Update renames a composition and/or changes its weight.
func (s *CompositionService) Update(ctx context.Context, actor models.Actor, id string, req models.UpdateCompositionRequest) (*models.Composition, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid composition payload")
	}
	composition, err := s.authorize(ctx, actor, id, models.RequireRole(models.ClassRoleTeacher))
	if err != nil {
		return nil, err
	}
	if req.Percentage != nil {
		percentage := *req.Percentage
		err := s.repo.UpdatePercentage(ctx, composition, percentage, func(snapshot []models.Composition) error {
			return CheckPercentageCap(snapshot, id, percentage)
		})
		if err != nil {
			return nil, s.mapError(err, "failed to update composition")
		}
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if err := s.repo.Rename(ctx, id, name); err != nil {
			return nil, s.mapError(err, "failed to rename composition")
		}
		composition.Name = name
	}
	s.invalidate(ctx, composition.ClassID)
	return composition, nil
}

// UpdateOrder moves a composition to a new 1-based position.
func (s *CompositionService) UpdateOrder(ctx context.Context, actor models.Actor, id string, req models.UpdateOrderRequest) ([]models.Composition, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid order payload")
	}
	composition, err := s.authorize(ctx, actor, id, models.RequireRole(models.ClassRoleTeacher))
	if err != nil {
		return nil, err
	}
	start := time.Now()
	changes, err := s.repo.Reorder(ctx, composition.ClassID, func(snapshot []models.Composition) ([]models.OrderChange, error) {
		return PlanReorder(snapshot, id, req.Order)
	})
	s.metrics.ObserveDBQuery("composition_reorder", time.Since(start))
	if err != nil {
		return nil, s.mapError(err, "failed to reorder compositions")
	}
	if len(changes) > 0 {
		s.invalidate(ctx, composition.ClassID)
	}
	compositions, err := s.repo.ListByClass(ctx, composition.ClassID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list compositions")
	}
	return compositions, nil
}

// Delete removes a composition, closing the gap in the ordering. Its grades,
// their reviews and the review comments go with it.
func (s *CompositionService) Delete(ctx context.Context, actor models.Actor, id string) error {
	composition, err := s.authorize(ctx, actor, id, models.RequireRole(models.ClassRoleTeacher))
	if err != nil {
		return err
	}
	start := time.Now()
	err = s.repo.Delete(ctx, composition.ClassID, id)
	s.metrics.ObserveDBQuery("composition_delete", time.Since(start))
	if err != nil {
		return s.mapError(err, "failed to delete composition")
	}
	s.invalidate(ctx, composition.ClassID)
	return nil
}

// Finalize locks a fully graded composition and tells mapped students.
func (s *CompositionService) Finalize(ctx context.Context, actor models.Actor, id string) (*models.Composition, error) {
	composition, err := s.authorize(ctx, actor, id, models.RequireRole(models.ClassRoleTeacher))
	if err != nil {
		return nil, err
	}
	finalized, err := s.repo.Finalize(ctx, id, CheckFinalizable)
	if err != nil {
		return nil, s.mapError(err, "failed to finalize composition")
	}
	s.metrics.RecordFinalization()
	s.invalidate(ctx, composition.ClassID)
	s.logger.Info("composition finalized", zap.String("composition_id", id), zap.String("class_id", composition.ClassID))
	s.notifyFinalized(ctx, finalized)
	return finalized, nil
}

func (s *CompositionService) notifyFinalized(ctx context.Context, composition *models.Composition) {
	if s.notifier == nil {
		return
	}
	students, err := s.students.ListByClass(ctx, composition.ClassID)
	if err != nil {
		s.logger.Warn("finalize notification skipped", zap.String("composition_id", composition.ID), zap.Error(err))
		return
	}
	var recipients []string
	for _, st := range students {
		if st.UserID != nil {
			recipients = append(recipients, *st.UserID)
		}
	}
	s.notifier.NotifyMany(ctx, recipients, models.NotificationPayload{
		Title:       "Grade composition finalized",
		Description: fmt.Sprintf("Grades for %s are now available", composition.Name),
		Type:        models.NotificationCompositionFinalized,
		Data:        map[string]interface{}{"class_id": composition.ClassID, "composition_id": composition.ID},
	})
}

// UploadGrades applies a grade CSV (student_id, grade). Every row is
// validated before a single transaction writes them all.
func (s *CompositionService) UploadGrades(ctx context.Context, actor models.Actor, id string, r io.Reader) (int, error) {
	composition, err := s.authorize(ctx, actor, id, models.RequireRole(models.ClassRoleTeacher))
	if err != nil {
		return 0, err
	}
	if err := ensureEditable(composition); err != nil {
		return 0, err
	}
	rows, err := csvimport.ReadGrades(r)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid csv file: "+err.Error())
	}
	values := make([]repository.GradeValue, 0, len(rows))
	lines := make(map[string]int, len(rows))
	for _, row := range rows {
		value := row.Value
		values = append(values, repository.GradeValue{StudentID: row.StudentID, Value: &value})
		lines[row.StudentID] = row.Line
	}
	start := time.Now()
	err = s.grades.UpdateValues(ctx, id, values, ensureEditable)
	s.metrics.ObserveDBQuery("grade_upload", time.Since(start))
	if err != nil {
		var missing *repository.MissingGradeError
		if errors.As(err, &missing) {
			return 0, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid csv file: line %d: student %s has no grade in this class", lines[missing.StudentID], missing.StudentID))
		}
		return 0, s.mapError(err, "failed to upload grades")
	}
	s.invalidate(ctx, composition.ClassID)
	return len(values), nil
}

// UpdateStudentGrade sets or clears one student's grade.
func (s *CompositionService) UpdateStudentGrade(ctx context.Context, actor models.Actor, id, studentID string, req models.UpdateGradeRequest) (*models.Grade, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "grade must be between 0 and 100")
	}
	composition, err := s.authorize(ctx, actor, id, models.RequireRole(models.ClassRoleTeacher))
	if err != nil {
		return nil, err
	}
	grade, err := s.grades.UpdateValue(ctx, id, studentID, req.Value, ensureEditable)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "grade not found")
		}
		return nil, s.mapError(err, "failed to update grade")
	}
	s.invalidate(ctx, composition.ClassID)
	return grade, nil
}

func (s *CompositionService) authorize(ctx context.Context, actor models.Actor, id string, opts models.PermissionOptions) (*models.Composition, error) {
	composition, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "composition not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load composition")
	}
	if _, err := s.classes.ValidatePermission(ctx, actor, composition.ClassID, opts); err != nil {
		return nil, err
	}
	return composition, nil
}

// mapError passes typed errors through and maps missing rows to not found.
func (s *CompositionService) mapError(err error, message string) error {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, "composition not found")
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}

func (s *CompositionService) invalidate(ctx context.Context, classID string) {
	if s.cache != nil {
		s.cache.InvalidateGradeBoard(ctx, classID)
	}
}
