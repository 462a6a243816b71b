package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/gradebook-api/internal/models"
	appErrors "github.com/noah-isme/gradebook-api/pkg/errors"
	"github.com/noah-isme/gradebook-api/pkg/export"
)

type gradeReader interface {
	FindDetail(ctx context.Context, id string) (*models.GradeDetail, error)
	ListByClass(ctx context.Context, classID string) ([]models.GradeDetail, error)
	ListByStudent(ctx context.Context, classID, studentID string) ([]models.GradeDetail, error)
}

type compositionLister interface {
	ListByClass(ctx context.Context, classID string) ([]models.Composition, error)
}

type rosterReader interface {
	ListByClass(ctx context.Context, classID string) ([]models.Student, error)
	FindByID(ctx context.Context, classID, studentID string) (*models.Student, error)
	FindByUser(ctx context.Context, classID, userID string) (*models.Student, error)
}

type boardCacheStore interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// ExportFile is a rendered download.
type ExportFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

// GradeService serves the read side of grades: per-student views, the class
// grade board and its exports. Class STUDENT readers never see values of
// compositions that are not finalized.
type GradeService struct {
	grades       gradeReader
	compositions compositionLister
	students     rosterReader
	classes      classAuthorizer
	cache        boardCacheStore
	cacheTTL     time.Duration
	logger       *zap.Logger
}

// NewGradeService constructs a GradeService. cache may be nil.
func NewGradeService(grades gradeReader, compositions compositionLister, students rosterReader, classes classAuthorizer, cache boardCacheStore, cacheTTL time.Duration, logger *zap.Logger) *GradeService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GradeService{grades: grades, compositions: compositions, students: students, classes: classes, cache: cache, cacheTTL: cacheTTL, logger: logger}
}

// MaskGrades nulls the value of every grade whose composition is not finalized.
func MaskGrades(grades []models.GradeDetail) []models.GradeDetail {
	out := make([]models.GradeDetail, len(grades))
	for i, g := range grades {
		out[i] = g
		if !g.Finalized {
			out[i].Value = nil
		}
	}
	return out
}

// WeightedTotal is the sum of value*percentage/100 over graded entries.
func WeightedTotal(grades []models.GradeDetail) float64 {
	sum := 0
	for _, g := range grades {
		if g.Value != nil {
			sum += *g.Value * g.Percentage
		}
	}
	return float64(sum) / 100
}

// StudentGrades returns one student's grades ordered by composition. Class
// students may only read their own mapped record.
func (s *GradeService) StudentGrades(ctx context.Context, actor models.Actor, classID, studentID string) (*models.StudentGrades, error) {
	access, err := s.classes.ValidatePermission(ctx, actor, classID, models.DefaultPermissionOptions())
	if err != nil {
		return nil, err
	}
	student, err := s.students.FindByID(ctx, classID, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	masked := access.IsStudent() && !actor.IsAdmin()
	if masked && (student.UserID == nil || *student.UserID != actor.UserID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "you cannot view other student grades")
	}
	grades, err := s.grades.ListByStudent(ctx, classID, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list grades")
	}
	if masked {
		grades = MaskGrades(grades)
	}
	return &models.StudentGrades{Student: *student, Grades: grades, Total: WeightedTotal(grades)}, nil
}

// GradeBoard returns the class grade matrix. Teachers and admins get the
// stored values (served from cache when possible); a STUDENT gets only their
// own row, masked.
func (s *GradeService) GradeBoard(ctx context.Context, actor models.Actor, classID string) (*models.GradeBoard, error) {
	access, err := s.classes.ValidatePermission(ctx, actor, classID, models.DefaultPermissionOptions())
	if err != nil {
		return nil, err
	}
	board, err := s.fullBoard(ctx, classID)
	if err != nil {
		return nil, err
	}
	if !access.IsStudent() || actor.IsAdmin() {
		return board, nil
	}

	mapped, err := s.students.FindByUser(ctx, classID, actor.UserID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load mapping")
	}
	view := &models.GradeBoard{ClassID: board.ClassID, Header: board.Header, Rows: []models.GradeBoardRow{}}
	if mapped == nil {
		return view, nil
	}
	for _, row := range board.Rows {
		if row.StudentID == mapped.ID {
			view.Rows = append(view.Rows, maskRow(board.Header, row))
		}
	}
	return view, nil
}

// ExportGradeBoard renders the unmasked board as csv or pdf. Teachers only.
func (s *GradeService) ExportGradeBoard(ctx context.Context, actor models.Actor, classID, format string) (*ExportFile, error) {
	access, err := s.classes.ValidatePermission(ctx, actor, classID, models.RequireRole(models.ClassRoleTeacher))
	if err != nil {
		return nil, err
	}
	exporter, err := export.ForFormat(format)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	board, err := s.fullBoard(ctx, classID)
	if err != nil {
		return nil, err
	}

	headers := []string{"Student ID", "Name"}
	for _, col := range board.Header {
		headers = append(headers, fmt.Sprintf("%s (%d%%)", col.Name, col.Percentage))
	}
	headers = append(headers, "Total")
	dataset := export.Dataset{Title: access.Class.Name + " grade board", Headers: headers}
	for _, row := range board.Rows {
		record := make([]string, 0, len(headers))
		record = append(record, row.StudentID, row.Name)
		for _, value := range row.Grades {
			if value != nil {
				record = append(record, strconv.Itoa(*value))
			} else {
				record = append(record, "")
			}
		}
		dataset.Rows = append(dataset.Rows, append(record, formatTotal(row.Total)))
	}
	return render(exporter, dataset, "grade-board-"+access.Class.Code)
}

// ExportCompositions renders the composition structure of a class as CSV.
func (s *GradeService) ExportCompositions(ctx context.Context, actor models.Actor, classID string) (*ExportFile, error) {
	access, err := s.classes.ValidatePermission(ctx, actor, classID, models.RequireRole(models.ClassRoleTeacher))
	if err != nil {
		return nil, err
	}
	compositions, err := s.compositions.ListByClass(ctx, classID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list compositions")
	}
	dataset := export.Dataset{Headers: []string{"Order", "Name", "Percentage", "Finalized"}}
	for _, c := range compositions {
		dataset.Rows = append(dataset.Rows, []string{
			strconv.Itoa(c.Order),
			c.Name,
			strconv.Itoa(c.Percentage),
			strconv.FormatBool(c.Finalized),
		})
	}
	return render(export.NewCSVExporter(), dataset, "compositions-"+access.Class.Code)
}

func (s *GradeService) fullBoard(ctx context.Context, classID string) (*models.GradeBoard, error) {
	key := GradeBoardKey(classID)
	if s.cache != nil {
		var cached models.GradeBoard
		if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
			return &cached, nil
		}
	}
	board, err := s.buildBoard(ctx, classID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, board, s.cacheTTL); err != nil {
			s.logger.Debug("grade board not cached", zap.String("class_id", classID), zap.Error(err))
		}
	}
	return board, nil
}

func (s *GradeService) buildBoard(ctx context.Context, classID string) (*models.GradeBoard, error) {
	compositions, err := s.compositions.ListByClass(ctx, classID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list compositions")
	}
	students, err := s.students.ListByClass(ctx, classID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}
	grades, err := s.grades.ListByClass(ctx, classID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list grades")
	}
	return assembleBoard(classID, compositions, students, grades), nil
}

// assembleBoard aligns every student's grades with the ordered composition header.
func assembleBoard(classID string, compositions []models.Composition, students []models.Student, grades []models.GradeDetail) *models.GradeBoard {
	board := &models.GradeBoard{ClassID: classID, Header: make([]models.GradeBoardColumn, len(compositions)), Rows: make([]models.GradeBoardRow, 0, len(students))}
	column := make(map[string]int, len(compositions))
	for i, c := range compositions {
		board.Header[i] = models.GradeBoardColumn{ID: c.ID, Name: c.Name, Percentage: c.Percentage, Order: c.Order, Finalized: c.Finalized}
		column[c.ID] = i
	}
	values := make(map[string][]*int, len(students))
	for _, g := range grades {
		i, ok := column[g.CompositionID]
		if !ok {
			continue
		}
		row, ok := values[g.StudentID]
		if !ok {
			row = make([]*int, len(compositions))
			values[g.StudentID] = row
		}
		row[i] = g.Value
	}
	for _, st := range students {
		row := values[st.ID]
		if row == nil {
			row = make([]*int, len(compositions))
		}
		board.Rows = append(board.Rows, models.GradeBoardRow{StudentID: st.ID, Name: st.Name, Grades: row, Total: rowTotal(board.Header, row)})
	}
	return board
}

func maskRow(header []models.GradeBoardColumn, row models.GradeBoardRow) models.GradeBoardRow {
	masked := make([]*int, len(row.Grades))
	for i, v := range row.Grades {
		if header[i].Finalized {
			masked[i] = v
		}
	}
	row.Grades = masked
	row.Total = rowTotal(header, masked)
	return row
}

func rowTotal(header []models.GradeBoardColumn, values []*int) float64 {
	sum := 0
	for i, v := range values {
		if v != nil {
			sum += *v * header[i].Percentage
		}
	}
	return float64(sum) / 100
}

func formatTotal(total float64) string {
	return strconv.FormatFloat(total, 'f', 2, 64)
}

func render(exporter export.Exporter, dataset export.Dataset, basename string) (*ExportFile, error) {
	data, err := exporter.Render(dataset)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}
	return &ExportFile{Filename: basename + exporter.Extension(), ContentType: exporter.ContentType(), Data: data}, nil
}
