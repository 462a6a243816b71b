package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gradebook-api/internal/models"
	"github.com/noah-isme/gradebook-api/internal/service"
	appErrors "github.com/noah-isme/gradebook-api/pkg/errors"
)

type gradeServiceMock struct {
	format string
}

func (m *gradeServiceMock) StudentGrades(ctx context.Context, actor models.Actor, classID, studentID string) (*models.StudentGrades, error) {
	return nil, appErrors.Clone(appErrors.ErrForbidden, "you cannot view other student grades")
}

func (m *gradeServiceMock) GradeBoard(ctx context.Context, actor models.Actor, classID string) (*models.GradeBoard, error) {
	return &models.GradeBoard{}, nil
}

func (m *gradeServiceMock) ExportGradeBoard(ctx context.Context, actor models.Actor, classID, format string) (*service.ExportFile, error) {
	m.format = format
	return &service.ExportFile{Filename: "grade-board.csv", ContentType: "text/csv", Data: []byte("StudentId,FullName\n")}, nil
}

func (m *gradeServiceMock) ExportCompositions(ctx context.Context, actor models.Actor, classID string) (*service.ExportFile, error) {
	return &service.ExportFile{Filename: "compositions.csv", ContentType: "text/csv", Data: []byte("Name,Percentage\n")}, nil
}

func TestGradeHandlerExportBoardDefaultsToCSV(t *testing.T) {
	mockSvc := &gradeServiceMock{}
	h := NewGradeHandler(mockSvc)

	c, w := newTestContext(http.MethodGet, "/classes/class-1/grade-board/export", nil, "")
	c.Params = gin.Params{{Key: "id", Value: "class-1"}}
	authenticate(c, "teacher-1", models.RoleUser)

	h.ExportBoard(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "csv", mockSvc.format)
	assert.Equal(t, `attachment; filename=grade-board.csv`, w.Header().Get("Content-Disposition"))
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Equal(t, "StudentId,FullName\n", w.Body.String())
}

func TestGradeHandlerExportFormatLowercased(t *testing.T) {
	mockSvc := &gradeServiceMock{}
	h := NewGradeHandler(mockSvc)

	c, _ := newTestContext(http.MethodGet, "/classes/class-1/grade-board/export?format=PDF", nil, "")
	c.Params = gin.Params{{Key: "id", Value: "class-1"}}
	authenticate(c, "teacher-1", models.RoleUser)

	h.ExportBoard(c)
	assert.Equal(t, "pdf", mockSvc.format)
}

func TestGradeHandlerStudentGradesForbidden(t *testing.T) {
	h := NewGradeHandler(&gradeServiceMock{})

	c, w := newTestContext(http.MethodGet, "/classes/class-1/students/S2/grades", nil, "")
	c.Params = gin.Params{{Key: "id", Value: "class-1"}, {Key: "studentId", Value: "S2"}}
	authenticate(c, "user-s", models.RoleUser)

	h.StudentGrades(c)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestMetricsHandlerReady(t *testing.T) {
	h := NewMetricsHandler(nil, map[string]ReadinessCheck{
		"postgres": func(ctx context.Context) error { return nil },
		"redis":    func(ctx context.Context) error { return errors.New("connection refused") },
	})

	c, w := newTestContext(http.MethodGet, "/ready", nil, "")
	h.Ready(c)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"postgres":"ok"`)
	assert.Contains(t, w.Body.String(), "connection refused")

	h = NewMetricsHandler(nil, map[string]ReadinessCheck{
		"postgres": func(ctx context.Context) error { return nil },
	})
	c, w = newTestContext(http.MethodGet, "/ready", nil, "")
	h.Ready(c)
	assert.Equal(t, http.StatusOK, w.Code)
}
