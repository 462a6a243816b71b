package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/gradebook-api/internal/models"
	"github.com/noah-isme/gradebook-api/internal/service"
	"github.com/noah-isme/gradebook-api/pkg/response"
)

type gradeService interface {
	StudentGrades(ctx context.Context, actor models.Actor, classID, studentID string) (*models.StudentGrades, error)
	GradeBoard(ctx context.Context, actor models.Actor, classID string) (*models.GradeBoard, error)
	ExportGradeBoard(ctx context.Context, actor models.Actor, classID, format string) (*service.ExportFile, error)
	ExportCompositions(ctx context.Context, actor models.Actor, classID string) (*service.ExportFile, error)
}

var _ gradeService = (*service.GradeService)(nil)

// GradeHandler serves grade views and exports.
type GradeHandler struct {
	grades gradeService
}

// NewGradeHandler constructs GradeHandler.
func NewGradeHandler(grades gradeService) *GradeHandler {
	return &GradeHandler{grades: grades}
}

// StudentGrades godoc
// @Summary Grades of one student
// @Tags Grades
// @Produce json
// @Param id path string true "Class ID"
// @Param studentId path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /classes/{id}/students/{studentId}/grades [get]
func (h *GradeHandler) StudentGrades(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	grades, err := h.grades.StudentGrades(c.Request.Context(), actor, c.Param("id"), c.Param("studentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, grades, nil)
}

// Board godoc
// @Summary Class grade board
// @Tags Grades
// @Produce json
// @Param id path string true "Class ID"
// @Success 200 {object} response.Envelope
// @Router /classes/{id}/grade-board [get]
func (h *GradeHandler) Board(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	board, err := h.grades.GradeBoard(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, board, nil)
}

// ExportBoard godoc
// @Summary Export the grade board
// @Tags Grades
// @Produce text/csv
// @Produce application/pdf
// @Param id path string true "Class ID"
// @Param format query string false "csv or pdf"
// @Success 200 {file} file
// @Router /classes/{id}/grade-board/export [get]
func (h *GradeHandler) ExportBoard(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	format := strings.ToLower(c.DefaultQuery("format", "csv"))
	file, err := h.grades.ExportGradeBoard(c.Request.Context(), actor, c.Param("id"), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Data)
}

// ExportCompositions godoc
// @Summary Export compositions as CSV
// @Tags Grades
// @Produce text/csv
// @Param id path string true "Class ID"
// @Success 200 {file} file
// @Router /classes/{id}/compositions/csv [get]
func (h *GradeHandler) ExportCompositions(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	file, err := h.grades.ExportCompositions(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Data)
}
