package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/gradebook-api/internal/models"
	"github.com/noah-isme/gradebook-api/internal/service"
	appErrors "github.com/noah-isme/gradebook-api/pkg/errors"
	"github.com/noah-isme/gradebook-api/pkg/response"
)

type studentService interface {
	List(ctx context.Context, actor models.Actor, classID string) ([]models.Student, error)
	Upload(ctx context.Context, actor models.Actor, classID string, r io.Reader) ([]models.Student, error)
	Add(ctx context.Context, actor models.Actor, classID string, req models.AddStudentRequest) (*models.Student, error)
	Update(ctx context.Context, actor models.Actor, classID, studentID string, req models.UpdateStudentRequest) (*models.Student, error)
	Delete(ctx context.Context, actor models.Actor, classID, studentID string) error
	Clear(ctx context.Context, actor models.Actor, classID string) (int64, error)
	Mapped(ctx context.Context, actor models.Actor, classID string) (*models.MappedStudent, error)
	Map(ctx context.Context, actor models.Actor, classID string, req models.MapStudentRequest) (*models.Student, error)
	Unmap(ctx context.Context, actor models.Actor, classID string, req models.UnmapStudentRequest) error
}

var _ studentService = (*service.StudentService)(nil)

// StudentHandler exposes the class roster and account mapping endpoints.
type StudentHandler struct {
	students studentService
}

// NewStudentHandler constructs StudentHandler.
func NewStudentHandler(students studentService) *StudentHandler {
	return &StudentHandler{students: students}
}

// List godoc
// @Summary List class roster
// @Tags Students
// @Produce json
// @Param id path string true "Class ID"
// @Success 200 {object} response.Envelope
// @Router /classes/{id}/students [get]
func (h *StudentHandler) List(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	students, err := h.students.List(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, students, nil)
}

// Add godoc
// @Summary Add a student to the roster
// @Tags Students
// @Accept json
// @Produce json
// @Param id path string true "Class ID"
// @Param payload body models.AddStudentRequest true "Student"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /classes/{id}/students [post]
func (h *StudentHandler) Add(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req models.AddStudentRequest
	if !bindJSON(c, &req, "invalid student payload") {
		return
	}
	student, err := h.students.Add(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, student)
}

// Clear godoc
// @Summary Remove every student of the roster
// @Tags Students
// @Produce json
// @Param id path string true "Class ID"
// @Success 200 {object} response.Envelope
// @Router /classes/{id}/students [delete]
func (h *StudentHandler) Clear(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	removed, err := h.students.Clear(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"removed": removed}, nil)
}

// Upload godoc
// @Summary Replace the roster from a CSV file
// @Tags Students
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Class ID"
// @Param file formData file true "CSV with StudentId,FullName columns"
// @Success 200 {object} response.Envelope
// @Router /classes/{id}/students/upload [post]
func (h *StudentHandler) Upload(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	file, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "file is required"))
		return
	}
	src, err := file.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read upload"))
		return
	}
	defer src.Close()

	students, err := h.students.Upload(c.Request.Context(), actor, c.Param("id"), src)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, students, nil)
}

// Update godoc
// @Summary Update a roster entry
// @Tags Students
// @Accept json
// @Produce json
// @Param id path string true "Class ID"
// @Param studentId path string true "Student ID"
// @Param payload body models.UpdateStudentRequest true "Student"
// @Success 200 {object} response.Envelope
// @Router /classes/{id}/students/{studentId} [patch]
func (h *StudentHandler) Update(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req models.UpdateStudentRequest
	if !bindJSON(c, &req, "invalid student payload") {
		return
	}
	student, err := h.students.Update(c.Request.Context(), actor, c.Param("id"), c.Param("studentId"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// Delete godoc
// @Summary Remove a roster entry
// @Tags Students
// @Param id path string true "Class ID"
// @Param studentId path string true "Student ID"
// @Success 204 {string} string ""
// @Router /classes/{id}/students/{studentId} [delete]
func (h *StudentHandler) Delete(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	if err := h.students.Delete(c.Request.Context(), actor, c.Param("id"), c.Param("studentId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Mapped godoc
// @Summary Roster entry mapped to the caller
// @Tags Students
// @Produce json
// @Param id path string true "Class ID"
// @Success 200 {object} response.Envelope
// @Router /classes/{id}/map-student-id [get]
func (h *StudentHandler) Mapped(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	mapped, err := h.students.Mapped(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, mapped, nil)
}

// Map godoc
// @Summary Map an account to a roster entry
// @Tags Students
// @Accept json
// @Produce json
// @Param id path string true "Class ID"
// @Param payload body models.MapStudentRequest true "Mapping"
// @Success 200 {object} response.Envelope
// @Router /classes/{id}/map-student-id [patch]
func (h *StudentHandler) Map(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req models.MapStudentRequest
	if !bindJSON(c, &req, "invalid mapping payload") {
		return
	}
	student, err := h.students.Map(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// Unmap godoc
// @Summary Clear an account mapping
// @Tags Students
// @Accept json
// @Param id path string true "Class ID"
// @Param payload body models.UnmapStudentRequest false "Mapping"
// @Success 204 {string} string ""
// @Router /classes/{id}/unmap-student-id [patch]
func (h *StudentHandler) Unmap(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req models.UnmapStudentRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req, "invalid mapping payload") {
		return
	}
	if err := h.students.Unmap(c.Request.Context(), actor, c.Param("id"), req); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
