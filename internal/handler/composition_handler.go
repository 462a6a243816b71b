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

type compositionService interface {
	List(ctx context.Context, actor models.Actor, classID string) ([]models.Composition, error)
	Get(ctx context.Context, actor models.Actor, id string) (*models.Composition, error)
	Create(ctx context.Context, actor models.Actor, req models.CreateCompositionRequest) (*models.Composition, error)
	Update(ctx context.Context, actor models.Actor, id string, req models.UpdateCompositionRequest) (*models.Composition, error)
	UpdateOrder(ctx context.Context, actor models.Actor, id string, req models.UpdateOrderRequest) ([]models.Composition, error)
	Delete(ctx context.Context, actor models.Actor, id string) error
	Finalize(ctx context.Context, actor models.Actor, id string) (*models.Composition, error)
	UploadGrades(ctx context.Context, actor models.Actor, id string, r io.Reader) (int, error)
	UpdateStudentGrade(ctx context.Context, actor models.Actor, id, studentID string, req models.UpdateGradeRequest) (*models.Grade, error)
}

var _ compositionService = (*service.CompositionService)(nil)

// CompositionHandler exposes grade composition endpoints.
type CompositionHandler struct {
	compositions compositionService
}

// NewCompositionHandler constructs CompositionHandler.
func NewCompositionHandler(compositions compositionService) *CompositionHandler {
	return &CompositionHandler{compositions: compositions}
}

// List godoc
// @Summary List compositions of a class in order
// @Tags Compositions
// @Produce json
// @Param id path string true "Class ID"
// @Success 200 {object} response.Envelope
// @Router /classes/{id}/compositions [get]
func (h *CompositionHandler) List(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	items, err := h.compositions.List(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// Create godoc
// @Summary Append a composition
// @Tags Compositions
// @Accept json
// @Produce json
// @Param id path string true "Class ID"
// @Param payload body models.CreateCompositionRequest true "Composition"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /classes/{id}/compositions [post]
func (h *CompositionHandler) Create(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req models.CreateCompositionRequest
	if !bindJSON(c, &req, "invalid composition payload") {
		return
	}
	req.ClassID = c.Param("id")
	composition, err := h.compositions.Create(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, composition)
}

// Get godoc
// @Summary Get composition
// @Tags Compositions
// @Produce json
// @Param id path string true "Composition ID"
// @Success 200 {object} response.Envelope
// @Router /compositions/{id} [get]
func (h *CompositionHandler) Get(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	composition, err := h.compositions.Get(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, composition, nil)
}

// Update godoc
// @Summary Update composition name or percentage
// @Tags Compositions
// @Accept json
// @Produce json
// @Param id path string true "Composition ID"
// @Param payload body models.UpdateCompositionRequest true "Composition"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /compositions/{id} [patch]
func (h *CompositionHandler) Update(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req models.UpdateCompositionRequest
	if !bindJSON(c, &req, "invalid composition payload") {
		return
	}
	composition, err := h.compositions.Update(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, composition, nil)
}

// Delete godoc
// @Summary Delete composition
// @Tags Compositions
// @Param id path string true "Composition ID"
// @Success 204 {string} string ""
// @Router /compositions/{id} [delete]
func (h *CompositionHandler) Delete(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	if err := h.compositions.Delete(c.Request.Context(), actor, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// UpdateOrder godoc
// @Summary Move composition to a new position
// @Tags Compositions
// @Accept json
// @Produce json
// @Param id path string true "Composition ID"
// @Param payload body models.UpdateOrderRequest true "Target position"
// @Success 200 {object} response.Envelope
// @Router /compositions/{id}/order [patch]
func (h *CompositionHandler) UpdateOrder(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req models.UpdateOrderRequest
	if !bindJSON(c, &req, "invalid order payload") {
		return
	}
	items, err := h.compositions.UpdateOrder(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// Finalize godoc
// @Summary Finalize composition grades
// @Tags Compositions
// @Produce json
// @Param id path string true "Composition ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /compositions/{id}/finalize [patch]
func (h *CompositionHandler) Finalize(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	composition, err := h.compositions.Finalize(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, composition, nil)
}

// UploadGrades godoc
// @Summary Bulk set grades from CSV
// @Tags Compositions
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Composition ID"
// @Param file formData file true "CSV with StudentId,Grade columns"
// @Success 200 {object} response.Envelope
// @Router /compositions/{id}/grades/upload [patch]
func (h *CompositionHandler) UploadGrades(c *gin.Context) {
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

	updated, err := h.compositions.UploadGrades(c.Request.Context(), actor, c.Param("id"), src)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"updated": updated}, nil)
}

// UpdateStudentGrade godoc
// @Summary Set one student's grade
// @Tags Compositions
// @Accept json
// @Produce json
// @Param id path string true "Composition ID"
// @Param studentId path string true "Student ID"
// @Param payload body models.UpdateGradeRequest true "Grade"
// @Success 200 {object} response.Envelope
// @Router /compositions/{id}/students/{studentId}/grade [patch]
func (h *CompositionHandler) UpdateStudentGrade(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req models.UpdateGradeRequest
	if !bindJSON(c, &req, "invalid grade payload") {
		return
	}
	grade, err := h.compositions.UpdateStudentGrade(c.Request.Context(), actor, c.Param("id"), c.Param("studentId"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, grade, nil)
}
