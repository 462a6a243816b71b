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

type classService interface {
	Create(ctx context.Context, actor models.Actor, req models.CreateClassRequest) (*models.Class, error)
	CreateAsAdmin(ctx context.Context, req models.CreateClassAsAdminRequest) (*models.Class, error)
	Get(ctx context.Context, actor models.Actor, classID string) (*models.Class, error)
	ListOwned(ctx context.Context, actor models.Actor) ([]models.Class, error)
	ListJoined(ctx context.Context, actor models.Actor, role *models.ClassRole) ([]models.JoinedClass, error)
	ListAll(ctx context.Context, filter models.ClassFilter) ([]models.Class, *models.Pagination, error)
	Update(ctx context.Context, actor models.Actor, classID string, req models.UpdateClassRequest) (*models.Class, error)
	SoftDelete(ctx context.Context, actor models.Actor, classID string) error
	Restore(ctx context.Context, actor models.Actor, classID string) error
	CreateInviteToken(ctx context.Context, actor models.Actor, classID string, req models.InviteTokenRequest) (*models.Invitation, error)
	InviteByEmail(ctx context.Context, actor models.Actor, classID string, req models.InviteEmailRequest) error
	JoinWithToken(ctx context.Context, actor models.Actor, req models.JoinWithTokenRequest) (*models.Class, error)
	JoinWithCode(ctx context.Context, actor models.Actor, req models.JoinWithCodeRequest) (*models.Class, error)
	Leave(ctx context.Context, actor models.Actor, classID string) error
	Kick(ctx context.Context, actor models.Actor, classID string, req models.KickRequest) error
	ListMembers(ctx context.Context, actor models.Actor, classID string, role *models.ClassRole) ([]models.ClassMemberDetail, error)
}

var _ classService = (*service.ClassService)(nil)

// ClassHandler exposes class and membership endpoints.
type ClassHandler struct {
	service classService
}

// NewClassHandler constructs a class handler.
func NewClassHandler(svc classService) *ClassHandler {
	return &ClassHandler{service: svc}
}

func roleFromQuery(c *gin.Context) *models.ClassRole {
	raw := strings.ToUpper(strings.TrimSpace(c.Query("role")))
	if raw == "" {
		return nil
	}
	role := models.ClassRole(raw)
	return &role
}

// Create godoc
// @Summary Create class
// @Tags Classes
// @Accept json
// @Produce json
// @Param payload body models.CreateClassRequest true "Class"
// @Success 201 {object} response.Envelope
// @Router /classes [post]
func (h *ClassHandler) Create(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req models.CreateClassRequest
	if !bindJSON(c, &req, "invalid class payload") {
		return
	}
	class, err := h.service.Create(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, class)
}

// CreateAsAdmin godoc
// @Summary Create class for a teacher
// @Tags Classes
// @Accept json
// @Produce json
// @Param payload body models.CreateClassAsAdminRequest true "Class"
// @Success 201 {object} response.Envelope
// @Router /classes/admin [post]
func (h *ClassHandler) CreateAsAdmin(c *gin.Context) {
	var req models.CreateClassAsAdminRequest
	if !bindJSON(c, &req, "invalid class payload") {
		return
	}
	class, err := h.service.CreateAsAdmin(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, class)
}

// List godoc
// @Summary List all classes
// @Tags Classes
// @Produce json
// @Param search query string false "Search keyword"
// @Param includeDeleted query bool false "Include soft-deleted classes"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /classes [get]
func (h *ClassHandler) List(c *gin.Context) {
	page := pageFromQuery(c)
	filter := models.ClassFilter{
		Search:         strings.TrimSpace(c.Query("search")),
		IncludeDeleted: c.Query("includeDeleted") == "true",
		Page:           page.Page,
		PageSize:       page.PageSize,
	}
	classes, pagination, err := h.service.ListAll(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, classes, pagination)
}

// ListOwned godoc
// @Summary Classes owned by the caller
// @Tags Classes
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /classes/owned [get]
func (h *ClassHandler) ListOwned(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	classes, err := h.service.ListOwned(c.Request.Context(), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, classes, nil)
}

// ListJoined godoc
// @Summary Classes the caller belongs to
// @Tags Classes
// @Produce json
// @Param role query string false "TEACHER or STUDENT"
// @Success 200 {object} response.Envelope
// @Router /classes/joined [get]
func (h *ClassHandler) ListJoined(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	classes, err := h.service.ListJoined(c.Request.Context(), actor, roleFromQuery(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, classes, nil)
}

// Get godoc
// @Summary Get class detail
// @Tags Classes
// @Produce json
// @Param id path string true "Class ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /classes/{id} [get]
func (h *ClassHandler) Get(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	class, err := h.service.Get(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, class, nil)
}

// Update godoc
// @Summary Update class
// @Tags Classes
// @Accept json
// @Produce json
// @Param id path string true "Class ID"
// @Param payload body models.UpdateClassRequest true "Class"
// @Success 200 {object} response.Envelope
// @Router /classes/{id} [patch]
func (h *ClassHandler) Update(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req models.UpdateClassRequest
	if !bindJSON(c, &req, "invalid class payload") {
		return
	}
	class, err := h.service.Update(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, class, nil)
}

// Delete godoc
// @Summary Soft delete class
// @Tags Classes
// @Param id path string true "Class ID"
// @Success 204 {string} string ""
// @Router /classes/{id} [delete]
func (h *ClassHandler) Delete(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	if err := h.service.SoftDelete(c.Request.Context(), actor, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Restore godoc
// @Summary Restore soft-deleted class
// @Tags Classes
// @Param id path string true "Class ID"
// @Success 204 {string} string ""
// @Router /classes/{id}/restore [patch]
func (h *ClassHandler) Restore(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	if err := h.service.Restore(c.Request.Context(), actor, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Leave godoc
// @Summary Leave class
// @Tags Classes
// @Param id path string true "Class ID"
// @Success 204 {string} string ""
// @Router /classes/{id}/leave [patch]
func (h *ClassHandler) Leave(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	if err := h.service.Leave(c.Request.Context(), actor, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Kick godoc
// @Summary Remove a member
// @Tags Classes
// @Accept json
// @Param id path string true "Class ID"
// @Param payload body models.KickRequest true "Member"
// @Success 204 {string} string ""
// @Router /classes/{id}/kick [post]
func (h *ClassHandler) Kick(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req models.KickRequest
	if !bindJSON(c, &req, "invalid kick payload") {
		return
	}
	if err := h.service.Kick(c.Request.Context(), actor, c.Param("id"), req); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// InviteToken godoc
// @Summary Create invitation token
// @Tags Classes
// @Accept json
// @Produce json
// @Param id path string true "Class ID"
// @Param payload body models.InviteTokenRequest true "Invitation"
// @Success 201 {object} response.Envelope
// @Router /classes/{id}/invite-token [post]
func (h *ClassHandler) InviteToken(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req models.InviteTokenRequest
	if !bindJSON(c, &req, "invalid invitation payload") {
		return
	}
	inv, err := h.service.CreateInviteToken(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, inv)
}

// Invite godoc
// @Summary Invite by e-mail
// @Tags Classes
// @Accept json
// @Param id path string true "Class ID"
// @Param payload body models.InviteEmailRequest true "Invitation"
// @Success 202 {object} response.Envelope
// @Router /classes/{id}/invite [post]
func (h *ClassHandler) Invite(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req models.InviteEmailRequest
	if !bindJSON(c, &req, "invalid invitation payload") {
		return
	}
	if err := h.service.InviteByEmail(c.Request.Context(), actor, c.Param("id"), req); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusAccepted, gin.H{"message": "invitation sent"}, nil)
}

// JoinWithToken godoc
// @Summary Join by invitation token
// @Tags Classes
// @Accept json
// @Produce json
// @Param payload body models.JoinWithTokenRequest true "Token"
// @Success 200 {object} response.Envelope
// @Router /classes/join-with-token [post]
func (h *ClassHandler) JoinWithToken(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req models.JoinWithTokenRequest
	if !bindJSON(c, &req, "invalid join payload") {
		return
	}
	class, err := h.service.JoinWithToken(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, class, nil)
}

// JoinWithCode godoc
// @Summary Join by class code
// @Tags Classes
// @Accept json
// @Produce json
// @Param payload body models.JoinWithCodeRequest true "Code"
// @Success 200 {object} response.Envelope
// @Router /classes/join-with-code [post]
func (h *ClassHandler) JoinWithCode(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req models.JoinWithCodeRequest
	if !bindJSON(c, &req, "invalid join payload") {
		return
	}
	class, err := h.service.JoinWithCode(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, class, nil)
}

// Members godoc
// @Summary List class members
// @Tags Classes
// @Produce json
// @Param id path string true "Class ID"
// @Param role query string false "TEACHER or STUDENT"
// @Success 200 {object} response.Envelope
// @Router /classes/{id}/members [get]
func (h *ClassHandler) Members(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	members, err := h.service.ListMembers(c.Request.Context(), actor, c.Param("id"), roleFromQuery(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, members, nil)
}
