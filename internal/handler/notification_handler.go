package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/gradebook-api/internal/models"
	"github.com/noah-isme/gradebook-api/internal/service"
	"github.com/noah-isme/gradebook-api/pkg/response"
)

type notificationService interface {
	List(ctx context.Context, userID string, page models.PageRequest) ([]models.Notification, *models.Pagination, error)
	CountUnseen(ctx context.Context, userID string) (int, error)
	MarkSeen(ctx context.Context, userID, id string) error
}

var _ notificationService = (*service.NotificationService)(nil)

// NotificationHandler exposes the caller's notification inbox.
type NotificationHandler struct {
	notifications notificationService
}

// NewNotificationHandler constructs NotificationHandler.
func NewNotificationHandler(notifications notificationService) *NotificationHandler {
	return &NotificationHandler{notifications: notifications}
}

// List godoc
// @Summary List notifications, newest first
// @Tags Notifications
// @Produce json
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /notifications [get]
func (h *NotificationHandler) List(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	items, pagination, err := h.notifications.List(c.Request.Context(), actor.UserID, pageFromQuery(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// UnseenCount godoc
// @Summary Number of unseen notifications
// @Tags Notifications
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /notifications/unseen-count [get]
func (h *NotificationHandler) UnseenCount(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	count, err := h.notifications.CountUnseen(c.Request.Context(), actor.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"count": count}, nil)
}

// MarkSeen godoc
// @Summary Mark a notification as seen
// @Tags Notifications
// @Param id path string true "Notification ID"
// @Success 204 {string} string ""
// @Router /notifications/{id}/seen [patch]
func (h *NotificationHandler) MarkSeen(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	if err := h.notifications.MarkSeen(c.Request.Context(), actor.UserID, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
