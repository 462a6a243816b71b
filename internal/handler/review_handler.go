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

type reviewService interface {
	Create(ctx context.Context, actor models.Actor, req models.CreateReviewRequest) (*models.Review, error)
	Get(ctx context.Context, actor models.Actor, id string) (*models.ReviewDetail, error)
	ListByClass(ctx context.Context, actor models.Actor, filter models.ReviewFilter) ([]models.ReviewDetail, *models.Pagination, error)
	UpdateStatus(ctx context.Context, actor models.Actor, id string, req models.UpdateReviewStatusRequest) (*models.Review, error)
	Comment(ctx context.Context, actor models.Actor, reviewID string, req models.CommentRequest) (*models.ReviewComment, error)
	Reply(ctx context.Context, actor models.Actor, reviewID, parentID string, req models.CommentRequest) (*models.ReviewComment, error)
	ListComments(ctx context.Context, actor models.Actor, reviewID string) ([]models.ReviewComment, error)
	ListReplies(ctx context.Context, actor models.Actor, reviewID, commentID string) ([]models.ReviewComment, error)
	GetComment(ctx context.Context, actor models.Actor, reviewID, commentID string) (*models.ReviewComment, error)
	UpdateComment(ctx context.Context, actor models.Actor, reviewID, commentID string, req models.CommentRequest) (*models.ReviewComment, error)
	DeleteComment(ctx context.Context, actor models.Actor, reviewID, commentID string) error
}

var _ reviewService = (*service.ReviewService)(nil)

// ReviewHandler exposes grade review and comment endpoints.
type ReviewHandler struct {
	reviews reviewService
}

// NewReviewHandler constructs ReviewHandler.
func NewReviewHandler(reviews reviewService) *ReviewHandler {
	return &ReviewHandler{reviews: reviews}
}

// Create godoc
// @Summary Request a grade review
// @Tags Reviews
// @Accept json
// @Produce json
// @Param payload body models.CreateReviewRequest true "Review"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /reviews [post]
func (h *ReviewHandler) Create(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req models.CreateReviewRequest
	if !bindJSON(c, &req, "invalid review payload") {
		return
	}
	review, err := h.reviews.Create(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, review)
}

// Get godoc
// @Summary Get review
// @Tags Reviews
// @Produce json
// @Param id path string true "Review ID"
// @Success 200 {object} response.Envelope
// @Router /reviews/{id} [get]
func (h *ReviewHandler) Get(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	review, err := h.reviews.Get(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, review, nil)
}

// ListByClass godoc
// @Summary List reviews of a class
// @Tags Reviews
// @Produce json
// @Param id path string true "Class ID"
// @Param status query string false "PENDING, ACCEPTED or REJECTED"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /classes/{id}/reviews [get]
func (h *ReviewHandler) ListByClass(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	page := pageFromQuery(c)
	filter := models.ReviewFilter{ClassID: c.Param("id"), Page: page.Page, PageSize: page.PageSize}
	if raw := strings.ToUpper(strings.TrimSpace(c.Query("status"))); raw != "" {
		status := models.ReviewStatus(raw)
		filter.Status = &status
	}
	reviews, pagination, err := h.reviews.ListByClass(c.Request.Context(), actor, filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, reviews, pagination)
}

// UpdateStatus godoc
// @Summary Accept or reject a review
// @Tags Reviews
// @Accept json
// @Produce json
// @Param id path string true "Review ID"
// @Param payload body models.UpdateReviewStatusRequest true "Decision"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /reviews/{id}/status [patch]
func (h *ReviewHandler) UpdateStatus(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req models.UpdateReviewStatusRequest
	if !bindJSON(c, &req, "invalid status payload") {
		return
	}
	review, err := h.reviews.UpdateStatus(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, review, nil)
}

// ListComments godoc
// @Summary Top-level comments of a review
// @Tags Reviews
// @Produce json
// @Param id path string true "Review ID"
// @Success 200 {object} response.Envelope
// @Router /reviews/{id}/comments [get]
func (h *ReviewHandler) ListComments(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	comments, err := h.reviews.ListComments(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, comments, nil)
}

// Comment godoc
// @Summary Comment on a review
// @Tags Reviews
// @Accept json
// @Produce json
// @Param id path string true "Review ID"
// @Param payload body models.CommentRequest true "Comment"
// @Success 201 {object} response.Envelope
// @Router /reviews/{id}/comments [post]
func (h *ReviewHandler) Comment(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req models.CommentRequest
	if !bindJSON(c, &req, "invalid comment payload") {
		return
	}
	comment, err := h.reviews.Comment(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, comment)
}

// GetComment godoc
// @Summary Get a comment
// @Tags Reviews
// @Produce json
// @Param id path string true "Review ID"
// @Param commentId path string true "Comment ID"
// @Success 200 {object} response.Envelope
// @Router /reviews/{id}/comments/{commentId} [get]
func (h *ReviewHandler) GetComment(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	comment, err := h.reviews.GetComment(c.Request.Context(), actor, c.Param("id"), c.Param("commentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, comment, nil)
}

// UpdateComment godoc
// @Summary Edit a comment
// @Tags Reviews
// @Accept json
// @Produce json
// @Param id path string true "Review ID"
// @Param commentId path string true "Comment ID"
// @Param payload body models.CommentRequest true "Comment"
// @Success 200 {object} response.Envelope
// @Router /reviews/{id}/comments/{commentId} [patch]
func (h *ReviewHandler) UpdateComment(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req models.CommentRequest
	if !bindJSON(c, &req, "invalid comment payload") {
		return
	}
	comment, err := h.reviews.UpdateComment(c.Request.Context(), actor, c.Param("id"), c.Param("commentId"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, comment, nil)
}

// DeleteComment godoc
// @Summary Delete a comment and its replies
// @Tags Reviews
// @Param id path string true "Review ID"
// @Param commentId path string true "Comment ID"
// @Success 204 {string} string ""
// @Router /reviews/{id}/comments/{commentId} [delete]
func (h *ReviewHandler) DeleteComment(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	if err := h.reviews.DeleteComment(c.Request.Context(), actor, c.Param("id"), c.Param("commentId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ListReplies godoc
// @Summary Replies to a comment
// @Tags Reviews
// @Produce json
// @Param id path string true "Review ID"
// @Param commentId path string true "Comment ID"
// @Success 200 {object} response.Envelope
// @Router /reviews/{id}/comments/{commentId}/replies [get]
func (h *ReviewHandler) ListReplies(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	replies, err := h.reviews.ListReplies(c.Request.Context(), actor, c.Param("id"), c.Param("commentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, replies, nil)
}

// Reply godoc
// @Summary Reply to a comment
// @Tags Reviews
// @Accept json
// @Produce json
// @Param id path string true "Review ID"
// @Param commentId path string true "Comment ID"
// @Param payload body models.CommentRequest true "Reply"
// @Success 201 {object} response.Envelope
// @Router /reviews/{id}/comments/{commentId}/reply [post]
func (h *ReviewHandler) Reply(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req models.CommentRequest
	if !bindJSON(c, &req, "invalid comment payload") {
		return
	}
	reply, err := h.reviews.Reply(c.Request.Context(), actor, c.Param("id"), c.Param("commentId"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, reply)
}
