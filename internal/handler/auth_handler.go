package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/gradebook-api/internal/models"
	"github.com/noah-isme/gradebook-api/internal/service"
	"github.com/noah-isme/gradebook-api/pkg/response"
)

type authService interface {
	Register(ctx context.Context, req models.RegisterRequest, client models.ClientMeta) (*models.LoginResponse, error)
	Login(ctx context.Context, req models.LoginRequest, client models.ClientMeta) (*models.LoginResponse, error)
	LoginWithGoogle(ctx context.Context, req models.GoogleLoginRequest, client models.ClientMeta) (*models.LoginResponse, error)
	RefreshToken(ctx context.Context, req models.RefreshTokenRequest, client models.ClientMeta) (*models.RefreshTokenResponse, error)
	Logout(ctx context.Context, userID string, req models.LogoutRequest, client models.ClientMeta) error
	ChangePassword(ctx context.Context, userID string, req models.ChangePasswordRequest) error
	ForgotPassword(ctx context.Context, req models.ResetPasswordRequest) error
	ResetPassword(ctx context.Context, req models.ConfirmResetPasswordRequest) error
	Me(ctx context.Context, userID string) (*models.UserInfo, error)
	UpdateMe(ctx context.Context, userID string, req models.UpdateProfileRequest) (*models.UserInfo, error)
	UploadAvatar(ctx context.Context, userID string, upload service.FileUpload) (*models.File, error)
}

var _ authService = (*service.AuthService)(nil)

// AuthHandler exposes account and session endpoints.
type AuthHandler struct {
	auth authService
}

// NewAuthHandler creates a new handler.
func NewAuthHandler(auth authService) *AuthHandler {
	return &AuthHandler{auth: auth}
}

func clientMeta(c *gin.Context) models.ClientMeta {
	return models.ClientMeta{IP: c.ClientIP(), UserAgent: c.GetHeader("User-Agent")}
}

// Register godoc
// @Summary Register account
// @Description Create a USER account and sign it in
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.RegisterRequest true "Register payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /auth/register [post]
func (h *AuthHandler) Register(c *gin.Context) {
	var req models.RegisterRequest
	if !bindJSON(c, &req, "invalid register payload") {
		return
	}
	res, err := h.auth.Register(c.Request.Context(), req, clientMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, res)
}

// Login godoc
// @Summary Sign in with email and password
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.LoginRequest true "Login payload"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if !bindJSON(c, &req, "invalid login payload") {
		return
	}
	res, err := h.auth.Login(c.Request.Context(), req, clientMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, res, nil)
}

// Google godoc
// @Summary Sign in with Google
// @Description Exchange a Google ID token for a session
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.GoogleLoginRequest true "Google ID token"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/google [post]
func (h *AuthHandler) Google(c *gin.Context) {
	var req models.GoogleLoginRequest
	if !bindJSON(c, &req, "invalid google payload") {
		return
	}
	res, err := h.auth.LoginWithGoogle(c.Request.Context(), req, clientMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, res, nil)
}

// Refresh godoc
// @Summary Rotate refresh token
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.RefreshTokenRequest true "Refresh payload"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/refresh [post]
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req models.RefreshTokenRequest
	if !bindJSON(c, &req, "invalid refresh payload") {
		return
	}
	res, err := h.auth.RefreshToken(c.Request.Context(), req, clientMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, res, nil)
}

// Logout godoc
// @Summary End a session
// @Tags Authentication
// @Accept json
// @Param payload body models.LogoutRequest true "Refresh token"
// @Success 204
// @Failure 403 {object} response.Envelope
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req models.LogoutRequest
	if !bindJSON(c, &req, "refresh token required") {
		return
	}
	if err := h.auth.Logout(c.Request.Context(), actor.UserID, req, clientMeta(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ChangePassword godoc
// @Summary Change password
// @Tags Authentication
// @Accept json
// @Param payload body models.ChangePasswordRequest true "Change password"
// @Success 204
// @Failure 403 {object} response.Envelope
// @Router /auth/change-password [post]
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req models.ChangePasswordRequest
	if !bindJSON(c, &req, "invalid change password payload") {
		return
	}
	if err := h.auth.ChangePassword(c.Request.Context(), actor.UserID, req); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ForgotPassword godoc
// @Summary Request a password reset link
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.ResetPasswordRequest true "Account email"
// @Success 202 {object} response.Envelope
// @Router /auth/forgot-password [post]
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req models.ResetPasswordRequest
	if !bindJSON(c, &req, "invalid forgot password payload") {
		return
	}
	if err := h.auth.ForgotPassword(c.Request.Context(), req); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusAccepted, gin.H{"message": "if the email exists, a reset link will be sent"}, nil)
}

// ResetPassword godoc
// @Summary Set a new password from a reset token
// @Tags Authentication
// @Accept json
// @Param payload body models.ConfirmResetPasswordRequest true "Reset payload"
// @Success 204
// @Failure 401 {object} response.Envelope
// @Router /auth/reset-password [post]
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req models.ConfirmResetPasswordRequest
	if !bindJSON(c, &req, "invalid reset password payload") {
		return
	}
	if err := h.auth.ResetPassword(c.Request.Context(), req); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Me godoc
// @Summary Current user profile
// @Tags Authentication
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /auth/me [get]
func (h *AuthHandler) Me(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	info, err := h.auth.Me(c.Request.Context(), actor.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, info, nil)
}

// UpdateMe godoc
// @Summary Update current user
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.UpdateProfileRequest true "Profile"
// @Success 200 {object} response.Envelope
// @Router /auth/me [patch]
func (h *AuthHandler) UpdateMe(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req models.UpdateProfileRequest
	if !bindJSON(c, &req, "invalid profile payload") {
		return
	}
	info, err := h.auth.UpdateMe(c.Request.Context(), actor.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, info, nil)
}

// UploadAvatar godoc
// @Summary Upload avatar
// @Tags Authentication
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "Avatar image"
// @Success 201 {object} response.Envelope
// @Failure 413 {object} response.Envelope
// @Failure 415 {object} response.Envelope
// @Router /auth/me/avatar [post]
func (h *AuthHandler) UploadAvatar(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	upload, closeFn, ok := uploadFromForm(c, "file")
	if !ok {
		return
	}
	defer closeFn()

	file, err := h.auth.UploadAvatar(c.Request.Context(), actor.UserID, upload)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, file)
}
