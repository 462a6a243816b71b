package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"html"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/gradebook-api/internal/models"
	"github.com/noah-isme/gradebook-api/internal/repository"
	appErrors "github.com/noah-isme/gradebook-api/pkg/errors"
	"github.com/noah-isme/gradebook-api/pkg/mailer"
)

type authUserRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByGoogleID(ctx context.Context, googleID string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	LinkGoogleID(ctx context.Context, id, googleID string) error
	UpdateProfile(ctx context.Context, id, fullName string) error
	UpdateAvatar(ctx context.Context, id string, fileID *string) error
	UpdateLastLogin(ctx context.Context, id string, ts time.Time) error
	UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error
	RevokeUserRefreshTokens(ctx context.Context, userID string) error
	CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error
	FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type avatarStore interface {
	UploadAndCreate(ctx context.Context, upload FileUpload) (*models.File, error)
	Delete(ctx context.Context, id string) error
}

// AuthConfig defines configuration for authentication flows.
type AuthConfig struct {
	AccessTokenSecret  string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
	ResetTokenSecret   string
	ResetTokenExpiry   time.Duration
	ClientURL          string
	Issuer             string
	Audience           []string
	SingleSession      bool
}

// AuthService covers local and Google sign-in, session rotation, password
// recovery and the caller's own profile.
type AuthService struct {
	repo      authUserRepository
	google    GoogleVerifier
	mailer    mailer.Mailer
	files     avatarStore
	validator *validator.Validate
	logger    *zap.Logger
	config    AuthConfig
	now       func() time.Time
}

// AuthDeps groups the optional collaborators of AuthService.
type AuthDeps struct {
	Google GoogleVerifier
	Mailer mailer.Mailer
	Files  avatarStore
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(repo authUserRepository, deps AuthDeps, validate *validator.Validate, logger *zap.Logger, config AuthConfig) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if deps.Mailer == nil {
		deps.Mailer = mailer.NewLogMailer(logger)
	}
	if config.ResetTokenSecret == "" {
		config.ResetTokenSecret = config.AccessTokenSecret
	}
	if config.ResetTokenExpiry <= 0 {
		config.ResetTokenExpiry = 15 * time.Minute
	}
	return &AuthService{
		repo:      repo,
		google:    deps.Google,
		mailer:    deps.Mailer,
		files:     deps.Files,
		validator: validate,
		logger:    logger,
		config:    config,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func internalErr(err error, message string) error {
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}

func (s *AuthService) validate(v interface{}, message string) error {
	if err := s.validator.Struct(v); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, message)
	}
	return nil
}

// loadUser maps a missing row to missing, which differs between flows.
func (s *AuthService) loadUser(ctx context.Context, id string, missing *appErrors.Error) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, missing
		}
		return nil, internalErr(err, "failed to load user")
	}
	return user, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func bcryptHash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", internalErr(err, "failed to hash password")
	}
	return string(hash), nil
}

// Register creates a local USER account and signs it in.
func (s *AuthService) Register(ctx context.Context, req models.RegisterRequest, client models.ClientMeta) (*models.LoginResponse, error) {
	if err := s.validate(req, "invalid register payload"); err != nil {
		return nil, err
	}
	email := normalizeEmail(req.Email)

	if _, err := s.repo.FindByEmail(ctx, email); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "email already registered")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, internalErr(err, "failed to check email")
	}

	hashed, err := bcryptHash(req.Password)
	if err != nil {
		return nil, err
	}
	user := &models.User{
		Email:        email,
		PasswordHash: &hashed,
		FullName:     strings.TrimSpace(req.FullName),
		Role:         models.RoleUser,
		Active:       true,
	}
	if err := s.createUser(ctx, user); err != nil {
		return nil, err
	}

	s.audit(ctx, models.NewAuditLog(user.ID, models.AuditRegister, client, map[string]string{"method": "password"}))
	return s.issueSession(ctx, user, client)
}

func (s *AuthService) createUser(ctx context.Context, user *models.User) error {
	if err := s.repo.Create(ctx, user); err != nil {
		if repository.IsUniqueViolation(err) {
			return appErrors.Clone(appErrors.ErrConflict, "email already registered")
		}
		return internalErr(err, "failed to create user")
	}
	return nil
}

// Login authenticates a user by email and password.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest, client models.ClientMeta) (*models.LoginResponse, error) {
	if err := s.validate(req, "invalid login payload"); err != nil {
		return nil, err
	}

	user, err := s.repo.FindByEmail(ctx, normalizeEmail(req.Email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrInvalidCredentials
		}
		return nil, internalErr(err, "failed to fetch user")
	}
	if !user.Active {
		return nil, appErrors.ErrInactiveAccount
	}
	if !user.HasPassword() {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "account uses Google sign-in")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(*user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, appErrors.ErrInvalidCredentials
	}

	if s.config.SingleSession {
		if err := s.repo.RevokeUserRefreshTokens(ctx, user.ID); err != nil {
			s.logger.Warn("failed to revoke previous refresh tokens", zap.String("user_id", user.ID), zap.Error(err))
		}
	}

	s.audit(ctx, models.NewAuditLog(user.ID, models.AuditLogin, client, map[string]string{"method": "password"}))
	return s.issueSession(ctx, user, client)
}

// LoginWithGoogle signs in with a Google ID token, linking or creating the account.
func (s *AuthService) LoginWithGoogle(ctx context.Context, req models.GoogleLoginRequest, client models.ClientMeta) (*models.LoginResponse, error) {
	if err := s.validate(req, "invalid google login payload"); err != nil {
		return nil, err
	}
	if s.google == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "google sign-in not configured")
	}

	identity, err := s.google.Verify(req.IDToken)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid google id token")
	}

	user, err := s.repo.FindByGoogleID(ctx, identity.Subject)
	switch {
	case err == nil:
	case errors.Is(err, sql.ErrNoRows):
		if user, err = s.linkOrCreateGoogleUser(ctx, identity); err != nil {
			return nil, err
		}
	default:
		return nil, internalErr(err, "failed to fetch user")
	}
	if !user.Active {
		return nil, appErrors.ErrInactiveAccount
	}

	s.audit(ctx, models.NewAuditLog(user.ID, models.AuditLogin, client, map[string]string{"method": "google"}))
	return s.issueSession(ctx, user, client)
}

func (s *AuthService) linkOrCreateGoogleUser(ctx context.Context, identity *GoogleIdentity) (*models.User, error) {
	email := normalizeEmail(identity.Email)
	user, err := s.repo.FindByEmail(ctx, email)
	if err == nil {
		if err := s.repo.LinkGoogleID(ctx, user.ID, identity.Subject); err != nil {
			return nil, internalErr(err, "failed to link google account")
		}
		user.GoogleID = &identity.Subject
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, internalErr(err, "failed to fetch user")
	}

	name := identity.Name
	if name == "" {
		name = email
	}
	user = &models.User{Email: email, FullName: name, Role: models.RoleUser, Active: true, GoogleID: &identity.Subject}
	if err := s.createUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// mintRefreshToken persists a fresh opaque refresh token for userID.
func (s *AuthService) mintRefreshToken(ctx context.Context, userID string, client models.ClientMeta) (*models.RefreshToken, error) {
	value, err := randomToken()
	if err != nil {
		return nil, internalErr(err, "failed to create refresh token")
	}
	now := s.now()
	token := &models.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		Token:     value,
		ExpiresAt: now.Add(s.config.RefreshTokenExpiry),
		CreatedAt: now,
		IPAddress: client.IP,
		UserAgent: client.UserAgent,
	}
	if err := s.repo.CreateRefreshToken(ctx, token); err != nil {
		return nil, internalErr(err, "failed to persist refresh token")
	}
	return token, nil
}

func (s *AuthService) issueSession(ctx context.Context, user *models.User, client models.ClientMeta) (*models.LoginResponse, error) {
	accessToken, err := s.generateAccessToken(user)
	if err != nil {
		return nil, internalErr(err, "failed to create access token")
	}
	refresh, err := s.mintRefreshToken(ctx, user.ID, client)
	if err != nil {
		return nil, err
	}
	if err := s.repo.UpdateLastLogin(ctx, user.ID, s.now()); err != nil {
		s.logger.Warn("failed to update last login", zap.String("user_id", user.ID), zap.Error(err))
	}

	return &models.LoginResponse{
		AccessToken:  accessToken,
		RefreshToken: refresh.Token,
		ExpiresIn:    int64(s.config.AccessTokenExpiry.Seconds()),
		IssuedAt:     refresh.CreatedAt,
		User:         models.NewUserInfo(user),
	}, nil
}

func (s *AuthService) audit(ctx context.Context, entry *models.AuditLog) {
	if err := s.repo.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", string(entry.Action)), zap.Error(err))
	}
}

// RefreshToken rotates a refresh token: the presented one is revoked and a new pair issued.
func (s *AuthService) RefreshToken(ctx context.Context, req models.RefreshTokenRequest, client models.ClientMeta) (*models.RefreshTokenResponse, error) {
	if err := s.validate(req, "invalid refresh payload"); err != nil {
		return nil, err
	}

	stored, err := s.repo.FindRefreshToken(ctx, req.RefreshToken)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "refresh token not found")
		}
		return nil, internalErr(err, "failed to fetch refresh token")
	}
	if !stored.Active(s.now()) {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "refresh token is expired or revoked")
	}

	user, err := s.loadUser(ctx, stored.UserID, appErrors.Clone(appErrors.ErrUnauthorized, "associated user no longer exists"))
	if err != nil {
		return nil, err
	}
	if !user.Active {
		return nil, appErrors.ErrInactiveAccount
	}

	if err := s.repo.RevokeRefreshToken(ctx, stored.ID, s.now()); err != nil {
		s.logger.Warn("failed to revoke used refresh token", zap.String("token_id", stored.ID), zap.Error(err))
	}

	accessToken, err := s.generateAccessToken(user)
	if err != nil {
		return nil, internalErr(err, "failed to generate access token")
	}
	refresh, err := s.mintRefreshToken(ctx, user.ID, client)
	if err != nil {
		return nil, err
	}

	s.audit(ctx, models.NewAuditLog(user.ID, models.AuditTokenRefresh, client, map[string]string{"previous": stored.ID}))
	return &models.RefreshTokenResponse{
		AccessToken:  accessToken,
		RefreshToken: refresh.Token,
		ExpiresIn:    int64(s.config.AccessTokenExpiry.Seconds()),
		IssuedAt:     refresh.CreatedAt,
	}, nil
}

// Logout revokes one of the caller's refresh tokens.
func (s *AuthService) Logout(ctx context.Context, userID string, req models.LogoutRequest, client models.ClientMeta) error {
	if err := s.validate(req, "refresh token required"); err != nil {
		return err
	}
	stored, err := s.repo.FindRefreshToken(ctx, req.RefreshToken)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrUnauthorized, "refresh token not found")
		}
		return internalErr(err, "failed to load refresh token")
	}
	if stored.UserID != userID {
		return appErrors.Clone(appErrors.ErrForbidden, "token does not belong to user")
	}
	if err := s.repo.RevokeRefreshToken(ctx, stored.ID, s.now()); err != nil {
		return internalErr(err, "failed to revoke refresh token")
	}

	s.audit(ctx, models.NewAuditLog(userID, models.AuditLogout, client, map[string]string{"token_id": stored.ID}))
	return nil
}

// ChangePassword replaces the caller's password and ends every other session.
func (s *AuthService) ChangePassword(ctx context.Context, userID string, req models.ChangePasswordRequest) error {
	if err := s.validate(req, "invalid change password payload"); err != nil {
		return err
	}
	user, err := s.loadUser(ctx, userID, appErrors.Clone(appErrors.ErrNotFound, "user not found"))
	if err != nil {
		return err
	}
	if !user.HasPassword() {
		return appErrors.Clone(appErrors.ErrForbidden, "account has no password set")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(*user.PasswordHash), []byte(req.OldPassword)); err != nil {
		return appErrors.Clone(appErrors.ErrForbidden, "old password does not match")
	}

	if err := s.setPassword(ctx, userID, req.NewPassword); err != nil {
		return err
	}
	s.audit(ctx, models.NewAuditLog(userID, models.AuditPasswordChange, models.ClientMeta{}, nil))
	return nil
}

// setPassword stores a new hash and revokes all refresh tokens of the user.
func (s *AuthService) setPassword(ctx context.Context, userID, password string) error {
	hashed, err := bcryptHash(password)
	if err != nil {
		return err
	}
	if err := s.repo.UpdatePassword(ctx, userID, hashed, s.now()); err != nil {
		return internalErr(err, "failed to update password")
	}
	if err := s.repo.RevokeUserRefreshTokens(ctx, userID); err != nil {
		s.logger.Warn("failed to revoke refresh tokens after password update", zap.String("user_id", userID), zap.Error(err))
	}
	return nil
}

// ValidateToken parses and validates an access token returning the claims.
func (s *AuthService) ValidateToken(tokenString string) (*models.JWTClaims, error) {
	claims := &models.JWTClaims{}
	if err := parseHS256(tokenString, s.config.AccessTokenSecret, claims); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}
	return claims, nil
}

func parseHS256(tokenString, secret string, claims jwt.Claims) error {
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return err
	}
	if !token.Valid {
		return errors.New("token is not valid")
	}
	return nil
}

// ForgotPassword mails a short-lived reset link. Unknown addresses are accepted silently.
func (s *AuthService) ForgotPassword(ctx context.Context, req models.ResetPasswordRequest) error {
	if err := s.validate(req, "invalid forgot password payload"); err != nil {
		return err
	}

	user, err := s.repo.FindByEmail(ctx, normalizeEmail(req.Email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Info("password reset requested for unknown email")
			return nil
		}
		return internalErr(err, "failed to fetch user")
	}
	if !user.Active {
		return nil
	}

	token, err := s.generateResetToken(user)
	if err != nil {
		return internalErr(err, "failed to create reset token")
	}
	link := fmt.Sprintf("%s/reset-password?token=%s", s.config.ClientURL, url.QueryEscape(token))
	if err := s.mailer.Send(ctx, resetPasswordMessage(user, link, s.config.ResetTokenExpiry)); err != nil {
		return internalErr(err, "failed to send reset email")
	}
	return nil
}

func resetPasswordMessage(user *models.User, link string, ttl time.Duration) mailer.Message {
	return mailer.Message{
		ToName:  user.FullName,
		ToEmail: user.Email,
		Subject: "Reset your password",
		Text:    fmt.Sprintf("Hi %s,\n\nUse the link below to choose a new password. It expires in %s.\n\n%s\n", user.FullName, ttl, link),
		HTML:    fmt.Sprintf(`<p>Hi %s,</p><p>Use the link below to choose a new password. It expires in %s.</p><p><a href="%s">Reset password</a></p>`, html.EscapeString(user.FullName), ttl, link),
	}
}

// ResetPassword sets a new password from a reset token. A token is single use
// because it is bound to the password hash it was issued against.
func (s *AuthService) ResetPassword(ctx context.Context, req models.ConfirmResetPasswordRequest) error {
	if err := s.validate(req, "invalid reset password payload"); err != nil {
		return err
	}

	invalid := appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired reset token")
	claims := &models.ResetClaims{}
	if err := parseHS256(req.Token, s.config.ResetTokenSecret, claims); err != nil {
		return appErrors.Wrap(err, invalid.Code, invalid.Status, invalid.Message)
	}
	user, err := s.loadUser(ctx, claims.UserID, invalid)
	if err != nil {
		return err
	}
	if claims.Fingerprint != passwordFingerprint(user) {
		return appErrors.Clone(appErrors.ErrUnauthorized, "reset token already used")
	}

	if err := s.setPassword(ctx, user.ID, req.NewPassword); err != nil {
		return err
	}
	s.audit(ctx, models.NewAuditLog(user.ID, models.AuditPasswordReset, models.ClientMeta{}, nil))
	return nil
}

// Me returns the profile of the authenticated user.
func (s *AuthService) Me(ctx context.Context, userID string) (*models.UserInfo, error) {
	user, err := s.loadUser(ctx, userID, appErrors.Clone(appErrors.ErrNotFound, "user not found"))
	if err != nil {
		return nil, err
	}
	info := models.NewUserInfo(user)
	return &info, nil
}

// UpdateMe edits the profile of the authenticated user.
func (s *AuthService) UpdateMe(ctx context.Context, userID string, req models.UpdateProfileRequest) (*models.UserInfo, error) {
	if err := s.validate(req, "invalid profile payload"); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateProfile(ctx, userID, strings.TrimSpace(req.FullName)); err != nil {
		return nil, internalErr(err, "failed to update profile")
	}
	return s.Me(ctx, userID)
}

// UploadAvatar stores a new avatar image and releases the previous one.
func (s *AuthService) UploadAvatar(ctx context.Context, userID string, upload FileUpload) (*models.File, error) {
	if s.files == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "file storage not configured")
	}
	user, err := s.loadUser(ctx, userID, appErrors.Clone(appErrors.ErrNotFound, "user not found"))
	if err != nil {
		return nil, err
	}
	notImage := appErrors.Clone(appErrors.ErrUnsupportedMedia, "avatar must be an image")
	if upload.ContentType != "" && !strings.HasPrefix(upload.ContentType, "image/") {
		return nil, notImage
	}

	file, err := s.files.UploadAndCreate(ctx, upload)
	if err != nil {
		return nil, err
	}
	// The declared type is client supplied; the stored type is sniffed.
	if !strings.HasPrefix(file.MimeType, "image/") {
		if delErr := s.files.Delete(ctx, file.ID); delErr != nil {
			s.logger.Warn("failed to discard rejected avatar", zap.String("file_id", file.ID), zap.Error(delErr))
		}
		return nil, notImage
	}
	if err := s.repo.UpdateAvatar(ctx, userID, &file.ID); err != nil {
		return nil, internalErr(err, "failed to update avatar")
	}
	if user.AvatarID != nil {
		if err := s.files.Delete(ctx, *user.AvatarID); err != nil {
			s.logger.Warn("failed to delete previous avatar", zap.String("file_id", *user.AvatarID), zap.Error(err))
		}
	}
	return file, nil
}

func (s *AuthService) generateResetToken(user *models.User) (string, error) {
	issuedAt := s.now()
	claims := &models.ResetClaims{
		UserID:      user.ID,
		Fingerprint: passwordFingerprint(user),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Issuer,
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(s.config.ResetTokenExpiry)),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.config.ResetTokenSecret))
}

func passwordFingerprint(user *models.User) string {
	var hash string
	if user.PasswordHash != nil {
		hash = *user.PasswordHash
	}
	sum := sha256.Sum256([]byte(user.ID + ":" + hash))
	return hex.EncodeToString(sum[:8])
}

func (s *AuthService) generateAccessToken(user *models.User) (string, error) {
	issuedAt := s.now()
	claims := &models.JWTClaims{
		UserID:   user.ID,
		Role:     user.Role,
		Email:    user.Email,
		FullName: user.FullName,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Issuer,
			Subject:   user.ID,
			Audience:  s.config.Audience,
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(s.config.AccessTokenExpiry)),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.config.AccessTokenSecret))
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
