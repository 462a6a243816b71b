package service

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/gradebook-api/internal/models"
	appErrors "github.com/noah-isme/gradebook-api/pkg/errors"
	"github.com/noah-isme/gradebook-api/pkg/mailer"
)

type mockAuthRepo struct {
	userByEmail         *models.User
	userByID            *models.User
	userByGoogle        *models.User
	findByEmailErr      error
	findByIDErr         error
	refreshTokens       map[string]*models.RefreshToken
	refreshTokenErr     error
	createRefreshErr    error
	revokeRefreshErr    error
	revokeUserTokensErr error
	updatePasswordErr   error
	created             []*models.User
	linkedGoogleID      string
	avatarID            *string
	auditLogs           []*models.AuditLog
	lastLoginUpdated    bool
}

func (m *mockAuthRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.findByEmailErr != nil {
		return nil, m.findByEmailErr
	}
	if m.userByEmail == nil {
		return nil, sql.ErrNoRows
	}
	return m.userByEmail, nil
}

func (m *mockAuthRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if m.findByIDErr != nil {
		return nil, m.findByIDErr
	}
	if m.userByID != nil {
		return m.userByID, nil
	}
	if m.userByEmail == nil {
		return nil, sql.ErrNoRows
	}
	return m.userByEmail, nil
}

func (m *mockAuthRepo) FindByGoogleID(ctx context.Context, googleID string) (*models.User, error) {
	if m.userByGoogle == nil {
		return nil, sql.ErrNoRows
	}
	return m.userByGoogle, nil
}

func (m *mockAuthRepo) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = "new-user"
	}
	m.created = append(m.created, user)
	return nil
}

func (m *mockAuthRepo) LinkGoogleID(ctx context.Context, id, googleID string) error {
	m.linkedGoogleID = googleID
	return nil
}

func (m *mockAuthRepo) UpdateProfile(ctx context.Context, id, fullName string) error {
	if m.userByEmail != nil {
		m.userByEmail.FullName = fullName
	}
	return nil
}

func (m *mockAuthRepo) UpdateAvatar(ctx context.Context, id string, fileID *string) error {
	m.avatarID = fileID
	return nil
}

func (m *mockAuthRepo) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	m.lastLoginUpdated = true
	return nil
}

func (m *mockAuthRepo) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	if m.updatePasswordErr != nil {
		return m.updatePasswordErr
	}
	if m.userByEmail != nil && m.userByEmail.ID == id {
		m.userByEmail.PasswordHash = &passwordHash
	}
	return nil
}

func (m *mockAuthRepo) RevokeUserRefreshTokens(ctx context.Context, userID string) error {
	return m.revokeUserTokensErr
}

func (m *mockAuthRepo) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	if m.createRefreshErr != nil {
		return m.createRefreshErr
	}
	if m.refreshTokens == nil {
		m.refreshTokens = make(map[string]*models.RefreshToken)
	}
	m.refreshTokens[token.Token] = token
	return nil
}

func (m *mockAuthRepo) FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	if m.refreshTokenErr != nil {
		return nil, m.refreshTokenErr
	}
	rt, ok := m.refreshTokens[token]
	if !ok {
		return nil, errors.New("not found")
	}
	return rt, nil
}

func (m *mockAuthRepo) RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error {
	if m.revokeRefreshErr != nil {
		return m.revokeRefreshErr
	}
	for _, token := range m.refreshTokens {
		if token.ID == id {
			token.Revoked = true
			token.RevokedAt = &revokedAt
		}
	}
	return nil
}

func (m *mockAuthRepo) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.auditLogs = append(m.auditLogs, log)
	return nil
}

type stubGoogleVerifier struct {
	identity *GoogleIdentity
	err      error
}

func (s stubGoogleVerifier) Verify(string) (*GoogleIdentity, error) {
	return s.identity, s.err
}

func hashPassword(t *testing.T, password string) *string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	out := string(hash)
	return &out
}

func newTestAuthService(repo *mockAuthRepo, deps AuthDeps) *AuthService {
	return NewAuthService(repo, deps, validator.New(), zap.NewNop(), AuthConfig{
		AccessTokenSecret:  "secret",
		AccessTokenExpiry:  time.Hour,
		RefreshTokenExpiry: 24 * time.Hour,
		ClientURL:          "https://app.example.com",
	})
}

func TestAuthServiceLoginSuccess(t *testing.T) {
	repo := &mockAuthRepo{userByEmail: &models.User{ID: "123", Email: "user@example.com", PasswordHash: hashPassword(t, "password"), Active: true, Role: models.RoleAdmin}}
	svc := newTestAuthService(repo, AuthDeps{})

	res, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "password"}, models.ClientMeta{})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.RefreshToken)
	assert.Equal(t, models.RoleAdmin, res.User.Role)
	assert.True(t, repo.lastLoginUpdated)
	assert.NotEmpty(t, repo.refreshTokens)
}

func TestAuthServiceLoginInactive(t *testing.T) {
	repo := &mockAuthRepo{userByEmail: &models.User{ID: "123", Email: "user@example.com", PasswordHash: hashPassword(t, "password"), Active: false}}
	svc := newTestAuthService(repo, AuthDeps{})

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "password"}, models.ClientMeta{})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrInactiveAccount.Code, appErr.Code)
}

func TestAuthServiceLoginGoogleOnlyAccount(t *testing.T) {
	googleID := "sub-1"
	repo := &mockAuthRepo{userByEmail: &models.User{ID: "123", Email: "user@example.com", GoogleID: &googleID, Active: true}}
	svc := newTestAuthService(repo, AuthDeps{})

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "password"}, models.ClientMeta{})
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceRegister(t *testing.T) {
	repo := &mockAuthRepo{}
	svc := newTestAuthService(repo, AuthDeps{})

	res, err := svc.Register(context.Background(), models.RegisterRequest{Email: "New@Example.com", Password: "secret1", FullName: "New User"}, models.ClientMeta{})
	require.NoError(t, err)
	require.Len(t, repo.created, 1)
	assert.Equal(t, "new@example.com", repo.created[0].Email)
	assert.Equal(t, models.RoleUser, repo.created[0].Role)
	assert.True(t, repo.created[0].HasPassword())
	assert.NotEmpty(t, res.AccessToken)
}

func TestAuthServiceRegisterDuplicate(t *testing.T) {
	repo := &mockAuthRepo{userByEmail: &models.User{ID: "1", Email: "a@example.com"}}
	svc := newTestAuthService(repo, AuthDeps{})

	_, err := svc.Register(context.Background(), models.RegisterRequest{Email: "a@example.com", Password: "secret1", FullName: "A A"}, models.ClientMeta{})
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceLoginWithGoogleCreatesAccount(t *testing.T) {
	repo := &mockAuthRepo{}
	svc := newTestAuthService(repo, AuthDeps{Google: stubGoogleVerifier{identity: &GoogleIdentity{Subject: "sub-1", Email: "G@example.com", Name: "Gee"}}})

	res, err := svc.LoginWithGoogle(context.Background(), models.GoogleLoginRequest{IDToken: "token"}, models.ClientMeta{})
	require.NoError(t, err)
	require.Len(t, repo.created, 1)
	assert.Equal(t, "sub-1", *repo.created[0].GoogleID)
	assert.False(t, repo.created[0].HasPassword())
	assert.Equal(t, "g@example.com", res.User.Email)
}

func TestAuthServiceLoginWithGoogleLinksExistingEmail(t *testing.T) {
	repo := &mockAuthRepo{userByEmail: &models.User{ID: "u1", Email: "g@example.com", Active: true}}
	svc := newTestAuthService(repo, AuthDeps{Google: stubGoogleVerifier{identity: &GoogleIdentity{Subject: "sub-1", Email: "g@example.com"}}})

	_, err := svc.LoginWithGoogle(context.Background(), models.GoogleLoginRequest{IDToken: "token"}, models.ClientMeta{})
	require.NoError(t, err)
	assert.Equal(t, "sub-1", repo.linkedGoogleID)
	assert.Empty(t, repo.created)
}

func TestAuthServiceLoginWithGoogleRejectsBadToken(t *testing.T) {
	svc := newTestAuthService(&mockAuthRepo{}, AuthDeps{Google: stubGoogleVerifier{err: errors.New("bad audience")}})

	_, err := svc.LoginWithGoogle(context.Background(), models.GoogleLoginRequest{IDToken: "token"}, models.ClientMeta{})
	assert.True(t, appErrors.HasStatus(err, http.StatusUnauthorized))
}

func TestAuthServiceRefreshToken(t *testing.T) {
	repo := &mockAuthRepo{refreshTokens: make(map[string]*models.RefreshToken)}
	user := &models.User{ID: "u1", Email: "user@example.com", Active: true, Role: models.RoleAdmin}
	repo.userByEmail = user
	repo.userByID = user
	token := &models.RefreshToken{ID: "rt1", UserID: user.ID, Token: "token", ExpiresAt: time.Now().Add(time.Hour)}
	repo.refreshTokens[token.Token] = token

	svc := newTestAuthService(repo, AuthDeps{})

	res, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: "token"}, models.ClientMeta{IP: "10.0.0.1"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEqual(t, "token", res.RefreshToken)
	assert.True(t, repo.refreshTokens["token"].Revoked)
}

func TestAuthServiceChangePassword(t *testing.T) {
	oldHash := hashPassword(t, "old")
	original := *oldHash
	repo := &mockAuthRepo{userByEmail: &models.User{ID: "u1", PasswordHash: oldHash, Active: true}}
	svc := newTestAuthService(repo, AuthDeps{})

	err := svc.ChangePassword(context.Background(), "u1", models.ChangePasswordRequest{OldPassword: "old", NewPassword: "newpassword"})
	require.NoError(t, err)
	assert.NotEqual(t, original, *repo.userByEmail.PasswordHash)
}

func TestAuthServiceForgotAndResetPassword(t *testing.T) {
	repo := &mockAuthRepo{userByEmail: &models.User{ID: "u1", Email: "user@example.com", FullName: "User", PasswordHash: hashPassword(t, "old"), Active: true}}
	mail := mailer.NewLogMailer(nil)
	svc := newTestAuthService(repo, AuthDeps{Mailer: mail})

	require.NoError(t, svc.ForgotPassword(context.Background(), models.ResetPasswordRequest{Email: "user@example.com"}))
	sent := mail.Sent()
	require.Len(t, sent, 1)

	idx := strings.Index(sent[0].Text, "token=")
	require.Greater(t, idx, 0)
	raw := strings.Fields(sent[0].Text[idx+len("token="):])[0]
	token, err := url.QueryUnescape(raw)
	require.NoError(t, err)

	require.NoError(t, svc.ResetPassword(context.Background(), models.ConfirmResetPasswordRequest{Token: token, NewPassword: "brandnew"}))
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(*repo.userByEmail.PasswordHash), []byte("brandnew")))

	err = svc.ResetPassword(context.Background(), models.ConfirmResetPasswordRequest{Token: token, NewPassword: "again123"})
	assert.True(t, appErrors.HasStatus(err, http.StatusUnauthorized))
}

func TestAuthServiceForgotPasswordUnknownEmail(t *testing.T) {
	mail := mailer.NewLogMailer(nil)
	svc := newTestAuthService(&mockAuthRepo{}, AuthDeps{Mailer: mail})

	require.NoError(t, svc.ForgotPassword(context.Background(), models.ResetPasswordRequest{Email: "ghost@example.com"}))
	assert.Empty(t, mail.Sent())
}

func TestValidateToken(t *testing.T) {
	svc := newTestAuthService(&mockAuthRepo{}, AuthDeps{})
	user := &models.User{ID: "u1", Email: "user@example.com", Role: models.RoleAdmin}
	token, err := svc.generateAccessToken(user)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
}
