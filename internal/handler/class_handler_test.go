package handler

import (
	"bytes"
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gradebook-api/internal/models"
	appErrors "github.com/noah-isme/gradebook-api/pkg/errors"
)

type classServiceMock struct {
	joinedRole *models.ClassRole
	filter     models.ClassFilter
	codeReq    models.JoinWithCodeRequest
	kickReq    models.KickRequest
	kickErr    error
}

func (m *classServiceMock) Create(ctx context.Context, actor models.Actor, req models.CreateClassRequest) (*models.Class, error) {
	return &models.Class{ID: "class-1", Name: req.Name, OwnerID: actor.UserID}, nil
}

func (m *classServiceMock) CreateAsAdmin(ctx context.Context, req models.CreateClassAsAdminRequest) (*models.Class, error) {
	return &models.Class{ID: "class-1", Name: req.Name}, nil
}

func (m *classServiceMock) Get(ctx context.Context, actor models.Actor, classID string) (*models.Class, error) {
	return &models.Class{ID: classID}, nil
}

func (m *classServiceMock) ListOwned(ctx context.Context, actor models.Actor) ([]models.Class, error) {
	return nil, nil
}

func (m *classServiceMock) ListJoined(ctx context.Context, actor models.Actor, role *models.ClassRole) ([]models.JoinedClass, error) {
	m.joinedRole = role
	return nil, nil
}

func (m *classServiceMock) ListAll(ctx context.Context, filter models.ClassFilter) ([]models.Class, *models.Pagination, error) {
	m.filter = filter
	return nil, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize}, nil
}

func (m *classServiceMock) Update(ctx context.Context, actor models.Actor, classID string, req models.UpdateClassRequest) (*models.Class, error) {
	return &models.Class{ID: classID}, nil
}

func (m *classServiceMock) SoftDelete(ctx context.Context, actor models.Actor, classID string) error {
	return nil
}

func (m *classServiceMock) Restore(ctx context.Context, actor models.Actor, classID string) error {
	return nil
}

func (m *classServiceMock) CreateInviteToken(ctx context.Context, actor models.Actor, classID string, req models.InviteTokenRequest) (*models.Invitation, error) {
	return &models.Invitation{ClassID: classID}, nil
}

func (m *classServiceMock) InviteByEmail(ctx context.Context, actor models.Actor, classID string, req models.InviteEmailRequest) error {
	return nil
}

func (m *classServiceMock) JoinWithToken(ctx context.Context, actor models.Actor, req models.JoinWithTokenRequest) (*models.Class, error) {
	return &models.Class{ID: "class-1"}, nil
}

func (m *classServiceMock) JoinWithCode(ctx context.Context, actor models.Actor, req models.JoinWithCodeRequest) (*models.Class, error) {
	m.codeReq = req
	return &models.Class{ID: "class-1"}, nil
}

func (m *classServiceMock) Leave(ctx context.Context, actor models.Actor, classID string) error {
	return nil
}

func (m *classServiceMock) Kick(ctx context.Context, actor models.Actor, classID string, req models.KickRequest) error {
	m.kickReq = req
	return m.kickErr
}

func (m *classServiceMock) ListMembers(ctx context.Context, actor models.Actor, classID string, role *models.ClassRole) ([]models.ClassMemberDetail, error) {
	return nil, nil
}

func TestClassHandlerListJoinedRoleFilter(t *testing.T) {
	mockSvc := &classServiceMock{}
	h := NewClassHandler(mockSvc)

	c, w := newTestContext(http.MethodGet, "/classes/joined?role=student", nil, "")
	authenticate(c, "user-1", models.RoleUser)

	h.ListJoined(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, mockSvc.joinedRole)
	assert.Equal(t, models.ClassRoleStudent, *mockSvc.joinedRole)

	c, _ = newTestContext(http.MethodGet, "/classes/joined", nil, "")
	authenticate(c, "user-1", models.RoleUser)
	h.ListJoined(c)
	assert.Nil(t, mockSvc.joinedRole)
}

func TestClassHandlerListAllPagination(t *testing.T) {
	mockSvc := &classServiceMock{}
	h := NewClassHandler(mockSvc)

	c, w := newTestContext(http.MethodGet, "/classes?search=math&includeDeleted=true&page=3&limit=10", nil, "")
	authenticate(c, "admin-1", models.RoleAdmin)

	h.List(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "math", mockSvc.filter.Search)
	assert.True(t, mockSvc.filter.IncludeDeleted)
	assert.Equal(t, 3, mockSvc.filter.Page)
	assert.Equal(t, 10, mockSvc.filter.PageSize)
}

func TestClassHandlerJoinWithCode(t *testing.T) {
	mockSvc := &classServiceMock{}
	h := NewClassHandler(mockSvc)

	c, w := newTestContext(http.MethodPost, "/classes/join-with-code", bytes.NewBufferString(`{"code":"ABC123"}`), "application/json")
	authenticate(c, "user-1", models.RoleUser)

	h.JoinWithCode(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ABC123", mockSvc.codeReq.Code)
}

func TestClassHandlerKickForbidden(t *testing.T) {
	h := NewClassHandler(&classServiceMock{kickErr: appErrors.Clone(appErrors.ErrForbidden, "only the owner can remove teachers")})

	c, w := newTestContext(http.MethodPost, "/classes/class-1/kick", bytes.NewBufferString(`{"user_id":"4f1c2d9e-8b7a-4c3d-9e2f-1a2b3c4d5e6f"}`), "application/json")
	c.Params = gin.Params{{Key: "id", Value: "class-1"}}
	authenticate(c, "user-1", models.RoleUser)

	h.Kick(c)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
