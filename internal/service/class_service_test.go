package service

import (
	"context"
	"database/sql"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gradebook-api/internal/models"
	appErrors "github.com/noah-isme/gradebook-api/pkg/errors"
	"github.com/noah-isme/gradebook-api/pkg/mailer"
)

type memoryClassRepo struct {
	classes     map[string]*models.Class
	members     []models.ClassMember
	invitations map[string]*models.Invitation
	takenCodes  map[string]bool
}

func newMemoryClassRepo() *memoryClassRepo {
	return &memoryClassRepo{classes: map[string]*models.Class{}, invitations: map[string]*models.Invitation{}, takenCodes: map[string]bool{}}
}

func (m *memoryClassRepo) CreateWithOwner(_ context.Context, class *models.Class) error {
	class.ID = uuid.NewString()
	cp := *class
	m.classes[class.ID] = &cp
	m.takenCodes[class.Code] = true
	m.members = append(m.members, models.ClassMember{ClassID: class.ID, UserID: class.OwnerID, Role: models.ClassRoleTeacher})
	return nil
}

func (m *memoryClassRepo) CodeExists(_ context.Context, code string) (bool, error) {
	return m.takenCodes[code], nil
}

func (m *memoryClassRepo) FindByID(_ context.Context, id string, includeDeleted bool) (*models.Class, error) {
	c, ok := m.classes[id]
	if !ok || (c.DeletedAt != nil && !includeDeleted) {
		return nil, sql.ErrNoRows
	}
	cp := *c
	return &cp, nil
}

func (m *memoryClassRepo) FindByCode(_ context.Context, code string) (*models.Class, error) {
	for _, c := range m.classes {
		if c.Code == code && c.DeletedAt == nil {
			cp := *c
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memoryClassRepo) ListOwned(_ context.Context, ownerID string) ([]models.Class, error) {
	var out []models.Class
	for _, c := range m.classes {
		if c.OwnerID == ownerID && c.DeletedAt == nil {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *memoryClassRepo) ListJoined(_ context.Context, userID string, role *models.ClassRole) ([]models.JoinedClass, error) {
	var out []models.JoinedClass
	for _, mem := range m.members {
		if mem.UserID != userID || (role != nil && mem.Role != *role) {
			continue
		}
		if c := m.classes[mem.ClassID]; c != nil && c.DeletedAt == nil {
			out = append(out, models.JoinedClass{Class: *c, Role: mem.Role})
		}
	}
	return out, nil
}

func (m *memoryClassRepo) List(_ context.Context, filter models.ClassFilter) ([]models.Class, int, error) {
	var out []models.Class
	for _, c := range m.classes {
		if c.DeletedAt == nil || filter.IncludeDeleted {
			out = append(out, *c)
		}
	}
	return out, len(out), nil
}

func (m *memoryClassRepo) Update(_ context.Context, class *models.Class) error {
	if _, ok := m.classes[class.ID]; !ok {
		return sql.ErrNoRows
	}
	cp := *class
	m.classes[class.ID] = &cp
	return nil
}

func (m *memoryClassRepo) SetDeleted(_ context.Context, id string, deleted bool) error {
	c, ok := m.classes[id]
	if !ok {
		return sql.ErrNoRows
	}
	c.DeletedAt = nil
	if deleted {
		now := time.Now()
		c.DeletedAt = &now
	}
	return nil
}

func (m *memoryClassRepo) FindMember(_ context.Context, classID, userID string) (*models.ClassMember, error) {
	for _, mem := range m.members {
		if mem.ClassID == classID && mem.UserID == userID {
			cp := mem
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memoryClassRepo) AddMember(_ context.Context, member *models.ClassMember) error {
	m.members = append(m.members, *member)
	return nil
}

func (m *memoryClassRepo) RemoveMember(_ context.Context, classID, userID string) error {
	for i, mem := range m.members {
		if mem.ClassID == classID && mem.UserID == userID {
			m.members = append(m.members[:i], m.members[i+1:]...)
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m *memoryClassRepo) ListMembers(_ context.Context, classID string, role *models.ClassRole) ([]models.ClassMemberDetail, error) {
	var out []models.ClassMemberDetail
	for _, mem := range m.members {
		if mem.ClassID == classID && (role == nil || mem.Role == *role) {
			out = append(out, models.ClassMemberDetail{ClassMember: mem, IsOwner: m.classes[classID].OwnerID == mem.UserID})
		}
	}
	return out, nil
}

func (m *memoryClassRepo) ListMemberIDs(_ context.Context, classID string, role models.ClassRole) ([]string, error) {
	var out []string
	for _, mem := range m.members {
		if mem.ClassID == classID && mem.Role == role {
			out = append(out, mem.UserID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *memoryClassRepo) CreateInvitation(_ context.Context, inv *models.Invitation) error {
	cp := *inv
	m.invitations[inv.Token] = &cp
	return nil
}

func (m *memoryClassRepo) FindInvitation(_ context.Context, token string) (*models.Invitation, error) {
	inv, ok := m.invitations[token]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *inv
	return &cp, nil
}

type memoryUsers map[string]*models.User

func (u memoryUsers) FindByID(_ context.Context, id string) (*models.User, error) {
	if user, ok := u[id]; ok {
		return user, nil
	}
	return nil, sql.ErrNoRows
}

func (u memoryUsers) FindByEmail(_ context.Context, email string) (*models.User, error) {
	for _, user := range u {
		if user.Email == email {
			return user, nil
		}
	}
	return nil, sql.ErrNoRows
}

type recordingMailer struct {
	sent []mailer.Message
}

func (r *recordingMailer) Send(_ context.Context, msg mailer.Message) error {
	r.sent = append(r.sent, msg)
	return nil
}

type classFixture struct {
	repo     *memoryClassRepo
	users    memoryUsers
	mail     *recordingMailer
	notifier *recordingNotifier
	svc      *ClassService
	owner    models.Actor
	coTeach  models.Actor
	pupil    models.Actor
	admin    models.Actor
}

func newClassFixture(t *testing.T) (*classFixture, *models.Class) {
	t.Helper()
	f := &classFixture{
		repo:     newMemoryClassRepo(),
		mail:     &recordingMailer{},
		notifier: &recordingNotifier{},
		owner:    models.Actor{UserID: uuid.NewString(), Role: models.RoleUser},
		coTeach:  models.Actor{UserID: uuid.NewString(), Role: models.RoleUser},
		pupil:    models.Actor{UserID: uuid.NewString(), Role: models.RoleUser},
		admin:    models.Actor{UserID: uuid.NewString(), Role: models.RoleAdmin},
	}
	f.users = memoryUsers{
		f.owner.UserID:   {ID: f.owner.UserID, Email: "owner@school.test", Role: models.RoleUser},
		f.coTeach.UserID: {ID: f.coTeach.UserID, Email: "co@school.test", FullName: "Co Teacher", Role: models.RoleUser},
		f.pupil.UserID:   {ID: f.pupil.UserID, Email: "pupil@school.test", Role: models.RoleUser},
		f.admin.UserID:   {ID: f.admin.UserID, Email: "admin@school.test", Role: models.RoleAdmin},
	}
	f.svc = NewClassService(f.repo, f.users, f.mail, f.notifier, nil, nil, ClassServiceConfig{ClientURL: "https://grades.test"})
	class, err := f.svc.Create(context.Background(), f.owner, models.CreateClassRequest{Name: " Algebra ", Description: "Period 2"})
	require.NoError(t, err)
	return f, class
}

func TestClassCreate(t *testing.T) {
	f, class := newClassFixture(t)
	assert.Equal(t, "Algebra", class.Name)
	assert.Len(t, class.Code, defaultCodeLength)
	for _, r := range class.Code {
		assert.Contains(t, codeAlphabet, string(r))
	}

	member, err := f.repo.FindMember(context.Background(), class.ID, f.owner.UserID)
	require.NoError(t, err)
	assert.Equal(t, models.ClassRoleTeacher, member.Role)

	_, err = f.svc.CreateAsAdmin(context.Background(), models.CreateClassAsAdminRequest{TeacherID: f.admin.UserID, Name: "x"})
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	created, err := f.svc.CreateAsAdmin(context.Background(), models.CreateClassAsAdminRequest{TeacherID: f.coTeach.UserID, Name: "Geometry"})
	require.NoError(t, err)
	assert.Equal(t, f.coTeach.UserID, created.OwnerID)
}

func TestClassJoinWithCodeAndToken(t *testing.T) {
	f, class := newClassFixture(t)
	ctx := context.Background()

	joined, err := f.svc.JoinWithCode(ctx, f.pupil, models.JoinWithCodeRequest{Code: class.Code})
	require.NoError(t, err)
	assert.Equal(t, class.ID, joined.ID)
	_, err = f.svc.JoinWithCode(ctx, f.pupil, models.JoinWithCodeRequest{Code: class.Code})
	assert.ErrorIs(t, err, appErrors.ErrAlreadyMember)

	_, err = f.svc.CreateInviteToken(ctx, f.pupil, class.ID, models.InviteTokenRequest{Role: models.ClassRoleTeacher})
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	inv, err := f.svc.CreateInviteToken(ctx, f.owner, class.ID, models.InviteTokenRequest{Role: models.ClassRoleTeacher, ExpiresIn: 30})
	require.NoError(t, err)
	assert.Len(t, inv.Token, inviteTokenLength)

	_, err = f.svc.JoinWithToken(ctx, f.coTeach, models.JoinWithTokenRequest{Token: inv.Token})
	require.NoError(t, err)
	access, err := f.svc.Access(ctx, f.coTeach, class.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ClassRoleTeacher, access.Role())

	f.svc.now = func() time.Time { return time.Now().Add(time.Hour) }
	_, err = f.svc.JoinWithToken(ctx, f.admin, models.JoinWithTokenRequest{Token: inv.Token})
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = f.svc.JoinWithToken(ctx, f.admin, models.JoinWithTokenRequest{Token: "nope"})
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestClassInviteByEmail(t *testing.T) {
	f, class := newClassFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.InviteByEmail(ctx, f.owner, class.ID, models.InviteEmailRequest{Email: "CO@school.test", Role: models.ClassRoleTeacher}))
	require.Len(t, f.mail.sent, 1)
	assert.Equal(t, "co@school.test", f.mail.sent[0].ToEmail)
	assert.Contains(t, f.mail.sent[0].Text, "https://grades.test/classes/"+class.ID)
	assert.Equal(t, []string{f.coTeach.UserID}, f.notifier.last().UserIDs)
	assert.Equal(t, models.NotificationClassInvitation, f.notifier.last().Payload.Type)

	err := f.svc.InviteByEmail(ctx, f.owner, class.ID, models.InviteEmailRequest{Email: "admin@school.test", Role: models.ClassRoleStudent})
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	err = f.svc.InviteByEmail(ctx, f.owner, class.ID, models.InviteEmailRequest{Email: "ghost@school.test", Role: models.ClassRoleStudent})
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	err = f.svc.InviteByEmail(ctx, f.owner, class.ID, models.InviteEmailRequest{Email: "co@school.test", Role: models.ClassRoleStudent})
	assert.ErrorIs(t, err, appErrors.ErrAlreadyMember)
}

func TestClassKickRules(t *testing.T) {
	f, class := newClassFixture(t)
	ctx := context.Background()
	require.NoError(t, f.repo.AddMember(ctx, &models.ClassMember{ClassID: class.ID, UserID: f.coTeach.UserID, Role: models.ClassRoleTeacher}))
	require.NoError(t, f.repo.AddMember(ctx, &models.ClassMember{ClassID: class.ID, UserID: f.pupil.UserID, Role: models.ClassRoleStudent}))

	err := f.svc.Kick(ctx, f.owner, class.ID, models.KickRequest{UserID: f.owner.UserID})
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	err = f.svc.Kick(ctx, f.coTeach, class.ID, models.KickRequest{UserID: f.owner.UserID})
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	err = f.svc.Kick(ctx, f.pupil, class.ID, models.KickRequest{UserID: f.coTeach.UserID})
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	require.NoError(t, f.svc.Kick(ctx, f.coTeach, class.ID, models.KickRequest{UserID: f.pupil.UserID}))
	require.NoError(t, f.repo.AddMember(ctx, &models.ClassMember{ClassID: class.ID, UserID: f.pupil.UserID, Role: models.ClassRoleTeacher}))

	err = f.svc.Kick(ctx, f.coTeach, class.ID, models.KickRequest{UserID: f.pupil.UserID})
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	require.NoError(t, f.svc.Kick(ctx, f.owner, class.ID, models.KickRequest{UserID: f.coTeach.UserID}))
	require.NoError(t, f.svc.Kick(ctx, f.admin, class.ID, models.KickRequest{UserID: f.pupil.UserID}))

	err = f.svc.Kick(ctx, f.owner, class.ID, models.KickRequest{UserID: f.pupil.UserID})
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestClassLeave(t *testing.T) {
	f, class := newClassFixture(t)
	ctx := context.Background()
	_, err := f.svc.JoinWithCode(ctx, f.pupil, models.JoinWithCodeRequest{Code: class.Code})
	require.NoError(t, err)

	err = f.svc.Leave(ctx, f.owner, class.ID)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	require.NoError(t, f.svc.Leave(ctx, f.pupil, class.ID))
	err = f.svc.Leave(ctx, f.pupil, class.ID)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestClassSoftDeleteAndRestore(t *testing.T) {
	f, class := newClassFixture(t)
	ctx := context.Background()
	require.NoError(t, f.repo.AddMember(ctx, &models.ClassMember{ClassID: class.ID, UserID: f.coTeach.UserID, Role: models.ClassRoleTeacher}))

	err := f.svc.SoftDelete(ctx, f.coTeach, class.ID)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	require.NoError(t, f.svc.SoftDelete(ctx, f.owner, class.ID))
	_, err = f.svc.Get(ctx, f.owner, class.ID)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	err = f.svc.Restore(ctx, f.coTeach, class.ID)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
	require.NoError(t, f.svc.Restore(ctx, f.admin, class.ID))

	got, err := f.svc.Get(ctx, f.owner, class.ID)
	require.NoError(t, err)
	assert.Nil(t, got.DeletedAt)
}

func TestClassUpdateAndListing(t *testing.T) {
	f, class := newClassFixture(t)
	ctx := context.Background()
	_, err := f.svc.JoinWithCode(ctx, f.pupil, models.JoinWithCodeRequest{Code: class.Code})
	require.NoError(t, err)

	_, err = f.svc.Update(ctx, f.pupil, class.ID, models.UpdateClassRequest{Name: textPtr("Hacked")})
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	updated, err := f.svc.Update(ctx, f.owner, class.ID, models.UpdateClassRequest{Name: textPtr("Algebra II")})
	require.NoError(t, err)
	assert.Equal(t, "Algebra II", updated.Name)

	studentRole := models.ClassRoleStudent
	joined, err := f.svc.ListJoined(ctx, f.pupil, &studentRole)
	require.NoError(t, err)
	require.Len(t, joined, 1)
	assert.Equal(t, models.ClassRoleStudent, joined[0].Role)

	bad := models.ClassRole("PARENT")
	_, err = f.svc.ListJoined(ctx, f.pupil, &bad)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	members, err := f.svc.ListMembers(ctx, f.pupil, class.ID, nil)
	require.NoError(t, err)
	assert.Len(t, members, 2)

	teachers, err := f.svc.TeacherIDs(ctx, class.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{f.owner.UserID}, teachers)

	all, page, err := f.svc.ListAll(ctx, models.ClassFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Equal(t, 1, page.TotalCount)
}
