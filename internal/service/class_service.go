package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/gradebook-api/internal/models"
	"github.com/noah-isme/gradebook-api/internal/repository"
	appErrors "github.com/noah-isme/gradebook-api/pkg/errors"
	"github.com/noah-isme/gradebook-api/pkg/mailer"
)

const (
	codeAlphabet        = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	inviteTokenLength   = 32
	maxCodeAttempts     = 10
	defaultCodeLength   = 6
	defaultInviteExpiry = 7 * 24 * time.Hour
)

type classRepository interface {
	CreateWithOwner(ctx context.Context, class *models.Class) error
	CodeExists(ctx context.Context, code string) (bool, error)
	FindByID(ctx context.Context, id string, includeDeleted bool) (*models.Class, error)
	FindByCode(ctx context.Context, code string) (*models.Class, error)
	ListOwned(ctx context.Context, ownerID string) ([]models.Class, error)
	ListJoined(ctx context.Context, userID string, role *models.ClassRole) ([]models.JoinedClass, error)
	List(ctx context.Context, filter models.ClassFilter) ([]models.Class, int, error)
	Update(ctx context.Context, class *models.Class) error
	SetDeleted(ctx context.Context, id string, deleted bool) error
	FindMember(ctx context.Context, classID, userID string) (*models.ClassMember, error)
	AddMember(ctx context.Context, member *models.ClassMember) error
	RemoveMember(ctx context.Context, classID, userID string) error
	ListMembers(ctx context.Context, classID string, role *models.ClassRole) ([]models.ClassMemberDetail, error)
	ListMemberIDs(ctx context.Context, classID string, role models.ClassRole) ([]string, error)
	CreateInvitation(ctx context.Context, inv *models.Invitation) error
	FindInvitation(ctx context.Context, token string) (*models.Invitation, error)
}

type userFinder interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
}

// ClassServiceConfig holds class tunables.
type ClassServiceConfig struct {
	JoinCodeLength int
	InviteTTL      time.Duration
	ClientURL      string
}

// ClassService manages classes, their membership and class-scoped permissions.
type ClassService struct {
	repo      classRepository
	users     userFinder
	mail      mailer.Mailer
	notifier  notifier
	validator *validator.Validate
	logger    *zap.Logger
	config    ClassServiceConfig
	now       func() time.Time
}

// NewClassService constructs ClassService.
func NewClassService(repo classRepository, users userFinder, mail mailer.Mailer, notifier notifier, validate *validator.Validate, logger *zap.Logger, cfg ClassServiceConfig) *ClassService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.JoinCodeLength <= 0 {
		cfg.JoinCodeLength = defaultCodeLength
	}
	if cfg.InviteTTL <= 0 {
		cfg.InviteTTL = defaultInviteExpiry
	}
	return &ClassService{repo: repo, users: users, mail: mail, notifier: notifier, validator: validate, logger: logger, config: cfg, now: time.Now}
}

// Access loads the class and the caller's membership without evaluating a rule.
func (s *ClassService) Access(ctx context.Context, actor models.Actor, classID string) (*ClassAccess, error) {
	class, err := s.repo.FindByID(ctx, classID, false)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	member, err := s.repo.FindMember(ctx, classID, actor.UserID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load membership")
	}
	return &ClassAccess{Actor: actor, Class: class, Member: member}, nil
}

// ValidatePermission loads the caller's access to a class and evaluates opts against it.
func (s *ClassService) ValidatePermission(ctx context.Context, actor models.Actor, classID string, opts models.PermissionOptions) (*ClassAccess, error) {
	access, err := s.Access(ctx, actor, classID)
	if err != nil {
		return nil, err
	}
	if err := EvaluateClassPermission(*access, opts).Err(); err != nil {
		return nil, err
	}
	return access, nil
}

// Create makes a class owned by the caller, who joins it as TEACHER.
func (s *ClassService) Create(ctx context.Context, actor models.Actor, req models.CreateClassRequest) (*models.Class, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid class payload")
	}
	return s.createOwned(ctx, actor.UserID, req.Name, req.Description)
}

// CreateAsAdmin creates a class on behalf of a regular user.
func (s *ClassService) CreateAsAdmin(ctx context.Context, req models.CreateClassAsAdminRequest) (*models.Class, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid class payload")
	}
	owner, err := s.users.FindByID(ctx, req.TeacherID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	if owner.Role == models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "admins cannot own classes")
	}
	return s.createOwned(ctx, owner.ID, req.Name, req.Description)
}

func (s *ClassService) createOwned(ctx context.Context, ownerID, name, description string) (*models.Class, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := randomString(s.config.JoinCodeLength)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate class code")
		}
		taken, err := s.repo.CodeExists(ctx, code)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check class code")
		}
		if taken {
			continue
		}
		class := &models.Class{
			Name:        strings.TrimSpace(name),
			Description: strings.TrimSpace(description),
			Code:        code,
			OwnerID:     ownerID,
		}
		if err := s.repo.CreateWithOwner(ctx, class); err != nil {
			if repository.IsUniqueViolation(err) {
				continue
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create class")
		}
		s.logger.Info("class created", zap.String("class_id", class.ID), zap.String("owner_id", ownerID))
		return class, nil
	}
	return nil, appErrors.Clone(appErrors.ErrInternal, "could not allocate a class code")
}

// Get returns a class visible to the caller.
func (s *ClassService) Get(ctx context.Context, actor models.Actor, classID string) (*models.Class, error) {
	access, err := s.ValidatePermission(ctx, actor, classID, models.DefaultPermissionOptions())
	if err != nil {
		return nil, err
	}
	return access.Class, nil
}

// ListOwned returns the caller's own classes.
func (s *ClassService) ListOwned(ctx context.Context, actor models.Actor) ([]models.Class, error) {
	classes, err := s.repo.ListOwned(ctx, actor.UserID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list classes")
	}
	return classes, nil
}

// ListJoined returns the classes the caller belongs to, optionally by role.
func (s *ClassService) ListJoined(ctx context.Context, actor models.Actor, role *models.ClassRole) ([]models.JoinedClass, error) {
	if role != nil && !role.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid class role")
	}
	classes, err := s.repo.ListJoined(ctx, actor.UserID, role)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list classes")
	}
	return classes, nil
}

// ListAll returns every class for administrators.
func (s *ClassService) ListAll(ctx context.Context, filter models.ClassFilter) ([]models.Class, *models.Pagination, error) {
	classes, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list classes")
	}
	page, size, _ := models.PageRequest{Page: filter.Page, PageSize: filter.PageSize}.Normalize()
	return classes, newPagination(page, size, total), nil
}

// Update edits class metadata. Teachers of the class may update it.
func (s *ClassService) Update(ctx context.Context, actor models.Actor, classID string, req models.UpdateClassRequest) (*models.Class, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid class payload")
	}
	access, err := s.ValidatePermission(ctx, actor, classID, models.RequireRole(models.ClassRoleTeacher))
	if err != nil {
		return nil, err
	}
	class := access.Class
	if req.Name != nil {
		class.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		class.Description = strings.TrimSpace(*req.Description)
	}
	if err := s.repo.Update(ctx, class); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update class")
	}
	return class, nil
}

// SoftDelete hides a class. Only its owner or an admin may delete it.
func (s *ClassService) SoftDelete(ctx context.Context, actor models.Actor, classID string) error {
	opts := models.DefaultPermissionOptions()
	opts.OnlyOwner = true
	if _, err := s.ValidatePermission(ctx, actor, classID, opts); err != nil {
		return err
	}
	return s.setDeleted(ctx, classID, true)
}

// Restore brings back a soft-deleted class. Only its owner or an admin may restore it.
func (s *ClassService) Restore(ctx context.Context, actor models.Actor, classID string) error {
	class, err := s.repo.FindByID(ctx, classID, true)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	if !actor.IsAdmin() && class.OwnerID != actor.UserID {
		return appErrors.Clone(appErrors.ErrForbidden, "only the class owner can do this action")
	}
	return s.setDeleted(ctx, classID, false)
}

func (s *ClassService) setDeleted(ctx context.Context, classID string, deleted bool) error {
	if err := s.repo.SetDeleted(ctx, classID, deleted); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update class")
	}
	return nil
}

// CreateInviteToken issues a shareable invitation granting role.
func (s *ClassService) CreateInviteToken(ctx context.Context, actor models.Actor, classID string, req models.InviteTokenRequest) (*models.Invitation, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid invitation payload")
	}
	if _, err := s.ValidatePermission(ctx, actor, classID, models.RequireRole(models.ClassRoleTeacher)); err != nil {
		return nil, err
	}
	ttl := s.config.InviteTTL
	if req.ExpiresIn > 0 {
		ttl = time.Duration(req.ExpiresIn) * time.Minute
	}
	token, err := randomString(inviteTokenLength)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate invitation")
	}
	inv := &models.Invitation{ClassID: classID, Token: token, Role: req.Role, ExpiredAt: s.now().UTC().Add(ttl)}
	if err := s.repo.CreateInvitation(ctx, inv); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create invitation")
	}
	return inv, nil
}

// InviteByEmail adds a registered user to the class and lets them know by
// e-mail and notification. The e-mail goes out asynchronously.
func (s *ClassService) InviteByEmail(ctx context.Context, actor models.Actor, classID string, req models.InviteEmailRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid invitation payload")
	}
	access, err := s.ValidatePermission(ctx, actor, classID, models.RequireRole(models.ClassRoleTeacher))
	if err != nil {
		return err
	}
	invitee, err := s.users.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	if invitee == nil || invitee.Role == models.RoleAdmin {
		return appErrors.Clone(appErrors.ErrValidation, "this user is not found or cannot be invited")
	}
	if err := s.join(ctx, invitee.ID, classID, req.Role); err != nil {
		return err
	}

	className := access.Class.Name
	if s.notifier != nil {
		s.notifier.Notify(ctx, invitee.ID, models.NotificationPayload{
			Title:       "Class invitation",
			Description: fmt.Sprintf("You were added to %s as %s", className, strings.ToLower(string(req.Role))),
			Type:        models.NotificationClassInvitation,
			Data:        map[string]interface{}{"class_id": classID, "role": req.Role},
		})
	}
	if s.mail != nil {
		link := fmt.Sprintf("%s/classes/%s", s.config.ClientURL, classID)
		msg := mailer.Message{
			ToName:  invitee.FullName,
			ToEmail: invitee.Email,
			Subject: fmt.Sprintf("You have been added to %s", className),
			Text:    fmt.Sprintf("You are now a %s of %s. Open the class: %s", strings.ToLower(string(req.Role)), className, link),
			HTML:    fmt.Sprintf(`<p>You are now a %s of <strong>%s</strong>.</p><p><a href="%s">Open the class</a></p>`, strings.ToLower(string(req.Role)), className, link),
		}
		if err := s.mail.Send(ctx, msg); err != nil {
			s.logger.Warn("class invitation mail failed", zap.String("class_id", classID), zap.String("user_id", invitee.ID), zap.Error(err))
		}
	}
	return nil
}

// JoinWithToken redeems an invitation.
func (s *ClassService) JoinWithToken(ctx context.Context, actor models.Actor, req models.JoinWithTokenRequest) (*models.Class, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid join payload")
	}
	inv, err := s.repo.FindInvitation(ctx, req.Token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "invitation token is invalid")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load invitation")
	}
	if inv.Expired(s.now()) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invitation token has expired")
	}
	class, err := s.repo.FindByID(ctx, inv.ClassID, false)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	if err := s.join(ctx, actor.UserID, class.ID, inv.Role); err != nil {
		return nil, err
	}
	return class, nil
}

// JoinWithCode joins a class as STUDENT through its public code.
func (s *ClassService) JoinWithCode(ctx context.Context, actor models.Actor, req models.JoinWithCodeRequest) (*models.Class, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid join payload")
	}
	class, err := s.repo.FindByCode(ctx, strings.TrimSpace(req.Code))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	if err := s.join(ctx, actor.UserID, class.ID, models.ClassRoleStudent); err != nil {
		return nil, err
	}
	return class, nil
}

func (s *ClassService) join(ctx context.Context, userID, classID string, role models.ClassRole) error {
	existing, err := s.repo.FindMember(ctx, classID, userID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load membership")
	}
	if existing != nil {
		return appErrors.ErrAlreadyMember
	}
	if err := s.repo.AddMember(ctx, &models.ClassMember{ClassID: classID, UserID: userID, Role: role}); err != nil {
		if repository.IsUniqueViolation(err) {
			return appErrors.ErrAlreadyMember
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to join class")
	}
	return nil
}

// Leave removes the caller from a class and clears their roster mapping.
func (s *ClassService) Leave(ctx context.Context, actor models.Actor, classID string) error {
	access, err := s.Access(ctx, actor, classID)
	if err != nil {
		return err
	}
	if access.Member == nil {
		return appErrors.Clone(appErrors.ErrForbidden, "you are not in this class")
	}
	if access.IsOwner() {
		return appErrors.Clone(appErrors.ErrValidation, "you cannot leave your own class")
	}
	return s.removeMember(ctx, classID, actor.UserID)
}

// Kick removes another member. Only the owner may remove teachers.
func (s *ClassService) Kick(ctx context.Context, actor models.Actor, classID string, req models.KickRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid kick payload")
	}
	if req.UserID == actor.UserID {
		return appErrors.Clone(appErrors.ErrValidation, "you cannot kick yourself")
	}
	access, err := s.ValidatePermission(ctx, actor, classID, models.RequireRole(models.ClassRoleTeacher))
	if err != nil {
		return err
	}
	target, err := s.repo.FindMember(ctx, classID, req.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "member not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load membership")
	}
	if target.UserID == access.Class.OwnerID {
		return appErrors.Clone(appErrors.ErrValidation, "you cannot kick the owner")
	}
	if target.Role == models.ClassRoleTeacher && !access.IsOwner() && !actor.IsAdmin() {
		return appErrors.Clone(appErrors.ErrForbidden, "only the owner can kick teachers")
	}
	return s.removeMember(ctx, classID, req.UserID)
}

func (s *ClassService) removeMember(ctx context.Context, classID, userID string) error {
	if err := s.repo.RemoveMember(ctx, classID, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "member not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to remove member")
	}
	return nil
}

// ListMembers returns the members of a class, optionally filtered by role.
func (s *ClassService) ListMembers(ctx context.Context, actor models.Actor, classID string, role *models.ClassRole) ([]models.ClassMemberDetail, error) {
	if role != nil && !role.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid class role")
	}
	if _, err := s.ValidatePermission(ctx, actor, classID, models.DefaultPermissionOptions()); err != nil {
		return nil, err
	}
	members, err := s.repo.ListMembers(ctx, classID, role)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list members")
	}
	return members, nil
}

// TeacherIDs returns the user IDs of every teacher of a class.
func (s *ClassService) TeacherIDs(ctx context.Context, classID string) ([]string, error) {
	ids, err := s.repo.ListMemberIDs(ctx, classID, models.ClassRoleTeacher)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list teachers")
	}
	return ids, nil
}

// randomString draws n characters from codeAlphabet using crypto/rand.
func randomString(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(out), nil
}
