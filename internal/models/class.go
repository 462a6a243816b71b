package models

import "time"

// ClassRole is a membership role scoped to a single class.
type ClassRole string

const (
	ClassRoleTeacher ClassRole = "TEACHER"
	ClassRoleStudent ClassRole = "STUDENT"
)

// Valid reports whether the role is a known class role.
func (r ClassRole) Valid() bool {
	return r == ClassRoleTeacher || r == ClassRoleStudent
}

// Class groups members, a student roster and compositions.
type Class struct {
	ID          string     `db:"id" json:"id"`
	Name        string     `db:"name" json:"name"`
	Description string     `db:"description" json:"description"`
	Code        string     `db:"code" json:"code"`
	OwnerID     string     `db:"owner_id" json:"owner_id"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt   *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}

// ClassFilter narrows class listings.
type ClassFilter struct {
	Search         string
	IncludeDeleted bool
	Page           int
	PageSize       int
}

// ClassMember is a user's membership in a class.
type ClassMember struct {
	ID       string    `db:"id" json:"id"`
	ClassID  string    `db:"class_id" json:"class_id"`
	UserID   string    `db:"user_id" json:"user_id"`
	Role     ClassRole `db:"role" json:"role"`
	JoinedAt time.Time `db:"joined_at" json:"joined_at"`
}

// ClassMemberDetail joins a membership with its user.
type ClassMemberDetail struct {
	ClassMember
	Email    string `db:"email" json:"email"`
	FullName string `db:"full_name" json:"full_name"`
	IsOwner  bool   `db:"is_owner" json:"is_owner"`
}

// JoinedClass is a class listed together with the caller's role in it.
type JoinedClass struct {
	Class
	Role ClassRole `db:"role" json:"role"`
}

// Invitation is a token granting membership with a fixed role.
type Invitation struct {
	ID        string    `db:"id" json:"id"`
	ClassID   string    `db:"class_id" json:"class_id"`
	Token     string    `db:"token" json:"token"`
	Role      ClassRole `db:"role" json:"role"`
	ExpiredAt time.Time `db:"expired_at" json:"expired_at"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Expired reports whether the invitation can no longer be used.
func (i *Invitation) Expired(now time.Time) bool {
	return !now.Before(i.ExpiredAt)
}

// CreateClassRequest is the payload for creating a class.
type CreateClassRequest struct {
	Name        string `json:"name" validate:"required,min=1,max=120"`
	Description string `json:"description" validate:"max=500"`
}

// CreateClassAsAdminRequest creates a class owned by another user.
type CreateClassAsAdminRequest struct {
	TeacherID   string `json:"teacher_id" validate:"required,uuid4"`
	Name        string `json:"name" validate:"required,min=1,max=120"`
	Description string `json:"description" validate:"max=500"`
}

// UpdateClassRequest edits class metadata.
type UpdateClassRequest struct {
	Name        *string `json:"name" validate:"omitempty,min=1,max=120"`
	Description *string `json:"description" validate:"omitempty,max=500"`
}

// InviteTokenRequest asks for a shareable invitation token.
type InviteTokenRequest struct {
	Role      ClassRole `json:"role" validate:"required,oneof=TEACHER STUDENT"`
	ExpiresIn int       `json:"expires_in_minutes" validate:"omitempty,min=1,max=43200"`
}

// InviteEmailRequest invites a person by e-mail.
type InviteEmailRequest struct {
	Email string    `json:"email" validate:"required,email"`
	Role  ClassRole `json:"role" validate:"required,oneof=TEACHER STUDENT"`
}

// JoinWithTokenRequest redeems an invitation token.
type JoinWithTokenRequest struct {
	Token string `json:"token" validate:"required"`
}

// JoinWithCodeRequest joins a class by its public code as a student.
type JoinWithCodeRequest struct {
	Code string `json:"code" validate:"required"`
}

// KickRequest removes a member from a class.
type KickRequest struct {
	UserID string `json:"user_id" validate:"required,uuid4"`
}

// PermissionOptions parameterizes class and review permission checks.
// The zero value of AllowAdmin is replaced by true through DefaultPermissionOptions.
type PermissionOptions struct {
	// Role, when set, must equal the caller's class role.
	Role ClassRole
	// AllowAdmin lets global admins bypass every check.
	AllowAdmin bool
	// OnlyOwner restricts access to the class owner.
	OnlyOwner bool
}

// DefaultPermissionOptions returns AllowAdmin=true, OnlyOwner=false.
func DefaultPermissionOptions() PermissionOptions {
	return PermissionOptions{AllowAdmin: true}
}

// RequireRole is DefaultPermissionOptions with a class role requirement.
func RequireRole(role ClassRole) PermissionOptions {
	opts := DefaultPermissionOptions()
	opts.Role = role
	return opts
}
