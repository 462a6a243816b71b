package models

import "time"

// UserRole is the global role used by the RBAC middleware.
type UserRole string

const (
	RoleUser  UserRole = "USER"
	RoleAdmin UserRole = "ADMIN"
)

// User represents an application user stored in the users table.
type User struct {
	ID           string     `db:"id" json:"id"`
	Email        string     `db:"email" json:"email"`
	PasswordHash *string    `db:"password_hash" json:"-"`
	FullName     string     `db:"full_name" json:"full_name"`
	Role         UserRole   `db:"role" json:"role"`
	Active       bool       `db:"active" json:"active"`
	GoogleID     *string    `db:"google_id" json:"-"`
	AvatarID     *string    `db:"avatar_id" json:"avatar_id,omitempty"`
	LastLogin    *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// Actor is the authenticated caller of a service operation.
type Actor struct {
	UserID string
	Role   UserRole
}

// IsAdmin reports whether the actor holds the global ADMIN role.
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// HasPassword reports whether the account can sign in with a password.
func (u *User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}

// PageRequest carries paging input shared by list endpoints.
type PageRequest struct {
	Page     int
	PageSize int
}

// Normalize applies defaults and returns the limit and offset.
func (p PageRequest) Normalize() (page, size, offset int) {
	page = p.Page
	if page < 1 {
		page = 1
	}
	size = p.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	return page, size, (page - 1) * size
}
