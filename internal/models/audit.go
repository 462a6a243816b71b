package models

import (
	"encoding/json"
	"time"
)

// AuditAction names what happened to an audited resource.
type AuditAction string

const (
	AuditLogin          AuditAction = "LOGIN"
	AuditLogout         AuditAction = "LOGOUT"
	AuditRegister       AuditAction = "REGISTER"
	AuditTokenRefresh   AuditAction = "TOKEN_REFRESH"
	AuditPasswordChange AuditAction = "PASSWORD_CHANGE"
	AuditPasswordReset  AuditAction = "PASSWORD_RESET"

	AuditCreate   AuditAction = "CREATE"
	AuditUpdate   AuditAction = "UPDATE"
	AuditDelete   AuditAction = "DELETE"
	AuditRestore  AuditAction = "RESTORE"
	AuditKick     AuditAction = "KICK"
	AuditClear    AuditAction = "CLEAR"
	AuditUpload   AuditAction = "UPLOAD"
	AuditFinalize AuditAction = "FINALIZE"
	AuditDecide   AuditAction = "DECIDE"
)

// AuditResource is the kind of entity an audit entry refers to.
type AuditResource string

const (
	ResourceAuth        AuditResource = "auth"
	ResourceClass       AuditResource = "class"
	ResourceRoster      AuditResource = "roster"
	ResourceComposition AuditResource = "composition"
	ResourceGrades      AuditResource = "grades"
	ResourceReview      AuditResource = "review"
)

// AuditLog is one row of the audit trail. Details holds a small JSON document
// describing the outcome.
type AuditLog struct {
	ID         string        `db:"id" json:"id"`
	UserID     *string       `db:"user_id" json:"user_id,omitempty"`
	Action     AuditAction   `db:"action" json:"action"`
	Resource   AuditResource `db:"resource" json:"resource"`
	ResourceID *string       `db:"resource_id" json:"resource_id,omitempty"`
	Details    []byte        `db:"new_values" json:"details,omitempty"`
	IPAddress  string        `db:"ip_address" json:"ip_address"`
	UserAgent  string        `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time     `db:"created_at" json:"created_at"`
}

// NewAuditLog builds an entry for a user acting on their own account.
func NewAuditLog(userID string, action AuditAction, client ClientMeta, details map[string]string) *AuditLog {
	entry := &AuditLog{
		UserID:     &userID,
		Action:     action,
		Resource:   ResourceAuth,
		ResourceID: &userID,
		IPAddress:  client.IP,
		UserAgent:  client.UserAgent,
	}
	if len(details) > 0 {
		entry.Details, _ = json.Marshal(details)
	}
	return entry
}
