package service

import (
	"github.com/noah-isme/gradebook-api/internal/models"
	appErrors "github.com/noah-isme/gradebook-api/pkg/errors"
)

// Verdict is the result of a permission evaluation: allowed, or denied with a reason.
type Verdict struct {
	Allowed bool
	Reason  string
}

func allow() Verdict { return Verdict{Allowed: true} }

func deny(reason string) Verdict { return Verdict{Reason: reason} }

// Err converts a denial into a forbidden error.
func (v Verdict) Err() error {
	if v.Allowed {
		return nil
	}
	return appErrors.Clone(appErrors.ErrForbidden, v.Reason)
}

// ClassAccess is what a permission check knows about the caller and the class.
type ClassAccess struct {
	Actor  models.Actor
	Class  *models.Class
	Member *models.ClassMember
}

// Role returns the caller's class role, empty for non-members.
func (a *ClassAccess) Role() models.ClassRole {
	if a == nil || a.Member == nil {
		return ""
	}
	return a.Member.Role
}

// IsStudent reports whether the caller reads the class as a STUDENT member.
func (a *ClassAccess) IsStudent() bool {
	return a.Role() == models.ClassRoleStudent
}

// IsOwner reports whether the caller owns the class.
func (a *ClassAccess) IsOwner() bool {
	return a != nil && a.Class != nil && a.Class.OwnerID == a.Actor.UserID
}

// EvaluateClassPermission decides whether access satisfies opts.
func EvaluateClassPermission(access ClassAccess, opts models.PermissionOptions) Verdict {
	if opts.AllowAdmin && access.Actor.IsAdmin() {
		return allow()
	}
	if access.Member == nil {
		return deny("you are not in this class")
	}
	if opts.Role != "" && access.Member.Role != opts.Role {
		return deny("you are not allowed to do this action")
	}
	if opts.OnlyOwner && !access.IsOwner() {
		return deny("only the class owner can do this action")
	}
	return allow()
}

// ReviewAccess is what a permission check knows about the caller and a review.
type ReviewAccess struct {
	Actor  models.Actor
	Member *models.ClassMember
	Review *models.ReviewDetail
	// MappedStudentID is the roster entry linked to the caller in the review's class.
	MappedStudentID *string
}

// EvaluateReviewPermission applies the class rule and then, for STUDENT
// callers, requires them to be the mapped student and the original requester.
func EvaluateReviewPermission(access ReviewAccess, opts models.PermissionOptions) Verdict {
	if opts.AllowAdmin && access.Actor.IsAdmin() {
		return allow()
	}
	if access.Member == nil {
		return deny("you are not in this class")
	}
	if opts.Role != "" && access.Member.Role != opts.Role {
		return deny("you are not allowed to do this action")
	}
	if access.Member.Role != models.ClassRoleStudent {
		return allow()
	}
	if access.MappedStudentID == nil || access.Review == nil || *access.MappedStudentID != access.Review.StudentID {
		return deny("this review does not belong to your student id")
	}
	if access.Review.RequesterID == nil || *access.Review.RequesterID != access.Actor.UserID {
		return deny("you did not request this review")
	}
	return allow()
}
