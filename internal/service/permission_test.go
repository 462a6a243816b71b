package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/gradebook-api/internal/models"
)

func TestEvaluateClassPermission(t *testing.T) {
	class := &models.Class{ID: "c1", OwnerID: "owner"}
	teacherMember := &models.ClassMember{Role: models.ClassRoleTeacher}
	studentMember := &models.ClassMember{Role: models.ClassRoleStudent}
	onlyOwner := models.DefaultPermissionOptions()
	onlyOwner.OnlyOwner = true

	cases := []struct {
		name    string
		access  ClassAccess
		opts    models.PermissionOptions
		allowed bool
	}{
		{"admin bypass", ClassAccess{Actor: models.Actor{UserID: "a", Role: models.RoleAdmin}, Class: class}, models.RequireRole(models.ClassRoleTeacher), true},
		{"admin without bypass", ClassAccess{Actor: models.Actor{UserID: "a", Role: models.RoleAdmin}, Class: class}, models.PermissionOptions{}, false},
		{"non member", ClassAccess{Actor: models.Actor{UserID: "x"}, Class: class}, models.DefaultPermissionOptions(), false},
		{"any member", ClassAccess{Actor: models.Actor{UserID: "s"}, Class: class, Member: studentMember}, models.DefaultPermissionOptions(), true},
		{"role mismatch", ClassAccess{Actor: models.Actor{UserID: "s"}, Class: class, Member: studentMember}, models.RequireRole(models.ClassRoleTeacher), false},
		{"teacher role", ClassAccess{Actor: models.Actor{UserID: "t"}, Class: class, Member: teacherMember}, models.RequireRole(models.ClassRoleTeacher), true},
		{"teacher not owner", ClassAccess{Actor: models.Actor{UserID: "t"}, Class: class, Member: teacherMember}, onlyOwner, false},
		{"owner", ClassAccess{Actor: models.Actor{UserID: "owner"}, Class: class, Member: teacherMember}, onlyOwner, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			verdict := EvaluateClassPermission(tc.access, tc.opts)
			assert.Equal(t, tc.allowed, verdict.Allowed)
			if tc.allowed {
				assert.NoError(t, verdict.Err())
			} else {
				assert.NotEmpty(t, verdict.Reason)
				assert.Error(t, verdict.Err())
			}
		})
	}
}

func TestEvaluateReviewPermission(t *testing.T) {
	requester := "student-user"
	review := &models.ReviewDetail{Review: models.Review{RequesterID: &requester}, StudentID: "S1"}
	studentMember := &models.ClassMember{Role: models.ClassRoleStudent}
	teacherMember := &models.ClassMember{Role: models.ClassRoleTeacher}
	s1, s2 := "S1", "S2"

	cases := []struct {
		name    string
		access  ReviewAccess
		opts    models.PermissionOptions
		allowed bool
	}{
		{"requester", ReviewAccess{Actor: models.Actor{UserID: requester}, Member: studentMember, Review: review, MappedStudentID: &s1}, models.DefaultPermissionOptions(), true},
		{"other student id", ReviewAccess{Actor: models.Actor{UserID: requester}, Member: studentMember, Review: review, MappedStudentID: &s2}, models.DefaultPermissionOptions(), false},
		{"unmapped student", ReviewAccess{Actor: models.Actor{UserID: requester}, Member: studentMember, Review: review}, models.DefaultPermissionOptions(), false},
		{"mapped but not requester", ReviewAccess{Actor: models.Actor{UserID: "someone"}, Member: studentMember, Review: review, MappedStudentID: &s1}, models.DefaultPermissionOptions(), false},
		{"teacher", ReviewAccess{Actor: models.Actor{UserID: "t"}, Member: teacherMember, Review: review}, models.RequireRole(models.ClassRoleTeacher), true},
		{"student deciding", ReviewAccess{Actor: models.Actor{UserID: requester}, Member: studentMember, Review: review, MappedStudentID: &s1}, models.RequireRole(models.ClassRoleTeacher), false},
		{"outsider", ReviewAccess{Actor: models.Actor{UserID: "x"}, Review: review}, models.DefaultPermissionOptions(), false},
		{"admin", ReviewAccess{Actor: models.Actor{UserID: "a", Role: models.RoleAdmin}, Review: review}, models.RequireRole(models.ClassRoleTeacher), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.allowed, EvaluateReviewPermission(tc.access, tc.opts).Allowed)
		})
	}
}
