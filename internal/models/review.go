package models

import "time"

// ReviewStatus is the lifecycle state of a review.
type ReviewStatus string

const (
	ReviewStatusPending  ReviewStatus = "PENDING"
	ReviewStatusAccepted ReviewStatus = "ACCEPTED"
	ReviewStatusRejected ReviewStatus = "REJECTED"
)

// Review is a student's dispute over a finalized grade.
type Review struct {
	ID            string       `db:"id" json:"id"`
	GradeID       string       `db:"grade_id" json:"grade_id"`
	ClassID       string       `db:"class_id" json:"class_id"`
	RequesterID   *string      `db:"requester_id" json:"requester_id"`
	EndedBy       *string      `db:"ended_by" json:"ended_by,omitempty"`
	Explanation   string       `db:"explanation" json:"explanation"`
	ExpectedGrade int          `db:"expected_grade" json:"expected_grade"`
	CurrentGrade  int          `db:"current_grade" json:"current_grade"`
	FinalGrade    *int         `db:"final_grade" json:"final_grade,omitempty"`
	Status        ReviewStatus `db:"status" json:"status"`
	CreatedAt     time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time    `db:"updated_at" json:"updated_at"`
}

// ReviewDetail adds grade and composition context to a review.
type ReviewDetail struct {
	Review
	StudentID       string `db:"student_id" json:"student_id"`
	CompositionID   string `db:"composition_id" json:"composition_id"`
	CompositionName string `db:"composition_name" json:"composition_name"`
}

// ReviewFilter narrows review listings of a class.
type ReviewFilter struct {
	ClassID string
	Status  *ReviewStatus
	// RequesterID limits the listing to one student's requests.
	RequesterID *string
	Page        int
	PageSize    int
}

// CreateReviewRequest opens a review on a grade.
type CreateReviewRequest struct {
	GradeID       string `json:"grade_id" validate:"required,uuid4"`
	Explanation   string `json:"explanation" validate:"required,max=2000"`
	ExpectedGrade int    `json:"expected_grade" validate:"min=0,max=100"`
}

// UpdateReviewStatusRequest resolves a review. FinalGrade is range checked
// only for ACCEPTED; a REJECTED decision records it as given.
type UpdateReviewStatusRequest struct {
	Status     ReviewStatus `json:"status" validate:"required,oneof=ACCEPTED REJECTED"`
	FinalGrade *int         `json:"final_grade"`
}

// ReviewDecision is what a repository applies when a review is resolved.
type ReviewDecision struct {
	ReviewID   string
	GradeID    string
	Status     ReviewStatus
	FinalGrade *int
	EndedBy    string
	DecidedAt  time.Time
}
