package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gradebook-api/internal/models"
)

var reviewRowColumns = []string{"id", "grade_id", "class_id", "requester_id", "ended_by", "explanation", "expected_grade", "current_grade", "final_grade", "status", "created_at", "updated_at"}

func TestDecideAcceptedOverwritesGrade(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewReviewRepository(db)

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE reviews r SET status = $2")).
		WithArgs("r1", models.ReviewStatusAccepted, 85, "teacher-1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(reviewRowColumns).AddRow("r1", "g1", "class-1", "student-1", "teacher-1", "please", 90, 80, 85, "ACCEPTED", now, now))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE grades SET value = $2 WHERE id = $1")).
		WithArgs("g1", 85).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	review, err := repo.Decide(context.Background(), models.ReviewDecision{
		ReviewID: "r1", GradeID: "g1", Status: models.ReviewStatusAccepted, FinalGrade: intPtr(85), EndedBy: "teacher-1", DecidedAt: now,
	})
	require.NoError(t, err)
	assert.Equal(t, models.ReviewStatusAccepted, review.Status)
	assert.Equal(t, 85, *review.FinalGrade)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDecideRejectedLeavesGrade(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewReviewRepository(db)

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE reviews r SET status").
		WillReturnRows(sqlmock.NewRows(reviewRowColumns).AddRow("r1", "g1", "class-1", "student-1", "teacher-1", "please", 90, 80, nil, "REJECTED", now, now))
	mock.ExpectCommit()

	review, err := repo.Decide(context.Background(), models.ReviewDecision{ReviewID: "r1", GradeID: "g1", Status: models.ReviewStatusRejected, EndedBy: "teacher-1", DecidedAt: now})
	require.NoError(t, err)
	assert.Equal(t, models.ReviewStatusRejected, review.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDecideNonPendingReturnsNoRows(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewReviewRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE reviews r SET status").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := repo.Decide(context.Background(), models.ReviewDecision{ReviewID: "r1", Status: models.ReviewStatusRejected, DecidedAt: time.Now()})
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReviewHasPending(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewReviewRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS(SELECT 1 FROM reviews WHERE grade_id = $1 AND status = 'PENDING')")).
		WithArgs("g1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	pending, err := repo.HasPending(context.Background(), "g1")
	require.NoError(t, err)
	assert.True(t, pending)
	assert.NoError(t, mock.ExpectationsWereMet())
}
