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

func TestCreateManyFillsDefaults(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewNotificationRepository(db)

	mock.ExpectExec("INSERT INTO notifications").WillReturnResult(sqlmock.NewResult(0, 2))

	notifications := []models.Notification{
		{UserID: "u1", Title: "t", Type: models.NotificationComment},
		{UserID: "u2", Title: "t", Type: models.NotificationComment},
	}
	require.NoError(t, repo.CreateMany(context.Background(), notifications))
	assert.NotEmpty(t, notifications[0].ID)
	assert.Equal(t, "{}", string(notifications[1].Data))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateManyEmptyIsNoop(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewNotificationRepository(db)

	require.NoError(t, repo.CreateMany(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListByUser(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewNotificationRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM notifications WHERE user_id = $1 ORDER BY created_at DESC LIMIT 20 OFFSET 0")).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "title", "description", "type", "data", "seen", "created_at"}).
			AddRow("n1", "u1", "Final finalized", "", "GRADE_COMPOSITION_FINALIZED", []byte(`{"composition_id":"c1"}`), false, now))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM notifications WHERE user_id = $1")).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	items, total, err := repo.ListByUser(context.Background(), "u1", models.PageRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, items, 1)
	assert.JSONEq(t, `{"composition_id":"c1"}`, string(items[0].Data))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkSeenForeignNotification(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewNotificationRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE notifications SET seen = TRUE WHERE id = $1 AND user_id = $2")).
		WithArgs("n1", "u2").
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, repo.MarkSeen(context.Background(), "u2", "n1"), sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}
