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

func TestFileCreateAssignsID(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewFileRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO files (id, path, mime_type, size_bytes, created_at)")).
		WithArgs(sqlmock.AnyArg(), "avatars/u1.png", "image/png", int64(512), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	file := &models.File{Path: "avatars/u1.png", MimeType: "image/png", SizeBytes: 512}
	require.NoError(t, repo.Create(context.Background(), file))
	assert.NotEmpty(t, file.ID)
	assert.False(t, file.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFileFindByID(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewFileRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM files WHERE id = $1")).
		WithArgs("f1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "path", "mime_type", "size_bytes", "created_at"}).
			AddRow("f1", "avatars/u1.png", "image/png", 512, time.Now()))

	file, err := repo.FindByID(context.Background(), "f1")
	require.NoError(t, err)
	assert.Equal(t, "avatars/u1.png", file.Path)

	mock.ExpectQuery("FROM files").WithArgs("missing").WillReturnError(sql.ErrNoRows)
	_, err = repo.FindByID(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}
