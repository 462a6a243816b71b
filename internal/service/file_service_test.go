package service

import (
	"bytes"
	"context"
	"database/sql"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gradebook-api/internal/models"
	appErrors "github.com/noah-isme/gradebook-api/pkg/errors"
	"github.com/noah-isme/gradebook-api/pkg/storage"
)

type memoryStore struct {
	objects map[string][]byte
	types   map[string]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memoryStore) Put(_ context.Context, key string, r io.Reader, _ int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.objects[key] = data
	m.types[key] = contentType
	return nil
}

func (m *memoryStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryStore) Delete(_ context.Context, key string) error {
	if _, ok := m.objects[key]; !ok {
		return storage.ErrObjectNotFound
	}
	delete(m.objects, key)
	return nil
}

type memoryFileRepo struct {
	files map[string]*models.File
}

func newMemoryFileRepo() *memoryFileRepo {
	return &memoryFileRepo{files: map[string]*models.File{}}
}

func (r *memoryFileRepo) Create(_ context.Context, file *models.File) error {
	if file.ID == "" {
		file.ID = "generated"
	}
	copied := *file
	r.files[file.ID] = &copied
	return nil
}

func (r *memoryFileRepo) FindByID(_ context.Context, id string) (*models.File, error) {
	f, ok := r.files[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *f
	return &copied, nil
}

func (r *memoryFileRepo) Delete(_ context.Context, id string) error {
	if _, ok := r.files[id]; !ok {
		return sql.ErrNoRows
	}
	delete(r.files, id)
	return nil
}

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 13, 'I', 'H', 'D', 'R'}

func newTestFileService(cfg FileServiceConfig) (*FileService, *memoryStore, *memoryFileRepo) {
	store := newMemoryStore()
	repo := newMemoryFileRepo()
	signer := storage.NewURLSigner("secret", time.Hour)
	return NewFileService(repo, store, signer, nil, cfg), store, repo
}

func TestFileServiceUploadAndCreate(t *testing.T) {
	svc, store, repo := newTestFileService(FileServiceConfig{})

	file, err := svc.UploadAndCreate(context.Background(), FileUpload{
		Filename: "avatar.png",
		Size:     int64(len(pngHeader)),
		Reader:   bytes.NewReader(pngHeader),
	})
	require.NoError(t, err)
	assert.Equal(t, "image/png", file.MimeType)
	assert.True(t, strings.HasSuffix(file.Path, ".png"))
	assert.Contains(t, file.URL, "token=")
	assert.Equal(t, pngHeader, store.objects[file.Path])
	assert.Contains(t, repo.files, file.ID)
}

func TestFileServiceRejectsOversizedUpload(t *testing.T) {
	svc, store, _ := newTestFileService(FileServiceConfig{MaxSizeBytes: 4})

	_, err := svc.UploadAndCreate(context.Background(), FileUpload{
		Filename: "avatar.png",
		Size:     int64(len(pngHeader)),
		Reader:   bytes.NewReader(pngHeader),
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.Empty(t, store.objects)
}

func TestFileServiceRejectsDisallowedType(t *testing.T) {
	svc, store, _ := newTestFileService(FileServiceConfig{AllowedMIMEs: []string{"image/png"}})

	_, err := svc.UploadAndCreate(context.Background(), FileUpload{
		Filename: "notes.txt",
		Size:     11,
		Reader:   strings.NewReader("hello world"),
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnsupportedMedia.Code, appErrors.FromError(err).Code)
	assert.Empty(t, store.objects)
}

func TestFileServiceOpenWithSignedURL(t *testing.T) {
	svc, _, _ := newTestFileService(FileServiceConfig{})
	ctx := context.Background()

	file, err := svc.UploadAndCreate(ctx, FileUpload{Filename: "a.png", Size: int64(len(pngHeader)), Reader: bytes.NewReader(pngHeader)})
	require.NoError(t, err)

	token := strings.TrimPrefix(file.URL, "/api/v1/files/download?token=")
	reader, opened, err := svc.Open(ctx, token)
	require.NoError(t, err)
	defer reader.Close()
	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, pngHeader, data)
	assert.Equal(t, file.ID, opened.ID)

	_, _, err = svc.Open(ctx, "garbage")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestFileServiceDelete(t *testing.T) {
	svc, store, repo := newTestFileService(FileServiceConfig{})
	ctx := context.Background()

	file, err := svc.UploadAndCreate(ctx, FileUpload{Filename: "a.png", Size: int64(len(pngHeader)), Reader: bytes.NewReader(pngHeader)})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, file.ID))
	assert.Empty(t, store.objects)
	assert.Empty(t, repo.files)

	err = svc.Delete(ctx, file.ID)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestFileServiceCreateFromPath(t *testing.T) {
	svc, _, _ := newTestFileService(FileServiceConfig{})

	file, err := svc.Create(context.Background(), "imports/roster.csv")
	require.NoError(t, err)
	assert.Equal(t, "text/csv", file.MimeType)

	_, err = svc.Create(context.Background(), "  ")
	require.Error(t, err)
}
