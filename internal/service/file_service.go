package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/gradebook-api/internal/models"
	appErrors "github.com/noah-isme/gradebook-api/pkg/errors"
	"github.com/noah-isme/gradebook-api/pkg/storage"
)

const sniffLength = 3072

var defaultAllowedMIMEs = []string{"image/png", "image/jpeg", "image/gif", "image/webp", "text/csv", "text/plain", "application/pdf"}

type fileRepository interface {
	Create(ctx context.Context, file *models.File) error
	FindByID(ctx context.Context, id string) (*models.File, error)
	Delete(ctx context.Context, id string) error
}

// FileUpload is an incoming multipart file.
type FileUpload struct {
	Filename    string
	ContentType string
	Size        int64
	Reader      io.Reader
}

// FileServiceConfig tunes upload validation.
type FileServiceConfig struct {
	MaxSizeBytes int64
	AllowedMIMEs []string
}

// FileService stores uploads in the object store and tracks them in the files table.
type FileService struct {
	repo    fileRepository
	store   storage.ObjectStore
	signer  *storage.URLSigner
	logger  *zap.Logger
	config  FileServiceConfig
	allowed map[string]struct{}
	now     func() time.Time
}

// NewFileService constructs a FileService.
func NewFileService(repo fileRepository, store storage.ObjectStore, signer *storage.URLSigner, logger *zap.Logger, cfg FileServiceConfig) *FileService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxSizeBytes <= 0 {
		cfg.MaxSizeBytes = 5 * 1024 * 1024
	}
	if len(cfg.AllowedMIMEs) == 0 {
		cfg.AllowedMIMEs = defaultAllowedMIMEs
	}
	allowed := make(map[string]struct{}, len(cfg.AllowedMIMEs))
	for _, m := range cfg.AllowedMIMEs {
		allowed[strings.ToLower(m)] = struct{}{}
	}
	return &FileService{repo: repo, store: store, signer: signer, logger: logger, config: cfg, allowed: allowed, now: time.Now}
}

// Create registers an object that already exists in the store under path.
func (s *FileService) Create(ctx context.Context, objectPath string) (*models.File, error) {
	objectPath = strings.TrimSpace(objectPath)
	if objectPath == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "path is required")
	}
	mime := "application/octet-stream"
	if detected := mimeFromExtension(objectPath); detected != "" {
		mime = detected
	}
	file := &models.File{Path: objectPath, MimeType: mime}
	if err := s.repo.Create(ctx, file); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create file")
	}
	return s.withURL(file), nil
}

// UploadAndCreate validates the upload, writes it to the store and records it.
func (s *FileService) UploadAndCreate(ctx context.Context, upload FileUpload) (*models.File, error) {
	if upload.Reader == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "file is required")
	}
	if upload.Size > s.config.MaxSizeBytes {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("file exceeds %d bytes", s.config.MaxSizeBytes))
	}

	header := make([]byte, sniffLength)
	n, err := io.ReadFull(upload.Reader, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "failed to read upload")
	}
	header = header[:n]
	if n == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "file is empty")
	}

	detected := mimetype.Detect(header)
	mime := baseMIME(detected.String())
	if !s.isAllowed(detected) {
		return nil, appErrors.Clone(appErrors.ErrUnsupportedMedia, fmt.Sprintf("file type %s is not allowed", mime))
	}

	ext := detected.Extension()
	if ext == "" {
		ext = path.Ext(upload.Filename)
	}
	id := uuid.NewString()
	key := fmt.Sprintf("%s/%s%s", s.now().UTC().Format("2006/01"), id, ext)

	body := io.MultiReader(bytes.NewReader(header), upload.Reader)
	if err := s.store.Put(ctx, key, body, upload.Size, mime); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store file")
	}

	size := upload.Size
	if size <= 0 {
		size = int64(n)
	}
	file := &models.File{ID: id, Path: key, MimeType: mime, SizeBytes: size}
	if err := s.repo.Create(ctx, file); err != nil {
		if delErr := s.store.Delete(ctx, key); delErr != nil {
			s.logger.Warn("failed to clean up orphaned object", zap.String("key", key), zap.Error(delErr))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create file")
	}
	return s.withURL(file), nil
}

// Get returns a file with a signed download URL.
func (s *FileService) Get(ctx context.Context, id string) (*models.File, error) {
	file, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "file not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load file")
	}
	return s.withURL(file), nil
}

// Open resolves a signed download token into a readable object.
func (s *FileService) Open(ctx context.Context, token string) (io.ReadCloser, *models.File, error) {
	if s.signer == nil {
		return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "downloads disabled")
	}
	signed, err := s.signer.Verify(token)
	if err != nil {
		if errors.Is(err, storage.ErrTokenExpired) {
			return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "download link expired")
		}
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "invalid download link")
	}
	file, err := s.Get(ctx, signed.FileID)
	if err != nil {
		return nil, nil, err
	}
	if file.Path != signed.Key {
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "invalid download link")
	}
	reader, err := s.store.Get(ctx, file.Path)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "file content missing")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open file")
	}
	return reader, file, nil
}

// Delete removes the stored object and then its record.
func (s *FileService) Delete(ctx context.Context, id string) error {
	file, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "file not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load file")
	}
	if err := s.store.Delete(ctx, file.Path); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete object")
	}
	if err := s.repo.Delete(ctx, id); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete file")
	}
	return nil
}

func (s *FileService) isAllowed(detected *mimetype.MIME) bool {
	for m := detected; m != nil; m = m.Parent() {
		if _, ok := s.allowed[baseMIME(m.String())]; ok {
			return true
		}
	}
	return false
}

func (s *FileService) withURL(file *models.File) *models.File {
	if s.signer == nil {
		return file
	}
	token, _, err := s.signer.Sign(file.ID, file.Path)
	if err != nil {
		s.logger.Debug("skip signing file url", zap.Error(err))
		return file
	}
	file.URL = "/api/v1/files/download?token=" + token
	return file
}

func baseMIME(m string) string {
	if i := strings.Index(m, ";"); i >= 0 {
		m = m[:i]
	}
	return strings.ToLower(strings.TrimSpace(m))
}

func mimeFromExtension(p string) string {
	switch strings.ToLower(path.Ext(p)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".csv":
		return "text/csv"
	case ".pdf":
		return "application/pdf"
	default:
		return ""
	}
}
