package handler

import (
	"context"
	"io"
	"net/http"
	"path"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/gradebook-api/internal/models"
	"github.com/noah-isme/gradebook-api/internal/service"
	appErrors "github.com/noah-isme/gradebook-api/pkg/errors"
	"github.com/noah-isme/gradebook-api/pkg/response"
)

type fileOpener interface {
	Get(ctx context.Context, id string) (*models.File, error)
	Open(ctx context.Context, token string) (io.ReadCloser, *models.File, error)
}

// FileHandler serves stored uploads through signed links.
type FileHandler struct {
	files fileOpener
}

// NewFileHandler constructs a file handler.
func NewFileHandler(files fileOpener) *FileHandler {
	return &FileHandler{files: files}
}

// Get godoc
// @Summary File metadata with a signed download link
// @Tags Files
// @Produce json
// @Param id path string true "File ID"
// @Success 200 {object} response.Envelope
// @Router /files/{id} [get]
func (h *FileHandler) Get(c *gin.Context) {
	file, err := h.files.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, file, nil)
}

// Download godoc
// @Summary Download a file by signed token
// @Tags Files
// @Produce octet-stream
// @Param token query string true "Signed token"
// @Success 200 {file} binary
// @Failure 403 {object} response.Envelope
// @Router /files/download [get]
func (h *FileHandler) Download(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	reader, file, err := h.files.Open(c.Request.Context(), token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer reader.Close()

	response.Inline(c, path.Base(file.Path), file.MimeType, file.SizeBytes, reader)
}

// uploadFromForm reads a multipart file field into a FileUpload. The returned
// func closes the underlying part.
func uploadFromForm(c *gin.Context, field string) (service.FileUpload, func(), bool) {
	header, err := c.FormFile(field)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, field+" is required"))
		return service.FileUpload{}, nil, false
	}
	f, err := header.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read upload"))
		return service.FileUpload{}, nil, false
	}
	upload := service.FileUpload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Reader:      f,
	}
	return upload, func() { _ = f.Close() }, true
}
