package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gradebook-api/internal/models"
)

type auditRecorder struct {
	entries []*models.AuditLog
}

func (r *auditRecorder) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	r.entries = append(r.entries, log)
	return nil
}

func TestAuditRecordsSuccessfulMutation(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := &auditRecorder{}
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(ContextUserKey, &models.JWTClaims{UserID: "teacher-1", Role: models.RoleUser})
		c.Next()
	})
	r.PATCH("/compositions/:id/finalize", Audit(rec, nil, models.AuditFinalize, models.ResourceComposition), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	r.DELETE("/compositions/:id", Audit(rec, nil, models.AuditDelete, models.ResourceComposition), func(c *gin.Context) {
		c.Status(http.StatusConflict)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPatch, "/compositions/c1/finalize", nil))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/compositions/c1", nil))

	require.Len(t, rec.entries, 1)
	entry := rec.entries[0]
	assert.Equal(t, models.AuditFinalize, entry.Action)
	require.NotNil(t, entry.ResourceID)
	assert.Equal(t, "c1", *entry.ResourceID)
	require.NotNil(t, entry.UserID)
	assert.Equal(t, "teacher-1", *entry.UserID)
}
