package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENV", "")
	t.Setenv("STORAGE_DRIVER", "MINIO")
	t.Setenv("GRADE_BOARD_CACHE_TTL", "not-a-duration")
	t.Setenv("ALLOWED_ORIGINS", "http://a.test, ,http://b.test")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StorageDriverMinIO, cfg.Storage.Driver)
	assert.Equal(t, 5*time.Minute, cfg.GradeBoard.CacheTTL)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORS.AllowedOrigins)
	assert.Equal(t, 6, cfg.Classes.JoinCodeLength)
	assert.Equal(t, "/api/v1", cfg.APIPrefix)
}

func TestParseDuration(t *testing.T) {
	assert.Equal(t, time.Minute, parseDuration("", time.Minute))
	assert.Equal(t, 90*time.Second, parseDuration("90s", time.Minute))
	assert.Equal(t, time.Minute, parseDuration("bogus", time.Minute))
}
