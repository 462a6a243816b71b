package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRefreshTokenActive(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.True(t, (&RefreshToken{ExpiresAt: now.Add(time.Hour)}).Active(now))
	assert.False(t, (&RefreshToken{ExpiresAt: now.Add(-time.Second)}).Active(now))
	assert.False(t, (&RefreshToken{ExpiresAt: now.Add(time.Hour), Revoked: true}).Active(now))

	var missing *RefreshToken
	assert.False(t, missing.Active(now))
}
