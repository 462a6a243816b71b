package storage

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestURLSignerSignAndVerify(t *testing.T) {
	signer := NewURLSigner("secret", time.Hour)
	token, expiresAt, err := signer.Sign("file-1", "avatars/u1.png")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	obj, err := signer.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "file-1", obj.FileID)
	require.Equal(t, "avatars/u1.png", obj.Key)
	require.Equal(t, expiresAt, obj.ExpiresAt)
}

func TestURLSignerExpired(t *testing.T) {
	signer := NewURLSigner("secret", time.Hour)
	token, _, err := signer.Sign("file-1", "avatars/u1.png")
	require.NoError(t, err)

	signer.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = signer.Verify(token)
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestURLSignerRejectsTampering(t *testing.T) {
	signer := NewURLSigner("secret", time.Hour)
	token, _, err := signer.Sign("file-1", "avatars/u1.png")
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	parts[0] = "file-2"
	_, err = signer.Verify(strings.Join(parts, "."))
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = NewURLSigner("other", time.Hour).Verify(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}
