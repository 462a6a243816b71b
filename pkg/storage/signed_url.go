package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidToken is returned for malformed or tampered download tokens.
	ErrInvalidToken = errors.New("invalid download token")
	// ErrTokenExpired is returned when a download token is past its expiry.
	ErrTokenExpired = errors.New("download token expired")
)

// SignedObject is the payload carried by a download token.
type SignedObject struct {
	FileID    string
	Key       string
	ExpiresAt time.Time
}

// URLSigner issues HMAC-signed, expiring download tokens for stored objects.
type URLSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewURLSigner constructs a signer with the provided secret and TTL.
func NewURLSigner(secret string, ttl time.Duration) *URLSigner {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &URLSigner{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Sign returns a token of the form fileID.expiry.key.signature.
func (s *URLSigner) Sign(fileID, key string) (string, time.Time, error) {
	if fileID == "" || key == "" {
		return "", time.Time{}, fmt.Errorf("file id and key required")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("signing secret missing")
	}
	expiresAt := s.now().Add(s.ttl)
	exp := strconv.FormatInt(expiresAt.Unix(), 10)
	encodedKey := base64.RawURLEncoding.EncodeToString([]byte(key))
	token := strings.Join([]string{fileID, exp, encodedKey, s.mac(fileID, exp, encodedKey)}, ".")
	return token, time.Unix(expiresAt.Unix(), 0), nil
}

// Verify checks the token signature and expiry.
func (s *URLSigner) Verify(token string) (*SignedObject, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 4 {
		return nil, ErrInvalidToken
	}
	fileID, exp, encodedKey, signature := parts[0], parts[1], parts[2], parts[3]

	if !hmac.Equal([]byte(s.mac(fileID, exp, encodedKey)), []byte(signature)) {
		return nil, ErrInvalidToken
	}
	expUnix, err := strconv.ParseInt(exp, 10, 64)
	if err != nil {
		return nil, ErrInvalidToken
	}
	rawKey, err := base64.RawURLEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, ErrInvalidToken
	}
	expiresAt := time.Unix(expUnix, 0)
	if !s.now().Before(expiresAt) {
		return nil, ErrTokenExpired
	}
	return &SignedObject{FileID: fileID, Key: string(rawKey), ExpiresAt: expiresAt}, nil
}

func (s *URLSigner) mac(fileID, exp, encodedKey string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(fileID + "|" + exp + "|" + encodedKey))
	return hex.EncodeToString(mac.Sum(nil))
}
