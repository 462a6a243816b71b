package service

import (
	"errors"
	"fmt"

	googleAuthIDTokenVerifier "github.com/futurenda/google-auth-id-token-verifier"
)

// GoogleIdentity is the subset of Google ID token claims used for sign-in.
type GoogleIdentity struct {
	Subject string
	Email   string
	Name    string
}

// GoogleVerifier checks a Google ID token and extracts the identity.
type GoogleVerifier interface {
	Verify(idToken string) (*GoogleIdentity, error)
}

type googleIDTokenVerifier struct {
	clientIDs []string
	verifier  googleAuthIDTokenVerifier.Verifier
}

// NewGoogleVerifier returns a verifier accepting tokens issued for clientID, or
// nil when no client ID is configured.
func NewGoogleVerifier(clientID string) GoogleVerifier {
	if clientID == "" {
		return nil
	}
	return &googleIDTokenVerifier{clientIDs: []string{clientID}}
}

func (v *googleIDTokenVerifier) Verify(idToken string) (*GoogleIdentity, error) {
	if err := v.verifier.VerifyIDToken(idToken, v.clientIDs); err != nil {
		return nil, fmt.Errorf("verify id token: %w", err)
	}
	claims, err := googleAuthIDTokenVerifier.Decode(idToken)
	if err != nil {
		return nil, fmt.Errorf("decode id token: %w", err)
	}
	if claims.Sub == "" || claims.Email == "" {
		return nil, errors.New("id token missing subject or email")
	}
	return &GoogleIdentity{Subject: claims.Sub, Email: claims.Email, Name: claims.Name}, nil
}
