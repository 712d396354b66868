// Package auth validates bearer tokens for the ops API.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Authenticator errors.
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrEmptySecret  = errors.New("token secret is required")
)

// Config holds authenticator configuration.
type Config struct {
	SecretKey string
}

// Authenticator validates HMAC-signed access tokens. Token issuance is
// an operator concern (tokens are minted out of band with the shared
// secret); this process only verifies them.
type Authenticator struct {
	secret []byte
}

// NewAuthenticator creates a token authenticator.
func NewAuthenticator(cfg Config) (*Authenticator, error) {
	if cfg.SecretKey == "" {
		return nil, ErrEmptySecret
	}
	return &Authenticator{secret: []byte(cfg.SecretKey)}, nil
}

// ValidateToken verifies the token signature and expiry and returns the
// token subject.
func (a *Authenticator) ValidateToken(_ context.Context, token string) (string, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return "", ErrInvalidToken
	}

	subject, err := parsed.Claims.GetSubject()
	if err != nil || subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	return subject, nil
}
