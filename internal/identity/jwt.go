// Package identity validates bearer tokens.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"chat-realtime/internal/apperrors"
)

// Provider resolves a bearer token to a user id.
type Provider interface {
	ValidateToken(ctx context.Context, token string) (uuid.UUID, error)
}

// Claims carries the user id in the subject.
type Claims struct {
	jwt.RegisteredClaims
}

// JWTProvider validates HMAC-signed tokens locally.
type JWTProvider struct {
	secret []byte
}

// NewJWTProvider builds a provider for tokens signed with secret.
func NewJWTProvider(secret string) *JWTProvider {
	return &JWTProvider{secret: []byte(secret)}
}

// ValidateToken checks signature and expiry and returns the subject.
func (p *JWTProvider) ValidateToken(_ context.Context, token string) (uuid.UUID, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return p.secret, nil
	})
	if err != nil || !parsed.Valid {
		return uuid.Nil, fmt.Errorf("parse token: %w", apperrors.ErrUnauthorized)
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("token subject: %w", apperrors.ErrUnauthorized)
	}
	return id, nil
}

// Issue signs a token for userID. Used by tooling and tests.
func (p *JWTProvider) Issue(userID uuid.UUID, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
}

// ParseBearer extracts the token from an Authorization header value.
func ParseBearer(header string) (string, error) {
	if header == "" {
		return "", fmt.Errorf("missing authorization: %w", apperrors.ErrUnauthorized)
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
		return "", fmt.Errorf("invalid authorization header: %w", apperrors.ErrUnauthorized)
	}
	return parts[1], nil
}
