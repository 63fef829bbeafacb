package identity

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-realtime/internal/apperrors"
)

func TestIssueAndValidate(t *testing.T) {
	p := NewJWTProvider("s3cret")
	user := uuid.New()
	token, err := p.Issue(user, time.Hour)
	require.NoError(t, err)

	got, err := p.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, user, got)
}

func TestRejectsBadTokens(t *testing.T) {
	p := NewJWTProvider("s3cret")
	user := uuid.New()

	expired, err := p.Issue(user, -time.Minute)
	require.NoError(t, err)
	other, err := NewJWTProvider("other").Issue(user, time.Hour)
	require.NoError(t, err)
	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "alice"}).SignedString([]byte("s3cret"))
	require.NoError(t, err)

	for name, token := range map[string]string{
		"expired":     expired,
		"wrong key":   other,
		"bad subject": noSubject,
		"garbage":     "abc.def.ghi",
	} {
		_, err := p.ValidateToken(context.Background(), token)
		assert.ErrorIs(t, err, apperrors.ErrUnauthorized, name)
	}
}

func TestParseBearer(t *testing.T) {
	token, err := ParseBearer("Bearer abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", token)

	token, err = ParseBearer("bearer xyz")
	require.NoError(t, err)
	assert.Equal(t, "xyz", token)

	for _, h := range []string{"", "Basic abc", "Bearer", "Bearer "} {
		_, err := ParseBearer(h)
		assert.ErrorIs(t, err, apperrors.ErrUnauthorized, h)
	}
}
