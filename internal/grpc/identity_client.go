package grpc

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"chat-realtime/internal/apperrors"
)

const validateTokenMethod = "/identity.v1.IdentityProvider/ValidateToken"

// IdentityClient validates bearer tokens against the identity provider.
type IdentityClient struct {
	conn grpc.ClientConnInterface
	cb   *gobreaker.CircuitBreaker
}

// NewIdentityClient constructs the client.
func NewIdentityClient(conn grpc.ClientConnInterface, log *zap.Logger) *IdentityClient {
	if log == nil {
		log = zap.NewNop()
	}
	return &IdentityClient{conn: conn, cb: newBreaker("identity", log)}
}

// ValidateToken verifies the token and returns the authenticated user id.
func (c *IdentityClient) ValidateToken(ctx context.Context, token string) (uuid.UUID, error) {
	out, err := c.cb.Execute(func() (any, error) {
		resp := new(wrapperspb.StringValue)
		if err := c.conn.Invoke(ctx, validateTokenMethod, wrapperspb.String(token), resp); err != nil {
			return nil, err
		}
		return resp, nil
	})
	if err != nil {
		return uuid.Nil, classify(err, "validate token")
	}
	id, err := uuid.Parse(out.(*wrapperspb.StringValue).GetValue())
	if err != nil || id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("validate token: %w", apperrors.ErrUnauthorized)
	}
	return id, nil
}
