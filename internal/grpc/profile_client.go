package grpc

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"chat-realtime/internal/models"
)

const (
	batchGetProfilesMethod = "/profiles.v1.ProfileDirectory/BatchGetProfiles"
	searchProfilesMethod   = "/profiles.v1.ProfileDirectory/SearchProfiles"
)

// ProfileClient reads the profile directory. Both calls are reads and are retried
// with backoff inside the circuit breaker.
type ProfileClient struct {
	conn       grpc.ClientConnInterface
	cb         *gobreaker.CircuitBreaker
	maxElapsed time.Duration
}

// NewProfileClient constructs the client.
func NewProfileClient(conn grpc.ClientConnInterface, log *zap.Logger) *ProfileClient {
	if log == nil {
		log = zap.NewNop()
	}
	return &ProfileClient{conn: conn, cb: newBreaker("profiles", log), maxElapsed: 2 * time.Second}
}

// GetProfiles fetches every profile in ids with one call. Unknown ids are absent.
func (c *ProfileClient) GetProfiles(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Profile, error) {
	out := make(map[uuid.UUID]models.Profile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	list := make([]any, len(ids))
	for i, id := range ids {
		list[i] = id.String()
	}
	req, err := structpb.NewStruct(map[string]any{"user_ids": list})
	if err != nil {
		return nil, classify(err, "build profile request")
	}
	resp, err := c.call(ctx, batchGetProfilesMethod, req)
	if err != nil {
		return nil, classify(err, "get profiles")
	}
	for _, v := range resp.GetFields()["profiles"].GetListValue().GetValues() {
		f := v.GetStructValue().GetFields()
		id, err := uuid.Parse(f["user_id"].GetStringValue())
		if err != nil {
			continue
		}
		out[id] = models.Profile{
			UserID:    id,
			Name:      f["name"].GetStringValue(),
			AvatarKey: f["avatar_key"].GetStringValue(),
			Bio:       f["bio"].GetStringValue(),
		}
	}
	return out, nil
}

// SearchProfiles returns the ids matching query, best match first.
func (c *ProfileClient) SearchProfiles(ctx context.Context, query string, limit int) ([]uuid.UUID, error) {
	req, err := structpb.NewStruct(map[string]any{"query": query, "limit": limit})
	if err != nil {
		return nil, classify(err, "build search request")
	}
	resp, err := c.call(ctx, searchProfilesMethod, req)
	if err != nil {
		return nil, classify(err, "search profiles")
	}
	values := resp.GetFields()["user_ids"].GetListValue().GetValues()
	ids := make([]uuid.UUID, 0, len(values))
	for _, v := range values {
		if id, err := uuid.Parse(v.GetStringValue()); err == nil {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (c *ProfileClient) call(ctx context.Context, method string, req *structpb.Struct) (*structpb.Struct, error) {
	out, err := c.cb.Execute(func() (any, error) {
		resp := new(structpb.Struct)
		op := func() error {
			err := c.conn.Invoke(ctx, method, req, resp)
			if err != nil && !dependencyFailure(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 50 * time.Millisecond
		b.MaxElapsedTime = c.maxElapsed
		if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
			return nil, err
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}
	return out.(*structpb.Struct), nil
}
