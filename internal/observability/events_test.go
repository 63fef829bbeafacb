package observability

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	key     string
	event   any
	headers map[string]string
}

func (p *capturePublisher) Publish(ctx context.Context, routingKey string, event any) error {
	p.key = routingKey
	p.event = event
	p.headers = HeadersFromContext(ctx)
	return nil
}

func TestPublishEventCarriesHeaders(t *testing.T) {
	pub := &capturePublisher{}
	SetPublisher(pub)
	t.Cleanup(func() { SetPublisher(nil) })

	env := EventEnvelope{EventType: "ws_events", EventName: "ws_connect"}
	require.NoError(t, PublishEvent(context.Background(), "ws_events.sessions", env, BuildHeaders("req-1", "trace-1")))

	assert.Equal(t, "ws_events.sessions", pub.key)
	assert.Equal(t, env, pub.event)
	assert.Equal(t, map[string]string{"x-request-id": "req-1", "trace_id": "trace-1"}, pub.headers)
}

func TestPublishEventWithoutPublisher(t *testing.T) {
	SetPublisher(nil)
	assert.NoError(t, PublishEvent(context.Background(), "k", nil, nil))
}

func TestBuildHeadersSkipsEmpty(t *testing.T) {
	assert.Empty(t, BuildHeaders("", ""))
}

func TestClientMetaFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")
	r.Header.Set("X-Device-Id", "ios-1")
	r.Header.Set("X-Request-Id", "raw")
	meta := ClientMetaFromRequest(r)
	assert.Equal(t, "10.0.0.1", meta.IP)
	assert.Equal(t, "ios-1", meta.DeviceID)
	assert.Equal(t, "raw", meta.RequestID)

	r = httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "192.168.1.5:5555"
	r = r.WithContext(WithHeaders(r.Context(), BuildHeaders("assigned", "")))
	meta = ClientMetaFromRequest(r)
	assert.Equal(t, "192.168.1.5", meta.IP)
	assert.Equal(t, "assigned", meta.RequestID)

	r = httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-Real-Ip", "172.16.0.9")
	assert.Equal(t, "172.16.0.9", ClientMetaFromRequest(r).IP)
}

func TestSplitFullMethod(t *testing.T) {
	svc, method := splitFullMethod("/identity.v1.IdentityProvider/ValidateToken")
	assert.Equal(t, "identity.v1.IdentityProvider", svc)
	assert.Equal(t, "ValidateToken", method)

	svc, method = splitFullMethod("bogus")
	assert.Equal(t, "unknown", svc)
	assert.Equal(t, "unknown", method)
}
