package ws

import (
	"context"
	"time"

	"github.com/google/uuid"

	"chat-realtime/internal/observability"
)

const lifecycleRoutingKey = "ws_events.sessions"

type ConnInfo struct {
	ConnID      string
	SessionID   uuid.UUID
	UserID      uuid.UUID
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

func (info ConnInfo) headers() map[string]string {
	return observability.BuildHeaders(info.RequestID, info.TraceID)
}

// publishLifecycle exports a connect, disconnect or error envelope for the session.
func publishLifecycle(ctx context.Context, info ConnInfo, event, reason string) {
	duration := int64(0)
	if event != "ws_connect" {
		duration = time.Since(info.ConnectedAt).Milliseconds()
	}
	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"event":       event,
			"conn_id":     info.ConnID,
			"session_id":  info.SessionID.String(),
			"duration_ms": duration,
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"user_id":   info.UserID.String(),
			"device_id": info.DeviceID,
			"ip":        info.IP,
		},
	}
	_ = observability.PublishEvent(ctx, lifecycleRoutingKey, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload:   payload,
	}, info.headers())
	observability.IncWSEvent(event)
}
