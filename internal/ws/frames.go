package ws

import (
	"github.com/google/uuid"

	"chat-realtime/internal/models"
)

// Inbound frame types.
const (
	frameTyping    = "typing"
	frameHeartbeat = "heartbeat"
	framePresence  = "presence"
)

type inboundFrame struct {
	Type     string                `json:"type"`
	ChatID   uuid.UUID             `json:"chat_id"`
	IsTyping bool                  `json:"is_typing"`
	Status   models.PresenceStatus `json:"status"`
}

type helloFrame struct {
	Type                string    `json:"type"`
	SessionID           uuid.UUID `json:"session_id"`
	UserID              uuid.UUID `json:"user_id"`
	HeartbeatIntervalMS int64     `json:"heartbeat_interval_ms"`
}

type errorFrame struct {
	Type  string `json:"type"`
	Frame string `json:"frame,omitempty"`
	Error string `json:"error"`
	Code  string `json:"code"`
}
