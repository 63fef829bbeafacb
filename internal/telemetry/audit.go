package telemetry

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chat-realtime/internal/observability"
)

type AuditEmitter struct {
	publisher   observability.Publisher
	routingKey  string
	service     string
	environment string
	log         *zap.Logger
}

type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id"`
	UserID        *string      `json:"user_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

type AuditPayload struct {
	Level  string         `json:"level"`
	Text   string         `json:"text"`
	Action string         `json:"action,omitempty"`
	Fields map[string]any `json:"fields,omitempty"`
}

func NewAuditEmitter(publisher observability.Publisher, routingKey, service, environment string, log *zap.Logger) *AuditEmitter {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
		log:         log,
	}
}

// Emit publishes a free-form audit line.
func (e *AuditEmitter) Emit(ctx context.Context, level, text, requestID string, userID *string) {
	e.emit(ctx, requestID, userID, AuditPayload{Level: level, Text: text})
}

// Command records a completed mutating command by userID.
func (e *AuditEmitter) Command(ctx context.Context, action, requestID string, userID uuid.UUID, fields map[string]any) {
	var uid *string
	if userID != uuid.Nil {
		s := userID.String()
		uid = &s
	}
	e.emit(ctx, requestID, uid, AuditPayload{Level: "INFO", Text: action, Action: action, Fields: fields})
}

func (e *AuditEmitter) emit(ctx context.Context, requestID string, userID *string, payload AuditPayload) {
	if e == nil || e.publisher == nil {
		return
	}

	e.log.Debug("audit emit", zap.String("level", payload.Level), zap.String("request_id", requestID), zap.String("text", payload.Text))
	envelope := AuditEnvelope{
		SchemaVersion: 1,
		EventType:     "audit_log",
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     requestID,
		UserID:        userID,
		Payload:       payload,
	}

	if err := e.publisher.Publish(ctx, e.routingKey, envelope); err != nil {
		e.log.Warn("audit publish failed", zap.Error(err))
	}
}
