// Package rabbitmq exports routed events and audit envelopes to a topic exchange.
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"chat-realtime/internal/observability"
	"chat-realtime/internal/telemetry"
)

const appID = "chat-realtime"

var errNacked = errors.New("broker rejected message")

// Publisher publishes routed events and audit envelopes.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// NewPublisher connects to amqpURL and declares exchange as a durable topic exchange
// with publisher confirms. Without a URL, or when the broker cannot be reached, it
// returns a publisher that only logs.
func NewPublisher(amqpURL, exchange string, log *zap.Logger) Publisher {
	if amqpURL == "" {
		return discard("empty amqp url", log)
	}
	p, err := dial(amqpURL, exchange, log)
	if err != nil {
		log.Warn("rabbitmq unavailable, events are only logged", zap.Error(err))
		return discard(err.Error(), log)
	}
	log.Info("rabbitmq connected", zap.String("exchange", exchange))
	return p
}

func dial(amqpURL, exchange string, log *zap.Logger) (*confirmPublisher, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("enable confirms: %w", err)
	}
	return &confirmPublisher{conn: conn, ch: ch, exchange: exchange, log: log}, nil
}

// confirmPublisher waits for the broker to confirm each message. The channel is
// shared, so publishes are serialized.
type confirmPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	log      *zap.Logger
}

func (p *confirmPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	msg, err := message(ctx, event)
	if err != nil {
		return err
	}

	p.mu.Lock()
	confirm, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, p.exchange, routingKey, false, false, msg)
	p.mu.Unlock()
	if err == nil && confirm != nil {
		var acked bool
		if acked, err = confirm.WaitContext(ctx); err == nil && !acked {
			err = errNacked
		}
	}
	if err != nil {
		observability.IncPublishError("amqp")
		p.log.Warn("rabbitmq publish failed", zap.String("routing_key", routingKey), zap.Error(err))
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	return nil
}

func (p *confirmPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.ch.Close()
	return p.conn.Close()
}

// message encodes event and stamps the delivery properties consumers dedupe and trace by.
func message(ctx context.Context, event any) (amqp.Publishing, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("encode event: %w", err)
	}
	kind, _ := describe(event)
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Type:         kind,
		AppId:        appID,
		Headers:      amqpHeaders(observability.HeadersFromContext(ctx)),
		Body:         body,
	}, nil
}

func amqpHeaders(headers map[string]string) amqp.Table {
	if len(headers) == 0 {
		return nil
	}
	table := make(amqp.Table, len(headers))
	for k, v := range headers {
		table[k] = v
	}
	return table
}

// describe returns the type and name of the envelopes this service publishes.
func describe(event any) (kind, name string) {
	switch e := event.(type) {
	case observability.EventEnvelope:
		return e.EventType, e.EventName
	case telemetry.AuditEnvelope:
		return e.EventType, e.Payload.Action
	default:
		return fmt.Sprintf("%T", event), ""
	}
}

type discardPublisher struct {
	reason string
	log    *zap.Logger
}

func discard(reason string, log *zap.Logger) discardPublisher {
	return discardPublisher{reason: reason, log: log}
}

func (p discardPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	kind, name := describe(event)
	p.log.Debug("event not exported",
		zap.String("routing_key", routingKey),
		zap.String("type", kind),
		zap.String("name", name),
		zap.String("request_id", observability.HeadersFromContext(ctx)["x-request-id"]))
	return nil
}

func (discardPublisher) Close() error { return nil }

// PublisherMode is "amqp" for a connected publisher and "noop" otherwise.
func PublisherMode(p Publisher) string {
	switch p.(type) {
	case *confirmPublisher:
		return "amqp"
	case discardPublisher:
		return "noop"
	default:
		return "unknown"
	}
}

// PublisherNoopReason explains why events are not exported, or "" when they are.
func PublisherNoopReason(p Publisher) string {
	if d, ok := p.(discardPublisher); ok {
		return d.reason
	}
	return ""
}
