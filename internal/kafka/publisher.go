// Package kafka exports events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"chat-realtime/internal/observability"
)

type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes JSON events to one topic, keyed by routing key so a given event type
// stays on one partition.
type Publisher struct {
	writer writer
	log    *zap.Logger
}

// NewPublisher builds a publisher for topic on brokers.
func NewPublisher(brokers []string, topic string, log *zap.Logger) *Publisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	log.Info("kafka publisher configured", zap.Strings("brokers", brokers), zap.String("topic", topic))
	return &Publisher{writer: w, log: log}
}

// Publish marshals event and writes it with the context headers attached.
func (p *Publisher) Publish(ctx context.Context, routingKey string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	msg := kafka.Message{Key: []byte(routingKey), Value: body, Time: time.Now()}
	for k, v := range observability.HeadersFromContext(ctx) {
		msg.Headers = append(msg.Headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		observability.IncPublishError("kafka")
		p.log.Warn("kafka publish failed", zap.String("routing_key", routingKey), zap.Error(err))
		return err
	}
	return nil
}

// Close flushes pending writes.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
