package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"farmstore/internal/domain/model"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSender publishes notifications to a topic keyed by order number, so every
// event for one order lands on the same partition in order.
type KafkaSender struct {
	w messageWriter
}

func NewKafkaSender(brokers []string, topic string) *KafkaSender {
	return &KafkaSender{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
	}
}

func (s *KafkaSender) Send(ctx context.Context, n model.OrderNotification) error {
	value, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(n.OrderNumber),
		Value: value,
		Time:  n.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(n.EventID)},
			{Key: "event_kind", Value: []byte(n.EventKind)},
		},
	}
	if err := s.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

func (s *KafkaSender) Close() error {
	return s.w.Close()
}
