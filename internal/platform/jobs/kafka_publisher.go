package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/simplecartfees/api/internal/services"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaFeePublisher publishes fees-applied events to a Kafka topic keyed by order id.
type KafkaFeePublisher struct {
	writer  messageWriter
	marshal func(any) ([]byte, error)
}

var _ services.FeeEventPublisher = (*KafkaFeePublisher)(nil)

// NewKafkaFeePublisher constructs a publisher writing to topic on the given brokers.
func NewKafkaFeePublisher(brokers []string, topic string) (*KafkaFeePublisher, error) {
	addrs := make([]string, 0, len(brokers))
	for _, broker := range brokers {
		if b := strings.TrimSpace(broker); b != "" {
			addrs = append(addrs, b)
		}
	}
	if len(addrs) == 0 {
		return nil, errors.New("kafka fee publisher: at least one broker is required")
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, errors.New("kafka fee publisher: topic is required")
	}
	return newKafkaFeePublisher(&kafka.Writer{
		Addr:         kafka.TCP(addrs...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
	}), nil
}

func newKafkaFeePublisher(writer messageWriter) *KafkaFeePublisher {
	return &KafkaFeePublisher{writer: writer, marshal: json.Marshal}
}

// PublishFeesApplied writes the event synchronously. Kafka assigns no message id, so the event id is returned.
func (p *KafkaFeePublisher) PublishFeesApplied(ctx context.Context, event services.FeesAppliedEvent) (string, error) {
	if p == nil || p.writer == nil {
		return "", errors.New("kafka fee publisher: not initialised")
	}
	data, err := p.marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal fees applied event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(event.OrderID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(FeesAppliedEventType)},
			{Key: "event_id", Value: []byte(event.EventID)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return "", fmt.Errorf("publish fees applied event: %w", err)
	}
	return event.EventID, nil
}

// Close flushes and closes the underlying writer.
func (p *KafkaFeePublisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
