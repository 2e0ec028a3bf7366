package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/simplecartfees/api/internal/services"
)

// FeesAppliedEventType tags every fees-applied message regardless of transport.
const FeesAppliedEventType = "order.fees_applied"

// PubSubFeePublisher publishes fees-applied events to a Pub/Sub topic.
type PubSubFeePublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

var _ services.FeeEventPublisher = (*PubSubFeePublisher)(nil)

// NewPubSubFeePublisher constructs a Pub/Sub backed fee event publisher.
func NewPubSubFeePublisher(topic *pubsub.Topic) (*PubSubFeePublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub fee publisher: topic is required")
	}
	return &PubSubFeePublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishFeesApplied sends the event and waits for the server-assigned message id.
func (p *PubSubFeePublisher) PublishFeesApplied(ctx context.Context, event services.FeesAppliedEvent) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub fee publisher: not initialised")
	}

	data, err := p.marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal fees applied event: %w", err)
	}

	attrs := map[string]string{"eventType": FeesAppliedEventType}
	setAttr(attrs, "eventId", event.EventID)
	setAttr(attrs, "orderId", event.OrderID)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
		OrderingKey: orderingKey(p.topic, event.OrderID),
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish fees applied event: %w", err)
	}
	return id, nil
}

// Close flushes pending messages.
func (p *PubSubFeePublisher) Close() error {
	if p == nil || p.topic == nil {
		return nil
	}
	p.topic.Stop()
	return nil
}

// orderingKey is empty unless the topic enables ordering; Pub/Sub rejects keys otherwise.
func orderingKey(topic *pubsub.Topic, orderID string) string {
	if !topic.EnableMessageOrdering {
		return ""
	}
	return strings.TrimSpace(orderID)
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
