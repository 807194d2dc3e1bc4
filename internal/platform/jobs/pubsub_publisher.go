package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/formation-desk/api/internal/services"
)

// PubSubOrderPublisher publishes accepted formation orders to a Pub/Sub topic.
type PubSubOrderPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubOrderPublisher constructs a Pub/Sub backed order event publisher.
func NewPubSubOrderPublisher(topic *pubsub.Topic) (*PubSubOrderPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub order publisher: topic is required")
	}
	return &PubSubOrderPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishOrderSubmitted sends the order event and waits for the server-assigned message id.
func (p *PubSubOrderPublisher) PublishOrderSubmitted(ctx context.Context, message services.OrderSubmittedMessage) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub order publisher: not initialised")
	}

	data, err := p.marshal(message)
	if err != nil {
		return "", fmt.Errorf("marshal order event: %w", err)
	}

	attrs := map[string]string{"event": "order.submitted"}
	setAttr(attrs, "sessionId", message.SessionID)
	setAttr(attrs, "orderId", message.OrderID)
	setAttr(attrs, "entityTypeId", message.EntityTypeID)
	setAttr(attrs, "jurisdictionId", message.JurisdictionID)
	setAttr(attrs, "pricingTierId", message.PricingTierID)
	setAttr(attrs, "currency", message.Currency)
	attrs["total"] = strconv.FormatInt(message.Total, 10)
	if key := strings.TrimSpace(message.IdempotencyKey); key != "" {
		attrs["idempotencyKey"] = key
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
		// keeps events of one session in publish order when the topic enables ordering
		OrderingKey: orderingKey(p.topic, message.SessionID),
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish order event: %w", err)
	}
	return id, nil
}

// Stop flushes pending messages.
func (p *PubSubOrderPublisher) Stop() {
	if p != nil && p.topic != nil {
		p.topic.Stop()
	}
}

func orderingKey(topic *pubsub.Topic, sessionID string) string {
	if !topic.EnableMessageOrdering {
		return ""
	}
	return strings.TrimSpace(sessionID)
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
