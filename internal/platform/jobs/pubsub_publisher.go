package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/mwesox/menuvo-platform-sub005/internal/services"
)

// PubSubOrderEventPublisher publishes order domain events to a Pub/Sub topic.
type PubSubOrderEventPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubOrderEventPublisher constructs a Pub/Sub backed order event publisher.
func NewPubSubOrderEventPublisher(topic *pubsub.Topic) (*PubSubOrderEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub order event publisher: topic is required")
	}
	return &PubSubOrderEventPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishOrderEvent enqueues the order event on the configured topic. The
// event type, order, and store ride along as message attributes so consumers
// can filter without unmarshalling the payload.
func (p *PubSubOrderEventPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub order event publisher: not initialised")
	}

	data, err := p.marshal(event)
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "eventType", event.Type)
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "storeId", event.StoreID)
	setAttr(attrs, "currentStatus", event.CurrentStatus)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish order event: %w", err)
	}
	return nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
