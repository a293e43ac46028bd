package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/mwesox/menuvo-platform-sub005/internal/services"
)

func TestPubSubOrderEventPublisherPublishesMessage(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() {
		_ = client.Close()
	}()

	topic, err := client.CreateTopic(ctx, "order-events")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	publisher, err := NewPubSubOrderEventPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubOrderEventPublisher: %v", err)
	}

	occurredAt := time.Date(2026, 3, 14, 11, 30, 0, 0, time.UTC)
	event := services.OrderEvent{
		Type:          "order.created",
		OrderID:       "ord_test",
		StoreID:       "store-1",
		CurrentStatus: "awaiting_payment",
		OccurredAt:    occurredAt,
		Metadata: map[string]any{
			"pickupNumber": 42,
		},
	}

	if err := publisher.PublishOrderEvent(ctx, event); err != nil {
		t.Fatalf("PublishOrderEvent: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload services.OrderEvent
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.OrderID != event.OrderID || payload.Type != event.Type {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if attr := messages[0].Attributes["eventType"]; attr != "order.created" {
		t.Fatalf("expected eventType attribute, got %q", attr)
	}
	if attr := messages[0].Attributes["storeId"]; attr != "store-1" {
		t.Fatalf("expected storeId attribute, got %q", attr)
	}
}
