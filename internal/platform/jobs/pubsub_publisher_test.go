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

	domain "github.com/adreel/api/internal/domain"
)

func newTestTopic(t *testing.T, ctx context.Context) (*pstest.Server, *pubsub.Topic) {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, "video-analytics")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	t.Cleanup(topic.Stop)
	return srv, topic
}

func TestPubSubAnalyticsPublisherPublishesMessage(t *testing.T) {
	ctx := context.Background()
	srv, topic := newTestTopic(t, ctx)

	publisher, err := NewPubSubAnalyticsPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubAnalyticsPublisher: %v", err)
	}

	at := time.Date(2025, 5, 6, 9, 0, 0, 0, time.UTC)
	event := domain.AnalyticsEvent{
		ID:        "01JTEST0000000000000000000",
		OwnerID:   "user-1",
		Event:     domain.AnalyticsEventVideoJobFailed,
		JobID:     "job-9",
		Context:   map[string]any{"reason": domain.VideoJobReasonTimeout, "attempts": 54},
		Timestamp: at,
	}

	id, err := publisher.PublishAnalyticsEvent(ctx, event)
	if err != nil {
		t.Fatalf("PublishAnalyticsEvent: %v", err)
	}
	if id == "" {
		t.Fatalf("expected server message id")
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload AnalyticsMessage
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.ID != event.ID || payload.JobID != "job-9" || !payload.Timestamp.Equal(at) {
		t.Fatalf("unexpected payload %#v", payload)
	}
	attrs := messages[0].Attributes
	if attrs["event"] != domain.AnalyticsEventVideoJobFailed || attrs["reason"] != "timeout" || attrs["ownerId"] != "user-1" {
		t.Fatalf("unexpected attributes %v", attrs)
	}
}

func TestPubSubAnalyticsPublisherOmitsBlankAttributes(t *testing.T) {
	ctx := context.Background()
	srv, topic := newTestTopic(t, ctx)

	publisher, err := NewPubSubAnalyticsPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubAnalyticsPublisher: %v", err)
	}
	if _, err := publisher.PublishAnalyticsEvent(ctx, domain.AnalyticsEvent{
		ID:      "evt-1",
		Event:   domain.AnalyticsEventVideoJobReady,
		OwnerID: "user-1",
	}); err != nil {
		t.Fatalf("PublishAnalyticsEvent: %v", err)
	}

	attrs := srv.Messages()[0].Attributes
	if _, ok := attrs["jobId"]; ok {
		t.Fatalf("jobId attribute should be omitted, got %v", attrs)
	}
	if _, ok := attrs["reason"]; ok {
		t.Fatalf("reason attribute should be omitted, got %v", attrs)
	}
}

func TestNewPubSubAnalyticsPublisherRequiresTopic(t *testing.T) {
	if _, err := NewPubSubAnalyticsPublisher(nil); err == nil {
		t.Fatalf("expected error for nil topic")
	}
}
