package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	domain "github.com/adreel/api/internal/domain"
)

// AnalyticsMessage is the JSON payload published for each analytics event.
type AnalyticsMessage struct {
	ID        string         `json:"id"`
	Event     string         `json:"event"`
	OwnerID   string         `json:"ownerId"`
	JobID     string         `json:"jobId,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// PubSubAnalyticsPublisher fans analytics events out to downstream consumers.
type PubSubAnalyticsPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

func NewPubSubAnalyticsPublisher(topic *pubsub.Topic) (*PubSubAnalyticsPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub analytics publisher: topic is required")
	}
	return &PubSubAnalyticsPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishAnalyticsEvent blocks until the server acknowledges the message and
// returns its server-assigned id.
func (p *PubSubAnalyticsPublisher) PublishAnalyticsEvent(ctx context.Context, event domain.AnalyticsEvent) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub analytics publisher: not initialised")
	}

	data, err := p.marshal(AnalyticsMessage{
		ID:        event.ID,
		Event:     event.Event,
		OwnerID:   event.OwnerID,
		JobID:     event.JobID,
		Context:   event.Context,
		Timestamp: event.Timestamp.UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("marshal analytics event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "eventId", event.ID)
	setAttr(attrs, "event", event.Event)
	setAttr(attrs, "ownerId", event.OwnerID)
	setAttr(attrs, "jobId", event.JobID)
	if reason, ok := event.Context["reason"].(string); ok {
		setAttr(attrs, "reason", reason)
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish analytics event: %w", err)
	}
	return id, nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
