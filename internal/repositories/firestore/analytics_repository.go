package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/adreel/api/internal/domain"
	pfirestore "github.com/adreel/api/internal/platform/firestore"
	"github.com/adreel/api/internal/repositories"
)

const defaultAnalyticsCollection = "analyticsEvents"

type analyticsEventDocument struct {
	OwnerID   string         `firestore:"ownerId"`
	Event     string         `firestore:"event"`
	JobID     string         `firestore:"jobId,omitempty"`
	Context   map[string]any `firestore:"context,omitempty"`
	Timestamp time.Time      `firestore:"timestamp"`
}

// AnalyticsRepository appends events to an insert-only collection keyed by
// event id, so a retried append cannot duplicate an event.
type AnalyticsRepository struct {
	events *pfirestore.BaseRepository[analyticsEventDocument]
}

var _ repositories.AnalyticsRepository = (*AnalyticsRepository)(nil)

func NewAnalyticsRepository(provider *pfirestore.Provider, collection string) (*AnalyticsRepository, error) {
	if provider == nil {
		return nil, errors.New("analytics repository requires firestore provider")
	}
	collection = strings.TrimSpace(collection)
	if collection == "" {
		collection = defaultAnalyticsCollection
	}
	return &AnalyticsRepository{
		events: pfirestore.NewBaseRepository[analyticsEventDocument](provider, collection, nil, nil),
	}, nil
}

func (r *AnalyticsRepository) Append(ctx context.Context, event domain.AnalyticsEvent) error {
	if strings.TrimSpace(event.ID) == "" {
		return errors.New("analytics repository: event id is required")
	}
	return r.events.Create(ctx, event.ID, newAnalyticsEventDocument(event))
}

func newAnalyticsEventDocument(event domain.AnalyticsEvent) analyticsEventDocument {
	return analyticsEventDocument{
		OwnerID:   event.OwnerID,
		Event:     event.Event,
		JobID:     event.JobID,
		Context:   event.Context,
		Timestamp: event.Timestamp.UTC(),
	}
}
