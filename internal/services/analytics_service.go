package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/adreel/api/internal/repositories"
)

const analyticsWriteTimeout = 5 * time.Second

type AnalyticsServiceDeps struct {
	Events repositories.AnalyticsRepository
	// Publisher is optional; events are only appended when nil.
	Publisher   AnalyticsPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type analyticsService struct {
	events    repositories.AnalyticsRepository
	publisher AnalyticsPublisher
	now       func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)
}

var _ AnalyticsService = (*analyticsService)(nil)

func NewAnalyticsService(deps AnalyticsServiceDeps) (AnalyticsService, error) {
	if deps.Events == nil {
		return nil, errors.New("analytics service: event repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &analyticsService{
		events:    deps.Events,
		publisher: deps.Publisher,
		now: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// Track appends the event and publishes it. It runs detached from ctx
// cancellation and reports failures only through the logger.
func (s *analyticsService) Track(ctx context.Context, event AnalyticsEvent) {
	if strings.TrimSpace(event.Event) == "" {
		s.logger(ctx, "analytics.invalid_event", map[string]any{"jobId": event.JobID})
		return
	}
	if strings.TrimSpace(event.ID) == "" {
		event.ID = s.newID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), analyticsWriteTimeout)
	defer cancel()

	if err := s.events.Append(writeCtx, event); err != nil {
		s.logger(ctx, "analytics.append_failed", map[string]any{
			"eventId": event.ID,
			"event":   event.Event,
			"jobId":   event.JobID,
			"error":   err.Error(),
		})
	}
	if s.publisher == nil {
		return
	}
	if _, err := s.publisher.PublishAnalyticsEvent(writeCtx, event); err != nil {
		s.logger(ctx, "analytics.publish_failed", map[string]any{
			"eventId": event.ID,
			"event":   event.Event,
			"jobId":   event.JobID,
			"error":   err.Error(),
		})
	}
}
