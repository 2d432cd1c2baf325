package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/adreel/api/internal/platform/config"
	"github.com/adreel/api/internal/platform/observability"
	"github.com/adreel/api/internal/repositories"
	"github.com/adreel/api/internal/services"
)

const healthCacheTTL = 5 * time.Second

// Repositories groups the persistence adapters the services depend upon.
type Repositories struct {
	Jobs   repositories.VideoJobRepository
	Events repositories.AnalyticsRepository
	Health repositories.HealthRepository
}

// Infrastructure carries external clients opened by main. Signer, Publisher and
// Health are optional and disable the feature that needs them when nil.
type Infrastructure struct {
	Objects   services.ObjectStore
	Signer    services.URLSigner
	Provider  services.VideoProvider
	APIKey    services.APIKeySource
	Publisher services.AnalyticsPublisher
	Build     services.BuildInfo
	Meter     metric.Meter
	Tracer    trace.Tracer
	Logger    *zap.Logger
}

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	VideoJobs services.VideoJobService
	Analytics services.AnalyticsService
	System    services.SystemService
}

// Container wires repositories and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories Repositories
	Services     Services
}

// NewContainer constructs the runtime dependencies. Tests supply in-memory
// repositories and fakes for the infrastructure.
func NewContainer(ctx context.Context, cfg config.Config, repos Repositories, infra Infrastructure) (*Container, error) {
	if repos.Jobs == nil {
		return nil, errors.New("video job repository is required")
	}
	if repos.Events == nil {
		return nil, errors.New("analytics repository is required")
	}

	svc, err := buildServices(ctx, cfg, repos, infra)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: repos,
		Services:     svc,
	}, nil
}

func buildServices(_ context.Context, cfg config.Config, repos Repositories, infra Infrastructure) (Services, error) {
	var svc Services

	logger := infra.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	analyticsSvc, err := services.NewAnalyticsService(services.AnalyticsServiceDeps{
		Events:    repos.Events,
		Publisher: infra.Publisher,
		Clock:     time.Now,
		Logger:    observability.EventLogger(logger.Named("analytics")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build analytics service: %w", err)
	}
	svc.Analytics = analyticsSvc

	gate, err := services.NewJobGate(services.JobGateDeps{
		Jobs:  repos.Jobs,
		Clock: time.Now,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build job gate: %w", err)
	}

	images, err := services.NewImageResolver(services.ImageResolverDeps{
		Objects:        infra.Objects,
		Signer:         infra.Signer,
		Jobs:           repos.Jobs,
		DefaultBucket:  cfg.Storage.DefaultBucket,
		AltDomains:     cfg.Storage.AltDomains,
		MaxInlineBytes: cfg.Storage.MaxInlineBytes,
		SignedURLTTL:   cfg.Storage.SignedURLTTL,
		Clock:          time.Now,
		Logger:         observability.EventLogger(logger.Named("images")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build image resolver: %w", err)
	}

	videoJobs, err := services.NewVideoJobService(services.VideoJobServiceDeps{
		Jobs:            repos.Jobs,
		Gate:            gate,
		Images:          images,
		Provider:        infra.Provider,
		APIKey:          infra.APIKey,
		Objects:         infra.Objects,
		Analytics:       analyticsSvc,
		OutputBucket:    cfg.Storage.OutputBucket,
		PollInterval:    cfg.Veo.PollInterval,
		MaxPollAttempts: cfg.Veo.MaxPollAttempts,
		HeartbeatEvery:  cfg.Veo.HeartbeatEvery,
		JobBudget:       cfg.Veo.JobBudget,
		Clock:           time.Now,
		Meter:           infra.Meter,
		Tracer:          infra.Tracer,
		Logger:          observability.EventLogger(logger.Named("videojobs")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build video job service: %w", err)
	}
	svc.VideoJobs = videoJobs

	if repos.Health != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: repos.Health,
			Credential:       infra.APIKey,
			CacheTTL:         healthCacheTTL,
			Clock:            time.Now,
			Build:            infra.Build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}
