package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/adreel/api/internal/di"
	"github.com/adreel/api/internal/handlers"
	"github.com/adreel/api/internal/platform/auth"
	"github.com/adreel/api/internal/platform/config"
	pfirestore "github.com/adreel/api/internal/platform/firestore"
	"github.com/adreel/api/internal/platform/jobs"
	"github.com/adreel/api/internal/platform/observability"
	"github.com/adreel/api/internal/platform/secrets"
	platformstorage "github.com/adreel/api/internal/platform/storage"
	"github.com/adreel/api/internal/providers/veo"
	"github.com/adreel/api/internal/repositories"
	firestoreRepo "github.com/adreel/api/internal/repositories/firestore"
	"github.com/adreel/api/internal/services"
)

const (
	instrumentationName = "github.com/adreel/api"
	// a rotated provider key reaches new jobs within this window
	secretCacheTTL = 5 * time.Minute
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger("adreel-api")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Error(err))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}
	if strings.TrimSpace(cfg.Veo.APIKey) == "" {
		logger.Warn("veo: api key not configured; jobs will fail with missing_credential")
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	if _, err := firestoreProvider.Client(ctx); err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	storageClient, err := cloudstorage.NewClient(ctx)
	if err != nil {
		logger.Fatal("failed to initialise storage client", zap.Error(err))
	}
	defer func() {
		if err := storageClient.Close(); err != nil {
			logger.Warn("storage close error", zap.Error(err))
		}
	}()

	objectStore, err := platformstorage.NewObjectStore(storageClient)
	if err != nil {
		logger.Fatal("failed to initialise object store", zap.Error(err))
	}

	var signedURLClient services.URLSigner
	signer, closeSigner, err := newURLSigner(ctx, cfg.Storage)
	if err != nil {
		logger.Fatal("failed to initialise storage signer", zap.Error(err))
	}
	defer closeSigner()
	if signer != nil {
		client, err := platformstorage.NewClient(signer)
		if err != nil {
			logger.Fatal("failed to initialise signed url client", zap.Error(err))
		}
		signedURLClient = client
	} else {
		logger.Warn("storage: no signer configured; large images fall back to token urls")
	}

	var publisher services.AnalyticsPublisher
	if topicID := strings.TrimSpace(cfg.Analytics.Topic); topicID != "" {
		pubsubClient, err := pubsub.NewClient(ctx, cfg.Firestore.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		topic := pubsubClient.Topic(topicID)
		defer topic.Stop()
		analyticsPublisher, err := jobs.NewPubSubAnalyticsPublisher(topic)
		if err != nil {
			logger.Fatal("failed to initialise analytics publisher", zap.Error(err))
		}
		publisher = analyticsPublisher
	}

	videoJobRepo, err := firestoreRepo.NewVideoJobRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise video job repository", zap.Error(err))
	}
	analyticsRepo, err := firestoreRepo.NewAnalyticsRepository(firestoreProvider, cfg.Analytics.Collection)
	if err != nil {
		logger.Fatal("failed to initialise analytics repository", zap.Error(err))
	}

	healthRepo, err := newHealthRepository(firestoreProvider, storageClient, fetcher, cfg)
	if err != nil {
		logger.Warn("health: dependency checks unavailable", zap.Error(err))
	}

	veoClient := veo.NewClient(veo.Options{
		BaseURL:        cfg.Veo.BaseURL,
		Model:          cfg.Veo.Model,
		NegativePrompt: cfg.Veo.NegativePrompt,
		HTTPClient:     &http.Client{Timeout: cfg.Veo.RequestTimeout},
		Logger:         logger.Named("veo"),
	})

	container, err := di.NewContainer(ctx, cfg,
		di.Repositories{
			Jobs:   videoJobRepo,
			Events: analyticsRepo,
			Health: healthRepo,
		},
		di.Infrastructure{
			Objects:   objectStore,
			Signer:    signedURLClient,
			Provider:  veoClient,
			APIKey:    apiKeySource(fetcher, cfg.Veo.APIKey),
			Publisher: publisher,
			Build:     buildInfo,
			Meter:     otel.GetMeterProvider().Meter(instrumentationName),
			Tracer:    otel.Tracer(instrumentationName),
			Logger:    logger,
		},
	)
	if err != nil {
		logger.Fatal("failed to build services", zap.Error(err))
	}

	var verifierOpts []auth.VerifierOption
	if cfg.Security.Environment == "prod" {
		verifierOpts = append(verifierOpts, auth.WithRevocationCheck())
	}
	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase, verifierOpts...)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier)
	oidcMiddleware := buildOIDCMiddleware(logger.Named("auth"), cfg)

	videoJobHandlers := handlers.NewVideoJobHandlers(authenticator, container.Services.VideoJobs,
		handlers.WithStartRateLimit(cfg.RateLimit.StartPerMinute, time.Now),
	)
	internalHandlers := handlers.NewInternalVideoJobHandlers(container.Services.VideoJobs)

	healthOpts := []handlers.HealthOption{handlers.WithHealthBuildInfo(buildInfo)}
	if container.Services.System != nil {
		healthOpts = append(healthOpts, handlers.WithHealthSystemService(container.Services.System))
	}
	healthHandlers := handlers.NewHealthHandlers(healthOpts...)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
	}

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithRequestTimeout(cfg.Server.HandlerTimeout),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithVideoJobRoutes(videoJobHandlers.Routes),
		handlers.WithInternalRoutes(internalHandlers.Routes),
	}
	if oidcMiddleware != nil {
		opts = append(opts, handlers.WithInternalMiddlewares(oidcMiddleware))
	}

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("adreel api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	// In-flight starts may run for the whole job budget; jobs cut off here are
	// left in processing and can be released with the abandon route.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// newURLSigner prefers a deployed key and falls back to IAM signBlob for the
// named service account. Neither configured yields a nil signer.
func newURLSigner(ctx context.Context, cfg config.StorageConfig) (platformstorage.Signer, func(), error) {
	noop := func() {}
	if key := strings.TrimSpace(cfg.SignerKey); key != "" {
		signer, err := platformstorage.NewKeySigner(key)
		if err != nil {
			return nil, noop, err
		}
		return signer, noop, nil
	}
	if email := strings.TrimSpace(cfg.SignerServiceAccount); email != "" {
		signer, err := platformstorage.NewIAMSigner(ctx, email)
		if err != nil {
			return nil, noop, err
		}
		return signer, func() { _ = signer.Close() }, nil
	}
	return nil, noop, nil
}

// apiKeySource resolves the provider key on every job so rotations in Secret
// Manager apply without a restart. Literal keys are returned as-is.
func apiKeySource(fetcher *secrets.Fetcher, raw string) services.APIKeySource {
	raw = strings.TrimSpace(raw)
	return func(ctx context.Context) (string, error) {
		if raw == "" {
			return "", nil
		}
		if !config.IsSecretReference(raw) {
			return raw, nil
		}
		value, err := fetcher.Resolve(ctx, config.NormalizeSecretReference(raw))
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(value), nil
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func newHealthRepository(provider *pfirestore.Provider, client *cloudstorage.Client, fetcher *secrets.Fetcher, cfg config.Config) (repositories.HealthRepository, error) {
	checks := make([]repositories.DependencyCheck, 0, 3)
	if provider != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:     "firestore",
			Timeout:  1500 * time.Millisecond,
			Critical: true,
			Check:    provider.Ping,
		})
	}
	if client != nil && strings.TrimSpace(cfg.Storage.DefaultBucket) != "" {
		bucket := strings.TrimSpace(cfg.Storage.DefaultBucket)
		checks = append(checks, repositories.DependencyCheck{
			Name:     "storage",
			Timeout:  1500 * time.Millisecond,
			Critical: true,
			Check: func(ctx context.Context) error {
				_, err := client.Bucket(bucket).Attrs(ctx)
				return err
			},
		})
	}
	if fetcher != nil {
		const secretHealthReference = "secret://system/healthz?version=latest"
		checks = append(checks, repositories.DependencyCheck{
			Name:    "secretManager",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				_, err := fetcher.Resolve(ctx, secretHealthReference)
				if err == nil {
					return nil
				}
				if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
					return nil
				}
				return err
			},
		})
	}
	if len(checks) == 0 {
		return nil, errors.New("health: no dependency checks configured")
	}
	return repositories.NewDependencyHealthRepository(checks)
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.Security.OIDC.JWKSURL) == "" {
		return nil
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	adapter := observability.NewPrintfAdapter(logger)
	cache := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL)
	validator := auth.NewOIDCValidator(cache,
		auth.WithOIDCLogger(adapter),
		auth.WithAllowedServiceAccounts(cfg.Security.OIDC.ServiceAccounts...),
	)

	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	issuers := cfg.Security.OIDC.Issuers
	if len(issuers) == 0 {
		logger.Warn("auth: OIDC issuers not configured; internal routes will reject requests")
	}

	return validator.RequireOIDC(audience, issuers)
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		return strings.TrimSpace(env[key])
	}

	envLabel := strings.ToLower(lookup("API_ENV"))
	if envLabel == "" {
		envLabel = "local"
	}
	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
		secrets.WithMeter(otel.GetMeterProvider().Meter(instrumentationName)),
		secrets.WithCacheTTL(secretCacheTTL),
	}
	if projectMap := secretProjectMapFromEnv(env); len(projectMap) > 0 {
		opts = append(opts, secrets.WithProjectMap(projectMap))
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists secrets that must resolve to a value. The signer
// key is optional, but a configured reference that resolves empty is a
// deployment mistake.
func requiredSecretNames(env map[string]string) []string {
	var required []string
	if env != nil && config.IsSecretReference(env["API_STORAGE_SIGNER_KEY"]) {
		required = append(required, "Storage.SignerKey")
	}
	return required
}

func secretProjectMapFromEnv(env map[string]string) map[string]string {
	raw := ""
	if env != nil {
		raw = env["API_SECRET_PROJECT_IDS"]
	}
	raw = strings.TrimSpace(raw)
	projects := make(map[string]string)
	if raw == "" {
		return projects
	}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		envLabel := strings.ToLower(strings.TrimSpace(parts[0]))
		project := strings.TrimSpace(parts[1])
		if envLabel == "" || project == "" {
			continue
		}
		projects[envLabel] = project
	}
	return projects
}
