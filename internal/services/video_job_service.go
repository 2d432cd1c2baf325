package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/adreel/api/internal/domain"
	"github.com/adreel/api/internal/platform/storage"
	"github.com/adreel/api/internal/prompt"
	"github.com/adreel/api/internal/providers/veo"
	"github.com/adreel/api/internal/repositories"
)

const (
	instrumentationName = "github.com/adreel/api/internal/services"

	defaultPollInterval    = 10 * time.Second
	defaultMaxPollAttempts = 54
	defaultHeartbeatEvery  = 3
	defaultJobBudget       = 9*time.Minute + 30*time.Second

	terminalWriteTimeout = 10 * time.Second
	videoContentType     = "video/mp4"
)

type VideoJobServiceDeps struct {
	Jobs      repositories.VideoJobRepository
	Gate      JobGate
	Images    ImageResolver
	Provider  VideoProvider
	APIKey    APIKeySource
	Objects   ObjectStore
	Analytics AnalyticsService

	// OutputBucket receives rehosted videos. When empty the provider URL is kept.
	OutputBucket    string
	PollInterval    time.Duration
	MaxPollAttempts int
	HeartbeatEvery  int
	JobBudget       time.Duration

	Sleep          func(ctx context.Context, d time.Duration) error
	Clock          func() time.Time
	IDGenerator    func() string
	TokenGenerator func() string
	Meter          metric.Meter
	Tracer         trace.Tracer
	Logger         func(ctx context.Context, event string, fields map[string]any)
}

type videoJobService struct {
	jobs      repositories.VideoJobRepository
	gate      JobGate
	images    ImageResolver
	provider  VideoProvider
	apiKey    APIKeySource
	objects   ObjectStore
	analytics AnalyticsService

	outputBucket   string
	pollInterval   time.Duration
	maxAttempts    int
	heartbeatEvery int
	budget         time.Duration

	sleep    func(context.Context, time.Duration) error
	now      func() time.Time
	newID    func() string
	newToken func() string
	tracer   trace.Tracer
	outcomes metric.Int64Counter
	attempts metric.Int64Histogram
	logger   func(context.Context, string, map[string]any)
}

var _ VideoJobService = (*videoJobService)(nil)

// NewVideoJobService wires the orchestrator.
func NewVideoJobService(deps VideoJobServiceDeps) (VideoJobService, error) {
	switch {
	case deps.Jobs == nil:
		return nil, errors.New("video job service: video job repository is required")
	case deps.Gate == nil:
		return nil, errors.New("video job service: job gate is required")
	case deps.Images == nil:
		return nil, errors.New("video job service: image resolver is required")
	case deps.Provider == nil:
		return nil, errors.New("video job service: video provider is required")
	case deps.APIKey == nil:
		return nil, errors.New("video job service: api key source is required")
	}

	svc := &videoJobService{
		jobs:           deps.Jobs,
		gate:           deps.Gate,
		images:         deps.Images,
		provider:       deps.Provider,
		apiKey:         deps.APIKey,
		objects:        deps.Objects,
		analytics:      deps.Analytics,
		outputBucket:   strings.TrimSpace(deps.OutputBucket),
		pollInterval:   deps.PollInterval,
		maxAttempts:    deps.MaxPollAttempts,
		heartbeatEvery: deps.HeartbeatEvery,
		budget:         deps.JobBudget,
		sleep:          deps.Sleep,
		newID:          deps.IDGenerator,
		newToken:       deps.TokenGenerator,
		tracer:         deps.Tracer,
		logger:         deps.Logger,
	}
	if svc.pollInterval <= 0 {
		svc.pollInterval = defaultPollInterval
	}
	if svc.maxAttempts <= 0 {
		svc.maxAttempts = defaultMaxPollAttempts
	}
	if svc.heartbeatEvery <= 0 {
		svc.heartbeatEvery = defaultHeartbeatEvery
	}
	if svc.budget <= 0 {
		svc.budget = defaultJobBudget
	}
	if svc.sleep == nil {
		svc.sleep = sleepContext
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	svc.now = func() time.Time {
		return clock().UTC()
	}
	if svc.newID == nil {
		svc.newID = func() string {
			return ulid.Make().String()
		}
	}
	if svc.newToken == nil {
		svc.newToken = func() string { return uuid.NewString() }
	}
	if svc.tracer == nil {
		svc.tracer = otel.Tracer(instrumentationName)
	}
	if svc.logger == nil {
		svc.logger = func(context.Context, string, map[string]any) {}
	}

	meter := deps.Meter
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	var err error
	svc.outcomes, err = meter.Int64Counter("video_jobs.outcomes",
		metric.WithDescription("Video jobs reaching a terminal state"))
	if err != nil {
		return nil, fmt.Errorf("video job service: outcomes counter: %w", err)
	}
	svc.attempts, err = meter.Int64Histogram("video_jobs.poll_attempts",
		metric.WithDescription("Poll attempts until the provider operation finished"))
	if err != nil {
		return nil, fmt.Errorf("video job service: poll attempts histogram: %w", err)
	}
	return svc, nil
}

// Start admits the job and, when admitted, runs it to a terminal state before
// returning. The run is detached from ctx cancellation and bounded by the
// job budget instead.
func (s *videoJobService) Start(ctx context.Context, cmd StartVideoJobCommand) (VideoJobResult, error) {
	jobID := strings.TrimSpace(cmd.JobID)
	actorID := strings.TrimSpace(cmd.ActorID)
	if jobID == "" {
		return VideoJobResult{}, fmt.Errorf("%w: job id is required", ErrVideoJobInvalidInput)
	}
	if actorID == "" {
		return VideoJobResult{}, fmt.Errorf("%w: actor id is required", ErrVideoJobInvalidInput)
	}

	// a missing key only stops jobs the gate would claim; ready and pending
	// jobs still answer from their stored state
	var credential AdmitOption
	apiKey, err := s.apiKey(ctx)
	if err == nil && strings.TrimSpace(apiKey) == "" {
		err = errors.New("api key is empty")
	}
	if err != nil {
		s.logger(ctx, "video_job.credential_unavailable", map[string]any{"jobId": jobID, "error": err.Error()})
		credential = BlockAdmission(newJobFailure(ErrVideoJobFailedPrecondition, domain.VideoJobReasonMissingCredential, ErrMissingCredential))
	}

	admission, err := s.gate.Admit(ctx, jobID, actorID, credential)
	if err != nil {
		return VideoJobResult{}, err
	}
	if !admission.Admitted {
		s.logger(ctx, "video_job.not_admitted", map[string]any{"jobId": jobID, "reason": string(admission.Reason)})
		if admission.Reason == AdmissionAlreadyReady {
			return VideoJobResult{Status: domain.VideoJobStatusReady, FinalVideoURL: admission.Job.FinalVideoURL}, nil
		}
		return VideoJobResult{Status: domain.VideoJobStatusPending}, nil
	}

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.budget)
	defer cancel()
	return s.run(runCtx, admission.Job, apiKey)
}

func (s *videoJobService) run(ctx context.Context, job VideoJob, apiKey string) (VideoJobResult, error) {
	ctx, span := s.tracer.Start(ctx, "video_job.run", trace.WithAttributes(attribute.String("video_job.id", job.ID)))
	defer span.End()
	s.logger(ctx, "video_job.admitted", map[string]any{"jobId": job.ID, "ownerId": job.OwnerID})

	description := strings.TrimSpace(job.Prompt.Product.Description)
	if description == "" {
		return s.fail(ctx, span, job, newJobFailure(ErrVideoJobFailedPrecondition, domain.VideoJobReasonMissingPrompt, ErrMissingPrompt))
	}

	image, err := s.resolveImage(ctx, job)
	if err != nil {
		return s.fail(ctx, span, job, err)
	}

	built := prompt.Build(description, job.Prompt.Hint)
	aspectRatio := firstNonEmpty(job.Prompt.Output.AspectRatio, job.AspectRatio)
	resolution := strings.TrimSpace(job.Prompt.Output.Resolution)
	veoPrompt := prompt.Compose(built,
		prompt.Brand{Name: job.Brief.Brand.Name, Slogan: job.Brief.Brand.Slogan},
		prompt.Output{AspectRatio: aspectRatio, Resolution: resolution},
	)
	span.SetAttributes(attribute.String("video_job.category", string(built.Category)))

	generating := domain.VideoJobStatusGenerating
	templateID, category := built.TemplateID, string(built.Category)
	stored, applied, err := s.advance(ctx, job.ID, repositories.VideoJobUpdate{
		Status:     &generating,
		TemplateID: &templateID,
		Category:   &category,
		VeoPrompt:  &veoPrompt,
		UpdatedAt:  s.now(),
	})
	if err != nil {
		return s.fail(ctx, span, job, newJobFailure(ErrVideoJobInternal, domain.VideoJobReasonPersistFailed,
			fmt.Errorf("persist generating status: %w", err)))
	}
	if !applied {
		return s.settled(ctx, span, stored)
	}

	operationName, err := s.submit(ctx, job, apiKey, veo.GenerateRequest{
		Model:       job.Model,
		Prompt:      veoPrompt,
		Image:       toProviderImage(image),
		AspectRatio: aspectRatio,
		Resolution:  resolution,
	})
	if err != nil {
		return s.fail(ctx, span, job, err)
	}

	processing := domain.VideoJobStatusProcessing
	stored, applied, err = s.advance(ctx, job.ID, repositories.VideoJobUpdate{
		Status:        &processing,
		ProviderJobID: &operationName,
		UpdatedAt:     s.now(),
	})
	switch {
	case err != nil:
		// the operation is already running; keep polling so the job can still finish
		s.logger(ctx, "video_job.persist_processing_failed", map[string]any{"jobId": job.ID, "error": err.Error()})
	case !applied:
		return s.settled(ctx, span, stored)
	}

	op, err := s.poll(ctx, job, apiKey, operationName)
	if err != nil {
		return s.fail(ctx, span, job, err)
	}

	artifact := extractArtifact(op)
	if !artifact.Found {
		return s.fail(ctx, span, job, newJobFailure(ErrVideoJobInternal, domain.VideoJobReasonNoVideo, ErrNoArtifact))
	}
	s.bestEffort(ctx, job.ID, "debug_extractor", func(ctx context.Context) error {
		return s.jobs.Update(ctx, job.ID, repositories.VideoJobUpdate{Debug: map[string]any{
			"extractor":   artifact.Source,
			"providerUri": artifact.URI,
		}})
	})

	finalURL := s.rehost(ctx, job, apiKey, artifact.URI)
	return s.complete(ctx, span, job, finalURL)
}

func (s *videoJobService) resolveImage(ctx context.Context, job VideoJob) (ResolvedImage, error) {
	ctx, span := s.tracer.Start(ctx, "video_job.resolve_image")
	defer span.End()

	image, err := s.images.Resolve(ctx, job)
	if err != nil {
		span.RecordError(err)
		if FailureReason(err) == "" {
			err = newJobFailure(ErrVideoJobFailedPrecondition, domain.VideoJobReasonImageResolutionFailed, err)
		}
		return ResolvedImage{}, err
	}
	span.SetAttributes(
		attribute.String("image.source", string(image.Source)),
		attribute.String("image.method", string(image.Method)),
	)
	s.bestEffort(ctx, job.ID, "debug_image", func(ctx context.Context) error {
		return s.jobs.Update(ctx, job.ID, repositories.VideoJobUpdate{Debug: map[string]any{
			"imageSource": string(image.Source),
			"imageMethod": string(image.Method),
			"imageBucket": image.Bucket,
		}})
	})
	return image, nil
}

func (s *videoJobService) submit(ctx context.Context, job VideoJob, apiKey string, req veo.GenerateRequest) (string, error) {
	ctx, span := s.tracer.Start(ctx, "video_job.submit")
	defer span.End()

	name, err := s.provider.Generate(ctx, apiKey, req)
	if err != nil {
		span.RecordError(err)
		var apiErr *veo.APIError
		if errors.As(err, &apiErr) && apiErr.IsClientError() {
			return "", newJobFailure(ErrVideoJobFailedPrecondition, domain.VideoJobReasonProviderRejected,
				fmt.Errorf("%w: %v", ErrProviderRejected, err))
		}
		return "", newJobFailure(ErrVideoJobInternal, domain.VideoJobReasonSubmissionFailed,
			fmt.Errorf("%w: %v", ErrSubmissionFailed, err))
	}
	s.logger(ctx, "video_job.submitted", map[string]any{"jobId": job.ID, "operation": name})
	return name, nil
}

// poll waits for the operation to finish. Every heartbeatEvery attempts the
// job records a heartbeat so readers can tell the worker is alive.
func (s *videoJobService) poll(ctx context.Context, job VideoJob, apiKey, operationName string) (veo.Operation, error) {
	ctx, span := s.tracer.Start(ctx, "video_job.poll")
	defer span.End()

	timeout := func(attempt int) error {
		s.attempts.Record(ctx, int64(attempt))
		return newJobFailure(ErrVideoJobDeadlineExceeded, domain.VideoJobReasonTimeout,
			fmt.Errorf("%w after %d attempts", ErrPollTimeout, attempt))
	}

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if err := s.sleep(ctx, s.pollInterval); err != nil {
			return veo.Operation{}, timeout(attempt - 1)
		}

		op, err := s.provider.Poll(ctx, apiKey, operationName)
		if err != nil {
			if ctx.Err() != nil {
				return veo.Operation{}, timeout(attempt)
			}
			span.RecordError(err)
			return veo.Operation{}, newJobFailure(ErrVideoJobInternal, domain.VideoJobReasonPollFailed,
				fmt.Errorf("%w: %v", ErrPollFailed, err))
		}

		if attempt%s.heartbeatEvery == 0 {
			heartbeat, count := s.now(), attempt
			s.bestEffort(ctx, job.ID, "heartbeat", func(ctx context.Context) error {
				return s.jobs.Update(ctx, job.ID, repositories.VideoJobUpdate{
					ProcessingHeartbeat:    &heartbeat,
					ProcessingPollAttempts: &count,
					UpdatedAt:              heartbeat,
				})
			})
		}

		if !op.Done {
			continue
		}
		s.attempts.Record(ctx, int64(attempt))
		span.SetAttributes(attribute.Int("video_job.poll_attempts", attempt))
		if op.Error != nil {
			return veo.Operation{}, newJobFailure(ErrVideoJobInternal, domain.VideoJobReasonProviderError,
				fmt.Errorf("%w: %v", ErrProviderOperation, op.Error))
		}
		return op, nil
	}
	return veo.Operation{}, timeout(s.maxAttempts)
}

// rehost copies the artifact into the output bucket and returns a token URL.
// Any failure falls back to the provider URL.
func (s *videoJobService) rehost(ctx context.Context, job VideoJob, apiKey, uri string) string {
	if s.objects == nil || s.outputBucket == "" {
		return uri
	}
	ctx, span := s.tracer.Start(ctx, "video_job.rehost")
	defer span.End()

	dst, token, err := s.rehostObject(ctx, job, apiKey, uri)
	if err != nil {
		span.RecordError(err)
		s.logger(ctx, "video_job.rehost_failed", map[string]any{"jobId": job.ID, "uri": uri, "error": err.Error()})
		s.bestEffort(ctx, job.ID, "debug_rehost", func(ctx context.Context) error {
			return s.jobs.Update(ctx, job.ID, repositories.VideoJobUpdate{Debug: map[string]any{
				"rehostError": truncateMessage(err.Error()),
			}})
		})
		return uri
	}
	return storage.TokenDownloadURL(dst, token)
}

func (s *videoJobService) rehostObject(ctx context.Context, job VideoJob, apiKey, uri string) (storage.ObjectRef, string, error) {
	objectPath, err := storage.BuildObjectPath(storage.PurposeGeneratedVideo, storage.PathParams{
		OwnerID:  job.OwnerID,
		JobID:    job.ID,
		FileName: s.newID(),
	})
	if err != nil {
		return storage.ObjectRef{}, "", err
	}
	dst := storage.ObjectRef{Bucket: s.outputBucket, Object: objectPath}
	token := s.newToken()
	opts := storage.UploadOptions{
		ContentType: videoContentType,
		Metadata:    map[string]string{storage.DownloadTokenKey: token},
	}

	if strings.HasPrefix(uri, "gs://") {
		src, err := storage.ParseGSURI(uri)
		if err != nil {
			return storage.ObjectRef{}, "", err
		}
		if err := s.objects.Copy(ctx, src, dst, opts); err != nil {
			return storage.ObjectRef{}, "", err
		}
		return dst, token, nil
	}

	body, contentType, err := s.provider.Download(ctx, apiKey, uri)
	if err != nil {
		return storage.ObjectRef{}, "", err
	}
	defer body.Close()
	if strings.HasPrefix(contentType, "video/") {
		opts.ContentType = contentType
	}
	if _, err := s.objects.Upload(ctx, dst, body, opts); err != nil {
		return storage.ObjectRef{}, "", err
	}
	return dst, token, nil
}

func (s *videoJobService) complete(ctx context.Context, span trace.Span, job VideoJob, finalURL string) (VideoJobResult, error) {
	writeCtx, cancel := terminalContext(ctx)
	defer cancel()

	now := s.now()
	ready := domain.VideoJobStatusReady
	stored, applied, err := s.advance(writeCtx, job.ID, repositories.VideoJobUpdate{
		Status:                &ready,
		FinalVideoURL:         &finalURL,
		ProcessingCompletedAt: &now,
		UpdatedAt:             now,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, "persist ready status")
		s.logger(ctx, "video_job.persist_ready_failed", map[string]any{"jobId": job.ID, "error": err.Error()})
		return VideoJobResult{}, fmt.Errorf("%w: persist ready status: %v", ErrVideoJobInternal, err)
	}
	if !applied {
		return s.settled(ctx, span, stored)
	}

	s.recordOutcome(ctx, domain.VideoJobStatusReady, "")
	s.track(writeCtx, job, domain.AnalyticsEventVideoJobReady, map[string]any{"finalVideoUrl": finalURL})
	s.logger(ctx, "video_job.ready", map[string]any{"jobId": job.ID})
	return VideoJobResult{Status: domain.VideoJobStatusReady, FinalVideoURL: finalURL}, nil
}

// fail records the error on the job and returns cause unchanged, unless the
// job already reached a terminal state elsewhere.
func (s *videoJobService) fail(ctx context.Context, span trace.Span, job VideoJob, cause error) (VideoJobResult, error) {
	reason := FailureReason(cause)
	span.RecordError(cause)
	span.SetStatus(otelcodes.Error, reason)

	writeCtx, cancel := terminalContext(ctx)
	defer cancel()

	now := s.now()
	status := domain.VideoJobStatusError
	stored, applied, err := s.advance(writeCtx, job.ID, repositories.VideoJobUpdate{
		Status:                &status,
		Error:                 &domain.VideoJobError{Code: reason, Message: truncateMessage(cause.Error())},
		ProcessingCompletedAt: &now,
		UpdatedAt:             now,
	})
	switch {
	case err != nil:
		s.logger(ctx, "video_job.persist_error_failed", map[string]any{"jobId": job.ID, "reason": reason, "error": err.Error()})
	case !applied:
		return s.settled(ctx, span, stored)
	}

	s.recordOutcome(ctx, domain.VideoJobStatusError, reason)
	s.track(writeCtx, job, domain.AnalyticsEventVideoJobFailed, map[string]any{"reason": reason})
	s.logger(ctx, "video_job.failed", map[string]any{"jobId": job.ID, "reason": reason, "error": cause.Error()})
	return VideoJobResult{}, cause
}

// advance applies a status transition unless the job is already terminal, in
// which case nothing is written and the stored job is returned.
func (s *videoJobService) advance(ctx context.Context, jobID string, update repositories.VideoJobUpdate) (VideoJob, bool, error) {
	var (
		stored  VideoJob
		applied bool
	)
	err := s.jobs.Transact(ctx, jobID, func(_ context.Context, job domain.VideoJob) (*repositories.VideoJobUpdate, error) {
		stored, applied = job, false
		if job.Status.IsTerminal() {
			return nil, nil
		}
		applied = true
		return &update, nil
	})
	if err != nil {
		return VideoJob{}, false, err
	}
	return stored, applied, nil
}

// settled reports the outcome of a job finished by another writer, such as an
// operator abandoning it. Outcome metrics and analytics belong to that writer.
func (s *videoJobService) settled(ctx context.Context, span trace.Span, job VideoJob) (VideoJobResult, error) {
	span.SetAttributes(attribute.String("video_job.settled_as", string(job.Status)))
	s.logger(ctx, "video_job.superseded", map[string]any{"jobId": job.ID, "status": string(job.Status)})
	if job.IsReady() {
		return VideoJobResult{Status: domain.VideoJobStatusReady, FinalVideoURL: job.FinalVideoURL}, nil
	}
	reason := ""
	if job.Error != nil {
		reason = job.Error.Code
	}
	return VideoJobResult{}, newJobFailure(ErrVideoJobFailedPrecondition, reason, ErrJobTerminal)
}

func (s *videoJobService) Get(ctx context.Context, cmd GetVideoJobCommand) (VideoJob, error) {
	jobID := strings.TrimSpace(cmd.JobID)
	if jobID == "" {
		return VideoJob{}, fmt.Errorf("%w: job id is required", ErrVideoJobInvalidInput)
	}
	job, err := s.jobs.FindByID(ctx, jobID)
	if err != nil {
		return VideoJob{}, translateRepoError(err)
	}
	if job.OwnerID != strings.TrimSpace(cmd.ActorID) {
		return VideoJob{}, ErrVideoJobForbidden
	}
	return job, nil
}

// Abandon moves a stuck job to error. Terminal jobs are rejected so status
// never moves backwards. A worker still running the job notices at its next
// status write and stops without overwriting the abandoned state.
func (s *videoJobService) Abandon(ctx context.Context, cmd AbandonVideoJobCommand) (VideoJob, error) {
	jobID := strings.TrimSpace(cmd.JobID)
	if jobID == "" {
		return VideoJob{}, fmt.Errorf("%w: job id is required", ErrVideoJobInvalidInput)
	}
	message := strings.TrimSpace(cmd.Message)
	if message == "" {
		message = "abandoned by operator"
	}

	var abandoned VideoJob
	err := s.jobs.Transact(ctx, jobID, func(_ context.Context, job domain.VideoJob) (*repositories.VideoJobUpdate, error) {
		if job.Status.IsTerminal() {
			return nil, newJobFailure(ErrVideoJobFailedPrecondition, "", ErrJobTerminal)
		}
		now := s.now()
		status := domain.VideoJobStatusError
		jobErr := &domain.VideoJobError{Code: domain.VideoJobReasonAbandoned, Message: truncateMessage(message)}

		abandoned = job
		abandoned.Status = status
		abandoned.Error = jobErr
		abandoned.Processing.CompletedAt = &now
		abandoned.UpdatedAt = now
		return &repositories.VideoJobUpdate{
			Status:                &status,
			Error:                 jobErr,
			ProcessingCompletedAt: &now,
			Debug:                 map[string]any{"abandonedBy": strings.TrimSpace(cmd.ActorID)},
			UpdatedAt:             now,
		}, nil
	})
	if err != nil {
		var failure *JobFailure
		if errors.As(err, &failure) {
			return VideoJob{}, failure
		}
		return VideoJob{}, translateRepoError(err)
	}

	s.recordOutcome(ctx, domain.VideoJobStatusError, domain.VideoJobReasonAbandoned)
	s.track(ctx, abandoned, domain.AnalyticsEventVideoJobFailed, map[string]any{"reason": domain.VideoJobReasonAbandoned})
	s.logger(ctx, "video_job.abandoned", map[string]any{"jobId": jobID, "actor": cmd.ActorID})
	return abandoned, nil
}

func (s *videoJobService) track(ctx context.Context, job VideoJob, event string, fields map[string]any) {
	if s.analytics == nil {
		return
	}
	payload := map[string]any{"status": string(job.Status)}
	if job.Category != "" {
		payload["category"] = job.Category
	}
	for k, v := range fields {
		payload[k] = v
	}
	s.analytics.Track(ctx, AnalyticsEvent{
		OwnerID:   job.OwnerID,
		Event:     event,
		JobID:     job.ID,
		Context:   payload,
		Timestamp: s.now(),
	})
}

func (s *videoJobService) recordOutcome(ctx context.Context, status VideoJobStatus, reason string) {
	s.outcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", string(status)),
		attribute.String("reason", reason),
	))
}

// bestEffort runs a side write whose failure must not affect the job.
func (s *videoJobService) bestEffort(ctx context.Context, jobID, name string, fn func(context.Context) error) {
	if err := fn(ctx); err != nil {
		s.logger(ctx, "video_job.best_effort_failed", map[string]any{"jobId": jobID, "op": name, "error": err.Error()})
	}
}

func translateRepoError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrVideoJobNotFound
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrVideoJobUnavailable, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrVideoJobInternal, err)
}

// terminalContext gives final writes their own deadline, since the run
// context may already have expired when the budget ran out.
func terminalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), terminalWriteTimeout)
}

func toProviderImage(image ResolvedImage) *veo.Image {
	if len(image.Bytes) == 0 && image.URL == "" {
		return nil
	}
	return &veo.Image{Bytes: image.Bytes, URI: image.URL, MimeType: image.MimeType}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
