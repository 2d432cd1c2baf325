package services

import (
	"context"
	"io"
	"time"

	domain "github.com/adreel/api/internal/domain"
	"github.com/adreel/api/internal/platform/storage"
	"github.com/adreel/api/internal/providers/veo"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	VideoJob           = domain.VideoJob
	VideoJobStatus     = domain.VideoJobStatus
	AnalyticsEvent     = domain.AnalyticsEvent
	SystemHealthReport = domain.SystemHealthReport
)

// VideoJobService drives a job from admission to ready or error.
type VideoJobService interface {
	Start(ctx context.Context, cmd StartVideoJobCommand) (VideoJobResult, error)
	Get(ctx context.Context, cmd GetVideoJobCommand) (VideoJob, error)
	Abandon(ctx context.Context, cmd AbandonVideoJobCommand) (VideoJob, error)
}

// JobGate admits at most one worker per job.
type JobGate interface {
	Admit(ctx context.Context, jobID, callerID string, opts ...AdmitOption) (Admission, error)
}

// ImageResolver locates the product image and prepares it for the provider.
type ImageResolver interface {
	Resolve(ctx context.Context, job VideoJob) (ResolvedImage, error)
}

// AnalyticsService records events. Failures are logged and never returned.
type AnalyticsService interface {
	Track(ctx context.Context, event AnalyticsEvent)
}

// SystemService aggregates health checks and build metadata.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// Collaborators ---------------------------------------------------------------

// ObjectStore is the Cloud Storage surface used by the resolver and rehost step.
type ObjectStore interface {
	Attrs(ctx context.Context, ref storage.ObjectRef) (storage.ObjectAttrs, error)
	Download(ctx context.Context, ref storage.ObjectRef, limit int64) ([]byte, error)
	Upload(ctx context.Context, ref storage.ObjectRef, body io.Reader, opts storage.UploadOptions) (int64, error)
	UpdateMetadata(ctx context.Context, ref storage.ObjectRef, metadata map[string]string) error
	Copy(ctx context.Context, src, dst storage.ObjectRef, opts storage.UploadOptions) error
}

type URLSigner interface {
	SignedDownloadURL(ctx context.Context, ref storage.ObjectRef, ttl time.Duration) (storage.SignedURLResult, error)
}

// VideoProvider is the long-running generation API.
type VideoProvider interface {
	Generate(ctx context.Context, apiKey string, req veo.GenerateRequest) (string, error)
	Poll(ctx context.Context, apiKey, operationName string) (veo.Operation, error)
	Download(ctx context.Context, apiKey, uri string) (io.ReadCloser, string, error)
}

// APIKeySource returns the provider credential for one job run.
type APIKeySource func(ctx context.Context) (string, error)

// AnalyticsPublisher fans events out to downstream consumers.
type AnalyticsPublisher interface {
	PublishAnalyticsEvent(ctx context.Context, event AnalyticsEvent) (string, error)
}

// Command and DTO definitions ------------------------------------------------

type StartVideoJobCommand struct {
	JobID   string
	ActorID string
}

type GetVideoJobCommand struct {
	JobID   string
	ActorID string
}

type AbandonVideoJobCommand struct {
	JobID   string
	ActorID string
	Message string
}

// VideoJobResult is returned to the caller of Start. FinalVideoURL is only
// set when Status is ready.
type VideoJobResult struct {
	Status        VideoJobStatus
	FinalVideoURL string
}

type AdmissionReason string

const (
	AdmissionAlreadyReady   AdmissionReason = "alreadyReady"
	AdmissionAlreadyPending AdmissionReason = "alreadyPending"
)

// Admission is the gate decision. Reason is empty when Admitted.
type Admission struct {
	Admitted bool
	Reason   AdmissionReason
	Job      VideoJob
}

type AdmitOption func(*admitSettings)

type admitSettings struct {
	blocked error
}

// BlockAdmission makes Admit fail with err where it would otherwise claim the
// job. Decisions that leave the job untouched are still reported. A nil err
// has no effect.
func BlockAdmission(err error) AdmitOption {
	return func(s *admitSettings) {
		s.blocked = err
	}
}

type ImageSource string

const (
	ImageSourceDeclared   ImageSource = "declared"
	ImageSourceLegacyPath ImageSource = "legacy_path"
	ImageSourceLegacyURL  ImageSource = "legacy_url"
)

type ImageMethod string

const (
	ImageMethodInline    ImageMethod = "inline"
	ImageMethodSignedURL ImageMethod = "signed_url"
	ImageMethodTokenURL  ImageMethod = "token_url"
)

// ResolvedImage carries either inline Bytes or a fetchable URL.
type ResolvedImage struct {
	Bytes    []byte
	URL      string
	MimeType string
	Ref      storage.ObjectRef
	Bucket   string
	Source   ImageSource
	Method   ImageMethod
}
