package domain

import (
	"time"
)

// VideoJobStatus tracks a job through pending → generating → processing →
// ready | error. ready and error are terminal.
type VideoJobStatus string

const (
	VideoJobStatusPending    VideoJobStatus = "pending"
	VideoJobStatusGenerating VideoJobStatus = "generating"
	VideoJobStatusProcessing VideoJobStatus = "processing"
	VideoJobStatusReady      VideoJobStatus = "ready"
	VideoJobStatusError      VideoJobStatus = "error"
)

// IsTerminal reports whether no further transition is allowed.
func (s VideoJobStatus) IsTerminal() bool {
	return s == VideoJobStatusReady || s == VideoJobStatusError
}

// Error reasons persisted under error.code and attached to analytics events.
const (
	VideoJobReasonMissingPrompt         = "missing_prompt"
	VideoJobReasonPersistFailed         = "persist_failed"
	VideoJobReasonImageRequired         = "image_required"
	VideoJobReasonImageResolutionFailed = "image_resolution_failed"
	VideoJobReasonProviderRejected      = "provider_rejected"
	VideoJobReasonSubmissionFailed      = "submission_failed"
	VideoJobReasonProviderError         = "provider_error"
	VideoJobReasonPollFailed            = "poll_failed"
	VideoJobReasonTimeout               = "timeout"
	VideoJobReasonNoVideo               = "no_video"
	VideoJobReasonAbandoned             = "abandoned"

	// VideoJobReasonMissingCredential is only reported to the caller; the job
	// is not touched.
	VideoJobReasonMissingCredential = "missing_credential"
)

// VideoJob is the job document created by the mobile client and advanced by
// the orchestrator. Debug fields are write-only and never read back.
type VideoJob struct {
	ID             string
	OwnerID        string
	Status         VideoJobStatus
	Prompt         PromptSpec
	InputImagePath string
	InputImageURL  string
	AspectRatio    string
	Model          string
	Brief          Brief
	TemplateID     string
	Category       string
	VeoPrompt      string
	ProviderJobID  string
	Processing     VideoJobProcessing
	FinalVideoURL  string
	Error          *VideoJobError
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsReady reports the terminal success state with a playable URL.
func (j VideoJob) IsReady() bool {
	return j.Status == VideoJobStatusReady && j.FinalVideoURL != ""
}

// PromptSpec mirrors promptV1 on the job document.
type PromptSpec struct {
	Product ProductSpec
	Output  OutputSpec
	Hint    string
}

type ProductSpec struct {
	Description string
	ImageGSPath string
}

type OutputSpec struct {
	Resolution  string
	AspectRatio string
}

type Brief struct {
	Brand Brand
}

type Brand struct {
	Name   string
	Slogan string
}

// VideoJobProcessing carries the admission marker and poll heartbeat.
type VideoJobProcessing struct {
	StartedAt    *time.Time
	Heartbeat    *time.Time
	PollAttempts int
	CompletedAt  *time.Time
}

type VideoJobError struct {
	Code    string
	Message string
}

// AnalyticsEvent is an append-only record; it is never read back.
type AnalyticsEvent struct {
	ID        string
	OwnerID   string
	Event     string
	JobID     string
	Context   map[string]any
	Timestamp time.Time
}

// Analytics event names.
const (
	AnalyticsEventVideoJobReady  = "video_job_ready"
	AnalyticsEventVideoJobFailed = "video_job_failed"
)

const (
	HealthStatusOK       = "ok"
	HealthStatusDegraded = "degraded"
	HealthStatusError    = "error"
)

// SystemHealthCheck describes the outcome of one dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for /readyz.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
