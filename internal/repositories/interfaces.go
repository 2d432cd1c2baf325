package repositories

import (
	"context"
	"time"

	domain "github.com/adreel/api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// VideoJobUpdate is a partial write. Nil fields are left untouched so
// concurrent writers only clobber the fields they name (last writer wins).
type VideoJobUpdate struct {
	Status        *domain.VideoJobStatus
	TemplateID    *string
	Category      *string
	VeoPrompt     *string
	ProviderJobID *string
	FinalVideoURL *string
	ImageGSPath   *string
	Error         *domain.VideoJobError

	ProcessingStartedAt    *time.Time
	ProcessingHeartbeat    *time.Time
	ProcessingPollAttempts *int
	ProcessingCompletedAt  *time.Time

	// Debug keys are written under debug.<key>.
	Debug map[string]any

	UpdatedAt time.Time
}

// IsEmpty reports whether the update would write nothing.
func (u VideoJobUpdate) IsEmpty() bool {
	return u.Status == nil && u.TemplateID == nil && u.Category == nil && u.VeoPrompt == nil &&
		u.ProviderJobID == nil && u.FinalVideoURL == nil && u.ImageGSPath == nil && u.Error == nil &&
		u.ProcessingStartedAt == nil && u.ProcessingHeartbeat == nil && u.ProcessingPollAttempts == nil &&
		u.ProcessingCompletedAt == nil && len(u.Debug) == 0 && u.UpdatedAt.IsZero()
}

// VideoJobTxFunc decides, from the job read inside the transaction, what to
// write back. Returning a nil update commits without writing. It may be
// invoked more than once on contention.
type VideoJobTxFunc func(ctx context.Context, job domain.VideoJob) (*VideoJobUpdate, error)

// VideoJobRepository persists job documents. Missing jobs surface as a
// RepositoryError with IsNotFound.
type VideoJobRepository interface {
	FindByID(ctx context.Context, jobID string) (domain.VideoJob, error)
	// Transact reads the job and applies fn's update atomically.
	Transact(ctx context.Context, jobID string, fn VideoJobTxFunc) error
	Update(ctx context.Context, jobID string, update VideoJobUpdate) error
}

// AnalyticsRepository appends analytics events.
type AnalyticsRepository interface {
	Append(ctx context.Context, event domain.AnalyticsEvent) error
}

// HealthRepository reports the status of backing services for readiness probes.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
