package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/adreel/api/internal/domain"
	"github.com/adreel/api/internal/repositories"
)

type JobGateDeps struct {
	Jobs  repositories.VideoJobRepository
	Clock func() time.Time
}

type jobGate struct {
	jobs repositories.VideoJobRepository
	now  func() time.Time
}

var _ JobGate = (*jobGate)(nil)

// NewJobGate builds the admission check used by Start. All decisions are
// taken from the job as read inside the transaction.
func NewJobGate(deps JobGateDeps) (JobGate, error) {
	if deps.Jobs == nil {
		return nil, errors.New("job gate: video job repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &jobGate{
		jobs: deps.Jobs,
		now: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

func (g *jobGate) Admit(ctx context.Context, jobID, callerID string, opts ...AdmitOption) (Admission, error) {
	jobID = strings.TrimSpace(jobID)
	callerID = strings.TrimSpace(callerID)
	if jobID == "" {
		return Admission{}, fmt.Errorf("%w: job id is required", ErrVideoJobInvalidInput)
	}
	if callerID == "" {
		return Admission{}, fmt.Errorf("%w: caller id is required", ErrVideoJobInvalidInput)
	}
	var settings admitSettings
	for _, opt := range opts {
		if opt != nil {
			opt(&settings)
		}
	}

	var admission Admission
	err := g.jobs.Transact(ctx, jobID, func(_ context.Context, job domain.VideoJob) (*repositories.VideoJobUpdate, error) {
		// reset on every attempt; the transaction may retry
		admission = Admission{Job: job}

		if job.OwnerID != callerID {
			return nil, ErrVideoJobForbidden
		}
		if job.IsReady() {
			admission.Reason = AdmissionAlreadyReady
			return nil, nil
		}
		if job.Status == domain.VideoJobStatusError {
			reason := ""
			if job.Error != nil {
				reason = job.Error.Code
			}
			return nil, newJobFailure(ErrVideoJobFailedPrecondition, reason, ErrJobPreviouslyFailed)
		}
		if job.Processing.StartedAt != nil || job.Status != domain.VideoJobStatusPending {
			admission.Reason = AdmissionAlreadyPending
			return nil, nil
		}
		if settings.blocked != nil {
			return nil, settings.blocked
		}

		now := g.now()
		admission.Admitted = true
		admission.Job.Processing.StartedAt = &now
		admission.Job.UpdatedAt = now
		return &repositories.VideoJobUpdate{
			ProcessingStartedAt: &now,
			UpdatedAt:           now,
		}, nil
	})
	if err != nil {
		// contention that outlasted the retries means another caller is
		// writing the job right now; report it as in flight
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsConflict() {
			return Admission{Reason: AdmissionAlreadyPending}, nil
		}
		return Admission{}, g.translate(err)
	}
	return admission, nil
}

func (g *jobGate) translate(err error) error {
	var failure *JobFailure
	switch {
	case errors.As(err, &failure):
		return failure
	case errors.Is(err, ErrVideoJobForbidden):
		return ErrVideoJobForbidden
	}
	return translateRepoError(err)
}
