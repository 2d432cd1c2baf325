package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	domain "github.com/adreel/api/internal/domain"
	"github.com/adreel/api/internal/repositories"
)

func newTestGate(t *testing.T, repo *memoryVideoJobRepository, now time.Time) JobGate {
	t.Helper()
	gate, err := NewJobGate(JobGateDeps{Jobs: repo, Clock: func() time.Time { return now }})
	if err != nil {
		t.Fatalf("NewJobGate: %v", err)
	}
	return gate
}

func TestJobGateAdmitsPendingJob(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := newMemoryVideoJobRepository(domain.VideoJob{ID: "job-1", OwnerID: "user-1", Status: domain.VideoJobStatusPending})
	gate := newTestGate(t, repo, now)

	admission, err := gate.Admit(context.Background(), "job-1", "user-1")
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if !admission.Admitted || admission.Reason != "" {
		t.Fatalf("expected admission, got %+v", admission)
	}
	stored := repo.job("job-1")
	if stored.Processing.StartedAt == nil || !stored.Processing.StartedAt.Equal(now) {
		t.Fatalf("expected processing.startedAt %s, got %v", now, stored.Processing.StartedAt)
	}
	if !stored.UpdatedAt.Equal(now) {
		t.Fatalf("expected updatedAt %s, got %s", now, stored.UpdatedAt)
	}
	if admission.Job.Processing.StartedAt == nil {
		t.Fatalf("expected admitted job to carry the marker")
	}
}

func TestJobGateDecisions(t *testing.T) {
	started := time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC)
	cases := []struct {
		name    string
		job     domain.VideoJob
		caller  string
		reason  AdmissionReason
		wantErr error
	}{
		{
			name:   "ready returns stored url",
			job:    domain.VideoJob{ID: "job", OwnerID: "u", Status: domain.VideoJobStatusReady, FinalVideoURL: "https://v"},
			caller: "u",
			reason: AdmissionAlreadyReady,
		},
		{
			name:   "processing marker set",
			job:    domain.VideoJob{ID: "job", OwnerID: "u", Status: domain.VideoJobStatusPending, Processing: domain.VideoJobProcessing{StartedAt: &started}},
			caller: "u",
			reason: AdmissionAlreadyPending,
		},
		{
			name:   "generating without marker",
			job:    domain.VideoJob{ID: "job", OwnerID: "u", Status: domain.VideoJobStatusGenerating},
			caller: "u",
			reason: AdmissionAlreadyPending,
		},
		{
			name:    "previously failed",
			job:     domain.VideoJob{ID: "job", OwnerID: "u", Status: domain.VideoJobStatusError, Error: &domain.VideoJobError{Code: "timeout"}},
			caller:  "u",
			wantErr: ErrJobPreviouslyFailed,
		},
		{
			name:    "other owner",
			job:     domain.VideoJob{ID: "job", OwnerID: "u", Status: domain.VideoJobStatusPending},
			caller:  "intruder",
			wantErr: ErrVideoJobForbidden,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := newMemoryVideoJobRepository(tc.job)
			gate := newTestGate(t, repo, time.Now())

			admission, err := gate.Admit(context.Background(), "job", tc.caller)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				if repo.updateCount() != 0 {
					t.Fatalf("expected no writes on rejection")
				}
				return
			}
			if err != nil {
				t.Fatalf("Admit: %v", err)
			}
			if admission.Admitted || admission.Reason != tc.reason {
				t.Fatalf("expected reason %s, got %+v", tc.reason, admission)
			}
			if tc.reason == AdmissionAlreadyReady && admission.Job.FinalVideoURL != "https://v" {
				t.Fatalf("expected stored url, got %q", admission.Job.FinalVideoURL)
			}
			if repo.updateCount() != 0 {
				t.Fatalf("expected no writes when not admitted")
			}
		})
	}
}

func TestJobGatePreviouslyFailedIsPrecondition(t *testing.T) {
	repo := newMemoryVideoJobRepository(domain.VideoJob{ID: "job", OwnerID: "u", Status: domain.VideoJobStatusError, Error: &domain.VideoJobError{Code: "no_video"}})
	gate := newTestGate(t, repo, time.Now())

	_, err := gate.Admit(context.Background(), "job", "u")
	if !errors.Is(err, ErrVideoJobFailedPrecondition) {
		t.Fatalf("expected failed precondition, got %v", err)
	}
	if reason := FailureReason(err); reason != "no_video" {
		t.Fatalf("expected stored reason, got %q", reason)
	}
}

func TestJobGateMissingJob(t *testing.T) {
	gate := newTestGate(t, newMemoryVideoJobRepository(), time.Now())
	if _, err := gate.Admit(context.Background(), "missing", "u"); !errors.Is(err, ErrVideoJobNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestJobGateValidatesInput(t *testing.T) {
	gate := newTestGate(t, newMemoryVideoJobRepository(), time.Now())
	if _, err := gate.Admit(context.Background(), " ", "u"); !errors.Is(err, ErrVideoJobInvalidInput) {
		t.Fatalf("expected invalid input for job id, got %v", err)
	}
	if _, err := gate.Admit(context.Background(), "job", ""); !errors.Is(err, ErrVideoJobInvalidInput) {
		t.Fatalf("expected invalid input for caller, got %v", err)
	}
}

func TestJobGateConcurrentAdmissionAdmitsOnce(t *testing.T) {
	repo := newMemoryVideoJobRepository(domain.VideoJob{ID: "job", OwnerID: "u", Status: domain.VideoJobStatusPending})
	gate := newTestGate(t, repo, time.Now())

	const callers = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
		pending  int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			admission, err := gate.Admit(context.Background(), "job", "u")
			if err != nil {
				t.Errorf("Admit: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if admission.Admitted {
				admitted++
			} else if admission.Reason == AdmissionAlreadyPending {
				pending++
			}
		}()
	}
	wg.Wait()

	if admitted != 1 || pending != callers-1 {
		t.Fatalf("expected 1 admitted and %d pending, got %d and %d", callers-1, admitted, pending)
	}
}

func TestJobGateTranslatesUnavailable(t *testing.T) {
	repo := &erroringVideoJobRepository{err: testRepoError{unavailable: true}}
	gate, err := NewJobGate(JobGateDeps{Jobs: repo})
	if err != nil {
		t.Fatalf("NewJobGate: %v", err)
	}
	if _, err := gate.Admit(context.Background(), "job", "u"); !errors.Is(err, ErrVideoJobUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestJobGateContentionReportsPending(t *testing.T) {
	repo := &erroringVideoJobRepository{err: testRepoError{conflict: true}}
	gate, err := NewJobGate(JobGateDeps{Jobs: repo})
	if err != nil {
		t.Fatalf("NewJobGate: %v", err)
	}
	admission, err := gate.Admit(context.Background(), "job", "u")
	if err != nil {
		t.Fatalf("expected contention to be absorbed, got %v", err)
	}
	if admission.Admitted || admission.Reason != AdmissionAlreadyPending {
		t.Fatalf("expected pending admission, got %+v", admission)
	}
}

func TestJobGateBlockedAdmission(t *testing.T) {
	blocked := errors.New("no credential")
	started := time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC)
	cases := []struct {
		name    string
		job     domain.VideoJob
		reason  AdmissionReason
		wantErr error
	}{
		{name: "pending job is not claimed", job: domain.VideoJob{ID: "job", OwnerID: "u", Status: domain.VideoJobStatusPending}, wantErr: blocked},
		{name: "ready job still short-circuits", job: domain.VideoJob{ID: "job", OwnerID: "u", Status: domain.VideoJobStatusReady, FinalVideoURL: "https://v"}, reason: AdmissionAlreadyReady},
		{name: "running job still reports pending", job: domain.VideoJob{ID: "job", OwnerID: "u", Status: domain.VideoJobStatusPending, Processing: domain.VideoJobProcessing{StartedAt: &started}}, reason: AdmissionAlreadyPending},
		{name: "foreign job is still forbidden", job: domain.VideoJob{ID: "job", OwnerID: "someone-else", Status: domain.VideoJobStatusPending}, wantErr: ErrVideoJobForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := newMemoryVideoJobRepository(tc.job)
			gate := newTestGate(t, repo, time.Now())

			admission, err := gate.Admit(context.Background(), "job", "u", BlockAdmission(blocked))
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
			} else if err != nil || admission.Reason != tc.reason {
				t.Fatalf("expected reason %q, got %+v / %v", tc.reason, admission, err)
			}
			if admission.Admitted || repo.updateCount() != 0 {
				t.Fatalf("expected job untouched, got %+v", admission)
			}
		})
	}

	repo := newMemoryVideoJobRepository()
	gate := newTestGate(t, repo, time.Now())
	if _, err := gate.Admit(context.Background(), "missing", "u", BlockAdmission(blocked)); !errors.Is(err, ErrVideoJobNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

type erroringVideoJobRepository struct {
	err error
}

func (r *erroringVideoJobRepository) FindByID(context.Context, string) (domain.VideoJob, error) {
	return domain.VideoJob{}, r.err
}

func (r *erroringVideoJobRepository) Transact(context.Context, string, repositories.VideoJobTxFunc) error {
	return r.err
}

func (r *erroringVideoJobRepository) Update(context.Context, string, repositories.VideoJobUpdate) error {
	return r.err
}
