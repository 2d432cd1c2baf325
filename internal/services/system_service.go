package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	domain "github.com/adreel/api/internal/domain"
	"github.com/adreel/api/internal/repositories"
)

const credentialCheckName = "veoCredential"

// BuildInfo captures runtime metadata exposed via health endpoints.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	// Credential, when set, is probed on every report. A missing key only
	// degrades readiness since jobs fail individually with missing_credential.
	Credential APIKeySource
	// CacheTTL reuses the last report for probes arriving within the window.
	CacheTTL time.Duration
	Clock    func() time.Time
	Build    BuildInfo
}

type systemService struct {
	healthRepo repositories.HealthRepository
	credential APIKeySource
	cacheTTL   time.Duration
	clock      func() time.Time
	build      BuildInfo

	mu     sync.Mutex
	cached *SystemHealthReport
}

var _ SystemService = (*systemService)(nil)

func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	build := deps.Build
	if build.StartedAt.IsZero() {
		build.StartedAt = clock()
	}

	return &systemService{
		healthRepo: deps.HealthRepository,
		credential: deps.Credential,
		cacheTTL:   deps.CacheTTL,
		clock: func() time.Time {
			return clock().UTC()
		},
		build: build,
	}, nil
}

func (s *systemService) HealthReport(ctx context.Context) (SystemHealthReport, error) {
	if ctx == nil {
		return SystemHealthReport{}, errors.New("system service: context is required")
	}

	now := s.clock()
	if report, ok := s.fromCache(now); ok {
		return report, nil
	}

	report, err := s.healthRepo.Collect(ctx)
	if err != nil {
		return SystemHealthReport{}, err
	}

	checks := make(map[string]domain.SystemHealthCheck, len(report.Checks)+1)
	for name, check := range report.Checks {
		checks[name] = check
	}
	if s.credential != nil {
		checks[credentialCheckName] = s.probeCredential(ctx)
	}
	report.Checks = checks

	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	} else {
		report.GeneratedAt = report.GeneratedAt.UTC()
	}
	report.Version = firstNonEmpty(report.Version, s.build.Version)
	report.CommitSHA = firstNonEmpty(report.CommitSHA, s.build.CommitSHA)
	report.Environment = firstNonEmpty(report.Environment, s.build.Environment)
	if report.Uptime <= 0 && !s.build.StartedAt.IsZero() {
		report.Uptime = now.Sub(s.build.StartedAt)
	}
	// the credential probe can only lower the repository's verdict
	report.Status = worseStatus(strings.TrimSpace(report.Status), deriveStatus(report.Checks))

	s.store(report)
	return report, nil
}

func (s *systemService) probeCredential(ctx context.Context) domain.SystemHealthCheck {
	started := s.clock()
	key, err := s.credential(ctx)
	finished := s.clock()
	check := domain.SystemHealthCheck{
		Status:    domain.HealthStatusOK,
		Detail:    "ok",
		Latency:   finished.Sub(started),
		CheckedAt: finished,
	}
	switch {
	case err != nil:
		check.Status = domain.HealthStatusDegraded
		check.Detail = "unresolvable"
		check.Error = err.Error()
	case strings.TrimSpace(key) == "":
		check.Status = domain.HealthStatusDegraded
		check.Detail = "not configured"
	}
	return check
}

func (s *systemService) fromCache(now time.Time) (SystemHealthReport, bool) {
	if s.cacheTTL <= 0 {
		return SystemHealthReport{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached == nil || now.Sub(s.cached.GeneratedAt) >= s.cacheTTL {
		return SystemHealthReport{}, false
	}
	report := *s.cached
	if !s.build.StartedAt.IsZero() {
		report.Uptime = now.Sub(s.build.StartedAt)
	}
	return report, true
}

func (s *systemService) store(report SystemHealthReport) {
	if s.cacheTTL <= 0 {
		return
	}
	s.mu.Lock()
	s.cached = &report
	s.mu.Unlock()
}

func deriveStatus(checks map[string]domain.SystemHealthCheck) string {
	status := domain.HealthStatusOK
	for _, check := range checks {
		status = worseStatus(status, check.Status)
	}
	return status
}

func worseStatus(a, b string) string {
	rank := func(s string) int {
		switch s {
		case domain.HealthStatusError:
			return 2
		case domain.HealthStatusDegraded:
			return 1
		default:
			return 0
		}
	}
	if rank(b) > rank(a) {
		return b
	}
	if a == "" {
		return domain.HealthStatusOK
	}
	return a
}
