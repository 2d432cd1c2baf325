package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"

	"github.com/adreel/api/internal/platform/auth"
	"github.com/adreel/api/internal/services"
)

// uidVerifier accepts tokens of the form "token-<uid>".
type uidVerifier struct{}

func (uidVerifier) VerifyIDToken(_ context.Context, idToken string) (*firebaseauth.Token, error) {
	if len(idToken) <= len("token-") || idToken[:len("token-")] != "token-" {
		return nil, errors.New("invalid token")
	}
	return &firebaseauth.Token{UID: idToken[len("token-"):]}, nil
}

func testAuthenticator() *auth.Authenticator {
	return auth.NewAuthenticator(uidVerifier{})
}

type stubVideoJobService struct {
	mu sync.Mutex

	startResult services.VideoJobResult
	startErr    error
	starts      []services.StartVideoJobCommand

	job    services.VideoJob
	getErr error
	gets   []services.GetVideoJobCommand

	abandoned  services.VideoJob
	abandonErr error
	abandons   []services.AbandonVideoJobCommand
}

func (s *stubVideoJobService) Start(_ context.Context, cmd services.StartVideoJobCommand) (services.VideoJobResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts = append(s.starts, cmd)
	return s.startResult, s.startErr
}

func (s *stubVideoJobService) Get(_ context.Context, cmd services.GetVideoJobCommand) (services.VideoJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets = append(s.gets, cmd)
	return s.job, s.getErr
}

func (s *stubVideoJobService) Abandon(_ context.Context, cmd services.AbandonVideoJobCommand) (services.VideoJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.abandons = append(s.abandons, cmd)
	return s.abandoned, s.abandonErr
}

var _ services.VideoJobService = (*stubVideoJobService)(nil)

type stubSystemService struct {
	report services.SystemHealthReport
	err    error
}

func (s *stubSystemService) HealthReport(context.Context) (services.SystemHealthReport, error) {
	return s.report, s.err
}

var _ services.SystemService = (*stubSystemService)(nil)

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response %q: %v", rr.Body.String(), err)
	}
	return body
}
