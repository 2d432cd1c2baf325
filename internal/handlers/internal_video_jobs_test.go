package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/adreel/api/internal/domain"
	"github.com/adreel/api/internal/platform/auth"
	"github.com/adreel/api/internal/services"
)

func withServiceIdentity(email string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := auth.WithServiceIdentity(r.Context(), &auth.ServiceIdentity{Email: email})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func newInternalRouter(svc services.VideoJobService) chi.Router {
	handlers := NewInternalVideoJobHandlers(svc)
	return NewRouter(
		WithInternalRoutes(handlers.Routes),
		WithInternalMiddlewares(withServiceIdentity("ops@adreel.iam.gserviceaccount.com")),
	)
}

func TestAbandonVideoJob(t *testing.T) {
	svc := &stubVideoJobService{abandoned: services.VideoJob{
		ID:     "job-1",
		Status: domain.VideoJobStatusError,
		Error:  &domain.VideoJobError{Code: domain.VideoJobReasonAbandoned, Message: "stuck since deploy"},
	}}
	router := newInternalRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/internal/video-jobs/job-1:abandon", strings.NewReader(`{"message":"stuck since deploy"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(svc.abandons) != 1 {
		t.Fatalf("expected one abandon call")
	}
	cmd := svc.abandons[0]
	if cmd.JobID != "job-1" || cmd.ActorID != "ops@adreel.iam.gserviceaccount.com" || cmd.Message != "stuck since deploy" {
		t.Fatalf("unexpected command %+v", cmd)
	}
	body := decodeBody(t, rr)
	jobErr, _ := body["error"].(map[string]any)
	if body["status"] != "error" || jobErr["code"] != "abandoned" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestAbandonVideoJobWithoutBody(t *testing.T) {
	svc := &stubVideoJobService{abandoned: services.VideoJob{ID: "job-1", Status: domain.VideoJobStatusError}}
	router := newInternalRouter(svc)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/internal/video-jobs/job-1:abandon", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if svc.abandons[0].Message != "" {
		t.Fatalf("expected empty message to defer to service default")
	}
}

func TestAbandonVideoJobRejectsTerminal(t *testing.T) {
	err := &services.JobFailure{Category: services.ErrVideoJobFailedPrecondition, Err: services.ErrJobTerminal}
	router := newInternalRouter(&stubVideoJobService{abandonErr: err})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/internal/video-jobs/job-1:abandon", nil))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["error"] != "failed_precondition" {
		t.Fatalf("expected failed_precondition, got %v", body["error"])
	}
}

func TestInternalRoutesRequireMiddleware(t *testing.T) {
	deny := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})
	}
	svc := &stubVideoJobService{}
	router := NewRouter(
		WithInternalRoutes(NewInternalVideoJobHandlers(svc).Routes),
		WithInternalMiddlewares(deny),
	)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/internal/video-jobs/job-1:abandon", nil).WithContext(context.Background())
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized || len(svc.abandons) != 0 {
		t.Fatalf("expected middleware to block, got %d with %d calls", rr.Code, len(svc.abandons))
	}
}
