package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	domain "github.com/adreel/api/internal/domain"
	"github.com/adreel/api/internal/platform/auth"
	"github.com/adreel/api/internal/platform/httpx"
	"github.com/adreel/api/internal/platform/observability"
	"github.com/adreel/api/internal/platform/requestctx"
	"github.com/adreel/api/internal/services"
)

const (
	maxStartBodySize = 4 * 1024
	startRateWindow  = time.Minute
)

// VideoJobHandlers exposes the caller-facing video job endpoints.
type VideoJobHandlers struct {
	authn   *auth.Authenticator
	jobs    services.VideoJobService
	limiter rateLimiter
}

type VideoJobOption func(*VideoJobHandlers)

// WithStartRateLimit caps start calls per caller per minute. Zero disables it.
func WithStartRateLimit(perMinute int, clock func() time.Time) VideoJobOption {
	return func(h *VideoJobHandlers) {
		h.limiter = newWindowRateLimiter(perMinute, startRateWindow, clock)
	}
}

func NewVideoJobHandlers(authn *auth.Authenticator, jobs services.VideoJobService, opts ...VideoJobOption) *VideoJobHandlers {
	h := &VideoJobHandlers{authn: authn, jobs: jobs}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers /video-jobs:start and /video-jobs/{jobId} on the API root.
func (h *VideoJobHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Group(func(g chi.Router) {
		if h.authn != nil {
			g.Use(h.authn.RequireFirebaseAuth())
		}
		g.Post("/video-jobs:start", h.startVideoJob)
		g.Get("/video-jobs/{jobId}", h.getVideoJob)
	})
}

type startVideoJobRequest struct {
	JobID string `json:"jobId"`
}

type startVideoJobResponse struct {
	Status        string `json:"status"`
	FinalVideoURL string `json:"finalVideoUrl,omitempty"`
}

func (h *VideoJobHandlers) startVideoJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.jobs == nil {
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeInternal, "video job service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeUnauthenticated, "authentication required", http.StatusUnauthorized))
		return
	}

	if h.limiter != nil {
		if allowed, retryAfter := h.limiter.Allow(identity.UID); !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
			httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeResourceExhausted, "too many start requests", http.StatusTooManyRequests))
			return
		}
	}

	body, err := readLimitedBody(r, maxStartBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errEmptyBody):
			httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeInvalidArgument, "request body is required", http.StatusBadRequest))
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeInvalidArgument, "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeInvalidArgument, err.Error(), http.StatusBadRequest))
		}
		return
	}
	var req startVideoJobRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeInvalidArgument, "invalid JSON payload", http.StatusBadRequest))
		return
	}
	jobID := strings.TrimSpace(req.JobID)
	if jobID == "" {
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeInvalidArgument, "jobId is required", http.StatusBadRequest))
		return
	}
	ctx = requestctx.WithJobID(ctx, jobID)

	result, err := h.jobs.Start(ctx, services.StartVideoJobCommand{JobID: jobID, ActorID: identity.UID})
	if err != nil {
		writeVideoJobError(ctx, w, err)
		return
	}

	if result.Status == domain.VideoJobStatusReady {
		writeJSONResponse(w, http.StatusOK, startVideoJobResponse{
			Status:        string(domain.VideoJobStatusReady),
			FinalVideoURL: result.FinalVideoURL,
		})
		return
	}
	writeJSONResponse(w, http.StatusAccepted, startVideoJobResponse{Status: string(domain.VideoJobStatusPending)})
}

func (h *VideoJobHandlers) getVideoJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.jobs == nil {
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeInternal, "video job service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeUnauthenticated, "authentication required", http.StatusUnauthorized))
		return
	}

	jobID := strings.TrimSpace(chi.URLParam(r, "jobId"))
	job, err := h.jobs.Get(requestctx.WithJobID(ctx, jobID), services.GetVideoJobCommand{JobID: jobID, ActorID: identity.UID})
	if err != nil {
		writeVideoJobError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildVideoJobPayload(job))
}

type videoJobPayload struct {
	ID            string                    `json:"id"`
	Status        string                    `json:"status"`
	TemplateID    string                    `json:"templateId,omitempty"`
	Category      string                    `json:"category,omitempty"`
	ProviderJobID string                    `json:"providerJobId,omitempty"`
	FinalVideoURL string                    `json:"finalVideoUrl,omitempty"`
	Error         *videoJobErrorPayload     `json:"error,omitempty"`
	Processing    videoJobProcessingPayload `json:"processing"`
	UpdatedAt     string                    `json:"updatedAt,omitempty"`
}

type videoJobErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

type videoJobProcessingPayload struct {
	StartedAt    string `json:"startedAt,omitempty"`
	Heartbeat    string `json:"heartbeat,omitempty"`
	PollAttempts int    `json:"pollAttempts"`
	CompletedAt  string `json:"completedAt,omitempty"`
}

func buildVideoJobPayload(job services.VideoJob) videoJobPayload {
	payload := videoJobPayload{
		ID:            job.ID,
		Status:        string(job.Status),
		TemplateID:    job.TemplateID,
		Category:      job.Category,
		ProviderJobID: job.ProviderJobID,
		Processing: videoJobProcessingPayload{
			StartedAt:    formatTimePtr(job.Processing.StartedAt),
			Heartbeat:    formatTimePtr(job.Processing.Heartbeat),
			PollAttempts: job.Processing.PollAttempts,
			CompletedAt:  formatTimePtr(job.Processing.CompletedAt),
		},
		UpdatedAt: formatTime(job.UpdatedAt),
	}
	if job.IsReady() {
		payload.FinalVideoURL = job.FinalVideoURL
	}
	if job.Error != nil {
		payload.Error = &videoJobErrorPayload{Code: job.Error.Code, Message: job.Error.Message}
	}
	return payload
}

// writeVideoJobError maps service errors to the canonical envelope. The
// failure reason, when present, is exposed as details.reason.
func writeVideoJobError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	var apiErr httpx.Error
	switch {
	case errors.Is(err, services.ErrVideoJobInvalidInput):
		apiErr = httpx.NewError(httpx.CodeInvalidArgument, err.Error(), http.StatusBadRequest)
	case errors.Is(err, services.ErrVideoJobNotFound):
		apiErr = httpx.NewError(httpx.CodeNotFound, "video job not found", http.StatusNotFound)
	case errors.Is(err, services.ErrVideoJobForbidden):
		apiErr = httpx.NewError(httpx.CodePermissionDenied, "video job belongs to another user", http.StatusForbidden)
	case errors.Is(err, services.ErrVideoJobFailedPrecondition):
		apiErr = httpx.NewError(httpx.CodeFailedPrecondition, err.Error(), http.StatusBadRequest)
	case errors.Is(err, services.ErrVideoJobDeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		apiErr = httpx.NewError(httpx.CodeDeadlineExceeded, "video generation timed out", http.StatusGatewayTimeout)
	default:
		observability.FromContext(ctx).Error("video job request failed", zap.Error(err))
		apiErr = httpx.NewError(httpx.CodeInternal, "video generation failed", http.StatusInternalServerError)
	}
	if reason := services.FailureReason(err); reason != "" {
		apiErr = apiErr.WithDetails(map[string]any{"reason": reason})
	}
	httpx.WriteError(ctx, w, apiErr)
}
