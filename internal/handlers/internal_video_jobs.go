package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/adreel/api/internal/platform/auth"
	"github.com/adreel/api/internal/platform/httpx"
	"github.com/adreel/api/internal/platform/observability"
	"github.com/adreel/api/internal/platform/requestctx"
	"github.com/adreel/api/internal/services"
)

const maxAbandonBodySize = 4 * 1024

// InternalVideoJobHandlers serves operator endpoints mounted under /internal,
// which the router guards with OIDC.
type InternalVideoJobHandlers struct {
	jobs services.VideoJobService
}

func NewInternalVideoJobHandlers(jobs services.VideoJobService) *InternalVideoJobHandlers {
	return &InternalVideoJobHandlers{jobs: jobs}
}

func (h *InternalVideoJobHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/video-jobs/{jobId}:abandon", h.abandonVideoJob)
}

type abandonVideoJobRequest struct {
	Message string `json:"message"`
}

func (h *InternalVideoJobHandlers) abandonVideoJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.jobs == nil {
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeInternal, "video job service unavailable", http.StatusServiceUnavailable))
		return
	}

	actor := auth.CallerID(ctx)
	if actor == "" {
		actor = "internal"
	}

	var req abandonVideoJobRequest
	body, err := readLimitedBody(r, maxAbandonBodySize)
	switch {
	case errors.Is(err, errEmptyBody):
	case err != nil:
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeInvalidArgument, "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return
	default:
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeInvalidArgument, "invalid JSON payload", http.StatusBadRequest))
			return
		}
	}

	jobID := strings.TrimSpace(chi.URLParam(r, "jobId"))
	ctx = requestctx.WithJobID(ctx, jobID)
	job, err := h.jobs.Abandon(ctx, services.AbandonVideoJobCommand{
		JobID:   jobID,
		ActorID: actor,
		Message: req.Message,
	})
	if err != nil {
		writeVideoJobError(ctx, w, err)
		return
	}
	observability.FromContext(ctx).Info("video job abandoned", zap.String("actor", actor))
	writeJSONResponse(w, http.StatusOK, buildVideoJobPayload(job))
}
