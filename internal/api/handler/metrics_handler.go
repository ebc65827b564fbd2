package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ricirt/marketplace-realtime/internal/domain"
)

// JobReader is the read side of the job queue.
type JobReader interface {
	Depths(ctx context.Context) (map[string]domain.QueueDepth, error)
	Job(ctx context.Context, id string) (*domain.Job, error)
}

// MetricsHandler serves human-readable JSON queue snapshots.
// Raw Prometheus metrics (counters, histograms) are available at /metrics
// via promhttp.Handler and are separate from this endpoint.
type MetricsHandler struct {
	jobs JobReader
}

func NewMetricsHandler(jobs JobReader) *MetricsHandler {
	return &MetricsHandler{jobs: jobs}
}

// GetQueues handles GET /api/v1/queues
//
// @Summary  Per-queue job counts by state
// @Tags     metrics
// @Produce  json
// @Success  200  {object}  map[string]any
// @Router   /api/v1/queues [get]
func (h *MetricsHandler) GetQueues(w http.ResponseWriter, r *http.Request) {
	depths, err := h.jobs.Depths(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read queue depths")
		return
	}

	var total domain.QueueDepth
	for _, d := range depths {
		total.Waiting += d.Waiting
		total.Delayed += d.Delayed
		total.Active += d.Active
		total.Completed += d.Completed
		total.Failed += d.Failed
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"queues": depths,
		"total":  total,
	})
}

// GetJob handles GET /api/v1/jobs/{id}
//
// @Summary  Get a job handle by ID
// @Tags     jobs
// @Produce  json
// @Param    id   path      string  true  "Job ID"
// @Success  200  {object}  domain.Job
// @Failure  404  {object}  map[string]string
// @Router   /api/v1/jobs/{id} [get]
func (h *MetricsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Job(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, job)
}
