package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ricirt/marketplace-realtime/internal/domain"
	"github.com/ricirt/marketplace-realtime/internal/queue"
)

// JobWriter is the write side of the job queue.
type JobWriter interface {
	EnqueueOn(ctx context.Context, queueName string, p domain.JobPayload, opts queue.Options) (*domain.Job, error)
}

// JobHandler lets other services put any catalogued job on a queue.
type JobHandler struct {
	jobs   JobWriter
	logger *zap.Logger
}

func NewJobHandler(jobs JobWriter, logger *zap.Logger) *JobHandler {
	return &JobHandler{jobs: jobs, logger: logger}
}

type enqueueRequest struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload"`
	ID      string          `json:"id,omitempty"`
	DelayMs int64           `json:"delayMs,omitempty"`
	RunAt   *time.Time      `json:"runAt,omitempty"`
}

// Enqueue handles POST /api/v1/queues/{queue}/jobs
//
// @Summary     Enqueue a job
// @Tags        jobs
// @Accept      json
// @Produce     json
// @Param       queue  path      string          true  "Queue name"
// @Param       body   body      enqueueRequest  true  "Job name, payload and schedule"
// @Success     201    {object}  domain.Job
// @Failure     400    {object}  map[string]string
// @Failure     404    {object}  map[string]string
// @Failure     409    {object}  map[string]string
// @Failure     422    {object}  map[string]string
// @Router      /api/v1/queues/{queue}/jobs [post]
func (h *JobHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.DelayMs < 0 {
		respondError(w, http.StatusBadRequest, "delayMs must not be negative")
		return
	}
	if req.DelayMs > 0 && req.RunAt != nil {
		respondError(w, http.StatusBadRequest, "delayMs and runAt are mutually exclusive")
		return
	}

	p, err := domain.DecodeJobPayload(req.Name, req.Payload)
	if err != nil {
		mapError(w, err)
		return
	}
	opts := queue.Options{ID: req.ID, Delay: time.Duration(req.DelayMs) * time.Millisecond}
	if req.RunAt != nil {
		opts.RunAt = *req.RunAt
	}

	job, err := h.jobs.EnqueueOn(r.Context(), chi.URLParam(r, "queue"), p, opts)
	if err != nil {
		h.logger.Debug("enqueue rejected", zap.String("job", req.Name), zap.Error(err))
		mapError(w, err)
		return
	}
	h.logger.Info("job enqueued",
		zap.String("job_id", job.ID),
		zap.String("queue", job.Queue),
		zap.String("job", job.Name),
		zap.Time("run_at", job.RunAt),
	)
	respondJSON(w, http.StatusCreated, job)
}
