// Package httpx provides the HTTP surface of the inkwell dispatch pipeline.
package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/target/inkwell/internal/service"
)

// Dispatcher enqueues due work.
type Dispatcher interface {
	DispatchGeneration(ctx context.Context) (service.DispatchResult, error)
	DispatchSend(ctx context.Context) (service.DispatchResult, error)
}

// JobWorker processes one queued job.
type JobWorker interface {
	Process(ctx context.Context, jobID string) (service.WorkResult, error)
}

// WorkerHandlers exposes the dispatcher and both workers to an external trigger.
type WorkerHandlers struct {
	Dispatcher Dispatcher
	Generation JobWorker
	Send       JobWorker
	Logger     *slog.Logger
}

type dispatchResponse struct {
	OK bool `json:"ok"`
	service.DispatchResult
}

type workRequest struct {
	JobID string `json:"jobId,omitempty"`
}

type workResponse struct {
	OK bool `json:"ok"`
	service.WorkResult
}

// DispatchGeneration handles POST /dispatch/generate.
func (h *WorkerHandlers) DispatchGeneration(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, h.Dispatcher.DispatchGeneration)
}

// DispatchSend handles POST /dispatch/send.
func (h *WorkerHandlers) DispatchSend(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, h.Dispatcher.DispatchSend)
}

func (h *WorkerHandlers) dispatch(
	w http.ResponseWriter,
	r *http.Request,
	fn func(context.Context) (service.DispatchResult, error),
) {
	res, err := fn(r.Context())
	if err != nil {
		h.Logger.ErrorContext(r.Context(), "dispatch failed", "path", r.URL.Path, "error", err)
		WriteError(w, ErrorParams{
			Code:    http.StatusInternalServerError,
			ErrCode: "dispatch_failed",
			Err:     errors.New("unable to scan for due work"),
		})
		return
	}
	WriteJSON(w, http.StatusOK, dispatchResponse{OK: true, DispatchResult: res})
}

// ProcessGeneration handles POST /jobs/generate.
func (h *WorkerHandlers) ProcessGeneration(w http.ResponseWriter, r *http.Request) {
	h.process(w, r, h.Generation)
}

// ProcessSend handles POST /jobs/send.
func (h *WorkerHandlers) ProcessSend(w http.ResponseWriter, r *http.Request) {
	h.process(w, r, h.Send)
}

func (h *WorkerHandlers) process(w http.ResponseWriter, r *http.Request, worker JobWorker) {
	var req workRequest
	if !DecodeOptionalJSON(w, r, &req) {
		return
	}

	res, err := worker.Process(r.Context(), req.JobID)
	switch {
	case errors.Is(err, service.ErrIssueNotFound):
		WriteJSON(w, http.StatusNotFound, map[string]any{
			"ok":      false,
			"error":   "issue_not_found",
			"message": res.Message,
			"jobId":   res.JobID,
		})
	case err != nil:
		h.Logger.ErrorContext(r.Context(), "job processing failed", "path", r.URL.Path, "job_id", res.JobID, "error", err)
		WriteError(w, ErrorParams{
			Code:    http.StatusInternalServerError,
			ErrCode: "processing_failed",
			Err:     errors.New("job store unavailable"),
		})
	default:
		WriteJSON(w, http.StatusOK, workResponse{OK: true, WorkResult: res})
	}
}

// JobHandlers provides read-only job and delivery status endpoints.
type JobHandlers struct {
	Svc *service.JobService
}

// GetJob handles GET /api/jobs/{id}.
func (h *JobHandlers) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.Svc.GetByID(r.Context(), pathID(r, "id"))
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// ListIssueJobs handles GET /api/issues/{id}/jobs.
func (h *JobHandlers) ListIssueJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.Svc.ListByIssue(r.Context(), pathID(r, "id"), ParseLimit(r, service.MaxListLimit))
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, jobs)
}

// ListIssueDeliveries handles GET /api/issues/{id}/deliveries.
func (h *JobHandlers) ListIssueDeliveries(w http.ResponseWriter, r *http.Request) {
	deliveries, err := h.Svc.ListDeliveries(r.Context(), pathID(r, "id"), ParseLimit(r, service.MaxListLimit))
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, deliveries)
}

// Stats handles GET /api/jobs/stats.
func (h *JobHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Svc.Stats(r.Context())
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, stats)
}
