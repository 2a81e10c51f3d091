// -----------------------------------------------------------------------
// Last Modified: Friday, 21st August 2026 5:18:41 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/imprimo/internal/interfaces"
	"github.com/ternarybob/imprimo/internal/models"
	"github.com/ternarybob/imprimo/internal/services/safety"
)

var validate = validator.New()

// SubmitJobRequest is the POST body for a new render job. Optional fields
// fall back to configured defaults and are clamped server-side as well.
type SubmitJobRequest struct {
	URL                   string          `json:"url" validate:"required,max=2048"`
	RenderMode            string          `json:"render_mode" validate:"omitempty,oneof=print_to_pdf screenshot_to_pdf"`
	NavigationTimeoutSecs *int            `json:"navigation_timeout_seconds" validate:"omitempty,gte=5,lte=300"`
	JobTimeoutSecs        *int            `json:"job_timeout_seconds" validate:"omitempty,gte=10,lte=600"`
	MaxDomainWaitSecs     *int            `json:"max_domain_wait_seconds" validate:"omitempty,gte=10,lte=3600"`
	MaxRetries            *int            `json:"max_retries" validate:"omitempty,gte=0,lte=5"`
	Metadata              json.RawMessage `json:"metadata"`
}

// JobView is the API representation of a job
type JobView struct {
	JobID         string          `json:"job_id"`
	URL           string          `json:"url"`
	NormalizedURL string          `json:"normalized_url"`
	Domain        string          `json:"domain"`
	Status        string          `json:"status"`
	RenderMode    string          `json:"render_mode"`
	Attempts      int             `json:"attempts"`
	MaxRetries    int             `json:"max_retries"`
	Deduplicated  bool            `json:"deduplicated"`
	ErrorCode     string          `json:"error_code,omitempty"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	CreatedAt     string          `json:"created_at"`
	StartedAt     *string         `json:"started_at"`
	FinishedAt    *string         `json:"finished_at"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
}

// JobHandler serves the job API: submit, status and artifact download
type JobHandler struct {
	queue     interfaces.QueueService
	jobs      interfaces.JobStorage
	validator *safety.Validator
	logger    arbor.ILogger
}

// NewJobHandler creates a new job handler
func NewJobHandler(queue interfaces.QueueService, jobs interfaces.JobStorage, urlValidator *safety.Validator, logger arbor.ILogger) *JobHandler {
	return &JobHandler{
		queue:     queue,
		jobs:      jobs,
		validator: urlValidator,
		logger:    logger,
	}
}

// SubmitHandler handles POST /v1/pdf-jobs
func (h *JobHandler) SubmitHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req SubmitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if err := validate.Struct(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}

	result, err := h.validator.Validate(req.URL)
	if err != nil {
		var verr *safety.ValidationError
		if errors.As(err, &verr) {
			WriteErrorCode(w, http.StatusBadRequest, string(verr.Code), verr.Reason)
			return
		}
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, deduplicated, err := h.queue.Submit(r.Context(), interfaces.SubmitRequest{
		URL:                   req.URL,
		NormalizedURL:         result.NormalizedURL,
		DomainKey:             result.DomainKey,
		RenderMode:            models.RenderMode(req.RenderMode),
		NavigationTimeoutSecs: req.NavigationTimeoutSecs,
		JobTimeoutSecs:        req.JobTimeoutSecs,
		MaxDomainWaitSecs:     req.MaxDomainWaitSecs,
		MaxRetries:            req.MaxRetries,
		Metadata:              req.Metadata,
	})
	if err != nil {
		h.logger.Error().Err(err).Str("url", req.URL).Msg("Failed to submit job")
		WriteError(w, http.StatusInternalServerError, "Failed to submit job")
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id":       job.ID,
		"status":       string(job.Status),
		"deduplicated": deduplicated,
	})
}

// StatusHandler handles GET /v1/pdf-jobs/{id}
func (h *JobHandler) StatusHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	job, err := h.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, interfaces.ErrJobNotFound) {
			WriteError(w, http.StatusNotFound, "Job not found")
			return
		}
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to load job")
		WriteError(w, http.StatusInternalServerError, "Failed to load job")
		return
	}

	WriteJSON(w, http.StatusOK, jobToView(job))
}

// FileHandler handles GET /v1/pdf-jobs/{id}/file
func (h *JobHandler) FileHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	job, err := h.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, interfaces.ErrJobNotFound) {
			WriteError(w, http.StatusNotFound, "Job not found")
			return
		}
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to load job")
		WriteError(w, http.StatusInternalServerError, "Failed to load job")
		return
	}

	if job.Status != models.JobStatusSucceeded {
		WriteError(w, http.StatusBadRequest, "Job has not succeeded (current status: "+string(job.Status)+")")
		return
	}

	if job.ArtifactPath == "" {
		WriteError(w, http.StatusNotFound, "PDF file not found (may have been cleaned up)")
		return
	}
	if _, err := os.Stat(job.ArtifactPath); err != nil {
		WriteError(w, http.StatusNotFound, "PDF file not found (may have been cleaned up)")
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+job.ID+`.pdf"`)
	http.ServeFile(w, r, job.ArtifactPath)
}

func jobToView(job *models.Job) JobView {
	return JobView{
		JobID:         job.ID,
		URL:           job.URL,
		NormalizedURL: job.NormalizedURL,
		Domain:        job.DomainKey,
		Status:        string(job.Status),
		RenderMode:    string(job.RenderMode),
		Attempts:      job.Attempts,
		MaxRetries:    job.MaxRetries,
		Deduplicated:  job.Deduplicated,
		ErrorCode:     string(job.ErrorCode),
		ErrorMessage:  job.ErrorMessage,
		CreatedAt:     job.CreatedAt.UTC().Format(time.RFC3339),
		StartedAt:     timePtr(job.StartedAt),
		FinishedAt:    timePtr(job.FinishedAt),
		Metadata:      job.Metadata,
	}
}

func timePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
