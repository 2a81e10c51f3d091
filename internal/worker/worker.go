// -----------------------------------------------------------------------
// Last Modified: Friday, 21st August 2026 5:03:48 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/imprimo/internal/common"
	"github.com/ternarybob/imprimo/internal/interfaces"
	"github.com/ternarybob/imprimo/internal/models"
	"github.com/ternarybob/imprimo/internal/services/render"
	"github.com/ternarybob/imprimo/internal/services/safety"
)

// Worker is the single render loop. It polls the queue, renders claimed
// jobs and persists artifacts. One worker per process; domain locks and
// the queue mutex make additional workers safe but this deployment runs
// exactly one.
type Worker struct {
	queue      interfaces.QueueService
	heartbeats interfaces.HeartbeatStorage
	renderer   interfaces.Renderer
	validator  *safety.Validator
	redirects  *safety.RedirectChecker
	config     *common.Config
	logger     arbor.ILogger

	stop     chan struct{}
	done     sync.WaitGroup
	stopOnce sync.Once

	// last recorded activity, refreshed verbatim by the heartbeat loop
	stateMu    sync.Mutex
	state      string
	currentJob string
}

// NewWorker creates the render worker
func NewWorker(
	queue interfaces.QueueService,
	heartbeats interfaces.HeartbeatStorage,
	renderer interfaces.Renderer,
	validator *safety.Validator,
	redirects *safety.RedirectChecker,
	config *common.Config,
	logger arbor.ILogger,
) *Worker {
	return &Worker{
		queue:      queue,
		heartbeats: heartbeats,
		renderer:   renderer,
		validator:  validator,
		redirects:  redirects,
		config:     config,
		logger:     logger,
		stop:       make(chan struct{}),
		state:      models.WorkerStateIdle,
	}
}

// Start recovers interrupted state and launches the poll and heartbeat
// loops. It returns once the loops are running.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.queue.RecoverOnStartup(ctx); err != nil {
		return fmt.Errorf("startup recovery failed: %w", err)
	}

	w.beat(ctx, models.WorkerStateIdle, "")

	w.done.Add(2)
	go w.pollLoop(ctx)
	go w.heartbeatLoop(ctx)

	w.logger.Info().
		Str("worker_id", w.config.Worker.WorkerID).
		Int("poll_interval_secs", w.config.Worker.PollIntervalSeconds).
		Msg("Worker started")
	return nil
}

// Stop signals the loops and waits for the in-flight job to finish
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	w.done.Wait()
	w.logger.Info().Msg("Worker stopped")
}

func (w *Worker) pollLoop(ctx context.Context) {
	defer w.done.Done()

	ticker := time.NewTicker(time.Duration(w.config.Worker.PollIntervalSeconds) * time.Second)
	defer ticker.Stop()

	for {
		// drain eligible jobs before sleeping again
		for {
			select {
			case <-w.stop:
				return
			case <-ctx.Done():
				return
			default:
			}

			job, err := w.queue.Claim(ctx)
			if err != nil {
				w.logger.Error().Err(err).Msg("Claim failed")
				break
			}
			if job == nil {
				break
			}
			w.process(ctx, job)
		}

		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// process runs one claimed job to a terminal state or back to queued
func (w *Worker) process(ctx context.Context, job *models.Job) {
	w.beat(ctx, models.WorkerStateWorking, job.ID)
	defer w.beat(ctx, models.WorkerStateIdle, "")

	log := w.logger.WithCorrelationId(job.ID)
	log.Info().
		Str("url", job.NormalizedURL).
		Str("mode", string(job.RenderMode)).
		Int("attempt", job.Attempts).
		Msg("Processing job")

	// Revalidate at execution time; rules may have changed since submit
	// and the stored URL is not trusted blindly.
	result, err := w.validator.Validate(job.NormalizedURL)
	if err != nil {
		w.finishValidationFailure(ctx, job, err, log)
		return
	}

	deadline := job.CreatedAt.Add(job.JobTimeout())
	if job.StartedAt != nil {
		deadline = job.StartedAt.Add(job.JobTimeout())
	}
	jobCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	// Follow redirects up front so the SSRF check covers the final target
	target, err := w.redirects.Check(jobCtx, result.NormalizedURL)
	if err != nil {
		w.finishValidationFailure(ctx, job, err, log)
		return
	}

	pdf, err := w.renderer.Render(jobCtx, target, job.RenderMode, job.NavigationTimeout())
	if err != nil {
		w.handleRenderFailure(ctx, job, err, log)
		return
	}

	path, err := w.writeArtifact(job.ID, pdf)
	if err != nil {
		log.Error().Err(err).Msg("Failed to write artifact")
		w.handleRenderFailure(ctx, job, fmt.Errorf("failed to write artifact: %w", err), log)
		return
	}

	if err := w.queue.Finish(ctx, job.ID, models.JobStatusSucceeded, path, "", ""); err != nil {
		log.Error().Err(err).Msg("Failed to finish job")
		return
	}
	log.Info().Str("artifact", path).Int("pdf_size", len(pdf)).Msg("Job succeeded")
}

// finishValidationFailure fails a job whose URL no longer passes safety
// checks. Validation failures are never retried.
func (w *Worker) finishValidationFailure(ctx context.Context, job *models.Job, err error, log arbor.ILogger) {
	code := models.ErrorCodeInvalidURL
	var verr *safety.ValidationError
	if errors.As(err, &verr) {
		code = verr.Code
	}

	if ferr := w.queue.Finish(ctx, job.ID, models.JobStatusFailed, "", code, err.Error()); ferr != nil {
		log.Error().Err(ferr).Msg("Failed to finish job")
		return
	}
	log.Warn().Str("error_code", string(code)).Str("reason", err.Error()).Msg("Job failed validation")
}

// handleRenderFailure requeues transient failures with retry budget left,
// and fails the job otherwise.
func (w *Worker) handleRenderFailure(ctx context.Context, job *models.Job, err error, log arbor.ILogger) {
	retryable := render.IsTransient(err) && job.Attempts <= job.MaxRetries

	if retryable {
		if rerr := w.queue.Requeue(ctx, job.ID); rerr != nil {
			log.Error().Err(rerr).Msg("Failed to requeue job")
			return
		}
		log.Warn().
			Err(err).
			Int("attempt", job.Attempts).
			Int("max_retries", job.MaxRetries).
			Msg("Render failed, job requeued")
		return
	}

	msg := fmt.Sprintf("render failed after %d attempt(s): %v", job.Attempts, err)
	if ferr := w.queue.Finish(ctx, job.ID, models.JobStatusFailed, "", models.ErrorCodeRenderFailed, msg); ferr != nil {
		log.Error().Err(ferr).Msg("Failed to finish job")
		return
	}
	log.Warn().Err(err).Int("attempts", job.Attempts).Msg("Job failed permanently")
}

// writeArtifact persists the PDF under the storage root via temp file and
// rename, so a crash never leaves a half-written artifact at the final path.
func (w *Worker) writeArtifact(jobID string, pdf []byte) (string, error) {
	dir := w.config.Storage.PDFPath
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create artifact directory: %w", err)
	}

	final := filepath.Join(dir, jobID+".pdf")
	tmp, err := os.CreateTemp(dir, jobID+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(pdf); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to write PDF: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to move artifact into place: %w", err)
	}
	return final, nil
}

func (w *Worker) heartbeatLoop(ctx context.Context) {
	defer w.done.Done()

	ticker := time.NewTicker(time.Duration(w.config.Worker.HeartbeatSeconds) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.rebeat(ctx)
		}
	}
}

// beat records the worker's liveness and current activity
func (w *Worker) beat(ctx context.Context, state string, jobID string) {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	w.state = state
	w.currentJob = jobID
	w.upsertHeartbeatLocked(ctx)
}

// rebeat refreshes the timestamp on whatever activity the poll loop last
// recorded, so a periodic beat never resurrects a finished job's state
func (w *Worker) rebeat(ctx context.Context) {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	w.upsertHeartbeatLocked(ctx)
}

func (w *Worker) upsertHeartbeatLocked(ctx context.Context) {
	hb := &models.WorkerHeartbeat{
		WorkerID:     w.config.Worker.WorkerID,
		LastBeat:     time.Now().UTC(),
		State:        w.state,
		CurrentJobID: w.currentJob,
	}
	if err := w.heartbeats.Upsert(ctx, hb); err != nil {
		w.logger.Warn().Err(err).Msg("Failed to record heartbeat")
	}
}
