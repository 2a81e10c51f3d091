// -----------------------------------------------------------------------
// Last Modified: Friday, 21st August 2026 4:26:17 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/imprimo/internal/common"
	"github.com/ternarybob/imprimo/internal/interfaces"
	"github.com/ternarybob/imprimo/internal/models"
)

// Service owns the job state machine. Every job mutation goes through here,
// and the claim/finish/requeue critical sections are serialized by a single
// mutex, which is what keeps the per-domain lock invariant: no two concurrent
// claims can take the same lock, and no finish leaves a lock dangling.
type Service struct {
	jobs   interfaces.JobStorage
	locks  interfaces.LockStorage
	config *common.Config
	logger arbor.ILogger

	mu sync.Mutex
}

// Compile-time assertion
var _ interfaces.QueueService = (*Service)(nil)

// NewService creates the queue service
func NewService(storage interfaces.StorageManager, config *common.Config, logger arbor.ILogger) *Service {
	return &Service{
		jobs:   storage.JobStorage(),
		locks:  storage.LockStorage(),
		config: config,
		logger: logger,
	}
}

// Submit creates a queued job or returns the existing same-day duplicate.
// Dedup matches regardless of the existing job's status, terminal included:
// a same-day resubmit after failure returns the failed job.
func (s *Service) Submit(ctx context.Context, req interfaces.SubmitRequest) (*models.Job, bool, error) {
	now := time.Now().UTC()
	day := now.Format("2006-01-02")
	dedupKey := req.NormalizedURL + "|" + day

	if existing, err := s.jobs.FindDedup(ctx, dedupKey); err == nil {
		return s.markDeduplicated(ctx, existing), true, nil
	} else if !errors.Is(err, interfaces.ErrJobNotFound) {
		return nil, false, err
	}

	mode := req.RenderMode
	if mode == "" {
		mode = models.RenderMode(s.config.Render.DefaultMode)
	}

	job := &models.Job{
		ID:            common.NewJobID(),
		URL:           req.URL,
		NormalizedURL: req.NormalizedURL,
		DedupKey:      dedupKey,
		DomainKey:     req.DomainKey,
		SubmissionDay: day,
		RenderMode:    mode,
		Status:        models.JobStatusQueued,
		MaxRetries:    clamp(req.MaxRetries, s.config.Render.MaxRetries, common.MaxRetriesMin, common.MaxRetriesMax),

		NavigationTimeoutSecs: clamp(req.NavigationTimeoutSecs, s.config.Render.NavigationTimeoutSeconds, common.NavigationTimeoutMin, common.NavigationTimeoutMax),
		JobTimeoutSecs:        clamp(req.JobTimeoutSecs, s.config.Render.JobTimeoutSeconds, common.JobTimeoutMin, common.JobTimeoutMax),
		MaxDomainWaitSecs:     clamp(req.MaxDomainWaitSecs, s.config.Render.MaxDomainWaitSeconds, common.MaxDomainWaitMin, common.MaxDomainWaitMax),

		Metadata:  req.Metadata,
		CreatedAt: now,
	}

	if err := s.jobs.InsertJob(ctx, job); err != nil {
		if errors.Is(err, interfaces.ErrDuplicateJob) {
			// lost the race to a concurrent submit of the same URL
			existing, ferr := s.jobs.FindDedup(ctx, dedupKey)
			if ferr != nil {
				return nil, false, fmt.Errorf("dedup conflict but existing job not found: %w", ferr)
			}
			return s.markDeduplicated(ctx, existing), true, nil
		}
		return nil, false, err
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("url", job.NormalizedURL).
		Str("domain", job.DomainKey).
		Msg("Job submitted")

	return job, false, nil
}

// markDeduplicated flips the row flag the first time a duplicate submit hits it
func (s *Service) markDeduplicated(ctx context.Context, job *models.Job) *models.Job {
	if !job.Deduplicated {
		job.Deduplicated = true
		if err := s.jobs.UpdateJob(ctx, job); err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to persist dedup flag")
		}
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("status", string(job.Status)).
		Msg("Duplicate submission, returning existing job")
	return job
}

// Claim picks the oldest ready job whose domain is free, acquires the lock,
// marks it running and counts the attempt. Jobs whose domain is busy are
// moved to waiting_domain_lock; waiters past their bound are failed first.
func (s *Service) Claim(ctx context.Context) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()

	if err := s.sweepWaitingLocked(ctx, now); err != nil {
		s.logger.Warn().Err(err).Msg("Waiting sweep failed, continuing claim")
	}

	ready, err := s.jobs.ListReady(ctx)
	if err != nil {
		return nil, err
	}

	for _, job := range ready {
		_, lockErr := s.locks.Get(ctx, job.DomainKey)
		if lockErr == nil {
			// domain busy; park the job so its wait is observable
			if job.Status == models.JobStatusQueued {
				job.Status = models.JobStatusWaitingLock
				if err := s.jobs.UpdateJob(ctx, job); err != nil {
					return nil, err
				}
				s.logger.Debug().
					Str("job_id", job.ID).
					Str("domain", job.DomainKey).
					Msg("Domain locked, job waiting")
			}
			continue
		}
		if !errors.Is(lockErr, interfaces.ErrLockNotFound) {
			return nil, lockErr
		}

		if err := s.locks.Acquire(ctx, job.DomainKey, job.ID, job.MaxDomainWaitSecs); err != nil {
			return nil, err
		}

		job.Status = models.JobStatusRunning
		job.StartedAt = &now
		job.Attempts++
		if err := s.jobs.UpdateJob(ctx, job); err != nil {
			// roll the lock back so the domain is not wedged
			if rerr := s.locks.Release(ctx, job.DomainKey); rerr != nil {
				s.logger.Error().Err(rerr).Str("domain", job.DomainKey).Msg("Failed to roll back lock after claim failure")
			}
			return nil, err
		}

		s.logger.Info().
			Str("job_id", job.ID).
			Str("domain", job.DomainKey).
			Int("attempt", job.Attempts).
			Msg("Job claimed")
		return job, nil
	}

	return nil, nil
}

// sweepWaitingLocked fails waiting jobs that have exceeded their domain wait
// bound. Caller holds s.mu.
func (s *Service) sweepWaitingLocked(ctx context.Context, now time.Time) error {
	waiting, err := s.jobs.ListByStatus(ctx, models.JobStatusWaitingLock)
	if err != nil {
		return err
	}

	for _, job := range waiting {
		if now.Sub(job.CreatedAt) <= job.MaxDomainWait() {
			continue
		}

		job.Status = models.JobStatusFailed
		job.ErrorCode = models.ErrorCodeDomainWaitTimeout
		job.ErrorMessage = fmt.Sprintf("exceeded max domain wait of %ds", job.MaxDomainWaitSecs)
		finished := now
		job.FinishedAt = &finished
		if err := s.jobs.UpdateJob(ctx, job); err != nil {
			return err
		}

		s.logger.Warn().
			Str("job_id", job.ID).
			Str("domain", job.DomainKey).
			Msg("Job failed waiting for domain lock")
	}
	return nil
}

// Finish moves a running job to a terminal state and releases its domain
// lock atomically with respect to other claim/finish calls.
func (s *Service) Finish(ctx context.Context, jobID string, outcome models.JobStatus, artifactPath string, code models.ErrorCode, message string) error {
	if !outcome.IsTerminal() {
		return fmt.Errorf("finish requires a terminal status, got %q", outcome)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return fmt.Errorf("job %s already terminal (%s)", jobID, job.Status)
	}

	now := time.Now().UTC()
	job.Status = outcome
	job.FinishedAt = &now

	if outcome == models.JobStatusSucceeded {
		job.ArtifactPath = artifactPath
		job.ErrorCode = ""
		job.ErrorMessage = ""
	} else {
		job.ArtifactPath = ""
		job.ErrorCode = code
		job.ErrorMessage = message
	}

	if err := s.jobs.UpdateJob(ctx, job); err != nil {
		return err
	}

	if err := s.releaseIfHeldBy(ctx, job); err != nil {
		return err
	}

	s.logger.Info().
		Str("job_id", jobID).
		Str("status", string(outcome)).
		Str("error_code", string(code)).
		Msg("Job finished")
	return nil
}

// Requeue returns a running job to queued for a later retry. The domain
// lock is released so other domains (and this one) can progress; the
// attempt counter keeps its value and is bumped again on the next claim.
func (s *Service) Requeue(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return fmt.Errorf("job %s already terminal (%s)", jobID, job.Status)
	}

	job.Status = models.JobStatusQueued
	job.StartedAt = nil
	if err := s.jobs.UpdateJob(ctx, job); err != nil {
		return err
	}

	if err := s.releaseIfHeldBy(ctx, job); err != nil {
		return err
	}

	s.logger.Info().
		Str("job_id", jobID).
		Int("attempts", job.Attempts).
		Int("max_retries", job.MaxRetries).
		Msg("Job requeued for retry")
	return nil
}

// RecoverOnStartup repairs state left by a crashed worker: running jobs go
// back to queued (the single worker died mid-render, nobody else can own
// them) and locks without a running holder are removed.
func (s *Service) RecoverOnStartup(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	running, err := s.jobs.ListByStatus(ctx, models.JobStatusRunning)
	if err != nil {
		return err
	}
	for _, job := range running {
		job.Status = models.JobStatusQueued
		job.StartedAt = nil
		if err := s.jobs.UpdateJob(ctx, job); err != nil {
			return err
		}
		if err := s.releaseIfHeldBy(ctx, job); err != nil {
			return err
		}
		s.logger.Warn().
			Str("job_id", job.ID).
			Msg("Requeued job left running by previous worker")
	}

	locks, err := s.locks.List(ctx)
	if err != nil {
		return err
	}
	for _, lock := range locks {
		holder, err := s.jobs.GetJob(ctx, lock.HeldByJobID)
		if err == nil && holder.Status == models.JobStatusRunning {
			continue
		}
		if err != nil && !errors.Is(err, interfaces.ErrJobNotFound) {
			return err
		}
		if err := s.locks.Release(ctx, lock.DomainKey); err != nil {
			return err
		}
		s.logger.Warn().
			Str("domain", lock.DomainKey).
			Str("job_id", lock.HeldByJobID).
			Msg("Released orphaned domain lock")
	}

	return nil
}

// releaseIfHeldBy frees the job's domain lock when this job is the holder
func (s *Service) releaseIfHeldBy(ctx context.Context, job *models.Job) error {
	lock, err := s.locks.Get(ctx, job.DomainKey)
	if errors.Is(err, interfaces.ErrLockNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if lock.HeldByJobID != job.ID {
		return nil
	}
	return s.locks.Release(ctx, job.DomainKey)
}

// clamp resolves an optional caller value against a default and bounds
func clamp(v *int, def, min, max int) int {
	val := def
	if v != nil {
		val = *v
	}
	if val < min {
		val = min
	}
	if val > max {
		val = max
	}
	return val
}
