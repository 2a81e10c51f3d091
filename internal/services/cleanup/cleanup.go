// -----------------------------------------------------------------------
// Last Modified: Friday, 21st August 2026 4:52:30 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package cleanup

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/imprimo/internal/interfaces"
)

// Service removes PDF artifacts past their retention age. Job rows are
// kept; only the file and the job's pointer to it are removed, so status
// queries keep working after the artifact is gone.
type Service struct {
	jobs     interfaces.JobStorage
	fileAge  time.Duration
	interval time.Duration
	cron     *cron.Cron
	logger   arbor.ILogger
}

// NewService creates the artifact cleanup service
func NewService(storage interfaces.StorageManager, interval, fileAge time.Duration, logger arbor.ILogger) *Service {
	return &Service{
		jobs:     storage.JobStorage(),
		fileAge:  fileAge,
		interval: interval,
		cron:     cron.New(),
		logger:   logger,
	}
}

// Start schedules periodic sweeps and runs one immediately so a restart
// does not postpone overdue deletions by a full interval.
func (s *Service) Start(ctx context.Context) error {
	schedule := fmt.Sprintf("@every %ds", int(s.interval.Seconds()))
	if _, err := s.cron.AddFunc(schedule, func() {
		if err := s.RunOnce(ctx); err != nil {
			s.logger.Error().Err(err).Msg("Cleanup sweep failed")
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule cleanup: %w", err)
	}

	s.cron.Start()
	s.logger.Info().
		Str("schedule", schedule).
		Dur("file_age", s.fileAge).
		Msg("Cleanup service started")

	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Initial cleanup sweep failed")
	}
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish
func (s *Service) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info().Msg("Cleanup service stopped")
}

// RunOnce deletes every artifact older than the retention age
func (s *Service) RunOnce(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-s.fileAge)
	stale, err := s.jobs.ListStaleArtifacts(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to list stale artifacts: %w", err)
	}

	removed := 0
	for _, job := range stale {
		if err := os.Remove(job.ArtifactPath); err != nil && !os.IsNotExist(err) {
			s.logger.Warn().
				Err(err).
				Str("job_id", job.ID).
				Str("path", job.ArtifactPath).
				Msg("Failed to remove artifact file")
			continue
		}

		if err := s.jobs.ForgetArtifact(ctx, job.ID); err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to clear artifact path")
			continue
		}
		removed++
	}

	if removed > 0 {
		s.logger.Info().
			Int("removed", removed).
			Str("cutoff", cutoff.Format(time.RFC3339)).
			Msg("Cleaned up stale artifacts")
	}
	return nil
}
