// -----------------------------------------------------------------------
// Last Modified: Friday, 21st August 2026 3:02:48 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package badger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/imprimo/internal/interfaces"
	"github.com/ternarybob/imprimo/internal/models"
)

// JobStorage implements the JobStorage interface for Badger
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

func (s *JobStorage) InsertJob(ctx context.Context, job *models.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}

	if err := s.db.Store().Insert(job.ID, job); err != nil {
		if errors.Is(err, badgerhold.ErrUniqueExists) {
			return interfaces.ErrDuplicateJob
		}
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

func (s *JobStorage) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	var job models.Job
	if err := s.db.Store().Get(jobID, &job); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, interfaces.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

func (s *JobStorage) UpdateJob(ctx context.Context, job *models.Job) error {
	if err := s.db.Store().Update(job.ID, job); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return interfaces.ErrJobNotFound
		}
		return fmt.Errorf("failed to update job: %w", err)
	}
	return nil
}

func (s *JobStorage) FindDedup(ctx context.Context, dedupKey string) (*models.Job, error) {
	var job models.Job
	err := s.db.Store().FindOne(&job, badgerhold.Where("DedupKey").Eq(dedupKey))
	if err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, interfaces.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to find dedup job: %w", err)
	}
	return &job, nil
}

func (s *JobStorage) ListReady(ctx context.Context) ([]*models.Job, error) {
	var jobs []models.Job
	query := badgerhold.Where("Status").In(
		models.JobStatusQueued,
		models.JobStatusWaitingLock,
	)
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list ready jobs: %w", err)
	}

	// FIFO by creation time, ID as deterministic tie-break
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})

	result := make([]*models.Job, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

func (s *JobStorage) ListByStatus(ctx context.Context, status models.JobStatus) ([]*models.Job, error) {
	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, badgerhold.Where("Status").Eq(status)); err != nil {
		return nil, fmt.Errorf("failed to list jobs by status: %w", err)
	}

	result := make([]*models.Job, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

func (s *JobStorage) ListStaleArtifacts(ctx context.Context, cutoff time.Time) ([]*models.Job, error) {
	var jobs []models.Job
	query := badgerhold.Where("Status").Eq(models.JobStatusSucceeded).
		And("ArtifactPath").Ne("")
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list stale artifacts: %w", err)
	}

	// FinishedAt is a pointer field, so the age filter happens here rather
	// than in the badgerhold query
	var result []*models.Job
	for i := range jobs {
		if jobs[i].FinishedAt != nil && jobs[i].FinishedAt.Before(cutoff) {
			result = append(result, &jobs[i])
		}
	}
	return result, nil
}

func (s *JobStorage) ForgetArtifact(ctx context.Context, jobID string) error {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	job.ArtifactPath = ""
	if err := s.UpdateJob(ctx, job); err != nil {
		return err
	}

	s.logger.Debug().Str("job_id", jobID).Msg("Cleared artifact path after cleanup")
	return nil
}
