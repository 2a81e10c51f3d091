// -----------------------------------------------------------------------
// Last Modified: Friday, 21st August 2026 11:48:33 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/imprimo/internal/models"
)

// JobStorage persists Job rows. All mutations flow through the queue
// service; handlers only read.
type JobStorage interface {
	// InsertJob creates a new job row. Returns ErrDuplicateJob when another
	// row already carries the same dedup key.
	InsertJob(ctx context.Context, job *models.Job) error

	// GetJob returns the job or ErrJobNotFound.
	GetJob(ctx context.Context, jobID string) (*models.Job, error)

	// UpdateJob overwrites the stored row.
	UpdateJob(ctx context.Context, job *models.Job) error

	// FindDedup returns the job holding the dedup key, or ErrJobNotFound.
	FindDedup(ctx context.Context, dedupKey string) (*models.Job, error)

	// ListReady returns queued and waiting_domain_lock jobs in FIFO order
	// (CreatedAt ascending, ID as tie-break).
	ListReady(ctx context.Context) ([]*models.Job, error)

	// ListByStatus returns all jobs with the given status.
	ListByStatus(ctx context.Context, status models.JobStatus) ([]*models.Job, error)

	// ListStaleArtifacts returns succeeded jobs whose artifact path is still
	// set and whose FinishedAt is before the cutoff.
	ListStaleArtifacts(ctx context.Context, cutoff time.Time) ([]*models.Job, error)

	// ForgetArtifact clears the artifact path after the file has been removed.
	ForgetArtifact(ctx context.Context, jobID string) error
}

// LockStorage persists per-domain locks.
type LockStorage interface {
	// Acquire takes the lock for jobID. Returns ErrLockHeld when the domain
	// is already locked.
	Acquire(ctx context.Context, domainKey, jobID string, maxWaitSecs int) error

	// Release frees the lock. Releasing an absent lock is a no-op.
	Release(ctx context.Context, domainKey string) error

	// Get returns the lock row, or ErrLockNotFound when the domain is free.
	Get(ctx context.Context, domainKey string) (*models.DomainLock, error)

	// List returns every held lock.
	List(ctx context.Context) ([]*models.DomainLock, error)
}

// HeartbeatStorage persists the worker heartbeat row.
type HeartbeatStorage interface {
	Upsert(ctx context.Context, hb *models.WorkerHeartbeat) error
	Get(ctx context.Context, workerID string) (*models.WorkerHeartbeat, error)
}

// StorageManager bundles the storage interfaces over one embedded database.
type StorageManager interface {
	JobStorage() JobStorage
	LockStorage() LockStorage
	HeartbeatStorage() HeartbeatStorage

	// Ping verifies the store is usable (used by /healthz).
	Ping(ctx context.Context) error

	Close() error
}
