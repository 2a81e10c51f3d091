package interfaces

import (
	"context"
	"encoding/json"

	"github.com/ternarybob/imprimo/internal/models"
)

// SubmitRequest carries a validated submission into the queue service.
// NormalizedURL and DomainKey come from the safety validator; the optional
// fields are nil when the caller wants the configured defaults.
type SubmitRequest struct {
	URL           string
	NormalizedURL string
	DomainKey     string

	RenderMode            models.RenderMode
	NavigationTimeoutSecs *int
	JobTimeoutSecs        *int
	MaxDomainWaitSecs     *int
	MaxRetries            *int
	Metadata              json.RawMessage
}

// QueueService owns the job state machine. It is the sole writer of job
// state; the API reads jobs through JobStorage but mutates only via Submit.
type QueueService interface {
	// Submit creates a queued job, or returns the existing job for the same
	// normalized URL submitted earlier the same UTC day (deduplicated=true).
	Submit(ctx context.Context, req SubmitRequest) (job *models.Job, deduplicated bool, err error)

	// Claim atomically picks the oldest ready job whose domain is unlocked,
	// takes the domain lock, marks it running and bumps the attempt counter.
	// Returns nil when no job is eligible. Over-aged waiting jobs are failed
	// with DOMAIN_WAIT_TIMEOUT as part of the claim sweep.
	Claim(ctx context.Context) (*models.Job, error)

	// Finish moves a running job to a terminal state and releases its lock.
	Finish(ctx context.Context, jobID string, outcome models.JobStatus, artifactPath string, code models.ErrorCode, message string) error

	// Requeue returns a running job to queued for a later retry, releasing
	// the domain lock so other domains can progress.
	Requeue(ctx context.Context, jobID string) error

	// RecoverOnStartup requeues jobs left running by a crashed worker and
	// removes locks whose holder is no longer running.
	RecoverOnStartup(ctx context.Context) error
}
