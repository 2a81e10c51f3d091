// -----------------------------------------------------------------------
// Last Modified: Friday, 21st August 2026 11:42:10 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package models

import (
	"encoding/json"
	"time"
)

// JobStatus represents the state of a conversion job
type JobStatus string

const (
	JobStatusQueued      JobStatus = "queued"
	JobStatusWaitingLock JobStatus = "waiting_domain_lock"
	JobStatusRunning     JobStatus = "running"
	JobStatusSucceeded   JobStatus = "succeeded"
	JobStatusFailed      JobStatus = "failed"
)

// IsTerminal reports whether the status permits no further transitions
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// RenderMode selects how the page is turned into PDF bytes
type RenderMode string

const (
	RenderModePrintToPDF      RenderMode = "print_to_pdf"
	RenderModeScreenshotToPDF RenderMode = "screenshot_to_pdf"
)

// Valid reports whether the mode is one the renderer understands
func (m RenderMode) Valid() bool {
	return m == RenderModePrintToPDF || m == RenderModeScreenshotToPDF
}

// ErrorCode identifies why a job reached the failed state
type ErrorCode string

const (
	ErrorCodeInvalidURL        ErrorCode = "INVALID_URL"
	ErrorCodeSSRFBlocked       ErrorCode = "SSRF_BLOCKED"
	ErrorCodeDomainWaitTimeout ErrorCode = "DOMAIN_WAIT_TIMEOUT"
	ErrorCodeRenderFailed      ErrorCode = "RENDER_FAILED"
)

// Job represents a single webpage-to-PDF conversion job.
// The row is created on submit, mutated only by the queue service, and never
// deleted. Artifact files are ephemeral; the row outlives its PDF.
//
// Deduplication: DedupKey is "<normalized_url>|<YYYY-MM-DD>" (UTC submission
// day) and carries a unique index, so a same-day resubmit of the same
// normalized URL returns the existing job instead of creating a new one.
type Job struct {
	ID            string `json:"id" badgerhold:"key"`
	URL           string `json:"url"`            // submitted URL, stored verbatim for audit
	NormalizedURL string `json:"normalized_url"` // lowercased scheme+host, default port stripped, fragment removed
	DedupKey      string `json:"dedup_key" badgerhold:"unique"`
	DomainKey     string `json:"domain_key" badgerholdIndex:"DomainKey"` // registrable domain (eTLD+1), locking key
	SubmissionDay string `json:"submission_day"`                         // YYYY-MM-DD, UTC

	RenderMode RenderMode `json:"render_mode"`
	Status     JobStatus  `json:"status" badgerholdIndex:"Status"`
	Attempts   int        `json:"attempts"` // render attempts started; bumped at claim
	MaxRetries int        `json:"max_retries"`

	NavigationTimeoutSecs int `json:"navigation_timeout_seconds"`
	JobTimeoutSecs        int `json:"job_timeout_seconds"`
	MaxDomainWaitSecs     int `json:"max_domain_wait_seconds"`

	// Metadata is an opaque caller-supplied blob, preserved but never interpreted
	Metadata json.RawMessage `json:"metadata,omitempty"`

	ErrorCode    ErrorCode `json:"error_code,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	ArtifactPath string `json:"artifact_path,omitempty"` // set on success; cleared by the cleanup sweep
	Deduplicated bool   `json:"deduplicated"`            // flipped once a later same-day submit hit this row
}

// NavigationTimeout returns the per-navigation deadline as a duration
func (j *Job) NavigationTimeout() time.Duration {
	return time.Duration(j.NavigationTimeoutSecs) * time.Second
}

// JobTimeout returns the overall render deadline as a duration
func (j *Job) JobTimeout() time.Duration {
	return time.Duration(j.JobTimeoutSecs) * time.Second
}

// MaxDomainWait returns the bound on time spent in waiting_domain_lock
func (j *Job) MaxDomainWait() time.Duration {
	return time.Duration(j.MaxDomainWaitSecs) * time.Second
}

// DomainLock is the per-domain mutex record. At most one running job per
// DomainKey, and that job must be the holder.
type DomainLock struct {
	DomainKey   string    `json:"domain_key" badgerhold:"key"`
	HeldByJobID string    `json:"held_by_job_id"`
	AcquiredAt  time.Time `json:"acquired_at"`
	MaxWaitSecs int       `json:"max_wait_seconds"`
}
