package models

import "time"

// Worker heartbeat states reported via /healthz
const (
	WorkerStateIdle    = "idle"
	WorkerStateWorking = "working"
)

// WorkerHeartbeat records liveness of the single worker loop. The API reads
// it to report worker health; nothing else depends on it.
type WorkerHeartbeat struct {
	WorkerID     string    `json:"worker_id" badgerhold:"key"`
	LastBeat     time.Time `json:"last_beat"`
	State        string    `json:"state"`
	CurrentJobID string    `json:"current_job_id,omitempty"`
}
