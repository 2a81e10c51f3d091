package interfaces

import "errors"

// Sentinel errors shared by storage implementations
var (
	ErrJobNotFound  = errors.New("job not found")
	ErrDuplicateJob = errors.New("duplicate job for dedup key")
	ErrLockHeld     = errors.New("domain lock already held")
	ErrLockNotFound = errors.New("domain lock not found")

	ErrHeartbeatNotFound = errors.New("worker heartbeat not found")
)
