package badger

import (
	"context"
	"errors"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/imprimo/internal/interfaces"
	"github.com/ternarybob/imprimo/internal/models"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db        *BadgerDB
	job       interfaces.JobStorage
	lock      interfaces.LockStorage
	heartbeat interfaces.HeartbeatStorage
	logger    arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, path string) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, path)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:        db,
		job:       NewJobStorage(db, logger),
		lock:      NewLockStorage(db, logger),
		heartbeat: NewHeartbeatStorage(db, logger),
		logger:    logger,
	}

	logger.Info().Str("path", path).Msg("Badger storage manager initialized")

	return manager, nil
}

// JobStorage returns the Job storage interface
func (m *Manager) JobStorage() interfaces.JobStorage {
	return m.job
}

// LockStorage returns the DomainLock storage interface
func (m *Manager) LockStorage() interfaces.LockStorage {
	return m.lock
}

// HeartbeatStorage returns the WorkerHeartbeat storage interface
func (m *Manager) HeartbeatStorage() interfaces.HeartbeatStorage {
	return m.heartbeat
}

// Ping verifies the store answers queries
func (m *Manager) Ping(ctx context.Context) error {
	var probe models.Job
	err := m.db.Store().Get("__ping__", &probe)
	if err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
		return err
	}
	return nil
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
