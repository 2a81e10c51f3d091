package badger

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/imprimo/internal/interfaces"
	"github.com/ternarybob/imprimo/internal/models"
)

// HeartbeatStorage implements the HeartbeatStorage interface for Badger
type HeartbeatStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewHeartbeatStorage creates a new HeartbeatStorage instance
func NewHeartbeatStorage(db *BadgerDB, logger arbor.ILogger) interfaces.HeartbeatStorage {
	return &HeartbeatStorage{
		db:     db,
		logger: logger,
	}
}

func (s *HeartbeatStorage) Upsert(ctx context.Context, hb *models.WorkerHeartbeat) error {
	if hb.WorkerID == "" {
		return fmt.Errorf("worker ID is required")
	}
	if err := s.db.Store().Upsert(hb.WorkerID, hb); err != nil {
		return fmt.Errorf("failed to save heartbeat: %w", err)
	}
	return nil
}

func (s *HeartbeatStorage) Get(ctx context.Context, workerID string) (*models.WorkerHeartbeat, error) {
	var hb models.WorkerHeartbeat
	if err := s.db.Store().Get(workerID, &hb); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, interfaces.ErrHeartbeatNotFound
		}
		return nil, fmt.Errorf("failed to get heartbeat: %w", err)
	}
	return &hb, nil
}
