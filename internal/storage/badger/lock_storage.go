package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/imprimo/internal/interfaces"
	"github.com/ternarybob/imprimo/internal/models"
)

// LockStorage implements the LockStorage interface for Badger. A present row
// means the domain is locked; releasing deletes the row.
type LockStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewLockStorage creates a new LockStorage instance
func NewLockStorage(db *BadgerDB, logger arbor.ILogger) interfaces.LockStorage {
	return &LockStorage{
		db:     db,
		logger: logger,
	}
}

func (s *LockStorage) Acquire(ctx context.Context, domainKey, jobID string, maxWaitSecs int) error {
	lock := &models.DomainLock{
		DomainKey:   domainKey,
		HeldByJobID: jobID,
		AcquiredAt:  time.Now().UTC(),
		MaxWaitSecs: maxWaitSecs,
	}

	if err := s.db.Store().Insert(domainKey, lock); err != nil {
		if errors.Is(err, badgerhold.ErrKeyExists) {
			return interfaces.ErrLockHeld
		}
		return fmt.Errorf("failed to acquire domain lock: %w", err)
	}

	s.logger.Debug().Str("domain", domainKey).Str("job_id", jobID).Msg("Domain lock acquired")
	return nil
}

func (s *LockStorage) Release(ctx context.Context, domainKey string) error {
	err := s.db.Store().Delete(domainKey, &models.DomainLock{})
	if err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
		return fmt.Errorf("failed to release domain lock: %w", err)
	}

	s.logger.Debug().Str("domain", domainKey).Msg("Domain lock released")
	return nil
}

func (s *LockStorage) Get(ctx context.Context, domainKey string) (*models.DomainLock, error) {
	var lock models.DomainLock
	if err := s.db.Store().Get(domainKey, &lock); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, interfaces.ErrLockNotFound
		}
		return nil, fmt.Errorf("failed to get domain lock: %w", err)
	}
	return &lock, nil
}

func (s *LockStorage) List(ctx context.Context) ([]*models.DomainLock, error) {
	var locks []models.DomainLock
	if err := s.db.Store().Find(&locks, badgerhold.Where("DomainKey").Ne("")); err != nil {
		return nil, fmt.Errorf("failed to list domain locks: %w", err)
	}

	result := make([]*models.DomainLock, len(locks))
	for i := range locks {
		result[i] = &locks[i]
	}
	return result, nil
}
