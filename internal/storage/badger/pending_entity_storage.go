package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/tessari/passport/internal/interfaces"
	"github.com/tessari/passport/internal/models"
)

// PendingEntityStorage implements the PendingEntityStore interface for Badger
type PendingEntityStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewPendingEntityStorage creates a new PendingEntityStorage instance
func NewPendingEntityStorage(db *BadgerDB, logger arbor.ILogger) interfaces.PendingEntityStore {
	return &PendingEntityStorage{
		db:     db,
		logger: logger,
	}
}

func (s *PendingEntityStorage) Upsert(ctx context.Context, entity *models.PendingEntity) error {
	if entity.Key == "" {
		return fmt.Errorf("pending entity key is required")
	}
	if entity.JobID == "" {
		return fmt.Errorf("pending entity job ID is required")
	}

	if err := s.db.Store().Upsert(entity.Key, entity); err != nil {
		return fmt.Errorf("failed to upsert pending entity: %w", err)
	}
	return nil
}

func (s *PendingEntityStorage) Get(ctx context.Context, key string) (*models.PendingEntity, error) {
	var entity models.PendingEntity
	if err := s.db.Store().Get(key, &entity); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get pending entity: %w", err)
	}
	return &entity, nil
}

func (s *PendingEntityStorage) ListByJob(ctx context.Context, jobID string) ([]*models.PendingEntity, error) {
	var entities []models.PendingEntity
	if err := s.db.Store().Find(&entities, badgerhold.Where("JobID").Eq(jobID).SortBy("StagedAt")); err != nil {
		return nil, fmt.Errorf("failed to list pending entities: %w", err)
	}

	result := make([]*models.PendingEntity, len(entities))
	for i := range entities {
		result[i] = &entities[i]
	}
	return result, nil
}

func (s *PendingEntityStorage) DeleteByJob(ctx context.Context, jobID string) error {
	if err := s.db.Store().DeleteMatching(&models.PendingEntity{}, badgerhold.Where("JobID").Eq(jobID)); err != nil {
		return fmt.Errorf("failed to delete pending entities: %w", err)
	}
	return nil
}
