package staging

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/tessari/passport/internal/interfaces"
	"github.com/tessari/passport/internal/models"
)

// Service is the pending-entity resolution stage. Validation stages catalog
// references it could not match, the operator resolves them, and the commit
// gate reads the unresolved count. Staged work is persisted so it survives a
// dropped connection; it is cleared only on terminal transition or explicit
// operator abandonment.
type Service struct {
	store  interfaces.PendingEntityStore
	logger arbor.ILogger
}

// NewService creates a new staging service
func NewService(store interfaces.PendingEntityStore, logger arbor.ILogger) *Service {
	return &Service{
		store:  store,
		logger: logger,
	}
}

// Stage inserts or overwrites a pending entity by its deduplication key. The
// same raw value seen in many rows collapses to one staged entity, and an
// operator revising a proposed resolution overwrites the earlier one.
func (s *Service) Stage(ctx context.Context, jobID string, entityType models.EntityType, rawValue, sourceColumn string) (*models.PendingEntity, error) {
	if jobID == "" {
		return nil, fmt.Errorf("job ID is required")
	}
	if rawValue == "" {
		return nil, fmt.Errorf("raw value is required")
	}

	key := models.PendingEntityKey(jobID, entityType, rawValue)

	// An entity re-encountered after the operator resolved it keeps its
	// resolution; only the source column is refreshed.
	existing, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		existing.SourceColumn = sourceColumn
		if err := s.store.Upsert(ctx, existing); err != nil {
			return nil, err
		}
		return existing, nil
	}

	entity := &models.PendingEntity{
		Key:          key,
		JobID:        jobID,
		EntityType:   entityType,
		RawValue:     rawValue,
		SourceColumn: sourceColumn,
		StagedAt:     time.Now().UTC(),
	}
	if err := s.store.Upsert(ctx, entity); err != nil {
		return nil, err
	}

	s.logger.Debug().
		Str("job_id", jobID).
		Str("entity_type", string(entityType)).
		Str("raw_value", rawValue).
		Msg("Staged pending entity")

	return entity, nil
}

// Resolve records the operator's answer for a staged entity. The resolution
// must carry either a match against an existing record or the attributes for
// a new one.
func (s *Service) Resolve(ctx context.Context, key string, resolution models.EntityResolution) (*models.PendingEntity, error) {
	if resolution.MatchID == "" && len(resolution.Attributes) == 0 {
		return nil, fmt.Errorf("resolution requires a match ID or attributes")
	}

	entity, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if entity == nil {
		return nil, fmt.Errorf("no pending entity staged under key %q", key)
	}

	resolution.ResolvedAt = time.Now().UTC()
	entity.Resolution = &resolution

	if err := s.store.Upsert(ctx, entity); err != nil {
		return nil, err
	}

	s.logger.Debug().
		Str("job_id", entity.JobID).
		Str("key", key).
		Str("match_id", resolution.MatchID).
		Msg("Resolved pending entity")

	return entity, nil
}

// Get returns the staged entity under key, or nil when absent
func (s *Service) Get(ctx context.Context, key string) (*models.PendingEntity, error) {
	return s.store.Get(ctx, key)
}

// List returns all staged entities for a job, resolved and unresolved
func (s *Service) List(ctx context.Context, jobID string) ([]*models.PendingEntity, error) {
	return s.store.ListByJob(ctx, jobID)
}

// Unresolved returns the staged entities still awaiting operator resolution
func (s *Service) Unresolved(ctx context.Context, jobID string) ([]*models.PendingEntity, error) {
	entities, err := s.store.ListByJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	var unresolved []*models.PendingEntity
	for _, e := range entities {
		if !e.Resolved() {
			unresolved = append(unresolved, e)
		}
	}
	return unresolved, nil
}

// UnresolvedCount is the commit-gate check: a job may not begin committing
// while this is nonzero
func (s *Service) UnresolvedCount(ctx context.Context, jobID string) (int, error) {
	unresolved, err := s.Unresolved(ctx, jobID)
	if err != nil {
		return 0, err
	}
	return len(unresolved), nil
}

// Clear discards all staged entities for a job. Called on terminal transition
// and on explicit operator abandonment, never implicitly on disconnect.
func (s *Service) Clear(ctx context.Context, jobID string) error {
	if err := s.store.DeleteByJob(ctx, jobID); err != nil {
		return err
	}
	s.logger.Debug().Str("job_id", jobID).Msg("Cleared staged entities")
	return nil
}
