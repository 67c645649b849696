package badger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/tessari/passport/internal/interfaces"
	"github.com/tessari/passport/internal/models"
)

// JobStorage implements the JobStore interface for Badger.
//
// BadgerHold has no conditional-update primitive, so the compare-and-set
// contract is enforced with a store-level mutex serializing every
// read-modify-write. All writers (worker, reconciler, operator cancel) go
// through this one instance.
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger

	// casMu serializes compare-and-set and counter updates
	casMu sync.Mutex
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobStore {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

func (s *JobStorage) CreateJob(ctx context.Context, job *models.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if job.TenantID == "" {
		return fmt.Errorf("job tenant ID is required")
	}

	if err := s.db.Store().Insert(job.ID, job); err != nil {
		if err == badgerhold.ErrKeyExists {
			return fmt.Errorf("job already exists: %s", job.ID)
		}
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (s *JobStorage) GetJob(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	if err := s.db.Store().Get(id, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

func (s *JobStorage) CompareAndSetStatus(ctx context.Context, id string, expected, next models.JobStatus, fields models.StatusFields) (bool, error) {
	s.casMu.Lock()
	defer s.casMu.Unlock()

	var job models.Job
	if err := s.db.Store().Get(id, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return false, interfaces.ErrJobNotFound
		}
		return false, fmt.Errorf("failed to get job: %w", err)
	}

	if job.Status != expected {
		// Another writer won the race; this caller no-ops.
		return false, nil
	}

	job.Status = next
	job.UpdatedAt = time.Now().UTC()
	if fields.ErrorSummary != "" {
		job.ErrorSummary = fields.ErrorSummary
	}
	if fields.StartedAt != nil {
		job.StartedAt = fields.StartedAt
	}
	if fields.FinishedAt != nil {
		job.FinishedAt = fields.FinishedAt
	}

	if err := s.db.Store().Update(id, &job); err != nil {
		return false, fmt.Errorf("failed to update job status: %w", err)
	}
	return true, nil
}

func (s *JobStorage) IncrementCounters(ctx context.Context, id string, delta models.CounterDelta) (*models.Job, error) {
	if delta.Processed < 0 || delta.Created < 0 || delta.Updated < 0 || delta.Failed < 0 || delta.Skipped < 0 {
		return nil, fmt.Errorf("counter deltas must be non-negative")
	}

	s.casMu.Lock()
	defer s.casMu.Unlock()

	var job models.Job
	if err := s.db.Store().Get(id, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	if job.IsTerminal() {
		return nil, interfaces.ErrJobTerminal
	}

	if delta.SetTotal != nil {
		if job.Counters.Total != nil && *delta.SetTotal < *job.Counters.Total {
			return nil, fmt.Errorf("total cannot decrease (have %d, got %d)", *job.Counters.Total, *delta.SetTotal)
		}
		total := *delta.SetTotal
		job.Counters.Total = &total
	}

	job.Counters.Processed += delta.Processed
	job.Counters.Created += delta.Created
	job.Counters.Updated += delta.Updated
	job.Counters.Failed += delta.Failed
	job.Counters.Skipped += delta.Skipped

	if job.Counters.Total != nil && job.Counters.Processed > *job.Counters.Total {
		return nil, fmt.Errorf("processed count %d exceeds total %d", job.Counters.Processed, *job.Counters.Total)
	}

	// The reconciler's no-progress check reads UpdatedAt, so every counter
	// change must advance it, not only status changes.
	job.UpdatedAt = time.Now().UTC()

	if err := s.db.Store().Update(id, &job); err != nil {
		return nil, fmt.Errorf("failed to update job counters: %w", err)
	}
	return &job, nil
}

func (s *JobStorage) ActiveJob(ctx context.Context, tenantID string, kind models.JobKind) (*models.Job, error) {
	var jobs []models.Job
	query := badgerhold.Where("TenantID").Eq(tenantID).
		And("Kind").Eq(kind).
		And("Status").In(
			models.JobStatusPending,
			models.JobStatusValidating,
			models.JobStatusValidated,
			models.JobStatusCommitting,
		).
		SortBy("CreatedAt").Reverse().Limit(1)

	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to query active job: %w", err)
	}
	if len(jobs) == 0 {
		return nil, nil
	}
	return &jobs[0], nil
}

func (s *JobStorage) JobsInStatus(ctx context.Context, statuses ...models.JobStatus) ([]*models.Job, error) {
	in := make([]interface{}, len(statuses))
	for i, st := range statuses {
		in[i] = st
	}

	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, badgerhold.Where("Status").In(in...)); err != nil {
		return nil, fmt.Errorf("failed to query jobs by status: %w", err)
	}

	result := make([]*models.Job, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

func (s *JobStorage) ListJobs(ctx context.Context, tenantID string, limit int) ([]*models.Job, error) {
	query := badgerhold.Where("TenantID").Eq(tenantID).SortBy("CreatedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}

	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	result := make([]*models.Job, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}
