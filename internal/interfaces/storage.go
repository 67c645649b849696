package interfaces

import (
	"context"
	"errors"

	"github.com/tessari/passport/internal/models"
)

var (
	// ErrJobNotFound is returned when a job ID does not exist in the store
	ErrJobNotFound = errors.New("job not found")
	// ErrJobTerminal is returned when a write is attempted against a job
	// that already reached a terminal status
	ErrJobTerminal = errors.New("job is in a terminal status")
)

// JobStore is the narrow persistence contract for job records. Status is
// mutated exclusively through CompareAndSetStatus so that concurrent writers
// (worker, reconciler, operator cancel) cannot double-transition a job.
type JobStore interface {
	// CreateJob persists a new job record
	CreateJob(ctx context.Context, job *models.Job) error

	// GetJob returns the job or ErrJobNotFound
	GetJob(ctx context.Context, id string) (*models.Job, error)

	// CompareAndSetStatus atomically moves a job from expected to next,
	// writing fields and advancing UpdatedAt in the same write. Returns
	// false (and no error) when the job's current status is not expected:
	// the loser of a race is expected to no-op.
	CompareAndSetStatus(ctx context.Context, id string, expected, next models.JobStatus, fields models.StatusFields) (bool, error)

	// IncrementCounters applies a non-negative delta to the job's counters
	// and advances UpdatedAt. Rejected for jobs in a terminal status.
	IncrementCounters(ctx context.Context, id string, delta models.CounterDelta) (*models.Job, error)

	// ActiveJob returns the tenant's in-flight job of the given kind, or
	// nil when none exists
	ActiveJob(ctx context.Context, tenantID string, kind models.JobKind) (*models.Job, error)

	// JobsInStatus lists all jobs currently in any of the given statuses
	JobsInStatus(ctx context.Context, statuses ...models.JobStatus) ([]*models.Job, error)

	// ListJobs lists a tenant's jobs, newest first
	ListJobs(ctx context.Context, tenantID string, limit int) ([]*models.Job, error)
}

// PendingEntityStore persists staged catalog references for a job. Staged
// work survives a dropped connection; it is cleared only on terminal
// transition or explicit operator abandonment.
type PendingEntityStore interface {
	// Upsert inserts or overwrites a staged entity by its key
	Upsert(ctx context.Context, entity *models.PendingEntity) error

	// Get returns the staged entity or nil when absent
	Get(ctx context.Context, key string) (*models.PendingEntity, error)

	// ListByJob returns all staged entities for a job
	ListByJob(ctx context.Context, jobID string) ([]*models.PendingEntity, error)

	// DeleteByJob removes every staged entity for a job
	DeleteByJob(ctx context.Context, jobID string) error
}
