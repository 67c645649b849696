package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/tessari/passport/internal/common"
	"github.com/tessari/passport/internal/interfaces"
	"github.com/tessari/passport/internal/models"
	"github.com/tessari/passport/internal/services/staging"
)

// StatusResponse is the shape returned by status queries
type StatusResponse struct {
	JobID        string             `json:"job_id"`
	Kind         models.JobKind     `json:"kind"`
	Status       models.JobStatus   `json:"status"`
	Counters     models.JobCounters `json:"counters"`
	ErrorSummary string             `json:"error_summary,omitempty"`
	IsStale      bool               `json:"is_stale"`
}

// Service owns the job state machine. Every status mutation funnels through
// the store's compare-and-set contract, and every successful transition or
// counter change is published on the broadcast channel in emission order.
type Service struct {
	store   interfaces.JobStore
	staging *staging.Service
	events  interfaces.EventService
	logger  arbor.ILogger

	// staleChecker is wired after construction because the reconciler also
	// depends on this service's store
	staleChecker interfaces.StaleChecker
}

// NewService creates a new job service
func NewService(store interfaces.JobStore, stagingSvc *staging.Service, events interfaces.EventService, logger arbor.ILogger) *Service {
	return &Service{
		store:   store,
		staging: stagingSvc,
		events:  events,
		logger:  logger,
	}
}

// SetStaleChecker wires the reconciler's single-job audit into status queries
// and the duplicate-active-job guard
func (s *Service) SetStaleChecker(checker interfaces.StaleChecker) {
	s.staleChecker = checker
}

// CreateJob creates a new pending job for a tenant. A tenant may run at most
// one in-flight job per kind; a stale-looking blocker is audited first so an
// abandoned job cannot lock a tenant out.
func (s *Service) CreateJob(ctx context.Context, tenantID string, kind models.JobKind, fileRef string) (*models.Job, error) {
	active, err := s.store.ActiveJob(ctx, tenantID, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to check for active job: %w", err)
	}
	if active != nil {
		if s.staleChecker != nil {
			checked, forced, err := s.staleChecker.CheckJob(ctx, active)
			if err != nil {
				return nil, fmt.Errorf("failed to audit active job: %w", err)
			}
			active = checked
			if forced {
				s.logger.Info().
					Str("job_id", active.ID).
					Str("tenant_id", tenantID).
					Msg("Stale blocking job reclaimed during job creation")
			}
		}
		if !active.IsTerminal() {
			return nil, ErrJobAlreadyActive
		}
	}

	job := models.NewJob(common.NewJobID(), tenantID, kind, fileRef)
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("tenant_id", tenantID).
		Str("kind", string(kind)).
		Msg("Job created")

	s.publish(ctx, job)
	return job, nil
}

// GetJob returns a job by ID
func (s *Service) GetJob(ctx context.Context, id string) (*models.Job, error) {
	return s.store.GetJob(ctx, id)
}

// ListJobs lists a tenant's jobs, newest first
func (s *Service) ListJobs(ctx context.Context, tenantID string, limit int) ([]*models.Job, error) {
	return s.store.ListJobs(ctx, tenantID, limit)
}

// GetStatus returns a job's status, counters and staleness. Each status query
// opportunistically audits the job, so an abandoned job is reclaimed the next
// time anyone looks at it rather than waiting for the sweep.
func (s *Service) GetStatus(ctx context.Context, id string) (*StatusResponse, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}

	stale := false
	if s.staleChecker != nil && !job.IsTerminal() {
		checked, forced, err := s.staleChecker.CheckJob(ctx, job)
		if err != nil {
			s.logger.Warn().Err(err).Str("job_id", id).Msg("Opportunistic stale check failed")
		} else {
			job = checked
			stale = forced
		}
	}

	return &StatusResponse{
		JobID:        job.ID,
		Kind:         job.Kind,
		Status:       job.Status,
		Counters:     job.Counters,
		ErrorSummary: job.ErrorSummary,
		IsStale:      stale,
	}, nil
}

// Begin moves a pending job into validation and records its start time
func (s *Service) Begin(ctx context.Context, id string) (*models.Job, error) {
	now := time.Now().UTC()
	return s.transition(ctx, id, models.JobStatusPending, models.JobStatusValidating, models.StatusFields{StartedAt: &now})
}

// MarkValidated records that validation finished and staged entities (if any)
// now await the operator
func (s *Service) MarkValidated(ctx context.Context, id string) (*models.Job, error) {
	return s.transition(ctx, id, models.JobStatusValidating, models.JobStatusValidated, models.StatusFields{})
}

// BeginCommit moves a validated job into the commit phase. The transition is
// gated: it is refused while any staged entity remains unresolved, because
// silently skipping unresolved rows would corrupt the import.
func (s *Service) BeginCommit(ctx context.Context, id string) (*models.Job, error) {
	unresolved, err := s.staging.Unresolved(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to check staged entities: %w", err)
	}
	if len(unresolved) > 0 {
		refs := make([]models.EntityRef, len(unresolved))
		for i, e := range unresolved {
			refs[i] = models.EntityRef{EntityType: e.EntityType, RawValue: e.RawValue}
		}
		return nil, &UnresolvedEntitiesError{JobID: id, Entities: refs}
	}

	return s.transition(ctx, id, models.JobStatusValidated, models.JobStatusCommitting, models.StatusFields{})
}

// Complete marks a committing job as finished. Partial success is a valid
// terminal outcome: the job completes even with a nonzero failed count.
func (s *Service) Complete(ctx context.Context, id string) (*models.Job, error) {
	now := time.Now().UTC()
	job, err := s.transition(ctx, id, models.JobStatusCommitting, models.JobStatusCompleted, models.StatusFields{FinishedAt: &now})
	if err != nil {
		return nil, err
	}
	s.clearStaging(ctx, id)
	return job, nil
}

// Fail marks a job as failed from its current phase with a short reason
func (s *Service) Fail(ctx context.Context, id, summary string) (*models.Job, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if !job.CanTransitionTo(models.JobStatusFailed) {
		return nil, fmt.Errorf("%w: %s -> failed", ErrIllegalTransition, job.Status)
	}

	now := time.Now().UTC()
	job, err = s.transition(ctx, id, job.Status, models.JobStatusFailed, models.StatusFields{
		ErrorSummary: summary,
		FinishedAt:   &now,
	})
	if err != nil {
		return nil, err
	}
	s.clearStaging(ctx, id)
	return job, nil
}

// Cancel moves a job to cancelled from any non-terminal state. Cancellation
// is cooperative: the worker observes the terminal status at its next
// checkpoint and stops.
func (s *Service) Cancel(ctx context.Context, id, summary string) (*models.Job, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.IsTerminal() {
		return nil, fmt.Errorf("%w: %s -> cancelled", ErrIllegalTransition, job.Status)
	}
	if summary == "" {
		summary = "Job was cancelled by the operator."
	}

	now := time.Now().UTC()
	job, err = s.transition(ctx, id, job.Status, models.JobStatusCancelled, models.StatusFields{
		ErrorSummary: summary,
		FinishedAt:   &now,
	})
	if err != nil {
		return nil, err
	}
	s.clearStaging(ctx, id)
	return job, nil
}

// RecordProgress applies a counter delta and broadcasts the updated snapshot.
// UpdatedAt advances with every delta, which is what keeps a healthy job out
// of the reconciler's hands.
func (s *Service) RecordProgress(ctx context.Context, id string, delta models.CounterDelta) (*models.Job, error) {
	job, err := s.store.IncrementCounters(ctx, id, delta)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, job)
	return job, nil
}

// transition performs one compare-and-set edge of the state machine and
// broadcasts the result. The legality check runs first so an illegal request
// is reported as such; a legal request losing the race reports a conflict.
func (s *Service) transition(ctx context.Context, id string, expected, next models.JobStatus, fields models.StatusFields) (*models.Job, error) {
	current, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status == expected && !current.CanTransitionTo(next) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, expected, next)
	}

	ok, err := s.store.CompareAndSetStatus(ctx, id, expected, next, fields)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: expected %s", ErrStatusConflict, expected)
	}

	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("job_id", id).
		Str("from", string(expected)).
		Str("to", string(next)).
		Msg("Job status transition")

	s.publish(ctx, job)
	return job, nil
}

// publish emits the job's snapshot on the broadcast channel. PublishSync
// keeps this caller's emission order; handlers hand off to their own buffers
// so a slow subscriber cannot stall the worker.
func (s *Service) publish(ctx context.Context, job *models.Job) {
	err := s.events.PublishSync(ctx, interfaces.Event{
		Type:    interfaces.EventJobProgress,
		Payload: job.Snapshot(),
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to publish progress event")
	}
}

func (s *Service) clearStaging(ctx context.Context, id string) {
	if err := s.staging.Clear(ctx, id); err != nil {
		s.logger.Warn().Err(err).Str("job_id", id).Msg("Failed to clear staged entities")
	}
}
