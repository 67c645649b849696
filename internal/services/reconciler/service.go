package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/tessari/passport/internal/common"
	"github.com/tessari/passport/internal/interfaces"
	"github.com/tessari/passport/internal/models"
)

// Service audits in-flight jobs whose driving worker has gone silent and
// force-transitions them to a terminal status. It reasons only about store
// state; it never touches worker internals or live connections, which is what
// makes intervention safe. The worker/operator and the reconciler race on the
// same compare-and-set contract, so a job can never be double-transitioned.
type Service struct {
	store  interfaces.JobStore
	events interfaces.EventService
	config *common.ReconcilerConfig
	logger arbor.ILogger
	cron   *cron.Cron

	// now is replaceable for threshold tests
	now func() time.Time
}

// NewService creates a new stale-job reconciler
func NewService(store interfaces.JobStore, events interfaces.EventService, config *common.ReconcilerConfig, logger arbor.ILogger) *Service {
	return &Service{
		store:  store,
		events: events,
		config: config,
		logger: logger,
		cron:   cron.New(cron.WithSeconds()),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Start begins the periodic sweep on the configured cron schedule
func (s *Service) Start() error {
	_, err := s.cron.AddFunc(s.config.SweepSchedule, func() {
		if _, err := s.Sweep(context.Background()); err != nil {
			s.logger.Error().Err(err).Msg("Stale job sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule stale job sweep: %w", err)
	}

	s.cron.Start()
	s.logger.Info().
		Str("schedule", s.config.SweepSchedule).
		Str("no_progress", s.config.NoProgressTimeout).
		Str("max_sync_age", s.config.MaxSyncAge).
		Str("max_import_age", s.config.MaxImportAge).
		Msg("Stale job reconciler started")
	return nil
}

// Stop halts the periodic sweep and waits for a running sweep to finish
func (s *Service) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info().Msg("Stale job reconciler stopped")
}

// Sweep audits every job in an active status and returns how many were
// force-transitioned
func (s *Service) Sweep(ctx context.Context) (int, error) {
	jobs, err := s.store.JobsInStatus(
		ctx,
		models.JobStatusPending,
		models.JobStatusValidating,
		models.JobStatusCommitting,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to list active jobs: %w", err)
	}

	forced := 0
	for _, job := range jobs {
		_, wasForced, err := s.CheckJob(ctx, job)
		if err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to audit job")
			continue
		}
		if wasForced {
			forced++
		}
	}

	if forced > 0 {
		s.logger.Info().
			Int("audited", len(jobs)).
			Int("forced", forced).
			Msg("Stale job sweep reclaimed jobs")
	}
	return forced, nil
}

// CheckJob audits one job against the staleness thresholds. A stale job is
// forced to failed when progress was recorded (the work partially happened
// and the operator should see that) and to cancelled when none was. The
// compare-and-set loser no-ops: a worker resuming at the exact same moment
// wins or loses cleanly, never corrupts.
func (s *Service) CheckJob(ctx context.Context, job *models.Job) (*models.Job, bool, error) {
	if !job.IsActive() {
		return job, false, nil
	}
	if !s.isStale(job) {
		return job, false, nil
	}

	target := models.JobStatusCancelled
	if job.Counters.Any() {
		target = models.JobStatusFailed
	}

	finishedAt := s.now()
	ok, err := s.store.CompareAndSetStatus(ctx, job.ID, job.Status, target, models.StatusFields{
		ErrorSummary: models.StaleSummary,
		FinishedAt:   &finishedAt,
	})
	if err != nil {
		return nil, false, err
	}

	updated, err := s.store.GetJob(ctx, job.ID)
	if err != nil {
		return nil, false, err
	}

	if !ok {
		// A worker or operator moved the job first; their write stands.
		return updated, false, nil
	}

	s.logger.Warn().
		Str("job_id", job.ID).
		Str("kind", string(job.Kind)).
		Str("from", string(job.Status)).
		Str("to", string(target)).
		Str("last_update", job.UpdatedAt.Format(time.RFC3339)).
		Msg("Forced stale job to terminal status")

	if err := s.events.PublishSync(ctx, interfaces.Event{
		Type:    interfaces.EventJobProgress,
		Payload: updated.Snapshot(),
	}); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to publish forced transition")
	}

	return updated, true, nil
}

// isStale applies the two independent thresholds: no progress for too long,
// or total age past the per-kind bound. Either alone is enough.
func (s *Service) isStale(job *models.Job) bool {
	now := s.now()

	if now.Sub(job.UpdatedAt) > s.config.NoProgress() {
		return true
	}

	maxAge := s.config.SyncAge()
	if job.Kind == models.JobKindImport {
		maxAge = s.config.ImportAge()
	}
	return now.Sub(job.CreatedAt) > maxAge
}
