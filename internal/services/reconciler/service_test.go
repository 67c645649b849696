package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/tessari/passport/internal/common"
	"github.com/tessari/passport/internal/interfaces"
	"github.com/tessari/passport/internal/models"
	"github.com/tessari/passport/internal/services/events"
	storage "github.com/tessari/passport/internal/storage/badger"
)

func newTestStore(t *testing.T) interfaces.JobStore {
	t.Helper()

	tmpDir := t.TempDir()
	options := badgerhold.DefaultOptions
	options.Dir = tmpDir
	options.ValueDir = tmpDir
	options.Logger = nil

	store, err := badgerhold.Open(options)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	return storage.NewJobStorage(storage.NewBadgerDBWithStore(store, arbor.NewLogger()), arbor.NewLogger())
}

func newTestService(t *testing.T, store interfaces.JobStore) *Service {
	t.Helper()
	logger := arbor.NewLogger()
	cfg := common.DefaultConfig().Reconciler
	return NewService(store, events.NewService(logger), &cfg, logger)
}

// seedJob persists a job with backdated timestamps in the given status
func seedJob(t *testing.T, store interfaces.JobStore, id string, kind models.JobKind, status models.JobStatus, age, sinceUpdate time.Duration) *models.Job {
	t.Helper()
	now := time.Now().UTC()
	job := &models.Job{
		ID:        id,
		Kind:      kind,
		Status:    status,
		TenantID:  "tenant-a",
		CreatedAt: now.Add(-age),
		UpdatedAt: now.Add(-sinceUpdate),
	}
	require.NoError(t, store.CreateJob(context.Background(), job))
	return job
}

func TestCheckJobFreshJobNotStale(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(t, store)
	ctx := context.Background()

	job := seedJob(t, store, "job_fresh", models.JobKindSync, models.JobStatusValidating, 1*time.Minute, 10*time.Second)

	checked, forced, err := svc.CheckJob(ctx, job)
	require.NoError(t, err)
	assert.False(t, forced)
	assert.Equal(t, models.JobStatusValidating, checked.Status)
}

func TestCheckJobStaleSyncCancelledWithFixedSummary(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(t, store)
	ctx := context.Background()

	// updatedAt 3 minutes old and createdAt 6 minutes old, no counters
	job := seedJob(t, store, "job_stale_sync", models.JobKindSync, models.JobStatusValidating, 6*time.Minute, 3*time.Minute)

	checked, forced, err := svc.CheckJob(ctx, job)
	require.NoError(t, err)
	assert.True(t, forced)
	assert.Equal(t, models.JobStatusCancelled, checked.Status)
	assert.Equal(t, "Job was cancelled or timed out.", checked.ErrorSummary)
	require.NotNil(t, checked.FinishedAt)
}

func TestCheckJobStaleWithCountersFails(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(t, store)
	ctx := context.Background()

	job := seedJob(t, store, "job_stale_progress", models.JobKindImport, models.JobStatusCommitting, 4*time.Minute, 3*time.Minute)

	// Recorded progress means the work partially happened: force to failed,
	// not cancelled. The counter write refreshes UpdatedAt, so backdate it
	// again before auditing.
	_, err := store.IncrementCounters(ctx, job.ID, models.CounterDelta{Processed: 12, Created: 12})
	require.NoError(t, err)
	job, err = store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	job.UpdatedAt = time.Now().UTC().Add(-3 * time.Minute)

	checked, forced, err := svc.CheckJob(ctx, job)
	require.NoError(t, err)
	assert.True(t, forced)
	assert.Equal(t, models.JobStatusFailed, checked.Status)
	assert.Equal(t, models.StaleSummary, checked.ErrorSummary)
	assert.Equal(t, 12, checked.Counters.Processed)
}

func TestCheckJobNoProgressThresholdAloneSuffices(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(t, store)
	ctx := context.Background()

	// Young job (30s) whose worker went silent past the 2m stall bound
	job := seedJob(t, store, "job_stalled", models.JobKindImport, models.JobStatusPending, 30*time.Second, 150*time.Second)

	_, forced, err := svc.CheckJob(ctx, job)
	require.NoError(t, err)
	assert.True(t, forced)
}

func TestCheckJobAbsoluteAgeThresholdPerKind(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(t, store)
	ctx := context.Background()

	// Fresh updatedAt, 6 minutes old: over the 5m sync bound
	syncJob := seedJob(t, store, "job_old_sync", models.JobKindSync, models.JobStatusValidating, 6*time.Minute, 10*time.Second)
	_, forced, err := svc.CheckJob(ctx, syncJob)
	require.NoError(t, err)
	assert.True(t, forced, "sync job past 5m absolute age should be forced")

	// Same age import job is under the 10m import bound
	importJob := seedJob(t, store, "job_old_import", models.JobKindImport, models.JobStatusValidating, 6*time.Minute, 10*time.Second)
	_, forced, err = svc.CheckJob(ctx, importJob)
	require.NoError(t, err)
	assert.False(t, forced, "import job under 10m absolute age should survive")
}

func TestCheckJobIgnoresNonActiveStatuses(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(t, store)
	ctx := context.Background()

	// validated is the operator's turn, not a worker phase: never audited
	waiting := seedJob(t, store, "job_waiting", models.JobKindImport, models.JobStatusValidated, 30*time.Minute, 30*time.Minute)
	checked, forced, err := svc.CheckJob(ctx, waiting)
	require.NoError(t, err)
	assert.False(t, forced)
	assert.Equal(t, models.JobStatusValidated, checked.Status)

	done := seedJob(t, store, "job_done", models.JobKindImport, models.JobStatusCompleted, 30*time.Minute, 30*time.Minute)
	_, forced, err = svc.CheckJob(ctx, done)
	require.NoError(t, err)
	assert.False(t, forced)
}

func TestCheckJobLosesRaceCleanly(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(t, store)
	ctx := context.Background()

	job := seedJob(t, store, "job_raced", models.JobKindSync, models.JobStatusValidating, 6*time.Minute, 3*time.Minute)

	// A recovering worker moves the job between the reconciler's read and
	// its compare-and-set. The reconciler must no-op and report the
	// worker's write.
	ok, err := store.CompareAndSetStatus(ctx, job.ID, models.JobStatusValidating, models.JobStatusValidated, models.StatusFields{})
	require.NoError(t, err)
	require.True(t, ok)

	checked, forced, err := svc.CheckJob(ctx, job)
	require.NoError(t, err)
	assert.False(t, forced)
	assert.Equal(t, models.JobStatusValidated, checked.Status)
}

func TestSweepForcesAllStaleActiveJobs(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(t, store)
	ctx := context.Background()

	seedJob(t, store, "job_s1", models.JobKindSync, models.JobStatusPending, 6*time.Minute, 6*time.Minute)
	seedJob(t, store, "job_s2", models.JobKindImport, models.JobStatusCommitting, 12*time.Minute, 3*time.Minute)
	seedJob(t, store, "job_s3", models.JobKindImport, models.JobStatusValidating, 1*time.Minute, 5*time.Second)
	seedJob(t, store, "job_s4", models.JobKindImport, models.JobStatusValidated, 30*time.Minute, 30*time.Minute)

	forced, err := svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, forced)

	s3, err := store.GetJob(ctx, "job_s3")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusValidating, s3.Status)

	s4, err := store.GetJob(ctx, "job_s4")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusValidated, s4.Status)
}

func TestSweepPublishesForcedTransitions(t *testing.T) {
	store := newTestStore(t)
	logger := arbor.NewLogger()
	eventSvc := events.NewService(logger)
	cfg := common.DefaultConfig().Reconciler
	svc := NewService(store, eventSvc, &cfg, logger)
	ctx := context.Background()

	var published []*models.ProgressUpdate
	err := eventSvc.Subscribe(interfaces.EventJobProgress, func(ctx context.Context, event interfaces.Event) error {
		published = append(published, event.Payload.(*models.ProgressUpdate))
		return nil
	})
	require.NoError(t, err)

	seedJob(t, store, "job_pub", models.JobKindSync, models.JobStatusValidating, 6*time.Minute, 6*time.Minute)

	forced, err := svc.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, forced)

	require.Len(t, published, 1)
	assert.Equal(t, "job_pub", published[0].JobID)
	assert.Equal(t, models.JobStatusCancelled, published[0].Status)
	assert.True(t, published[0].Terminal())
}
