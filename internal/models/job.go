package models

import (
	"time"
)

// StaleSummary is the only infrastructure failure text an operator ever
// sees; worker crashes and dead connections are never detailed further
const StaleSummary = "Job was cancelled or timed out."

// JobStatus represents the state of an asynchronous job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusValidating JobStatus = "validating"
	JobStatusValidated  JobStatus = "validated"
	JobStatusCommitting JobStatus = "committing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// JobKind discriminates which worker logic drives a job's transitions
type JobKind string

const (
	JobKindImport JobKind = "import" // Bulk catalog file import
	JobKindSync   JobKind = "sync"   // External integration sync
)

// legalTransitions is the authoritative edge set of the job state machine.
// Cancelled is additionally reachable from every non-terminal state.
var legalTransitions = map[JobStatus][]JobStatus{
	JobStatusPending:    {JobStatusValidating},
	JobStatusValidating: {JobStatusValidated, JobStatusFailed},
	JobStatusValidated:  {JobStatusCommitting},
	JobStatusCommitting: {JobStatusCompleted, JobStatusFailed},
}

// JobCounters tracks row-level progress for a job. All counters are
// monotonically non-decreasing within one job. Total is nil until
// validation has discovered how many rows the file contains.
type JobCounters struct {
	Total     *int `json:"total,omitempty"`
	Processed int  `json:"processed"`
	Created   int  `json:"created"`
	Updated   int  `json:"updated"`
	Failed    int  `json:"failed"`
	Skipped   int  `json:"skipped"`
}

// Any returns true if any progress counter has been recorded
func (c JobCounters) Any() bool {
	return c.Processed > 0 || c.Created > 0 || c.Updated > 0 || c.Failed > 0 || c.Skipped > 0
}

// CounterDelta is a non-negative increment applied to a job's counters.
// SetTotal, when non-nil, records the row total discovered during validation.
type CounterDelta struct {
	Processed int
	Created   int
	Updated   int
	Failed    int
	Skipped   int
	SetTotal  *int
}

// Job represents one unit of asynchronous work (file import or external sync).
// Status mutations go exclusively through the store's compare-and-set contract;
// a job is append-only once it reaches a terminal status.
type Job struct {
	ID       string    `json:"id" badgerhold:"key"`
	Kind     JobKind   `json:"kind"`
	Status   JobStatus `json:"status"`
	TenantID string    `json:"tenant_id"`

	// FileRef is the object-storage key of the uploaded file (import jobs only)
	FileRef string `json:"file_ref,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"` // Advances on every counter change, not only status changes
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	Counters JobCounters `json:"counters"`

	// ErrorSummary is a short human-readable failure reason, present only
	// for failed and cancelled jobs
	ErrorSummary string `json:"error_summary,omitempty"`
}

// NewJob creates a new pending job for a tenant
func NewJob(id, tenantID string, kind JobKind, fileRef string) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:        id,
		Kind:      kind,
		Status:    JobStatusPending,
		TenantID:  tenantID,
		FileRef:   fileRef,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsTerminal returns true if the job has reached a terminal status
func (j *Job) IsTerminal() bool {
	return j.Status == JobStatusCompleted ||
		j.Status == JobStatusFailed ||
		j.Status == JobStatusCancelled
}

// IsActive returns true if the job is in a state the reconciler audits
func (j *Job) IsActive() bool {
	return j.Status == JobStatusPending ||
		j.Status == JobStatusValidating ||
		j.Status == JobStatusCommitting
}

// CanTransitionTo reports whether moving to next is a legal edge of the
// state machine. Cancellation is allowed from any non-terminal state.
func (j *Job) CanTransitionTo(next JobStatus) bool {
	if j.IsTerminal() {
		return false
	}
	if next == JobStatusCancelled {
		return true
	}
	for _, allowed := range legalTransitions[j.Status] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Percentage returns completion as 0-100, or 0 while the total is unknown
func (j *Job) Percentage() float64 {
	if j.Counters.Total == nil || *j.Counters.Total <= 0 {
		return 0
	}
	pct := float64(j.Counters.Processed) / float64(*j.Counters.Total) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

// Phase returns the human-readable phase for progress messages
func (j *Job) Phase() string {
	switch j.Status {
	case JobStatusPending:
		return "queued"
	case JobStatusValidating:
		return "validating"
	case JobStatusValidated:
		return "awaiting resolution"
	case JobStatusCommitting:
		return "committing"
	default:
		return "finished"
	}
}

// Snapshot returns the job's current state as a progress update, used both
// for broadcast deltas and for the initial push to late subscribers
func (j *Job) Snapshot() *ProgressUpdate {
	return &ProgressUpdate{
		JobID:      j.ID,
		Kind:       j.Kind,
		Status:     j.Status,
		Phase:      j.Phase(),
		Total:      j.Counters.Total,
		Processed:  j.Counters.Processed,
		Created:    j.Counters.Created,
		Updated:    j.Counters.Updated,
		Failed:     j.Counters.Failed,
		Skipped:    j.Counters.Skipped,
		Percentage: j.Percentage(),
		Message:    j.ErrorSummary,
		Timestamp:  time.Now().UTC(),
	}
}

// StatusFields carries the optional fields written atomically with a
// compare-and-set status transition
type StatusFields struct {
	ErrorSummary string
	StartedAt    *time.Time
	FinishedAt   *time.Time
}
