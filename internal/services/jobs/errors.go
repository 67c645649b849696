package jobs

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tessari/passport/internal/models"
)

var (
	// ErrIllegalTransition is returned when a requested status change is not
	// an edge of the state machine. Terminal jobs reject every change.
	ErrIllegalTransition = errors.New("illegal status transition")

	// ErrStatusConflict is returned when a concurrent writer moved the job
	// first and this caller's compare-and-set lost the race
	ErrStatusConflict = errors.New("job status changed concurrently")

	// ErrJobAlreadyActive is returned when the tenant already has an
	// in-flight job of the same kind
	ErrJobAlreadyActive = errors.New("an active job of this kind already exists for the tenant")
)

// UnresolvedEntitiesError blocks the commit phase while staged entities
// remain unresolved. It lists them so the operator knows what to resolve.
type UnresolvedEntitiesError struct {
	JobID    string
	Entities []models.EntityRef
}

func (e *UnresolvedEntitiesError) Error() string {
	refs := make([]string, len(e.Entities))
	for i, ref := range e.Entities {
		refs[i] = fmt.Sprintf("%s:%q", ref.EntityType, ref.RawValue)
	}
	return fmt.Sprintf("job %s has %d unresolved entities: %s", e.JobID, len(e.Entities), strings.Join(refs, ", "))
}
