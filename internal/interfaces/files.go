package interfaces

import (
	"context"

	"github.com/tessari/passport/internal/models"
)

// HeaderSampler is the only file access the core needs: a bounded sample of
// rows from the head of an uploaded file. Full-file parsing belongs to the
// worker.
type HeaderSampler interface {
	ReadHeaderSample(ctx context.Context, fileRef string, maxRows int) ([][]string, error)
}

// StaleChecker lets the job service run the reconciler opportunistically on
// a single job (status queries and the duplicate-active-job guard) without
// depending on the reconciler package directly.
type StaleChecker interface {
	// CheckJob audits one job against the staleness thresholds and force-
	// transitions it when stale. Returns the (possibly updated) job and
	// whether the thresholds were exceeded.
	CheckJob(ctx context.Context, job *models.Job) (*models.Job, bool, error)
}
