package scheduler

import (
	"context"
	"time"

	"github.com/kailas-cloud/dedupd/internal/domain/analysis"
	domcleanup "github.com/kailas-cloud/dedupd/internal/domain/cleanup"
	"github.com/kailas-cloud/dedupd/internal/domain/schedule"
)

// Analyzer produces duplicate analysis reports.
type Analyzer interface {
	Analyze(ctx context.Context) (*analysis.Report, error)
}

// Cleaner executes cleanup requests.
type Cleaner interface {
	Cleanup(ctx context.Context, req domcleanup.Request) (*domcleanup.Report, error)
}

// RunLog persists the last cleanup time and the run history.
type RunLog interface {
	LastCleanup(ctx context.Context) (time.Time, bool, error)
	SetLastCleanup(ctx context.Context, t time.Time) error
	Append(ctx context.Context, r schedule.RunRecord) error
	History(ctx context.Context, n int) ([]schedule.RunRecord, error)
}
