package chi

import (
	"context"

	"github.com/kailas-cloud/dedupd/internal/domain/analysis"
	domcleanup "github.com/kailas-cloud/dedupd/internal/domain/cleanup"
	"github.com/kailas-cloud/dedupd/internal/domain/schedule"
	gateuc "github.com/kailas-cloud/dedupd/internal/usecase/gate"
	healthuc "github.com/kailas-cloud/dedupd/internal/usecase/health"
	scheduleruc "github.com/kailas-cloud/dedupd/internal/usecase/scheduler"
)

// Analyzer produces duplicate analysis reports.
type Analyzer interface {
	Analyze(ctx context.Context) (*analysis.Report, error)
}

// Cleaner runs cleanup requests.
type Cleaner interface {
	Cleanup(ctx context.Context, req domcleanup.Request) (*domcleanup.Report, error)
}

// Gate decides which URLs the crawler fetches.
type Gate interface {
	FilterNewURLs(ctx context.Context, urls []string) []string
	MarkURLsScraped(ctx context.Context, urls []string) error
	SaveSnapshot(ctx context.Context, s gateuc.SnapshotStore) error
	Rebuild(ctx context.Context, capacity uint64, scanner gateuc.DocumentScanner) error
	Stats() gateuc.Stats
}

// Scheduler exposes manual runs and scheduler state.
type Scheduler interface {
	RunOnce(ctx context.Context, kind schedule.Kind) (*scheduleruc.Run, error)
	Status() scheduleruc.Status
	History(ctx context.Context, n int) ([]schedule.RunRecord, error)
}

// HealthChecker reports dependency health.
type HealthChecker interface {
	Check(ctx context.Context) healthuc.Report
}
