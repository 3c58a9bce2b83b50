package dedupd

import (
	"time"

	"github.com/kailas-cloud/dedupd/internal/domain/analysis"
	domcleanup "github.com/kailas-cloud/dedupd/internal/domain/cleanup"
	gateuc "github.com/kailas-cloud/dedupd/internal/usecase/gate"
)

// Document is a captured page. An empty ID is generated; a zero CapturedAt means now.
type Document struct {
	ID         string
	URL        string
	Content    string
	CapturedAt time.Time
}

// CleanupRequest selects what a cleanup removes.
type CleanupRequest struct {
	// Types are any of "url", "content" and "similar". Default: url.
	Types []string
	// Strategy picks the survivor of each group: latest, longest_content or first. Default: latest.
	Strategy string
	// SimilarityThreshold applies to "similar". Zero uses the default of 0.95.
	SimilarityThreshold float64
	// Execute deletes the planned documents. Without it the run is a dry run.
	Execute bool
}

// Report types shared with the service.
type (
	AnalysisReport = analysis.Report
	CleanupReport  = domcleanup.Report
	GateStats      = gateuc.Stats
)
