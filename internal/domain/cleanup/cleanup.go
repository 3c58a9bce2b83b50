// Package cleanup defines cleanup requests and reports.
package cleanup

import (
	"math"
	"time"

	"github.com/kailas-cloud/dedupd/internal/domain"
	"github.com/kailas-cloud/dedupd/internal/domain/retention"
)

// Type is a duplicate category a cleanup run removes.
type Type string

// Cleanup types, listed in the order a run applies them.
const (
	URL     Type = "url"
	Content Type = "content"
	// Similar removes near-identical content by shingle similarity.
	Similar Type = "similar"
)

// DefaultSimilarityThreshold is used when a request omits the threshold.
const DefaultSimilarityThreshold = 0.95

// Order is the fixed application order of cleanup types.
var Order = []Type{URL, Content, Similar}

// IsValid checks if the type is one of the supported values.
func (t Type) IsValid() bool {
	return t == URL || t == Content || t == Similar
}

// Request is a validated cleanup request.
type Request struct {
	Types               []Type
	Strategy            retention.Strategy
	DryRun              bool
	SimilarityThreshold float64
}

// Has reports whether t was requested.
func (r Request) Has(t Type) bool {
	for _, rt := range r.Types {
		if rt == t {
			return true
		}
	}
	return false
}

// NewRequest parses and validates a cleanup request.
// A nil dryRun defaults to true; a nil threshold defaults to DefaultSimilarityThreshold.
// Types are deduplicated and returned in application order.
func NewRequest(types []string, strategy string, dryRun *bool, threshold *float64) (Request, error) {
	if len(types) == 0 {
		return Request{}, domain.InvalidConfig("at least one cleanup type is required")
	}
	requested := make(map[Type]bool, len(types))
	for _, raw := range types {
		t := Type(raw)
		if !t.IsValid() {
			return Request{}, domain.InvalidConfig("unknown cleanup type %q", raw)
		}
		requested[t] = true
	}

	s := retention.Strategy(strategy)
	if strategy == "" {
		s = retention.Latest
	}
	if !s.IsValid() {
		return Request{}, domain.InvalidConfig("unknown retention strategy %q", strategy)
	}

	req := Request{Strategy: s, DryRun: true, SimilarityThreshold: DefaultSimilarityThreshold}
	if dryRun != nil {
		req.DryRun = *dryRun
	}
	if threshold != nil {
		if *threshold < 0 || *threshold > 1 || math.IsNaN(*threshold) {
			return Request{}, domain.InvalidConfig("similarity threshold must be in [0, 1], got %v", *threshold)
		}
		req.SimilarityThreshold = *threshold
	}
	for _, t := range Order {
		if requested[t] {
			req.Types = append(req.Types, t)
		}
	}
	return req, nil
}

// Report summarizes a cleanup run. In a dry run PlannedIDs lists what a live run
// on the same store would remove, and RemovedByType stays empty.
type Report struct {
	RunID               string             `json:"run_id"`
	TypesRequested      []Type             `json:"types_requested"`
	Strategy            retention.Strategy `json:"strategy"`
	DryRun              bool               `json:"dry_run"`
	DocumentsScanned    int                `json:"documents_scanned"`
	DocumentsProcessed  int                `json:"documents_processed"`
	PlannedByType       map[Type]int       `json:"planned_by_type"`
	PlannedIDs          []string           `json:"planned_ids"`
	RemovedByType       map[Type]int       `json:"removed_by_type"`
	TotalRemoved        int                `json:"total_removed"`
	Errors              int                `json:"errors"`
	Cancelled           bool               `json:"cancelled"`
	SimilarityThreshold float64            `json:"similarity_threshold"`
	GeneratedAt         time.Time          `json:"generated_at"`
}
