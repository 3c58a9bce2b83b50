package health

import (
	"context"
	"sort"
)

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates an optional component failed. The gate keeps admitting URLs fail-open.
	Degraded Status = "degraded"
	// Unhealthy indicates the document store is unreachable.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	CheckOK    CheckResult = "ok"
	CheckError CheckResult = "error"
)

// Report aggregates health check results.
type Report struct {
	Status Status                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

// Service coordinates health checks.
type Service struct {
	store    Pinger
	optional map[string]Pinger
}

// New creates a Service. The store is required; optional components (seen cache,
// run log backend) only degrade the status when they fail.
func New(store Pinger, optional map[string]Pinger) *Service {
	return &Service{store: store, optional: optional}
}

// Check runs health checks against all components.
func (s *Service) Check(ctx context.Context) Report {
	checks := make(map[string]CheckResult, 1+len(s.optional))
	status := Healthy

	if err := s.store.Ping(ctx); err != nil {
		checks["store"] = CheckError
		status = Unhealthy
	} else {
		checks["store"] = CheckOK
	}

	names := make([]string, 0, len(s.optional))
	for name := range s.optional {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		p := s.optional[name]
		if p == nil {
			continue
		}
		if err := p.Ping(ctx); err != nil {
			checks[name] = CheckError
			if status == Healthy {
				status = Degraded
			}
			continue
		}
		checks[name] = CheckOK
	}

	return Report{Status: status, Checks: checks}
}
