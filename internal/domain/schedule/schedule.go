// Package schedule describes when the cleanup scheduler runs and what it runs.
package schedule

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kailas-cloud/dedupd/internal/domain"
	"github.com/kailas-cloud/dedupd/internal/domain/cleanup"
	"github.com/kailas-cloud/dedupd/internal/domain/retention"
)

// Kind is the depth of a scheduled run.
type Kind string

// Run kinds.
const (
	// Light removes URL duplicates only.
	Light Kind = "light"
	// Full removes URL and content duplicates as enabled in the cleanup settings.
	Full Kind = "full"
	// Deep is Full plus similar-content removal when enabled.
	Deep     Kind = "deep"
	Analysis Kind = "analysis"
)

// IsValid checks if the kind is one of the supported values.
func (k Kind) IsValid() bool {
	return k == Light || k == Full || k == Deep || k == Analysis
}

// CleanupSettings control the cleanup requests built for scheduled runs.
type CleanupSettings struct {
	URLDuplicates       bool    `yaml:"url_duplicates"`
	ContentDuplicates   bool    `yaml:"content_duplicates"`
	SimilarContent      bool    `yaml:"similar_content"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	Strategy            string  `yaml:"strategy"`
	DryRun              bool    `yaml:"dry_run"`
}

// Trigger fires a run of Kind either on a cadence or when a threshold is breached.
// Exactly one of Cadence and Threshold is set.
type Trigger struct {
	Name      string     `yaml:"name"`
	Kind      Kind       `yaml:"kind"`
	Cadence   *Cadence   `yaml:"cadence,omitempty"`
	Threshold *Threshold `yaml:"threshold,omitempty"`
}

// Threshold fires when the store breaches a limit. Zero limits are disabled.
type Threshold struct {
	MaxDuplicatePercent float64       `yaml:"max_duplicate_percent"`
	MaxStoreSize        int           `yaml:"max_store_size"`
	MinInterval         time.Duration `yaml:"min_interval_between_runs"`
}

// Exceeded reports whether the measured duplicate percent or document count breaches the rule.
func (t Threshold) Exceeded(duplicatePercent float64, documents int) bool {
	if t.MaxDuplicatePercent > 0 && duplicatePercent > t.MaxDuplicatePercent {
		return true
	}
	return t.MaxStoreSize > 0 && documents > t.MaxStoreSize
}

// RunRecord is one finished scheduler run as kept in the run history.
type RunRecord struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Trigger    string    `json:"trigger"`
	Status     string    `json:"status"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Removed    int       `json:"removed"`
	Planned    int       `json:"planned"`
	Errors     int       `json:"errors"`
	Error      string    `json:"error,omitempty"`
}

// Config is the scheduler configuration. Immutable once loaded; replace it to reload.
type Config struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	// ThresholdCheckInterval bounds how often threshold triggers scan the store.
	ThresholdCheckInterval time.Duration   `yaml:"threshold_check_interval"`
	Timezone               string          `yaml:"timezone"`
	Cleanup                CleanupSettings `yaml:"cleanup"`
	Triggers               []Trigger       `yaml:"triggers"`

	location *time.Location
}

// DefaultConfig mirrors the stock crawler deployment: nightly light cleanup, weekly full,
// monthly deep, a daily analysis report and a 20% duplicate threshold guarded by 6 hours.
func DefaultConfig() *Config {
	return &Config{
		PollInterval:           time.Minute,
		ThresholdCheckInterval: 15 * time.Minute,
		Timezone:               "UTC",
		Cleanup: CleanupSettings{
			URLDuplicates:       true,
			ContentDuplicates:   true,
			SimilarityThreshold: cleanup.DefaultSimilarityThreshold,
			Strategy:            string(retention.Latest),
		},
		Triggers: []Trigger{
			{Name: "daily_analysis", Kind: Analysis, Cadence: &Cadence{Every: Daily, At: "01:00"}},
			{Name: "daily_light_cleanup", Kind: Light, Cadence: &Cadence{Every: Daily, At: "02:00"}},
			{Name: "weekly_full_cleanup", Kind: Full, Cadence: &Cadence{Every: Weekly, Weekday: "sunday", At: "03:00"}},
			{Name: "monthly_deep_cleanup", Kind: Deep, Cadence: &Cadence{Every: Monthly, Day: 1, At: "04:00"}},
			{Name: "duplicate_threshold", Kind: Full, Threshold: &Threshold{
				MaxDuplicatePercent: 20,
				MinInterval:         6 * time.Hour,
			}},
		},
		location: time.UTC,
	}
}

// Load reads a schedule YAML file. Missing fields keep their defaults; a missing
// triggers list keeps the default triggers.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schedule config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a schedule YAML document.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, domain.InvalidConfig("parse schedule config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration and resolves the timezone.
func (c *Config) Validate() error {
	if c.PollInterval <= 0 {
		return domain.InvalidConfig("schedule poll_interval must be positive")
	}
	if c.ThresholdCheckInterval < 0 {
		return domain.InvalidConfig("schedule threshold_check_interval must not be negative")
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return domain.InvalidConfig("schedule timezone %q: %v", c.Timezone, err)
	}
	c.location = loc

	if !retention.Strategy(c.Cleanup.Strategy).IsValid() {
		return domain.InvalidConfig("schedule cleanup strategy %q", c.Cleanup.Strategy)
	}
	if c.Cleanup.SimilarityThreshold < 0 || c.Cleanup.SimilarityThreshold > 1 {
		return domain.InvalidConfig("schedule similarity_threshold must be in [0, 1]")
	}
	if !c.Cleanup.URLDuplicates && !c.Cleanup.ContentDuplicates {
		return domain.InvalidConfig("schedule cleanup must enable url_duplicates or content_duplicates")
	}

	names := make(map[string]bool, len(c.Triggers))
	for i := range c.Triggers {
		tr := &c.Triggers[i]
		if tr.Name == "" {
			return domain.InvalidConfig("trigger %d: name is required", i)
		}
		if names[tr.Name] {
			return domain.InvalidConfig("trigger %q: duplicate name", tr.Name)
		}
		names[tr.Name] = true
		if !tr.Kind.IsValid() {
			return domain.InvalidConfig("trigger %q: unknown kind %q", tr.Name, tr.Kind)
		}
		switch {
		case tr.Cadence != nil && tr.Threshold != nil:
			return domain.InvalidConfig("trigger %q: set either cadence or threshold, not both", tr.Name)
		case tr.Cadence != nil:
			if err := tr.Cadence.validate(); err != nil {
				return domain.InvalidConfig("trigger %q: %v", tr.Name, err)
			}
		case tr.Threshold != nil:
			th := tr.Threshold
			if th.MaxDuplicatePercent <= 0 && th.MaxStoreSize <= 0 {
				return domain.InvalidConfig("trigger %q: threshold needs max_duplicate_percent or max_store_size", tr.Name)
			}
			if th.MinInterval < 0 {
				return domain.InvalidConfig("trigger %q: negative min_interval_between_runs", tr.Name)
			}
		default:
			return domain.InvalidConfig("trigger %q: cadence or threshold is required", tr.Name)
		}
	}
	return nil
}

// Location returns the timezone cadences are evaluated in.
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.UTC
	}
	return c.location
}

// Request builds the cleanup request for a run kind. Analysis runs have no request.
func (c *Config) Request(kind Kind) (cleanup.Request, bool, error) {
	var types []string
	switch kind {
	case Light:
		types = []string{string(cleanup.URL)}
	case Full, Deep:
		if c.Cleanup.URLDuplicates {
			types = append(types, string(cleanup.URL))
		}
		if c.Cleanup.ContentDuplicates {
			types = append(types, string(cleanup.Content))
		}
		if kind == Deep && c.Cleanup.SimilarContent {
			types = append(types, string(cleanup.Similar))
		}
	case Analysis:
		return cleanup.Request{}, false, nil
	default:
		return cleanup.Request{}, false, domain.InvalidConfig("unknown run kind %q", kind)
	}

	dry := c.Cleanup.DryRun
	threshold := c.Cleanup.SimilarityThreshold
	req, err := cleanup.NewRequest(types, c.Cleanup.Strategy, &dry, &threshold)
	if err != nil {
		return cleanup.Request{}, false, err
	}
	return req, true, nil
}

// ParseKind parses a run kind, case-insensitively.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !k.IsValid() {
		return "", domain.InvalidConfig("unknown run kind %q", s)
	}
	return k, nil
}
