// Package analysis defines the duplicate analysis report and its recommendation rules.
package analysis

import (
	"fmt"
	"math"
	"time"
)

// Report is the result of a read-only duplicate scan.
type Report struct {
	TotalDocuments         int        `json:"total_documents"`
	UniqueURLs             int        `json:"unique_urls"`
	DuplicateURLCount      int        `json:"duplicate_url_count"`
	DuplicateURLGroups     int        `json:"duplicate_url_groups"`
	DuplicateContentGroups int        `json:"duplicate_content_groups"`
	ContentDuplicates      int        `json:"content_duplicates"`
	TotalDuplicates        int        `json:"total_duplicates"`
	EfficiencyPercent      float64    `json:"efficiency_percent"`
	Errors                 int        `json:"errors"`
	Recommendations        []string   `json:"recommendations"`
	TopDuplicateURLs       []URLCount `json:"top_duplicate_urls"`
	Temporal               Temporal   `json:"temporal"`
	GeneratedAt            time.Time  `json:"generated_at"`
}

// URLCount is a normalized URL with the number of documents stored for it.
type URLCount struct {
	URL   string `json:"url"`
	Count int    `json:"count"`
}

// Temporal counts URL groups by how closely their captures cluster in time.
type Temporal struct {
	SameDay  int `json:"same_day"`
	SameHour int `json:"same_hour"`
	Rapid    int `json:"rapid"`
}

// DuplicatePercent returns TotalDuplicates as a share of TotalDocuments, 0 for an empty store.
func (r *Report) DuplicatePercent() float64 {
	if r.TotalDocuments == 0 {
		return 0
	}
	return float64(r.TotalDuplicates) / float64(r.TotalDocuments) * 100
}

// Efficiency returns unique/total*100 rounded to two decimals; an empty store is 100% efficient.
func Efficiency(unique, total int) float64 {
	if total == 0 {
		return 100
	}
	return math.Round(float64(unique)/float64(total)*100*100) / 100
}

// Thresholds configure recommendation generation.
type Thresholds struct {
	// AlarmPercent triggers an immediate URL cleanup recommendation.
	AlarmPercent float64 `yaml:"alarm_percent"`
	// WarnPercent triggers a scheduled URL cleanup recommendation.
	WarnPercent float64       `yaml:"warn_percent"`
	RapidWindow time.Duration `yaml:"rapid_window"`
	TopURLs     int           `yaml:"top_urls"`
}

// DefaultThresholds returns the stock recommendation thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{AlarmPercent: 50, WarnPercent: 20, RapidWindow: 5 * time.Minute, TopURLs: 10}
}

// Recommend derives human-readable recommendations from a filled report.
func Recommend(r *Report, t Thresholds) []string {
	var recs []string
	pct := r.DuplicatePercent()

	switch {
	case pct > t.AlarmPercent:
		recs = append(recs, fmt.Sprintf(
			"Duplicate ratio %.1f%% exceeds %.0f%%: run URL cleanup now (%d redundant documents across %d URLs).",
			pct, t.AlarmPercent, r.DuplicateURLCount, r.DuplicateURLGroups))
	case pct > t.WarnPercent:
		recs = append(recs, fmt.Sprintf(
			"Duplicate ratio %.1f%% exceeds %.0f%%: schedule a URL cleanup.", pct, t.WarnPercent))
	case r.DuplicateURLGroups > 0:
		recs = append(recs, fmt.Sprintf(
			"%d URLs have duplicates (%d extra documents): keep only the latest capture of each URL.",
			r.DuplicateURLGroups, r.DuplicateURLCount))
	}

	if r.DuplicateContentGroups > 0 {
		recs = append(recs, fmt.Sprintf(
			"%d groups of identical content under different URLs (%d duplicates): run content cleanup.",
			r.DuplicateContentGroups, r.ContentDuplicates))
	}
	if r.Temporal.Rapid > 0 {
		recs = append(recs, fmt.Sprintf(
			"%d URLs were recaptured within %s: increase the recrawl delay.",
			r.Temporal.Rapid, t.RapidWindow))
	}
	if r.Temporal.SameHour > 0 {
		recs = append(recs, fmt.Sprintf(
			"%d URLs were captured more than once in the same hour: enable the deduplication gate for the crawler.",
			r.Temporal.SameHour))
	}

	recs = append(recs, fmt.Sprintf(
		"Current efficiency: %.2f%% (%d/%d unique). Potential savings: %d documents.",
		r.EfficiencyPercent, r.UniqueURLs, r.TotalDocuments, r.TotalDuplicates))
	return recs
}
