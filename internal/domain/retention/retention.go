// Package retention decides which document of a duplicate group survives cleanup.
package retention

import (
	"sort"
	"time"
)

// Strategy selects the survivor of a duplicate group.
type Strategy string

// Retention strategies.
const (
	// Latest keeps the most recently captured document.
	Latest Strategy = "latest"
	// LongestContent keeps the document with the most content.
	LongestContent Strategy = "longest_content"
	// First keeps the earliest captured document.
	First Strategy = "first"
)

// IsValid checks if the strategy is one of the supported values.
func (s Strategy) IsValid() bool {
	return s == Latest || s == LongestContent || s == First
}

// Member is the part of a document survivor selection looks at.
type Member struct {
	ID            string
	CapturedAt    time.Time
	ContentLength int
}

// better reports whether a should be kept over b. Ties fall back to the smaller id
// so the same group always yields the same survivor.
func (s Strategy) better(a, b Member) bool {
	switch s {
	case Latest:
		if !a.CapturedAt.Equal(b.CapturedAt) {
			return a.CapturedAt.After(b.CapturedAt)
		}
	case LongestContent:
		if a.ContentLength != b.ContentLength {
			return a.ContentLength > b.ContentLength
		}
	case First:
		if !a.CapturedAt.Equal(b.CapturedAt) {
			return a.CapturedAt.Before(b.CapturedAt)
		}
	}
	return a.ID < b.ID
}

// Split returns the survivor of group and the ids to remove, sorted ascending.
// An empty group returns a zero survivor and no removals.
func (s Strategy) Split(group []Member) (survivor Member, remove []string) {
	if len(group) == 0 {
		return Member{}, nil
	}
	best := 0
	for i := 1; i < len(group); i++ {
		if s.better(group[i], group[best]) {
			best = i
		}
	}
	remove = make([]string, 0, len(group)-1)
	for i, m := range group {
		if i != best {
			remove = append(remove, m.ID)
		}
	}
	sort.Strings(remove)
	return group[best], remove
}
