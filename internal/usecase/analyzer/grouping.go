package analyzer

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/dedupd/internal/domain"
	domdoc "github.com/kailas-cloud/dedupd/internal/domain/document"
	"github.com/kailas-cloud/dedupd/internal/domain/retention"
	"github.com/kailas-cloud/dedupd/internal/domain/urlnorm"
)

// Member is the per-document metadata grouping keeps in memory.
// Content is only filled when CollectOptions.WithContent is set and the page is at least
// CollectOptions.ContentMinLength long.
type Member struct {
	ID            string
	URL           string // normalized
	Host          string
	ContentHash   string
	ContentLength int
	CapturedAt    time.Time
	Content       string
}

// Retention returns the fields survivor selection needs.
func (m *Member) Retention() retention.Member {
	return retention.Member{ID: m.ID, CapturedAt: m.CapturedAt, ContentLength: m.ContentLength}
}

// Group is a set of documents sharing Key, members sorted by id.
type Group struct {
	Key     string
	Members []Member
}

// DistinctURLs counts the normalized URLs among the members.
func (g *Group) DistinctURLs() int {
	urls := make(map[string]struct{}, len(g.Members))
	for i := range g.Members {
		urls[g.Members[i].URL] = struct{}{}
	}
	return len(urls)
}

// Grouping is the result of one pass over the store.
type Grouping struct {
	// Scanned counts every document visited, malformed ones included.
	Scanned int
	// Errors counts malformed documents left out of every group.
	Errors int
	// Documents holds every well-formed document sorted by id.
	Documents []Member
	// URLGroups are normalized URLs with at least two documents, sorted by key.
	URLGroups []Group
	// ContentBuckets are content hashes shared by at least two documents long enough
	// for content comparison, sorted by key. Same-URL copies are included.
	ContentBuckets []Group
}

// CollectOptions tune a collection pass.
type CollectOptions struct {
	WithContent      bool
	ContentMinLength int
}

// Collect streams the store once and groups documents by normalized URL and content hash.
// The scan is read-only; documents written concurrently may or may not be seen.
func (s *Service) Collect(ctx context.Context, opts CollectOptions) (*Grouping, error) {
	g := &Grouping{}
	byURL := make(map[string][]int)
	byHash := make(map[string][]int)

	err := s.docs.Scan(ctx, s.cfg.BatchSize, func(docs []domdoc.Document) error {
		for i := range docs {
			g.Scanned++
			m, err := toMember(&docs[i], opts)
			if err != nil {
				g.Errors++
				s.logger.Debug("Skipping malformed document", zap.String("id", docs[i].ID()), zap.Error(err))
				continue
			}
			idx := len(g.Documents)
			g.Documents = append(g.Documents, m)
			byURL[m.URL] = append(byURL[m.URL], idx)
			if m.ContentLength >= s.cfg.MinContentLength {
				byHash[m.ContentHash] = append(byHash[m.ContentHash], idx)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan documents: %w", err)
	}

	g.URLGroups = buildGroups(g.Documents, byURL)
	g.ContentBuckets = buildGroups(g.Documents, byHash)
	sort.Slice(g.Documents, func(i, j int) bool { return g.Documents[i].ID < g.Documents[j].ID })
	return g, nil
}

func toMember(d *domdoc.Document, opts CollectOptions) (Member, error) {
	norm, err := urlnorm.Normalize(d.URL())
	if err != nil {
		return Member{}, domain.NewMalformedDocument(d.ID(), err.Error())
	}
	hash, ok := d.ResolveHash()
	if !ok {
		return Member{}, domain.NewMalformedDocument(d.ID(), "no content and no stored hash")
	}
	m := Member{
		ID:            d.ID(),
		URL:           norm,
		Host:          urlnorm.Host(norm),
		ContentHash:   hash,
		ContentLength: len(strings.TrimSpace(d.Content())),
		CapturedAt:    d.CapturedAt(),
	}
	if opts.WithContent && m.ContentLength >= opts.ContentMinLength {
		m.Content = d.Content()
	}
	return m, nil
}

func buildGroups(docs []Member, index map[string][]int) []Group {
	var groups []Group
	for key, idxs := range index {
		if len(idxs) < 2 {
			continue
		}
		members := make([]Member, len(idxs))
		for i, idx := range idxs {
			members[i] = docs[idx]
		}
		sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })
		groups = append(groups, Group{Key: key, Members: members})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Key < groups[j].Key })
	return groups
}
