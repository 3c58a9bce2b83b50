package cleanup

import (
	"sort"

	domcleanup "github.com/kailas-cloud/dedupd/internal/domain/cleanup"
	"github.com/kailas-cloud/dedupd/internal/domain/retention"
	"github.com/kailas-cloud/dedupd/internal/domain/similarity"
	"github.com/kailas-cloud/dedupd/internal/usecase/analyzer"
)

// Plan maps every document id scheduled for removal to the rule that selected it.
type Plan struct {
	byID map[string]domcleanup.Type
}

func newPlan() *Plan { return &Plan{byID: make(map[string]domcleanup.Type)} }

func (p *Plan) has(id string) bool {
	_, ok := p.byID[id]
	return ok
}

func (p *Plan) add(t domcleanup.Type, ids []string) {
	for _, id := range ids {
		if !p.has(id) {
			p.byID[id] = t
		}
	}
}

// IDs returns the planned ids sorted ascending.
func (p *Plan) IDs() []string {
	ids := make([]string, 0, len(p.byID))
	for id := range p.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// TypeOf returns the rule that planned id.
func (p *Plan) TypeOf(id string) domcleanup.Type { return p.byID[id] }

// Counts returns planned ids per type.
func (p *Plan) Counts() map[domcleanup.Type]int {
	out := make(map[domcleanup.Type]int)
	for _, t := range p.byID {
		out[t]++
	}
	return out
}

// Len returns the number of planned ids.
func (p *Plan) Len() int { return len(p.byID) }

type planner struct {
	strategy      retention.Strategy
	threshold     float64
	similarMinLen int
	window        int
}

// build applies the requested types in fixed order, each on the documents
// the previous types left in place.
func (pl *planner) build(g *analyzer.Grouping, types []domcleanup.Type) *Plan {
	plan := newPlan()
	requested := make(map[domcleanup.Type]bool, len(types))
	for _, t := range types {
		requested[t] = true
	}

	if requested[domcleanup.URL] {
		for i := range g.URLGroups {
			pl.collapse(plan, domcleanup.URL, g.URLGroups[i].Members)
		}
	}
	if requested[domcleanup.Content] {
		for i := range g.ContentBuckets {
			remaining := surviving(plan, g.ContentBuckets[i].Members)
			grp := analyzer.Group{Members: remaining}
			if grp.DistinctURLs() < 2 {
				continue
			}
			pl.collapse(plan, domcleanup.Content, remaining)
		}
	}
	if requested[domcleanup.Similar] {
		pl.planSimilar(plan, g.Documents)
	}
	return plan
}

func (pl *planner) collapse(plan *Plan, t domcleanup.Type, members []analyzer.Member) {
	if len(members) < 2 {
		return
	}
	group := make([]retention.Member, len(members))
	for i := range members {
		group[i] = members[i].Retention()
	}
	_, remove := pl.strategy.Split(group)
	plan.add(t, remove)
}

func surviving(plan *Plan, members []analyzer.Member) []analyzer.Member {
	out := make([]analyzer.Member, 0, len(members))
	for i := range members {
		if !plan.has(members[i].ID) {
			out = append(out, members[i])
		}
	}
	return out
}

type shingled struct {
	member *analyzer.Member
	set    similarity.Set
}

// planSimilar groups near-duplicates among surviving documents whose content hash is
// unique. Candidates are windowed by URL host and by shingle-set size: sets sorted by
// size can only reach the threshold while the size ratio can, and each document is
// compared with at most window later candidates.
func (pl *planner) planSimilar(plan *Plan, docs []analyzer.Member) {
	hashCount := make(map[string]int)
	for i := range docs {
		if !plan.has(docs[i].ID) {
			hashCount[docs[i].ContentHash]++
		}
	}

	byHost := make(map[string][]shingled)
	for i := range docs {
		m := &docs[i]
		if plan.has(m.ID) || hashCount[m.ContentHash] > 1 || m.ContentLength < pl.similarMinLen {
			continue
		}
		set := similarity.Shingles(m.Content)
		if len(set) == 0 {
			continue
		}
		byHost[m.Host] = append(byHost[m.Host], shingled{member: m, set: set})
	}

	hosts := make([]string, 0, len(byHost))
	for h := range byHost {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)

	for _, h := range hosts {
		cands := byHost[h]
		sort.Slice(cands, func(i, j int) bool {
			if len(cands[i].set) != len(cands[j].set) {
				return len(cands[i].set) < len(cands[j].set)
			}
			return cands[i].member.ID < cands[j].member.ID
		})

		grouped := make([]bool, len(cands))
		for i := range cands {
			if grouped[i] {
				continue
			}
			group := []analyzer.Member{*cands[i].member}
			compared := 0
			for j := i + 1; j < len(cands) && compared < pl.window; j++ {
				if similarity.MaxJaccard(len(cands[i].set), len(cands[j].set)) < pl.threshold {
					break
				}
				if grouped[j] {
					continue
				}
				compared++
				if similarity.Jaccard(cands[i].set, cands[j].set) >= pl.threshold {
					grouped[j] = true
					group = append(group, *cands[j].member)
				}
			}
			if len(group) > 1 {
				grouped[i] = true
				pl.collapse(plan, domcleanup.Similar, group)
			}
		}
	}
}
