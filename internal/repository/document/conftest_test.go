package document

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/kailas-cloud/dedupd/internal/db"
	domdoc "github.com/kailas-cloud/dedupd/internal/domain/document"
)

// memStore is an in-memory implementation of the consumer interface.
// err, when set, is returned by every call.
type memStore struct {
	hashes map[string]map[string]string
	sets   map[string]map[string]struct{}
	err    error
	// pageSize bounds SSCAN pages independently of the requested count.
	pageSize int
	sscans   int
}

func newMemStore() *memStore {
	return &memStore{
		hashes: make(map[string]map[string]string),
		sets:   make(map[string]map[string]struct{}),
	}
}

func (m *memStore) HSet(_ context.Context, key string, fields map[string]string) error {
	if m.err != nil {
		return m.err
	}
	h := m.hashes[key]
	if h == nil {
		h = make(map[string]string)
		m.hashes[key] = h
	}
	for k, v := range fields {
		h[k] = v
	}
	return nil
}

func (m *memStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := make(map[string]string, len(m.hashes[key]))
	for k, v := range m.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (m *memStore) HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error) {
	out := make([]map[string]string, len(keys))
	for i, k := range keys {
		h, err := m.HGetAll(ctx, k)
		if err != nil {
			return nil, err
		}
		out[i] = h
	}
	return out, nil
}

func (m *memStore) Del(_ context.Context, keys ...string) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	var n int64
	for _, k := range keys {
		if _, ok := m.hashes[k]; ok {
			delete(m.hashes, k)
			n++
		}
		if _, ok := m.sets[k]; ok {
			delete(m.sets, k)
			n++
		}
	}
	return n, nil
}

func (m *memStore) Exists(_ context.Context, key string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	_, h := m.hashes[key]
	return h || len(m.sets[key]) > 0, nil
}

func (m *memStore) SAdd(_ context.Context, key string, members ...string) error {
	if m.err != nil {
		return m.err
	}
	s := m.sets[key]
	if s == nil {
		s = make(map[string]struct{})
		m.sets[key] = s
	}
	for _, v := range members {
		s[v] = struct{}{}
	}
	return nil
}

func (m *memStore) SRem(_ context.Context, key string, members ...string) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	var n int64
	for _, v := range members {
		if _, ok := m.sets[key][v]; ok {
			delete(m.sets[key], v)
			n++
		}
	}
	if len(m.sets[key]) == 0 {
		delete(m.sets, key)
	}
	return n, nil
}

func (m *memStore) SCard(_ context.Context, key string) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	return int64(len(m.sets[key])), nil
}

// SScan pages through the sorted members; the cursor is the next offset.
func (m *memStore) SScan(_ context.Context, key string, cursor uint64, count int64) (db.ScanPage, error) {
	m.sscans++
	if m.err != nil {
		return db.ScanPage{}, m.err
	}
	members := make([]string, 0, len(m.sets[key]))
	for v := range m.sets[key] {
		members = append(members, v)
	}
	sort.Strings(members)

	size := int(count)
	if m.pageSize > 0 {
		size = m.pageSize
	}
	start := int(cursor)
	end := min(start+size, len(members))
	if start >= len(members) {
		return db.ScanPage{}, nil
	}
	next := uint64(end)
	if end == len(members) {
		next = 0
	}
	return db.ScanPage{Cursor: next, Elements: members[start:end]}, nil
}

func newTestRepo(t *testing.T) (*Repo, *memStore) {
	t.Helper()
	ms := newMemStore()
	return New(ms, ""), ms
}

func testDocument(t *testing.T, id, url, content string) domdoc.Document {
	t.Helper()
	d, err := domdoc.New(id, url, content, time.Date(2025, 5, 1, 9, 30, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("domdoc.New: %v", err)
	}
	return d
}
