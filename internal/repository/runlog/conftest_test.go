package runlog

import (
	"context"

	"github.com/kailas-cloud/dedupd/internal/db"
)

// memStore implements the consumer interface over maps.
type memStore struct {
	kv    map[string][]byte
	lists map[string][]string
	err   error
}

func newMemStore() *memStore {
	return &memStore{kv: map[string][]byte{}, lists: map[string][]string{}}
}

func (m *memStore) Get(_ context.Context, key string) ([]byte, error) {
	if m.err != nil {
		return nil, m.err
	}
	v, ok := m.kv[key]
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	return v, nil
}

func (m *memStore) Set(_ context.Context, key string, value []byte) error {
	if m.err != nil {
		return m.err
	}
	m.kv[key] = value
	return nil
}

func (m *memStore) LPush(_ context.Context, key string, values ...string) error {
	if m.err != nil {
		return m.err
	}
	for _, v := range values {
		m.lists[key] = append([]string{v}, m.lists[key]...)
	}
	return nil
}

func (m *memStore) LTrim(_ context.Context, key string, start, stop int64) error {
	if m.err != nil {
		return m.err
	}
	l := m.lists[key]
	if int(stop) < len(l)-1 {
		l = l[:stop+1]
	}
	m.lists[key] = l[start:]
	return nil
}

func (m *memStore) LRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	if m.err != nil {
		return nil, m.err
	}
	l := m.lists[key]
	end := min(int(stop)+1, len(l))
	if int(start) >= end {
		return nil, nil
	}
	return l[start:end], nil
}
