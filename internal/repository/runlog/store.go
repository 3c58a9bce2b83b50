// Package runlog persists scheduler run history so the interval guard survives restarts.
package runlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kailas-cloud/dedupd/internal/db"
	"github.com/kailas-cloud/dedupd/internal/domain"
	"github.com/kailas-cloud/dedupd/internal/domain/schedule"
)

// DefaultKeep is the number of history entries retained.
const DefaultKeep = 100

// store is the consumer interface for run log operations (ISP).
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	LPush(ctx context.Context, key string, values ...string) error
	LTrim(ctx context.Context, key string, start, stop int64) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
}

// Entry is one finished scheduler run.
type Entry = schedule.RunRecord

// Store keeps the last cleanup time (GET/SET) and a capped history list (LPUSH + LTRIM).
type Store struct {
	store      store
	lastKey    string
	historyKey string
	keep       int
}

// New creates a run log. keep <= 0 uses DefaultKeep.
func New(s store, prefix string, keep int) *Store {
	if prefix == "" {
		prefix = domain.KeyPrefix
	}
	if keep <= 0 {
		keep = DefaultKeep
	}
	return &Store{
		store:      s,
		lastKey:    prefix + "scheduler:last_cleanup",
		historyKey: prefix + "scheduler:runs",
		keep:       keep,
	}
}

// LastCleanup returns when the last cleanup run started. ok is false if none was recorded.
func (s *Store) LastCleanup(ctx context.Context) (t time.Time, ok bool, err error) {
	data, err := s.store.Get(ctx, s.lastKey)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("runlog GET %s: %w", s.lastKey, err)
	}
	t, err = time.Parse(time.RFC3339Nano, string(data))
	if err != nil {
		return time.Time{}, false, fmt.Errorf("runlog GET %s parse: %w", s.lastKey, err)
	}
	return t, true, nil
}

// SetLastCleanup records the start time of a cleanup run.
func (s *Store) SetLastCleanup(ctx context.Context, t time.Time) error {
	if err := s.store.Set(ctx, s.lastKey, []byte(t.UTC().Format(time.RFC3339Nano))); err != nil {
		return fmt.Errorf("runlog SET %s: %w", s.lastKey, err)
	}
	return nil
}

// Append adds e to the history and trims it to the configured length.
func (s *Store) Append(ctx context.Context, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal run entry: %w", err)
	}
	if err := s.store.LPush(ctx, s.historyKey, string(data)); err != nil {
		return fmt.Errorf("runlog LPUSH %s: %w", s.historyKey, err)
	}
	if err := s.store.LTrim(ctx, s.historyKey, 0, int64(s.keep-1)); err != nil {
		return fmt.Errorf("runlog LTRIM %s: %w", s.historyKey, err)
	}
	return nil
}

// History returns up to n most recent entries, newest first. Unreadable entries are skipped.
func (s *Store) History(ctx context.Context, n int) ([]Entry, error) {
	if n <= 0 || n > s.keep {
		n = s.keep
	}
	raw, err := s.store.LRange(ctx, s.historyKey, 0, int64(n-1))
	if err != nil {
		return nil, fmt.Errorf("runlog LRANGE %s: %w", s.historyKey, err)
	}
	out := make([]Entry, 0, len(raw))
	for _, r := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
