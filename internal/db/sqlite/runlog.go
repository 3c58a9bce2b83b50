package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kailas-cloud/dedupd/internal/domain/schedule"
)

const (
	defaultRunLogKeep = 100
	lastCleanupName   = "last_cleanup"
)

// RunLog keeps scheduler run history next to the documents.
type RunLog struct {
	db   *sql.DB
	keep int
}

// RunLog returns the scheduler run log stored in the same database. keep <= 0 keeps 100 runs.
func (s *Store) RunLog(keep int) *RunLog {
	if keep <= 0 {
		keep = defaultRunLogKeep
	}
	return &RunLog{db: s.db, keep: keep}
}

// LastCleanup returns when the last cleanup run started. ok is false if none was recorded.
func (l *RunLog) LastCleanup(ctx context.Context) (t time.Time, ok bool, err error) {
	var v string
	err = l.db.QueryRowContext(ctx,
		`SELECT value FROM scheduler_state WHERE name = ?`, lastCleanupName).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, unavailable("read last cleanup", err)
	}
	t, err = time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse last cleanup %q: %w", v, err)
	}
	return t, true, nil
}

// SetLastCleanup records the start time of a cleanup run.
func (l *RunLog) SetLastCleanup(ctx context.Context, t time.Time) error {
	_, err := l.db.ExecContext(ctx, `
	INSERT INTO scheduler_state (name, value) VALUES (?, ?)
	ON CONFLICT(name) DO UPDATE SET value = excluded.value`,
		lastCleanupName, t.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return unavailable("write last cleanup", err)
	}
	return nil
}

// Append adds a run and drops everything older than the newest keep runs.
func (l *RunLog) Append(ctx context.Context, rec schedule.RunRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal run record: %w", err)
	}
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("append run", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `INSERT INTO scheduler_runs (record) VALUES (?)`, string(data)); err != nil {
		return unavailable("append run", err)
	}
	if _, err := tx.ExecContext(ctx, `
	DELETE FROM scheduler_runs WHERE seq NOT IN (
		SELECT seq FROM scheduler_runs ORDER BY seq DESC LIMIT ?
	)`, l.keep); err != nil {
		return unavailable("trim runs", err)
	}
	if err := tx.Commit(); err != nil {
		return unavailable("append run", err)
	}
	return nil
}

// History returns up to n most recent runs, newest first. Unreadable rows are skipped.
func (l *RunLog) History(ctx context.Context, n int) ([]schedule.RunRecord, error) {
	if n <= 0 || n > l.keep {
		n = l.keep
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT record FROM scheduler_runs ORDER BY seq DESC LIMIT ?`, n)
	if err != nil {
		return nil, unavailable("read runs", err)
	}
	defer rows.Close()

	out := make([]schedule.RunRecord, 0, n)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, unavailable("read run row", err)
		}
		var rec schedule.RunRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("read runs", err)
	}
	return out, nil
}
