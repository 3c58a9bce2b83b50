// Package sqlite is an embedded document store for single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/kailas-cloud/dedupd/internal/domain"
	"github.com/kailas-cloud/dedupd/internal/domain/document"
	"github.com/kailas-cloud/dedupd/internal/domain/urlnorm"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Store keeps documents in a single SQLite table.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path, creating parent directories.
func Open(path string) (*Store, error) {
	dsn := MemoryPath
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		dsn = path + "?mode=rwc"
	}

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection keeps in-memory databases alive and serializes writers.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	s := &Store{db: sqlDB}
	if path != MemoryPath {
		if _, err := sqlDB.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
	}
	if err := s.createTables(context.Background()); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return s, nil
}

func (s *Store) createTables(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		url TEXT NOT NULL,
		normalized_url TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		content_hash TEXT NOT NULL DEFAULT '',
		captured_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_documents_normalized_url ON documents(normalized_url);

	CREATE TABLE IF NOT EXISTS scheduler_state (
		name TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS scheduler_runs (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		record TEXT NOT NULL
	);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Put inserts or replaces a document.
func (s *Store) Put(ctx context.Context, doc document.Document) error {
	norm, err := urlnorm.Normalize(doc.URL())
	if err != nil {
		// Stored as written so analysis can report it as malformed.
		norm = doc.URL()
	}
	_, err = s.db.ExecContext(ctx, `
	INSERT OR REPLACE INTO documents (id, url, normalized_url, content, content_hash, captured_at)
	VALUES (?, ?, ?, ?, ?, ?)`,
		doc.ID(), doc.URL(), norm, doc.Content(), doc.ContentHash(),
		doc.CapturedAt().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return unavailable("insert "+doc.ID(), err)
	}
	return nil
}

// Get returns a document by id.
func (s *Store) Get(ctx context.Context, id string) (document.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, url, content, content_hash, captured_at FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return document.Document{}, domain.ErrDocumentNotFound
	}
	if err != nil {
		return document.Document{}, unavailable("get "+id, err)
	}
	return doc, nil
}

// Scan streams every document in id order, batchSize rows per call to fn.
// Pages are read by keyset so concurrent deletes do not shift the cursor.
func (s *Store) Scan(ctx context.Context, batchSize int, fn func([]document.Document) error) error {
	if batchSize <= 0 {
		batchSize = 500
	}
	after := ""
	for {
		docs, err := s.page(ctx, after, batchSize)
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			return nil
		}
		if err := fn(docs); err != nil {
			return err
		}
		if len(docs) < batchSize {
			return nil
		}
		after = docs[len(docs)-1].ID()
	}
}

func (s *Store) page(ctx context.Context, after string, limit int) ([]document.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT id, url, content, content_hash, captured_at FROM documents
	WHERE id > ? ORDER BY id LIMIT ?`, after, limit)
	if err != nil {
		return nil, unavailable("scan", err)
	}
	defer rows.Close()

	docs := make([]document.Document, 0, limit)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, unavailable("scan row", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("scan rows", err)
	}
	return docs, nil
}

// Delete removes a document by id.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return unavailable("delete "+id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable("delete "+id, err)
	}
	if n == 0 {
		return domain.ErrDocumentNotFound
	}
	return nil
}

// Count returns the number of stored documents.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n); err != nil {
		return 0, unavailable("count", err)
	}
	return n, nil
}

// ExistsURL reports whether any document has the same normalized URL.
func (s *Store) ExistsURL(ctx context.Context, rawURL string) (bool, error) {
	norm, err := urlnorm.Normalize(rawURL)
	if err != nil {
		return false, err
	}
	var one int
	err = s.db.QueryRowContext(ctx,
		`SELECT 1 FROM documents WHERE normalized_url = ? LIMIT 1`, norm).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, unavailable("exists url", err)
	}
	return true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(r rowScanner) (document.Document, error) {
	var id, url, content, hash, captured string
	if err := r.Scan(&id, &url, &content, &hash, &captured); err != nil {
		return document.Document{}, err
	}
	// An unparsable timestamp hydrates as the zero time; retention treats it as oldest.
	at, _ := time.Parse(time.RFC3339Nano, captured)
	return document.Reconstruct(id, url, content, hash, at), nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("sqlite %s: %w: %w", op, domain.ErrStoreUnavailable, err)
}
