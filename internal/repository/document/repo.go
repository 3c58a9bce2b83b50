package document

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/kailas-cloud/dedupd/internal/db"
	"github.com/kailas-cloud/dedupd/internal/domain"
	domdoc "github.com/kailas-cloud/dedupd/internal/domain/document"
	"github.com/kailas-cloud/dedupd/internal/domain/urlnorm"
)

const defaultScanBatch = 500

// store is the consumer interface for documents (ISP).
type store interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error)
	Del(ctx context.Context, keys ...string) (int64, error)
	Exists(ctx context.Context, key string) (bool, error)
	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) (int64, error)
	SCard(ctx context.Context, key string) (int64, error)
	SScan(ctx context.Context, key string, cursor uint64, count int64) (db.ScanPage, error)
}

// Repo stores crawled documents as Redis hashes.
//
// Layout under prefix:
//
//	doc:{id}          hash with url, content, content_hash, captured_at
//	docs              set of every document id
//	url:{sha256(u)}   set of document ids per normalized URL
type Repo struct {
	store  store
	prefix string
}

// New creates a document repository. An empty prefix uses domain.KeyPrefix.
func New(s store, prefix string) *Repo {
	if prefix == "" {
		prefix = domain.KeyPrefix
	}
	return &Repo{store: s, prefix: prefix}
}

// Put writes a document and indexes it by id and normalized URL.
func (r *Repo) Put(ctx context.Context, doc domdoc.Document) error {
	key := r.docKey(doc.ID())
	if err := r.store.HSet(ctx, key, buildHashFields(&doc)); err != nil {
		return unavailable("hset "+key, err)
	}
	if err := r.store.SAdd(ctx, r.registryKey(), doc.ID()); err != nil {
		return unavailable("sadd registry", err)
	}
	if urlKey, ok := r.urlKey(doc.URL()); ok {
		if err := r.store.SAdd(ctx, urlKey, doc.ID()); err != nil {
			return unavailable("sadd "+urlKey, err)
		}
	}
	return nil
}

// Get returns a document by id.
func (r *Repo) Get(ctx context.Context, id string) (domdoc.Document, error) {
	key := r.docKey(id)
	m, err := r.store.HGetAll(ctx, key)
	if err != nil {
		return domdoc.Document{}, unavailable("hgetall "+key, err)
	}
	if len(m) == 0 {
		return domdoc.Document{}, domain.ErrDocumentNotFound
	}
	return parseHashFields(id, m), nil
}

// Scan streams every registered document to fn in batches.
// Registry entries whose hash is gone are skipped.
func (r *Repo) Scan(ctx context.Context, batchSize int, fn func([]domdoc.Document) error) error {
	if batchSize <= 0 {
		batchSize = defaultScanBatch
	}
	seen := make(map[string]struct{})
	var cursor uint64

	for {
		page, err := r.store.SScan(ctx, r.registryKey(), cursor, int64(batchSize))
		if err != nil {
			return unavailable("sscan registry", err)
		}

		ids := make([]string, 0, len(page.Elements))
		for _, id := range page.Elements {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}

		if len(ids) > 0 {
			docs, err := r.fetch(ctx, ids)
			if err != nil {
				return err
			}
			if len(docs) > 0 {
				if err := fn(docs); err != nil {
					return err
				}
			}
		}

		cursor = page.Cursor
		if cursor == 0 {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func (r *Repo) fetch(ctx context.Context, ids []string) ([]domdoc.Document, error) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.docKey(id)
	}
	maps, err := r.store.HGetAllMulti(ctx, keys)
	if err != nil {
		return nil, unavailable("hgetall batch", err)
	}
	docs := make([]domdoc.Document, 0, len(ids))
	for i, m := range maps {
		if len(m) == 0 {
			continue
		}
		docs = append(docs, parseHashFields(ids[i], m))
	}
	return docs, nil
}

// Delete removes a document and its index entries.
// Returns domain.ErrDocumentNotFound when the hash does not exist.
func (r *Repo) Delete(ctx context.Context, id string) error {
	key := r.docKey(id)
	m, err := r.store.HGetAll(ctx, key)
	if err != nil {
		return unavailable("hgetall "+key, err)
	}

	n, err := r.store.Del(ctx, key)
	if err != nil {
		return unavailable("del "+key, err)
	}
	if _, err := r.store.SRem(ctx, r.registryKey(), id); err != nil {
		return unavailable("srem registry", err)
	}
	if urlKey, ok := r.urlKey(m[fieldURL]); ok {
		if _, err := r.store.SRem(ctx, urlKey, id); err != nil {
			return unavailable("srem "+urlKey, err)
		}
	}
	if n == 0 {
		return domain.ErrDocumentNotFound
	}
	return nil
}

// Count returns the number of registered documents.
func (r *Repo) Count(ctx context.Context) (int, error) {
	n, err := r.store.SCard(ctx, r.registryKey())
	if err != nil {
		return 0, unavailable("scard registry", err)
	}
	return int(n), nil
}

// ExistsURL reports whether a document with the same normalized URL is stored.
func (r *Repo) ExistsURL(ctx context.Context, rawURL string) (bool, error) {
	norm, err := urlnorm.Normalize(rawURL)
	if err != nil {
		return false, err
	}
	key := r.prefix + "url:" + digest(norm)
	ok, err := r.store.Exists(ctx, key)
	if err != nil {
		return false, unavailable("exists "+key, err)
	}
	return ok, nil
}

func (r *Repo) docKey(id string) string { return r.prefix + "doc:" + id }
func (r *Repo) registryKey() string     { return r.prefix + "docs" }

func (r *Repo) urlKey(rawURL string) (string, bool) {
	norm, err := urlnorm.Normalize(rawURL)
	if err != nil {
		return "", false
	}
	return r.prefix + "url:" + digest(norm), true
}

func digest(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStoreUnavailable, err)
}
