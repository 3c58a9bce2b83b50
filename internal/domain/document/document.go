package document

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Document is a captured page as stored by the crawler (immutable value object).
type Document struct {
	id          string
	url         string
	content     string
	contentHash string
	capturedAt  time.Time
}

// New validates and creates a Document, computing its content hash.
func New(id, url, content string, capturedAt time.Time) (Document, error) {
	if id == "" {
		return Document{}, fmt.Errorf("document ID is required")
	}
	if url == "" {
		return Document{}, fmt.Errorf("document URL is required")
	}
	if capturedAt.IsZero() {
		return Document{}, fmt.Errorf("captured_at is required")
	}
	return Document{
		id:          id,
		url:         url,
		content:     content,
		contentHash: ContentHash(content),
		capturedAt:  capturedAt.UTC(),
	}, nil
}

// Reconstruct creates a Document without validation (storage hydration).
// contentHash may be empty for records written before hashing was introduced.
func Reconstruct(id, url, content, contentHash string, capturedAt time.Time) Document {
	return Document{id: id, url: url, content: content, contentHash: contentHash, capturedAt: capturedAt}
}

// ID returns the store-assigned identifier.
func (d *Document) ID() string { return d.id }

// URL returns the captured URL as written by the crawler.
func (d *Document) URL() string { return d.url }

// Content returns the text content.
func (d *Document) Content() string { return d.content }

// ContentHash returns the stored digest, or "" if none was stored.
func (d *Document) ContentHash() string { return d.contentHash }

// CapturedAt returns the capture timestamp.
func (d *Document) CapturedAt() time.Time { return d.capturedAt }

// ContentLength returns the content length in bytes.
func (d *Document) ContentLength() int { return len(d.content) }

// ResolveHash returns the stored hash or derives one from content.
// ok is false when neither is available.
func (d *Document) ResolveHash() (hash string, ok bool) {
	if d.contentHash != "" {
		return d.contentHash, true
	}
	if d.content == "" {
		return "", false
	}
	return ContentHash(d.content), true
}

// ContentHash is the hex SHA-256 of NormalizeContent(content).
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(NormalizeContent(content)))
	return hex.EncodeToString(sum[:])
}

// NormalizeContent applies NFC, lower-cases and collapses whitespace runs to a single space.
func NormalizeContent(content string) string {
	s := norm.NFC.String(content)
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}
