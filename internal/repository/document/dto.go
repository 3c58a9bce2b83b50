package document

import (
	"time"

	domdoc "github.com/kailas-cloud/dedupd/internal/domain/document"
)

// Hash field names of a stored document.
const (
	fieldURL         = "url"
	fieldContent     = "content"
	fieldContentHash = "content_hash"
	fieldCapturedAt  = "captured_at"
)

// buildHashFields converts a domain Document into a flat map[string]string for HSET.
func buildHashFields(doc *domdoc.Document) map[string]string {
	return map[string]string{
		fieldURL:         doc.URL(),
		fieldContent:     doc.Content(),
		fieldContentHash: doc.ContentHash(),
		fieldCapturedAt:  doc.CapturedAt().UTC().Format(time.RFC3339Nano),
	}
}

// parseHashFields converts a flat hash map back into a domain Document.
// Records written by older crawlers may lack content_hash or use second precision;
// an unparsable timestamp hydrates as the zero time.
func parseHashFields(id string, m map[string]string) domdoc.Document {
	at, err := time.Parse(time.RFC3339Nano, m[fieldCapturedAt])
	if err != nil {
		at = time.Time{}
	}
	return domdoc.Reconstruct(id, m[fieldURL], m[fieldContent], m[fieldContentHash], at)
}
