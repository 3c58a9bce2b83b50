package dedupd

import "github.com/kailas-cloud/dedupd/internal/domain"

// Sentinel errors re-exported from the domain layer.
// Use errors.Is() to check.
var (
	ErrStoreUnavailable     = domain.ErrStoreUnavailable
	ErrCacheUnavailable     = domain.ErrCacheUnavailable
	ErrMalformedDocument    = domain.ErrMalformedDocument
	ErrDeleteFailed         = domain.ErrDeleteFailed
	ErrInvalidConfiguration = domain.ErrInvalidConfiguration
	ErrDocumentNotFound     = domain.ErrDocumentNotFound
	ErrInvalidURL           = domain.ErrInvalidURL
)
