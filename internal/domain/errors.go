package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable signals a transient document store failure. Callers retry with backoff.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrCacheUnavailable signals a shared seen-cache failure. Non-fatal for the gate.
	ErrCacheUnavailable = errors.New("cache unavailable")
	// ErrMalformedDocument signals a document whose URL or content hash cannot be derived.
	ErrMalformedDocument = errors.New("malformed document")
	// ErrDeleteFailed signals a per-document delete failure.
	ErrDeleteFailed = errors.New("delete failed")
	// ErrInvalidConfiguration signals a rejected configuration or request, before any mutation.
	ErrInvalidConfiguration = errors.New("invalid configuration")
	// ErrDocumentNotFound signals a missing document.
	ErrDocumentNotFound = errors.New("document not found")
	// ErrInvalidURL signals a URL that cannot be normalized.
	ErrInvalidURL = errors.New("invalid url")
	// ErrAlreadyRunning signals a scheduler run rejected because another one is in progress.
	ErrAlreadyRunning = errors.New("cleanup already running")
)

// MalformedDocumentError carries the id of a document skipped during analysis.
type MalformedDocumentError struct {
	ID     string
	Reason string
}

func (e *MalformedDocumentError) Error() string {
	return fmt.Sprintf("%s %s: %s", ErrMalformedDocument.Error(), e.ID, e.Reason)
}

func (e *MalformedDocumentError) Unwrap() error { return ErrMalformedDocument }

// NewMalformedDocument creates a malformed document error.
func NewMalformedDocument(id, reason string) error {
	return &MalformedDocumentError{ID: id, Reason: reason}
}

// InvalidConfig wraps ErrInvalidConfiguration with a formatted reason.
func InvalidConfig(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrInvalidConfiguration)
}
