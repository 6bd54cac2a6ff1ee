package core

import (
	"errors"
	"fmt"
	"time"
)

// Stable error codes exposed to API callers. Internal detail (stack traces,
// driver errors) never leaves the process.
const (
	CodeValidation    = "validation_error"
	CodeExtraction    = "extraction_error"
	CodeEmptyDocument = "empty_document_error"
	CodeEmbedding     = "embedding_error"
	CodeIndex         = "index_error"
	CodeProvider      = "provider_error"
	CodeRateLimit     = "rate_limit_error"
	CodeTimeout       = "timeout_error"
	CodeNotFound      = "not_found"
	CodeInternal      = "internal_error"
)

// Error is a coded error safe to surface on the API boundary.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a coded error wrapping an optional cause.
func NewError(code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Err: cause}
}

// CodeOf extracts the stable code from err, or CodeInternal when err carries
// no code.
func CodeOf(err error) string {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CodeInternal
}

// Stage-scoped ingestion failures; recorded on the job, terminal for that
// job only.
var (
	ErrExtraction    = errors.New("text extraction failed")
	ErrEmptyDocument = errors.New("document yielded no extractable text")
	ErrEmbedding     = errors.New("embedding failed after retries")
	ErrIndex         = errors.New("index upsert failed")
)

// Request-scoped failures.
var (
	ErrNotFound         = errors.New("not found")
	ErrTimeout          = errors.New("request timed out")
	ErrAllSourcesFailed = errors.New("all search sources failed")
)

// RateLimitError is surfaced with a retry-after hint, never silently
// dropped.
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited by %s, retry after %s", e.Provider, e.RetryAfter)
}

// ProviderError marks a transient provider failure; call sites retry it with
// bounded backoff before letting it escape.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }
