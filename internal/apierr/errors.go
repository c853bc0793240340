// Package apierr holds the error taxonomy shared by the audio pipeline and the retry helper
// used around vendor calls.
//
// Adapters classify failures into the sentinels below with fmt.Errorf("%s: %w", msg, sentinel);
// callers test with errors.Is.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrValidation marks a request that is missing or has malformed fields. Never retried.
	ErrValidation = errors.New("validation failed")

	// ErrAuthFailed is a 401/403 from a vendor. The key that produced it is retired.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrRateLimit is a 429 from a vendor.
	ErrRateLimit = errors.New("rate limit exceeded")

	// ErrUpstream is any other non-2xx vendor response.
	ErrUpstream = errors.New("upstream error")

	// ErrTransport covers network failures talking to a vendor.
	ErrTransport = errors.New("transport error")

	// ErrUnrecognizedResponse means a vendor body matched none of the known shapes.
	ErrUnrecognizedResponse = errors.New("unrecognized response shape")

	// ErrNoAvailableKey means the key pool has no valid key left.
	ErrNoAvailableKey = errors.New("no valid api key available")

	// ErrSubprocess is a non-zero exit or unusable output from ffmpeg/ffprobe.
	ErrSubprocess = errors.New("subprocess failed")

	// ErrInvalidDuration means the probe ran but reported a non-positive or unparsable duration.
	ErrInvalidDuration = errors.New("invalid duration")

	// ErrMissingFile means an expected chunk file is not on disk.
	ErrMissingFile = errors.New("file not found")
)

// StatusError is a non-2xx vendor response. Message is the vendor's own error text when the
// body carried one.
type StatusError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: status %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Message)
}

// Unwrap maps the status code onto the taxonomy.
func (e *StatusError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden:
		return ErrAuthFailed
	case e.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimit
	default:
		return ErrUpstream
	}
}

// ChunkError reports the chunk that exhausted its attempts. It aborts the whole request.
type ChunkError struct {
	Index    int
	Attempts int
	Err      error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %d failed after %d attempt(s): %v", e.Index, e.Attempts, e.Err)
}

func (e *ChunkError) Unwrap() error { return e.Err }

// IsRetryable reports whether a caller may resubmit the same work and expect a different result.
// Vendor-side failures are retryable; validation, missing keys, bad output and local failures are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrNoAvailableKey),
		errors.Is(err, ErrUnrecognizedResponse),
		errors.Is(err, ErrMissingFile):
		return false
	case errors.Is(err, ErrAuthFailed),
		errors.Is(err, ErrRateLimit),
		errors.Is(err, ErrUpstream),
		errors.Is(err, ErrTransport):
		return true
	}
	return false
}

// Validation builds an ErrValidation with a caller-facing message.
func Validation(msg string) error {
	return fmt.Errorf("%s: %w", msg, ErrValidation)
}

// Message strips the sentinel suffix from a validation error so HTTP callers see only the text
// they need to act on.
func Message(err error) string {
	var chunkErr *ChunkError
	if errors.As(err, &chunkErr) {
		return chunkErr.Error()
	}
	msg := err.Error()
	if errors.Is(err, ErrValidation) {
		suffix := ": " + ErrValidation.Error()
		if len(msg) > len(suffix) && msg[len(msg)-len(suffix):] == suffix {
			return msg[:len(msg)-len(suffix)]
		}
	}
	return msg
}
