package llm

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUpstream matches every failure reported by the model provider.
	ErrUpstream = errors.New("upstream failure")
	// ErrRateLimited matches provider responses with status 429.
	ErrRateLimited = errors.New("upstream rate limited")
	// ErrUnauthorized matches provider responses with status 401 or 403.
	ErrUnauthorized = errors.New("upstream rejected credentials")
	// ErrStreamInterrupted marks a failure after at least one chunk was delivered.
	ErrStreamInterrupted = errors.New("stream interrupted")
)

// UpstreamError is returned when the provider cannot be reached or answers
// with a non-200 status. StatusCode is 0 for transport failures.
type UpstreamError struct {
	Provider   string
	StatusCode int
	Body       string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: request failed: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("%s: api returned status %d: %s", e.Provider, e.StatusCode, e.Body)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func (e *UpstreamError) Is(target error) bool {
	switch target {
	case ErrUpstream:
		return true
	case ErrRateLimited:
		return e.StatusCode == http.StatusTooManyRequests
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	}
	return false
}

// interrupted wraps err as ErrStreamInterrupted when part of the reply has
// already been handed to the writer.
func interrupted(emitted bool, err error) error {
	if !emitted {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStreamInterrupted, err)
}
