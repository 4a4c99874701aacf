package service

import (
	"errors"
	"fmt"
	"time"
)

// Error kinds surfaced by Forward. Match them with errors.Is.
var (
	ErrConnection        = errors.New("unable to connect to upstream")
	ErrUpstream          = errors.New("error communicating with upstream")
	ErrRateLimitExceeded = errors.New("upstream rate limit exceeded")
	ErrRetriesExhausted  = errors.New("maximum retries exceeded")
	ErrInternal          = errors.New("internal proxy error")
)

// ProxyError is a terminal proxy failure. Kind is one of the Err* values above;
// StatusCode is the status the gateway should answer with.
type ProxyError struct {
	Kind           error
	StatusCode     int
	UpstreamStatus int
	Attempts       int
	RetryAfter     time.Duration
	Err            error
}

func (e *ProxyError) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%v: %v", e.Kind, e.Err)
}

// Is matches the error kind.
func (e *ProxyError) Is(target error) bool {
	return target == e.Kind
}

func (e *ProxyError) Unwrap() error {
	return e.Err
}

// StatusError describes an upstream response that triggered a retry.
type StatusError struct {
	StatusCode int
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.StatusCode)
}
