package translator

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/developer-mesh/translation-gateway/internal/provider"
)

// ErrorKind classifies translation failures
type ErrorKind string

const (
	// KindValidation is returned for blank input. Never retried or sent upstream.
	KindValidation ErrorKind = "validation"
	// KindUpstreamTimeout is a per-attempt timeout
	KindUpstreamTimeout ErrorKind = "upstream_timeout"
	// KindUpstreamHTTP is a non-2xx status or a transport failure (Status 0)
	KindUpstreamHTTP ErrorKind = "upstream_http_error"
	// KindUpstreamProvider is an error code reported by the provider
	KindUpstreamProvider ErrorKind = "upstream_provider_error"
	// KindCacheUnavailable is logged only, never returned to callers
	KindCacheUnavailable ErrorKind = "cache_unavailable"
	// KindGroupTimeout is returned to waiters of an abandoned coalescing group
	KindGroupTimeout ErrorKind = "group_timeout"
	// KindCanceled means the caller's own context ended first
	KindCanceled ErrorKind = "canceled"
)

// Error is a structured translation failure
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Status  int       `json:"status,omitempty"`
	Code    string    `json:"code,omitempty"`
	Message string    `json:"message"`
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindUpstreamHTTP:
		if e.Status > 0 {
			return fmt.Sprintf("%s (status %d): %s", e.Kind, e.Status, e.Message)
		}
	case KindUpstreamProvider:
		return fmt.Sprintf("%s (code %s): %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Retryable reports whether the failure is worth another upstream attempt
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindUpstreamTimeout, KindUpstreamHTTP, KindUpstreamProvider:
		return true
	}
	return false
}

// NewError creates an Error of kind with message
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Classify maps an error from the upstream path onto the taxonomy
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var translationErr *Error
	if errors.As(err, &translationErr) {
		return translationErr
	}

	var httpErr *provider.HTTPError
	if errors.As(err, &httpErr) {
		return &Error{Kind: KindUpstreamHTTP, Status: httpErr.StatusCode, Message: httpErr.Error()}
	}

	var apiErr *provider.APIError
	if errors.As(err, &apiErr) {
		return &Error{Kind: KindUpstreamProvider, Code: apiErr.Code, Message: apiErr.Message}
	}

	if errors.Is(err, provider.ErrEmptyResult) {
		return &Error{Kind: KindUpstreamProvider, Code: "empty_result", Message: err.Error()}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindUpstreamTimeout, Message: "upstream request timed out"}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindUpstreamTimeout, Message: "upstream request timed out"}
	}

	if errors.Is(err, context.Canceled) {
		return &Error{Kind: KindCanceled, Message: "request canceled"}
	}

	return &Error{Kind: KindUpstreamHTTP, Message: err.Error()}
}
