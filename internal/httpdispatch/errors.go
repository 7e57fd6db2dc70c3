// Package httpdispatch implements remote operations for queued actions over a
// plain REST API and maps HTTP outcomes onto the dispatch error taxonomy.
package httpdispatch

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/tonimelisma/offlineq/internal/dispatch"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, httpdispatch.ErrNotFound) to check.
var (
	ErrBadRequest   = errors.New("httpdispatch: bad request")
	ErrUnauthorized = errors.New("httpdispatch: unauthorized")
	ErrForbidden    = errors.New("httpdispatch: forbidden")
	ErrNotFound     = errors.New("httpdispatch: not found")
	ErrConflict     = errors.New("httpdispatch: conflict")
	ErrPrecondition = errors.New("httpdispatch: precondition failed")
	ErrGone         = errors.New("httpdispatch: resource gone")
	ErrThrottled    = errors.New("httpdispatch: throttled")
	ErrServerError  = errors.New("httpdispatch: server error")
	ErrRejected     = errors.New("httpdispatch: rejected")
)

// statusBandwidthExceeded is the non-standard 509 some proxies return.
const statusBandwidthExceeded = 509

// HTTPError wraps a sentinel error with the status code, request ID and the
// response body for debugging.
type HTTPError struct {
	StatusCode int
	RequestID  string
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *HTTPError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("httpdispatch: HTTP %d (request-id: %s): %s", e.StatusCode, e.RequestID, e.Message)
	}

	return fmt.Sprintf("httpdispatch: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

// classifyStatus maps a non-2xx status code to a sentinel error.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusPreconditionFailed:
		return ErrPrecondition
	case http.StatusGone:
		return ErrGone
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return ErrRejected
	}
}

// isRetryable reports whether a status code is worth another attempt later.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		statusBandwidthExceeded:
		return true
	default:
		return code >= http.StatusInternalServerError
	}
}

// toDispatchError converts an HTTP failure into the dispatch taxonomy the
// sync engine understands.
func toDispatchError(op string, httpErr *HTTPError, lastModified string) error {
	switch {
	case httpErr.StatusCode == http.StatusConflict, httpErr.StatusCode == http.StatusPreconditionFailed:
		var serverTime time.Time
		if lastModified != "" {
			// An unparseable header leaves the server time unknown.
			serverTime, _ = http.ParseTime(lastModified)
		}

		return dispatch.Conflict(serverTime, httpErr.Error())
	case isRetryable(httpErr.StatusCode):
		return dispatch.Transient(op, httpErr)
	default:
		return dispatch.Permanent(op, httpErr)
	}
}
