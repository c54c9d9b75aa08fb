package upstream

import (
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ErrTaskNotFound reports that the backend no longer knows the task id.
// The monitor treats this as a permanent failure, never a retry.
var ErrTaskNotFound = errors.New("task not found")

// StatusError is a non-200 backend response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("backend returned %d: %s", e.Code, e.Body)
	}
	return fmt.Sprintf("backend returned %d", e.Code)
}

// Retryable reports whether the status indicates a transient condition
// worth polling again.
func (e *StatusError) Retryable() bool {
	switch e.Code {
	case http.StatusRequestTimeout,
		http.StatusTooEarly,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

const maxErrorBody = 512

func newStatusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{Code: resp.StatusCode, Body: string(body)}
}

// IsRetryable classifies an error from the backend: network-level
// failures and retryable HTTP statuses are transient; everything else,
// including an unknown task, is permanent.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTaskNotFound) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}
	// Anything without an HTTP status never reached the backend.
	return true
}
