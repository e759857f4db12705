package gemini

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrKeyNotConfigured means the API key parameter is absent or empty. It is a
// configuration problem and will not go away on retry.
var ErrKeyNotConfigured = errors.New("gemini: api key not configured")

// ErrKeyUnavailable means the key store could not be reached. Another attempt
// later may succeed.
var ErrKeyUnavailable = errors.New("gemini: api key unavailable")

var (
	retryableMarkers = []string{
		"overloaded",
		"rate limit",
		"quota",
		"503",
		"429",
		"temporarily unavailable",
		"try again",
	}
	permanentMarkers = []string{
		"api key",
		"invalid",
		"permission",
		"forbidden",
	}
	transportMarkers = []string{"timeout", "network", "dns"}
)

// CallError is a failed model call with its retry classification.
type CallError struct {
	Message    string
	Retryable  bool
	StatusCode int
	Err        error
}

func (e *CallError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("gemini: call failed (status %d, retryable=%t): %s", e.StatusCode, e.Retryable, e.Message)
	}
	return fmt.Sprintf("gemini: call failed (retryable=%t): %s", e.Retryable, e.Message)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

func (e *CallError) HTTPStatusCode() int {
	return e.StatusCode
}

// IsRetryableMessage classifies a backend error message. Unknown messages are
// permanent.
func IsRetryableMessage(msg string) bool {
	m := strings.ToLower(msg)
	if m == "" {
		return false
	}
	for _, marker := range retryableMarkers {
		if strings.Contains(m, marker) {
			return true
		}
	}
	for _, marker := range permanentMarkers {
		if strings.Contains(m, marker) {
			return false
		}
	}
	return false
}

// IsRetryable reports whether err is worth another attempt later.
func IsRetryable(err error) bool {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return false
}

func apiError(status int, msg string) *CallError {
	return &CallError{Message: msg, Retryable: IsRetryableMessage(msg), StatusCode: status}
}

// transportError wraps a failure that happened before any response arrived.
// Only timeouts and failures worded as network or DNS trouble are retried.
// Refused connections, TLS failures and the like are permanent.
func transportError(err error) *CallError {
	retryable := IsRetryableMessage(err.Error())
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		retryable = true
	} else if !retryable {
		m := strings.ToLower(err.Error())
		for _, marker := range transportMarkers {
			if strings.Contains(m, marker) {
				retryable = true
				break
			}
		}
	}
	return &CallError{Message: "Exception: " + err.Error(), Retryable: retryable, Err: err}
}
