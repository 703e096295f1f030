// Package api is the HTTP client for the investigations backend. It attaches
// bearer tokens, refreshes once on 401, retries idempotent reads with
// exponential backoff, and normalizes error bodies into *Error values that
// unwrap to sentinel errors.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinel errors for HTTP status classification.
// Use errors.Is(err, api.ErrNotFound) to check.
var (
	ErrBadRequest   = errors.New("api: bad request")
	ErrUnauthorized = errors.New("api: unauthorized")
	ErrForbidden    = errors.New("api: forbidden")
	ErrNotFound     = errors.New("api: not found")
	ErrValidation   = errors.New("api: validation failed")
	ErrThrottled    = errors.New("api: throttled")
	ErrServer       = errors.New("api: server error")
	ErrUnexpected   = errors.New("api: unexpected status")
)

// Errors raised by the client itself rather than by the server.
var (
	// ErrNoRefreshToken is returned by Credentials.Refresh when there is no
	// refresh token to exchange.
	ErrNoRefreshToken = errors.New("api: no refresh token available")
	ErrTimeout        = errors.New("api: request timed out")
	ErrLoginRejected  = errors.New("api: login rejected")
	ErrNoFiles        = errors.New("api: no valid files to upload")
	ErrMissingUserID  = errors.New("api: user id is required")
)

// Error is a non-2xx response. Message is taken from the body's "message"
// field, then "error", then the HTTP status text.
type Error struct {
	StatusCode int
	Message    string
	Data       json.RawMessage
	Err        error // sentinel, for errors.Is()
}

func (e *Error) Error() string {
	return fmt.Sprintf("api: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// newError builds an *Error from a response status and body.
func newError(status int, body []byte) *Error {
	e := &Error{
		StatusCode: status,
		Message:    messageFromBody(body),
		Err:        classifyStatus(status),
	}

	if json.Valid(body) {
		e.Data = json.RawMessage(body)
	}

	if e.Message == "" {
		e.Message = http.StatusText(status)
	}

	return e
}

// messageFromBody extracts a human-readable message from a JSON error body.
func messageFromBody(body []byte) string {
	var parsed struct {
		Message json.RawMessage `json:"message"`
		Error   json.RawMessage `json:"error"`
	}

	if err := json.Unmarshal(body, &parsed); err != nil {
		return ""
	}

	for _, raw := range []json.RawMessage{parsed.Message, parsed.Error} {
		if msg := stringOrNested(raw); msg != "" {
			return msg
		}
	}

	return ""
}

// stringOrNested reads a JSON string, or the "message" of a nested object.
func stringOrNested(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}

	var nested struct {
		Message string `json:"message"`
	}

	if err := json.Unmarshal(raw, &nested); err == nil {
		return strings.TrimSpace(nested.Message)
	}

	return ""
}

// classifyStatus maps an HTTP status code to a sentinel error.
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
	case http.StatusUnprocessableEntity:
		return ErrValidation
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServer
		}

		return ErrUnexpected
	}
}

// isRetryable reports whether a response status should be retried for an
// idempotent request.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}

	return 0
}
