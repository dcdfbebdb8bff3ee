// Package apierrors defines the normalized error type surfaced by the
// gateway. Every failure, whatever its transport-level shape, is folded
// into a single tagged Error so callers branch on Kind instead of
// picking through response payloads.
package apierrors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a request failure.
type Kind string

const (
	// KindAuthExpected is a 401/4xx from a login, register, or password
	// endpoint. These are user-facing failures, not session expiry.
	KindAuthExpected Kind = "auth_expected"

	// KindSessionExpired is a 401 on a protected endpoint that refresh
	// could not resolve. The session has been torn down.
	KindSessionExpired Kind = "session_expired"

	// KindRateLimited is a 429 that survived the one-shot retry.
	KindRateLimited Kind = "rate_limited"

	// KindServerError is a 5xx that exhausted the retry budget.
	KindServerError Kind = "server_error"

	// KindClientError is any other 4xx. Never retried.
	KindClientError Kind = "client_error"

	// KindCancelled is a caller-initiated abort. Never treated as failure
	// by the recovery paths.
	KindCancelled Kind = "cancelled"

	// KindNetwork is a transport-level failure with no HTTP response,
	// after the retry budget is spent.
	KindNetwork Kind = "network"
)

// Error is the normalized failure returned to gateway callers. Status is
// zero when no HTTP response was received. Payload holds the raw server
// response body, preserved without modification.
type Error struct {
	Kind    Kind
	Message string
	Status  int
	Payload json.RawMessage
	cause   error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s (%d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying transport error, if any.
func (e *Error) Unwrap() error { return e.cause }

// New builds a normalized error with an explicit kind.
func New(kind Kind, message string, status int, payload []byte) *Error {
	return &Error{Kind: kind, Message: message, Status: status, Payload: payload}
}

// Wrap builds a normalized error around a transport-level cause.
func Wrap(kind Kind, err error) *Error {
	return &Error{Kind: kind, Message: err.Error(), cause: err}
}

// serverEnvelope covers the message shapes the backend uses for errors.
type serverEnvelope struct {
	Message string `json:"message"`
	Error   string `json:"error"`
	Detail  string `json:"detail"`
}

// MessageFromPayload extracts a human-readable message from a server error
// body. Priority: structured message field, then structured error field,
// then the supplied fallback (normally the transport error text).
func MessageFromPayload(payload []byte, fallback string) string {
	if len(payload) == 0 {
		return fallback
	}
	var env serverEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return fallback
	}
	switch {
	case env.Message != "":
		return env.Message
	case env.Error != "":
		return env.Error
	case env.Detail != "":
		return env.Detail
	}
	return fallback
}

// FromResponse classifies an HTTP error status into a normalized Error.
// authEndpoint marks responses from login/register/reset surfaces, whose
// 4xx statuses are expected failures rather than session problems.
func FromResponse(status int, payload []byte, authEndpoint bool) *Error {
	msg := MessageFromPayload(payload, http.StatusText(status))
	kind := KindClientError
	switch {
	case authEndpoint:
		kind = KindAuthExpected
	case status == http.StatusUnauthorized:
		kind = KindSessionExpired
	case status == http.StatusTooManyRequests:
		kind = KindRateLimited
	case status >= 500:
		kind = KindServerError
	}
	return &Error{Kind: kind, Message: msg, Status: status, Payload: payload}
}

// KindOf returns the normalized kind of err, or "" if err is not an
// apierrors.Error.
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return ""
}

// Message returns the normalized human-readable message for err, falling
// back to the plain error text for non-gateway errors.
func Message(err error) string {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return err.Error()
}

// IsCancelled reports whether err represents a caller-initiated abort.
func IsCancelled(err error) bool {
	return KindOf(err) == KindCancelled
}
