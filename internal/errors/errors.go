package errors

import (
	"errors"
	"fmt"
)

// Common error types for the chatadmin API client
var (
	// Credential errors
	ErrNoAccessToken    = errors.New("no access token")
	ErrMalformedToken   = errors.New("malformed token")
	ErrTokenExpired     = errors.New("token expired")
	ErrMissingToken     = errors.New("response missing access token")
	ErrSessionExpired   = errors.New("session expired")
	ErrRefreshFailed    = errors.New("token refresh failed")
	ErrNotAuthenticated = errors.New("not authenticated")

	// Request errors
	ErrRequestCancelled = errors.New("request cancelled")
	ErrRetriesExhausted = errors.New("retries exhausted")
	ErrRateLimited      = errors.New("rate limited")

	// General errors
	ErrNotFound    = errors.New("not found")
	ErrInternal    = errors.New("internal error")
	ErrUnsupported = errors.New("unsupported operation")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
