package provider

import (
	"errors"
	"fmt"
)

// AuthError means the refresh token is missing or was rejected by the
// provider. Not retried automatically; the integration is a candidate for
// operator-driven re-linking.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("provider auth failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// CursorExpiredError means the stored incremental cursor is too old for the
// provider to resume from. Recovered by clearing the cursor and re-running.
type CursorExpiredError struct {
	Cursor string
}

func (e *CursorExpiredError) Error() string {
	return "provider cursor expired"
}

// ProviderAPIError is any other non-success provider response. Surfaced to
// the orchestrator as a failed sync and left for the next scheduled run.
type ProviderAPIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *ProviderAPIError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.StatusCode, e.Body)
}

// IsAuthError reports whether err is an AuthError anywhere in its chain.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// IsCursorExpired reports whether err is a CursorExpiredError anywhere in
// its chain.
func IsCursorExpired(err error) bool {
	var cursorErr *CursorExpiredError
	return errors.As(err, &cursorErr)
}
