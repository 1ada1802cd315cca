package authflow

import (
	"errors"
	"fmt"
)

// Sentinel errors for the ways a login attempt can fail locally.
// Provider-reported denials are surfaced as *ProviderError instead.
var (
	// ErrStateMismatch means the callback's state parameter did not match
	// the one generated for this attempt. Possible CSRF; the code is
	// discarded.
	ErrStateMismatch = errors.New("state mismatch - possible CSRF attack")

	// ErrMissingCode means the callback carried neither a code nor an error.
	ErrMissingCode = errors.New("authorization callback missing code")

	// ErrAuthTimeout means no callback arrived within the timeout window.
	ErrAuthTimeout = errors.New("authorization timed out waiting for callback")

	// ErrAuthCancelled means Cancel was called while the attempt was pending.
	ErrAuthCancelled = errors.New("authorization cancelled")

	// ErrLoginSuperseded means a newer login attempt replaced this one.
	ErrLoginSuperseded = errors.New("authorization superseded by a newer login attempt")
)

// ProviderError is an authorization failure reported by the provider on the
// callback, e.g. access_denied when the user rejects the consent screen.
type ProviderError struct {
	Code        string
	Description string
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("authorization failed: %s - %s", e.Code, e.Description)
	}
	return fmt.Sprintf("authorization failed: %s", e.Code)
}
