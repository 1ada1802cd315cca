// Package store provides durable key-value persistence for session state.
//
// The contract is deliberately minimal (Set/Get/Delete on string values) so
// the backing medium is swappable: the file-backed implementation is the
// default, the in-memory implementation backs tests, and an OS credential
// vault could implement the same interface without the session manager
// noticing. Stores carry no retry logic of their own; failures propagate to
// the session lifecycle manager, which owns recovery policy.
package store

import "errors"

// ErrNotFound is returned by Get when no value exists for the key.
// Absence is an expected condition, not a failure.
var ErrNotFound = errors.New("store: key not found")

// Store is the minimal key-value persistence contract.
type Store interface {
	// Set writes the value for a key, replacing any previous value.
	Set(key, value string) error

	// Get returns the value for a key, or ErrNotFound if absent.
	Get(key string) (string, error)

	// Delete removes the key. Deleting an absent key is not an error.
	Delete(key string) error
}

// IsNotFound reports whether an error from Get signals absence.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
