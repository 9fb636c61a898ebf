// Package store provides JSON key-value persistence for session state,
// finished-game history and puzzle progress. Writes are last-write-wins per
// key; there are no cross-key transactions.
package store

import "errors"

// ErrNotFound is returned by Get when no value exists for the key.
var ErrNotFound = errors.New("store: key not found")

// KV persists JSON-encodable values by key.
type KV interface {
	// Get decodes the value stored under key into the pointer passed as into.
	// Returns ErrNotFound if the key has never been written or was deleted.
	Get(key string, into any) error
	Put(key string, v any) error
	Delete(key string) error
}
