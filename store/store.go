// Package store persists JSON documents keyed by slash-separated paths.
package store

import "errors"

// ErrNotFound is returned by Load when no document exists under the key.
var ErrNotFound = errors.New("document not found")

// Store loads and saves JSON-serializable documents.
type Store interface {
	Load(key string, v any) error
	Save(key string, v any) error
	Delete(key string) error
}
