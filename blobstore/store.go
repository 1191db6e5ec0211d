// Package blobstore abstracts the storage endpoints that hierarchy blocks,
// chunks and manifests are written to: a flat key to bytes mapping over a
// local directory, an in-memory map, or an object store.
package blobstore

import (
	"context"
	"errors"
	"os"
	"path"
)

// ErrNotFound is returned when a key does not exist.
//
// Implementations should return an error that satisfies
// `errors.Is(err, ErrNotFound)`. The default maps to `os.ErrNotExist`.
var ErrNotFound = os.ErrNotExist

// Endpoint is a key to bytes storage contract. Implementations must be safe
// for concurrent use.
type Endpoint interface {
	// Put creates or overwrites the value at key.
	Put(ctx context.Context, key string, data []byte) error

	// Get reads the value at key, failing with ErrNotFound if absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// TrySize probes existence: it returns the value length and true when
	// the key exists, and (0, false) with a nil error when it does not.
	TrySize(ctx context.Context, key string) (int64, bool, error)

	// Sub returns an endpoint namespaced under the given prefix.
	Sub(prefix string) Endpoint
}

// IsNotFound reports whether err means the key was absent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// subEndpoint prefixes all keys before delegating.
type subEndpoint struct {
	inner  Endpoint
	prefix string
}

// NewSub wraps an endpoint so that all keys live under prefix. Endpoint
// implementations with native prefix support should implement Sub
// themselves; this helper serves the rest.
func NewSub(inner Endpoint, prefix string) Endpoint {
	return &subEndpoint{inner: inner, prefix: prefix}
}

func (e *subEndpoint) key(k string) string { return path.Join(e.prefix, k) }

func (e *subEndpoint) Put(ctx context.Context, key string, data []byte) error {
	return e.inner.Put(ctx, e.key(key), data)
}

func (e *subEndpoint) Get(ctx context.Context, key string) ([]byte, error) {
	return e.inner.Get(ctx, e.key(key))
}

func (e *subEndpoint) TrySize(ctx context.Context, key string) (int64, bool, error) {
	return e.inner.TrySize(ctx, e.key(key))
}

func (e *subEndpoint) Sub(prefix string) Endpoint {
	return NewSub(e.inner, e.key(prefix))
}
