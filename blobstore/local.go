package blobstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// LocalEndpoint implements Endpoint on the local file system. Keys map to
// file paths under a root directory; writes are atomic via rename so a
// crashed save never leaves a torn block behind.
type LocalEndpoint struct {
	root string
}

// NewLocalEndpoint creates an endpoint rooted at the given directory,
// creating it if needed.
func NewLocalEndpoint(root string) (*LocalEndpoint, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create endpoint root: %w", err)
	}
	return &LocalEndpoint{root: root}, nil
}

func (e *LocalEndpoint) path(key string) string {
	return filepath.Join(e.root, filepath.FromSlash(key))
}

// Put creates or overwrites the value at key.
func (e *LocalEndpoint) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p := e.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".put-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), p)
}

// Get reads the value at key.
func (e *LocalEndpoint) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(e.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

// TrySize probes existence and length.
func (e *LocalEndpoint) TrySize(ctx context.Context, key string) (int64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}

	fi, err := os.Stat(e.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return fi.Size(), true, nil
}

// Sub returns an endpoint namespaced under prefix.
func (e *LocalEndpoint) Sub(prefix string) Endpoint {
	return NewSub(e, prefix)
}
