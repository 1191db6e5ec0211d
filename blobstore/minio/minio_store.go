// Package minio implements blobstore.Endpoint for MinIO and other
// S3-compatible object stores.
package minio

import (
	"bytes"
	"context"
	"io"
	"path"

	"github.com/minio/minio-go/v7"

	"github.com/hupe1980/cloudtree/blobstore"
)

// Endpoint implements blobstore.Endpoint for MinIO.
type Endpoint struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewEndpoint creates a new MinIO endpoint.
// bucket is the MinIO bucket name; rootPrefix is prepended to all keys
// (e.g. "clouds/autzen/").
func NewEndpoint(client *minio.Client, bucket, rootPrefix string) *Endpoint {
	return &Endpoint{
		client: client,
		bucket: bucket,
		prefix: rootPrefix,
	}
}

func (e *Endpoint) key(name string) string {
	return path.Join(e.prefix, name)
}

// Put creates or overwrites the value at key.
func (e *Endpoint) Put(ctx context.Context, key string, data []byte) error {
	_, err := e.client.PutObject(
		ctx, e.bucket, e.key(key),
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{},
	)
	return err
}

// Get reads the value at key.
func (e *Endpoint) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := e.client.GetObject(ctx, e.bucket, e.key(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if isNoSuchKey(err) {
			return nil, blobstore.ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

// TrySize probes existence and length.
func (e *Endpoint) TrySize(ctx context.Context, key string) (int64, bool, error) {
	info, err := e.client.StatObject(ctx, e.bucket, e.key(key), minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return info.Size, true, nil
}

// Sub returns an endpoint namespaced under prefix.
func (e *Endpoint) Sub(prefix string) blobstore.Endpoint {
	return &Endpoint{
		client: e.client,
		bucket: e.bucket,
		prefix: e.key(prefix),
	}
}

func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NotFound"
}
