// Package s3 implements blobstore.Endpoint for Amazon S3, with an optional
// DynamoDB-backed commit store for coordinating parallel subset builds.
package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/hupe1980/cloudtree/blobstore"
)

// Client is the subset of the S3 API the endpoint uses.
type Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Endpoint implements blobstore.Endpoint for S3.
type Endpoint struct {
	client   Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// NewEndpoint creates a new S3 endpoint.
// rootPrefix is prepended to all keys (e.g. "clouds/autzen/").
func NewEndpoint(client *s3.Client, bucket, rootPrefix string) *Endpoint {
	return &Endpoint{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		prefix:   rootPrefix,
	}
}

// NewEndpointFromDefaultConfig builds a client from the ambient AWS
// configuration (environment, shared config, instance role).
func NewEndpointFromDefaultConfig(ctx context.Context, bucket, rootPrefix string) (*Endpoint, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	return NewEndpoint(s3.NewFromConfig(cfg), bucket, rootPrefix), nil
}

func (e *Endpoint) key(name string) string {
	return path.Join(e.prefix, name)
}

// Put creates or overwrites the value at key. Large chunk payloads go
// through the upload manager so they are split into multipart uploads.
func (e *Endpoint) Put(ctx context.Context, key string, data []byte) error {
	if e.uploader != nil {
		_, err := e.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket: aws.String(e.bucket),
			Key:    aws.String(e.key(key)),
			Body:   bytes.NewReader(data),
		})
		return err
	}

	_, err := e.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(e.bucket),
		Key:    aws.String(e.key(key)),
		Body:   bytes.NewReader(data),
	})
	return err
}

// Get reads the value at key.
func (e *Endpoint) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := e.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(e.bucket),
		Key:    aws.String(e.key(key)),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, blobstore.ErrNotFound
		}
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	return io.ReadAll(resp.Body)
}

// TrySize probes existence and length.
func (e *Endpoint) TrySize(ctx context.Context, key string) (int64, bool, error) {
	head, err := e.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(e.bucket),
		Key:    aws.String(e.key(key)),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return aws.ToInt64(head.ContentLength), true, nil
}

// Sub returns an endpoint namespaced under prefix.
func (e *Endpoint) Sub(prefix string) blobstore.Endpoint {
	return &Endpoint{
		client:   e.client,
		uploader: e.uploader,
		bucket:   e.bucket,
		prefix:   e.key(prefix),
	}
}

func isNoSuchKey(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	return errors.As(err, &nsk)
}
