package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSOptions configures Google Cloud Storage access.
type GCSOptions struct {
	CredentialsFile string
	Anonymous       bool
}

// GCSBucket is a Bucket backed by Google Cloud Storage.
type GCSBucket struct {
	client *gcs.Client
	handle *gcs.BucketHandle
	name   string
}

// NewGCSBucket connects to GCS. Without a credentials file the client uses
// application default credentials.
func NewGCSBucket(ctx context.Context, name string, opts GCSOptions) (*GCSBucket, error) {
	var clientOpts []option.ClientOption
	switch {
	case opts.Anonymous:
		clientOpts = append(clientOpts, option.WithoutAuthentication())
	case opts.CredentialsFile != "":
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	}

	client, err := gcs.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return &GCSBucket{
		client: client,
		handle: client.Bucket(name),
		name:   name,
	}, nil
}

func (b *GCSBucket) Name() string {
	return b.name
}

func (b *GCSBucket) Exists(ctx context.Context, key string) (bool, error) {
	_, err := b.handle.Object(key).Attrs(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, mapGCSError(err, false)
	}
	return true, nil
}

func (b *GCSBucket) Upload(ctx context.Context, key, contentType string, body io.Reader, _ int64) error {
	w := b.handle.Object(key).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, body); err != nil {
		_ = w.Close()
		return mapGCSError(err, true)
	}
	if err := w.Close(); err != nil {
		return mapGCSError(err, true)
	}
	return nil
}

func (b *GCSBucket) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := b.handle.Object(key).NewReader(ctx)
	if err != nil {
		return nil, mapGCSError(err, false)
	}
	return r, nil
}

func (b *GCSBucket) Delete(ctx context.Context, key string) error {
	if err := b.handle.Object(key).Delete(ctx); err != nil {
		return mapGCSError(err, false)
	}
	return nil
}

func (b *GCSBucket) List(ctx context.Context, prefix string) ([]string, error) {
	it := b.handle.Objects(ctx, &gcs.Query{Prefix: prefix})

	var keys []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, mapGCSError(err, false)
		}
		keys = append(keys, attrs.Name)
	}
	sort.Strings(keys)
	return keys, nil
}

// Close releases the underlying client.
func (b *GCSBucket) Close() error {
	return b.client.Close()
}

// mapGCSError translates GCS errors into the package sentinels. On writes a
// 404 can only mean the bucket is missing.
func mapGCSError(err error, write bool) error {
	switch {
	case errors.Is(err, gcs.ErrBucketNotExist):
		return fmt.Errorf("%w: %v", ErrBucketNotFound, err)
	case errors.Is(err, gcs.ErrObjectNotExist):
		return fmt.Errorf("%w: %v", ErrObjectNotFound, err)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		case http.StatusNotFound:
			if write {
				return fmt.Errorf("%w: %v", ErrBucketNotFound, err)
			}
			return fmt.Errorf("%w: %v", ErrObjectNotFound, err)
		}
	}
	return err
}

var _ Bucket = (*GCSBucket)(nil)
