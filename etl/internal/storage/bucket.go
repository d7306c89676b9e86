// Package storage provides the object storage gateway used by the pipeline
// and the bucket backends it runs on.
package storage

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrBucketNotFound means the configured bucket does not exist. Terminal.
	ErrBucketNotFound = errors.New("bucket not found")

	// ErrPermissionDenied means the credentials cannot access the bucket. Terminal.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrObjectNotFound means the key does not exist.
	ErrObjectNotFound = errors.New("object not found")
)

// Bucket is a flat object namespace. Keys passed to a Bucket are full keys;
// prefixing is the gateway's job.
type Bucket interface {
	// Name returns the bucket name.
	Name() string

	// Exists reports whether an object exists at key.
	Exists(ctx context.Context, key string) (bool, error)

	// Upload writes size bytes from body to key, replacing any object there.
	Upload(ctx context.Context, key, contentType string, body io.Reader, size int64) error

	// Open returns a reader for the object at key, or ErrObjectNotFound.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the object at key, or returns ErrObjectNotFound.
	Delete(ctx context.Context, key string) error

	// List returns every key starting with prefix, in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
}
