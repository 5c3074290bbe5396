// Package storage abstracts object storage used by file based writers. A
// connection is opened by the provider registered for its configured type and
// cached by name in a Resolver.
package storage

import (
	"context"
	"io"

	storageconfig "github.com/tigerroll/chunkflow/pkg/batch/adapter/storage/config"
)

// Executor defines object operations. For local storage a bucket is a directory.
type Executor interface {
	Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error
	// Download returns a reader the caller must close.
	Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error)
	// ListObjects calls fn for every object name under prefix.
	ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error
	// DeleteObject removes an object. Deleting a missing object is not an error.
	DeleteObject(ctx context.Context, bucket, objectName string) error
}

// Connection is an open, named storage connection.
type Connection interface {
	Executor
	Name() string
	Type() string
	// Bucket is the configured default bucket.
	Bucket() string
	Close() error
}

// Provider opens connections of one storage type.
type Provider interface {
	Type() string
	Connect(ctx context.Context, name string, cfg storageconfig.StorageConfig) (Connection, error)
}
