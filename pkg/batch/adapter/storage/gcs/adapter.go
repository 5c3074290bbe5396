// Package gcs stores objects in Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"

	gcstorage "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/tigerroll/chunkflow/pkg/batch/adapter/storage"
	storageconfig "github.com/tigerroll/chunkflow/pkg/batch/adapter/storage/config"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// ProviderType is the storage type handled by this package.
const ProviderType = "gcs"

type gcsAdapter struct {
	client *gcstorage.Client
	cfg    storageconfig.StorageConfig
	name   string
}

var _ storage.Connection = (*gcsAdapter)(nil)

// ClientOptions returns the client options for cfg: an emulator endpoint
// without authentication, or a credentials file, or application default credentials.
func ClientOptions(cfg storageconfig.StorageConfig) []option.ClientOption {
	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	} else if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	return opts
}

// NewGCSAdapter opens a GCS client for cfg.
func NewGCSAdapter(ctx context.Context, cfg storageconfig.StorageConfig, name string) (storage.Connection, error) {
	if cfg.BucketName == "" {
		return nil, fmt.Errorf("gcs storage '%s': bucket_name must be specified", name)
	}
	client, err := gcstorage.NewClient(ctx, ClientOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("gcs storage '%s': failed to create client: %w", name, err)
	}
	return &gcsAdapter{client: client, cfg: cfg, name: name}, nil
}

func (a *gcsAdapter) Close() error   { return a.client.Close() }
func (a *gcsAdapter) Type() string   { return ProviderType }
func (a *gcsAdapter) Name() string   { return a.name }
func (a *gcsAdapter) Bucket() string { return a.cfg.BucketName }

func (a *gcsAdapter) bucket(b string) *gcstorage.BucketHandle {
	if b == "" {
		b = a.cfg.BucketName
	}
	return a.client.Bucket(b)
}

// Upload streams data into the object. The object becomes visible only when the
// writer is closed successfully.
func (a *gcsAdapter) Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error {
	w := a.bucket(bucket).Object(objectName).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, data); err != nil {
		w.Close()
		return fmt.Errorf("failed to upload gs://%s/%s: %w", w.Bucket, objectName, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize gs://%s/%s: %w", w.Bucket, objectName, err)
	}
	logger.Debugf("Uploaded gs://%s/%s (gcs storage '%s').", w.Bucket, objectName, a.name)
	return nil
}

func (a *gcsAdapter) Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error) {
	r, err := a.bucket(bucket).Object(objectName).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open object '%s': %w", objectName, err)
	}
	return r, nil
}

func (a *gcsAdapter) ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error {
	it := a.bucket(bucket).Objects(ctx, &gcstorage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to list objects with prefix '%s': %w", prefix, err)
		}
		if err := fn(attrs.Name); err != nil {
			return err
		}
	}
}

func (a *gcsAdapter) DeleteObject(ctx context.Context, bucket, objectName string) error {
	err := a.bucket(bucket).Object(objectName).Delete(ctx)
	if err != nil && !errors.Is(err, gcstorage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete object '%s': %w", objectName, err)
	}
	return nil
}

// Provider opens GCS connections.
type Provider struct{}

var _ storage.Provider = Provider{}

func NewProvider() Provider { return Provider{} }

func (Provider) Type() string { return ProviderType }

func (Provider) Connect(ctx context.Context, name string, cfg storageconfig.StorageConfig) (storage.Connection, error) {
	return NewGCSAdapter(ctx, cfg, name)
}
