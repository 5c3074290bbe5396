package gcs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	storageconfig "github.com/tigerroll/chunkflow/pkg/batch/adapter/storage/config"
)

func TestProvider_RequiresBucket(t *testing.T) {
	_, err := NewProvider().Connect(context.Background(), "exports", storageconfig.StorageConfig{Type: ProviderType})
	assert.ErrorContains(t, err, "bucket_name must be specified")
}

func TestClientOptions(t *testing.T) {
	assert.Empty(t, ClientOptions(storageconfig.StorageConfig{}))
	assert.Len(t, ClientOptions(storageconfig.StorageConfig{CredentialsFile: "/etc/key.json"}), 1)
	assert.Len(t, ClientOptions(storageconfig.StorageConfig{Endpoint: "http://localhost:4443/storage/v1/", CredentialsFile: "/etc/key.json"}), 2)
}
