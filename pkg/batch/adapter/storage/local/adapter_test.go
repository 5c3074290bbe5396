package local

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/chunkflow/pkg/batch/adapter/storage"
	storageconfig "github.com/tigerroll/chunkflow/pkg/batch/adapter/storage/config"
	coreconfig "github.com/tigerroll/chunkflow/pkg/batch/core/config"
)

func TestLocalAdapter_RoundTrip(t *testing.T) {
	ctx := context.Background()
	conn, err := NewLocalAdapter(storageconfig.StorageConfig{Type: ProviderType, BaseDir: t.TempDir(), BucketName: "exports"}, "out")
	require.NoError(t, err)

	require.NoError(t, conn.Upload(ctx, "", "dt=2024-01-01/a.parquet", strings.NewReader("aaa"), "application/octet-stream"))
	require.NoError(t, conn.Upload(ctx, "", "dt=2024-01-02/b.parquet", strings.NewReader("bbb"), "application/octet-stream"))

	var names []string
	require.NoError(t, conn.ListObjects(ctx, "", "dt=2024-01-01", func(n string) error {
		names = append(names, n)
		return nil
	}))
	assert.Equal(t, []string{"dt=2024-01-01/a.parquet"}, names)

	r, err := conn.Download(ctx, "exports", "dt=2024-01-02/b.parquet")
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "bbb", string(data))

	require.NoError(t, conn.DeleteObject(ctx, "", "dt=2024-01-02/b.parquet"))
	require.NoError(t, conn.DeleteObject(ctx, "", "dt=2024-01-02/b.parquet"))
	_, err = conn.Download(ctx, "", "dt=2024-01-02/b.parquet")
	assert.Error(t, err)
}

func TestLocalAdapter_RejectsEscapingPath(t *testing.T) {
	conn, err := NewLocalAdapter(storageconfig.StorageConfig{Type: ProviderType, BaseDir: t.TempDir()}, "out")
	require.NoError(t, err)
	err = conn.Upload(context.Background(), "", "../evil.txt", strings.NewReader("x"), "text/plain")
	assert.ErrorContains(t, err, "outside of base_dir")
}

func TestResolver_CachesByName(t *testing.T) {
	cfg := coreconfig.NewConfig()
	cfg.Chunkflow.Storage["exports"] = map[string]interface{}{"type": "local", "base_dir": t.TempDir()}
	cfg.Chunkflow.Storage["remote"] = map[string]interface{}{"type": "s3"}
	r := storage.NewResolver(cfg, []storage.Provider{NewProvider()})

	a, err := r.Resolve(context.Background(), "exports")
	require.NoError(t, err)
	b, err := r.Resolve(context.Background(), "exports")
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, "local", a.Type())

	_, err = r.Resolve(context.Background(), "remote")
	assert.ErrorContains(t, err, "no storage provider for type 's3'")
	_, err = r.Resolve(context.Background(), "missing")
	assert.Error(t, err)

	require.NoError(t, r.CloseAll())
}
