package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testYAML = `
chunkflow:
  batch:
    job_name: productJob
    chunk_size: 5
    item_skip:
      skip_limit: 3
      skippable_exceptions: [WriterRejected]
  datasources:
    metadata:
      type: sqlite
      database: ${TEST_CHUNKFLOW_DB}
`

func TestLoadConfig_YAMLOverridesDefaults(t *testing.T) {
	t.Setenv("TEST_CHUNKFLOW_DB", "/tmp/meta.db")

	cfg, err := LoadConfig("", EmbeddedConfig(testYAML))
	require.NoError(t, err)

	assert.Equal(t, "productJob", cfg.Chunkflow.Batch.JobName)
	assert.Equal(t, 5, cfg.Chunkflow.Batch.ChunkSize)
	assert.Equal(t, 3, cfg.Chunkflow.Batch.ItemSkip.SkipLimit)
	// Untouched defaults survive.
	assert.Equal(t, 3, cfg.Chunkflow.Batch.ItemRetry.MaxAttempts)
	assert.Equal(t, LaunchModeSync, cfg.Chunkflow.Batch.LaunchMode)

	ds, ok := cfg.Chunkflow.Datasources["metadata"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "/tmp/meta.db", ds["database"])
	assert.NoError(t, Validate(cfg))
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	t.Setenv("CHUNKFLOW_BATCH_CHUNK_SIZE", "7")
	t.Setenv("CHUNKFLOW_BATCH_ITEM_SKIP_INVALID_IS_FATAL", "true")
	t.Setenv("CHUNKFLOW_BATCH_ITEM_RETRY_MULTIPLIER", "1.5")
	t.Setenv("CHUNKFLOW_SECURITY_MASKED_PARAMETER_KEYS", "password, pin")
	t.Setenv("CHUNKFLOW_DATASOURCES_METADATA_HOST", "db.internal")

	cfg, err := LoadConfig("", EmbeddedConfig(testYAML))
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Chunkflow.Batch.ChunkSize)
	assert.True(t, cfg.Chunkflow.Batch.ItemSkip.InvalidIsFatal)
	assert.Equal(t, 1.5, cfg.Chunkflow.Batch.ItemRetry.Multiplier)
	assert.Equal(t, []string{"password", "pin"}, cfg.Chunkflow.Security.MaskedParameterKeys)

	ds := cfg.Chunkflow.Datasources["metadata"].(map[string]interface{})
	assert.Equal(t, "db.internal", ds["host"])
	assert.Equal(t, "sqlite", ds["type"])
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	_, err := LoadConfig("", EmbeddedConfig("chunkflow: [unclosed"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := NewConfig()
	require.NoError(t, Validate(cfg))

	cfg.Chunkflow.Batch.ChunkSize = 0
	cfg.Chunkflow.Batch.ItemSkip.SkipLimit = -1
	cfg.Chunkflow.Batch.LaunchMode = "later"
	cfg.Chunkflow.Batch.ItemSkip.SkippableExceptions = []string{"NoSuchError"}
	cfg.Chunkflow.Infrastructure.JobRepositoryType = JobRepositorySQL
	cfg.Chunkflow.Infrastructure.JobRepositoryDBRef = "missing"

	err := Validate(cfg)
	require.Error(t, err)
	for _, want := range []string{"chunk_size", "skip_limit", "launch_mode", "NoSuchError", "missing"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestNewConfigProvider(t *testing.T) {
	cfg, err := NewConfigProvider(ConfigParams{EmbeddedConfig: EmbeddedConfig(testYAML)})
	require.NoError(t, err)
	assert.Equal(t, "INFO", NewLoggingConfigProvider(cfg).Level)

	_, err = NewConfigProvider(ConfigParams{EmbeddedConfig: EmbeddedConfig("chunkflow:\n  batch:\n    chunk_size: 0\n")})
	assert.Error(t, err)
}
