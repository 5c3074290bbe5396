// Package config holds the settings of a named storage connection.
package config

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// StorageConfig holds configuration for a single storage connection.
type StorageConfig struct {
	Type            string `yaml:"type" mapstructure:"type"`                         // "local" or "gcs".
	BucketName      string `yaml:"bucket_name" mapstructure:"bucket_name"`           // Default bucket.
	CredentialsFile string `yaml:"credentials_file" mapstructure:"credentials_file"` // GCS service account key.
	Endpoint        string `yaml:"endpoint" mapstructure:"endpoint"`                 // GCS emulator endpoint, unauthenticated.
	BaseDir         string `yaml:"base_dir" mapstructure:"base_dir"`                 // Root directory for local storage.
}

// Decode converts the raw settings found under chunkflow.storage.<name>.
func Decode(raw interface{}) (StorageConfig, error) {
	var cfg StorageConfig
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return cfg, err
	}
	if err := decoder.Decode(raw); err != nil {
		return cfg, fmt.Errorf("failed to decode storage config: %w", err)
	}
	if cfg.Type == "" {
		return cfg, fmt.Errorf("storage config has no type")
	}
	return cfg, nil
}
