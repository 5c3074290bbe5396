// Package config holds the application configuration and its loader.
package config

// EmbeddedConfig is the raw YAML configuration, usually embedded into the binary by main.
type EmbeddedConfig []byte

// LogLevel is a configured logging level.
type LogLevel string

const (
	LogLevelDebug  LogLevel = "DEBUG"
	LogLevelInfo   LogLevel = "INFO"
	LogLevelWarn   LogLevel = "WARN"
	LogLevelError  LogLevel = "ERROR"
	LogLevelFatal  LogLevel = "FATAL"
	LogLevelSilent LogLevel = "SILENT"
)

// Launch modes of the job trigger.
const (
	LaunchModeAsync = "async"
	LaunchModeSync  = "sync"
)

// Job repository backends.
const (
	JobRepositoryInMemory = "inmemory"
	JobRepositorySQL      = "sql"
)

// RetryConfig configures retries of transient read and write failures.
type RetryConfig struct {
	MaxAttempts         int      `yaml:"max_attempts"`     // Total attempts including the first one.
	InitialInterval     int      `yaml:"initial_interval"` // Milliseconds.
	MaxInterval         int      `yaml:"max_interval"`     // Milliseconds. 0 means no cap.
	Multiplier          float64  `yaml:"multiplier"`
	RetryableExceptions []string `yaml:"retryable_exceptions"`
}

// SkipConfig configures which item failures may be skipped.
type SkipConfig struct {
	SkipLimit           int      `yaml:"skip_limit"`
	SkippableExceptions []string `yaml:"skippable_exceptions"`
	FatalExceptions     []string `yaml:"fatal_exceptions"`
	// InvalidIsFatal makes a failed validation abort the step instead of skipping the item.
	InvalidIsFatal bool `yaml:"invalid_is_fatal"`
}

// BatchConfig holds the defaults of the chunk engine.
type BatchConfig struct {
	JobName        string `yaml:"job_name"`
	ChunkSize      int    `yaml:"chunk_size"`
	IsolationLevel string `yaml:"isolation_level"`
	// StepTimeout is a wall-clock budget per step in seconds, checked between chunks. 0 disables it.
	StepTimeout int    `yaml:"step_timeout"`
	LaunchMode  string `yaml:"launch_mode"`
	// AllowConcurrentRuns lets a job be launched while another execution of it is running.
	AllowConcurrentRuns bool        `yaml:"allow_concurrent_runs"`
	ItemRetry           RetryConfig `yaml:"item_retry"`
	ItemSkip            SkipConfig  `yaml:"item_skip"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// MaskedParameterKeys are job parameter keys whose values are masked in logs and persistence.
	MaskedParameterKeys []string `yaml:"masked_parameter_keys"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "console"
}

// SystemConfig holds system-wide settings.
type SystemConfig struct {
	Timezone string        `yaml:"timezone"`
	Logging  LoggingConfig `yaml:"logging"`
}

// InfrastructureConfig selects the infrastructure behind the engine.
type InfrastructureConfig struct {
	JobRepositoryType  string `yaml:"job_repository_type"`
	JobRepositoryDBRef string `yaml:"job_repository_db_ref"`
	MigrateOnStartup   bool   `yaml:"migrate_on_startup"`
}

// ServerConfig configures the HTTP trigger.
type ServerConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Address         string `yaml:"address"`
	ShutdownTimeout int    `yaml:"shutdown_timeout"` // Seconds.
}

// PrometheusConfig configures the Prometheus recorder.
type PrometheusConfig struct {
	Enabled bool `yaml:"enabled"`
}

// OTelConfig configures OpenTelemetry export over OTLP/HTTP.
type OTelConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	Insecure    bool   `yaml:"insecure"`
	ServiceName string `yaml:"service_name"`
}

// MetricsConfig configures the metric recorders and tracer.
type MetricsConfig struct {
	Prometheus PrometheusConfig `yaml:"prometheus"`
	OTel       OTelConfig       `yaml:"otel"`
}

// ChunkflowConfig holds everything under the "chunkflow" top-level key.
type ChunkflowConfig struct {
	Batch          BatchConfig          `yaml:"batch"`
	System         SystemConfig         `yaml:"system"`
	Infrastructure InfrastructureConfig `yaml:"infrastructure"`
	Security       SecurityConfig       `yaml:"security"`
	Server         ServerConfig         `yaml:"server"`
	Metrics        MetricsConfig        `yaml:"metrics"`
	// Datasources are raw connection settings keyed by name, decoded by the database adapter.
	Datasources map[string]interface{} `yaml:"datasources"`
	// Storage are raw storage connection settings keyed by name, decoded by the storage adapter.
	Storage map[string]interface{} `yaml:"storage"`
}

// Config is the root of the application configuration.
type Config struct {
	Chunkflow      ChunkflowConfig `yaml:"chunkflow"`
	EmbeddedConfig EmbeddedConfig  `yaml:"-"`
}

// NewConfig returns a Config populated with defaults.
func NewConfig() *Config {
	return &Config{
		Chunkflow: ChunkflowConfig{
			Batch: BatchConfig{
				ChunkSize:      10,
				IsolationLevel: "DEFAULT",
				LaunchMode:     LaunchModeSync,
				ItemRetry: RetryConfig{
					MaxAttempts:     3,
					InitialInterval: 1000,
					MaxInterval:     10000,
					Multiplier:      2.0,
					RetryableExceptions: []string{
						"context.DeadlineExceeded",
						"sql.ErrConnDone",
					},
				},
				ItemSkip: SkipConfig{
					SkipLimit: 10,
				},
			},
			System: SystemConfig{
				Timezone: "UTC",
				Logging:  LoggingConfig{Level: "INFO", Format: "console"},
			},
			Infrastructure: InfrastructureConfig{
				JobRepositoryType:  JobRepositoryInMemory,
				JobRepositoryDBRef: "metadata",
			},
			Security: SecurityConfig{
				MaskedParameterKeys: []string{"password", "secret", "token", "api_key"},
			},
			Server: ServerConfig{
				Enabled:         true,
				Address:         ":8080",
				ShutdownTimeout: 30,
			},
			Metrics: MetricsConfig{
				Prometheus: PrometheusConfig{Enabled: true},
				OTel:       OTelConfig{ServiceName: "chunkflow"},
			},
			Datasources: map[string]interface{}{},
			Storage:     map[string]interface{}{},
		},
	}
}
