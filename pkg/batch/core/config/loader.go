package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"gopkg.in/yaml.v3"

	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/serialization"
)

const moduleName = "config"

// envPrefix is prepended to every environment override, e.g. CHUNKFLOW_BATCH_CHUNK_SIZE.
const envPrefix = ""

// ConfigParams defines the dependencies of NewConfigProvider.
type ConfigParams struct {
	fx.In
	EmbeddedConfig EmbeddedConfig
	EnvFilePath    string              `name:"envFilePath" optional:"true"`
	Expander       EnvironmentExpander `optional:"true"`
}

// LoadConfig builds the configuration in four layers: defaults, the embedded
// YAML (after ${VAR} expansion), the .env file and finally environment
// variables named after the yaml tags (CHUNKFLOW_BATCH_CHUNK_SIZE=5).
func LoadConfig(envFilePath string, embeddedConfig EmbeddedConfig) (*Config, error) {
	return loadConfig(envFilePath, embeddedConfig, NewOsEnvironmentExpander())
}

func loadConfig(envFilePath string, embeddedConfig EmbeddedConfig, expander EnvironmentExpander) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			logger.Warnf(".env file (%s) not found or could not be loaded: %v", envFilePath, err)
		}
	} else if err := godotenv.Load(); err != nil {
		logger.Debugf(".env file not found or could not be loaded: %v", err)
	}

	cfg := NewConfig()

	raw, err := expander.Expand(embeddedConfig)
	if err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to expand environment variables in config", err, false, false)
	}
	// Unmarshalling onto the defaults keeps every key the YAML omits.
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to unmarshal embedded config", err, false, false)
	}
	cfg.EmbeddedConfig = embeddedConfig

	if err := loadStructFromEnv(reflect.ValueOf(cfg).Elem(), envPrefix); err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to load config from environment variables", err, false, false)
	}
	return cfg, nil
}

// NewConfigProvider is the fx provider of *Config. It also applies the logging
// and masking settings globally and validates the result.
func NewConfigProvider(params ConfigParams) (*Config, error) {
	expander := params.Expander
	if expander == nil {
		expander = NewOsEnvironmentExpander()
	}
	cfg, err := loadConfig(params.EnvFilePath, params.EmbeddedConfig, expander)
	if err != nil {
		return nil, err
	}

	logger.SetOutput(os.Stdout, cfg.Chunkflow.System.Logging.Format)
	logger.SetLogLevel(cfg.Chunkflow.System.Logging.Level)
	logger.Infof("Log level set to: %s", cfg.Chunkflow.System.Logging.Level)
	serialization.SetMaskedParameterKeys(cfg.Chunkflow.Security.MaskedParameterKeys)

	if err := Validate(cfg); err != nil {
		return nil, exception.NewBatchError(moduleName, "invalid configuration", err, false, false)
	}
	return cfg, nil
}

// Validate checks the engine settings and the configured exception names.
func Validate(cfg *Config) error {
	var errs []error
	b := cfg.Chunkflow.Batch
	if b.ChunkSize < 1 {
		errs = append(errs, fmt.Errorf("batch.chunk_size must be at least 1, got %d", b.ChunkSize))
	}
	if b.StepTimeout < 0 {
		errs = append(errs, fmt.Errorf("batch.step_timeout must not be negative, got %d", b.StepTimeout))
	}
	if b.ItemRetry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("batch.item_retry.max_attempts must be at least 1, got %d", b.ItemRetry.MaxAttempts))
	}
	if b.ItemRetry.InitialInterval < 0 || b.ItemRetry.MaxInterval < 0 {
		errs = append(errs, errors.New("batch.item_retry intervals must not be negative"))
	}
	if b.ItemRetry.Multiplier != 0 && b.ItemRetry.Multiplier < 1 {
		errs = append(errs, fmt.Errorf("batch.item_retry.multiplier must be at least 1, got %g", b.ItemRetry.Multiplier))
	}
	if b.ItemSkip.SkipLimit < 0 {
		errs = append(errs, fmt.Errorf("batch.item_skip.skip_limit must not be negative, got %d", b.ItemSkip.SkipLimit))
	}
	switch b.LaunchMode {
	case LaunchModeAsync, LaunchModeSync:
	default:
		errs = append(errs, fmt.Errorf("batch.launch_mode must be %q or %q, got %q", LaunchModeAsync, LaunchModeSync, b.LaunchMode))
	}
	switch cfg.Chunkflow.Infrastructure.JobRepositoryType {
	case JobRepositoryInMemory:
	case JobRepositorySQL:
		ref := cfg.Chunkflow.Infrastructure.JobRepositoryDBRef
		if _, ok := cfg.Chunkflow.Datasources[ref]; !ok {
			errs = append(errs, fmt.Errorf("infrastructure.job_repository_db_ref %q does not name a datasource", ref))
		}
	default:
		errs = append(errs, fmt.Errorf("infrastructure.job_repository_type %q is not supported", cfg.Chunkflow.Infrastructure.JobRepositoryType))
	}
	errs = append(errs, checkExceptionClasses(b.ItemRetry.RetryableExceptions, "item_retry.retryable_exceptions")...)
	errs = append(errs, checkExceptionClasses(b.ItemSkip.SkippableExceptions, "item_skip.skippable_exceptions")...)
	errs = append(errs, checkExceptionClasses(b.ItemSkip.FatalExceptions, "item_skip.fatal_exceptions")...)
	return errors.Join(errs...)
}

// checkExceptionClasses reports configured names that are neither registered
// errors nor error kinds.
func checkExceptionClasses(names []string, field string) []error {
	var errs []error
	for _, name := range names {
		if exception.IsErrorTypeRegistered(name) || isKindName(name) {
			continue
		}
		errs = append(errs, fmt.Errorf("%s references unknown exception class '%s'", field, name))
	}
	return errs
}

func isKindName(name string) bool {
	switch exception.ErrorKind(name) {
	case exception.ReaderTransient, exception.ReaderFatal, exception.ProcessorFiltered, exception.ProcessorInvalid,
		exception.WriterTransient, exception.WriterFatal, exception.WriterRejected, exception.SkipLimitExceeded:
		return true
	}
	return false
}

// loadStructFromEnv overrides struct fields from environment variables named
// after the upper-cased yaml tag path.
func loadStructFromEnv(val reflect.Value, prefix string) error {
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		yamlTag := strings.Split(fieldType.Tag.Get("yaml"), ",")[0]
		if yamlTag == "" || yamlTag == "-" {
			continue
		}
		envVarName := strings.ToUpper(prefix + yamlTag)

		switch {
		case field.Kind() == reflect.Struct:
			if err := loadStructFromEnv(field, envVarName+"_"); err != nil {
				return err
			}
			continue
		case field.Kind() == reflect.Map && field.Type().Key().Kind() == reflect.String && field.Type().Elem().Kind() == reflect.Interface:
			loadRawMapFromEnv(field, envVarName+"_")
			continue
		}

		envValue, exists := os.LookupEnv(envVarName)
		if !exists {
			continue
		}
		if err := setField(field, envValue); err != nil {
			return fmt.Errorf("failed to set field '%s' from env var '%s': %w", fieldType.Name, envVarName, err)
		}
	}
	return nil
}

// loadRawMapFromEnv overrides entries of a map[string]interface{} of named
// settings. CHUNKFLOW_DATASOURCES_METADATA_HOST=db sets datasources.metadata.host.
// Map keys cannot contain underscores; the remainder of the name is the field.
func loadRawMapFromEnv(mapField reflect.Value, prefix string) {
	if mapField.IsNil() {
		mapField.Set(reflect.MakeMap(mapField.Type()))
	}
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, prefix) {
			continue
		}
		parts := strings.SplitN(strings.TrimPrefix(env, prefix), "=", 2)
		if len(parts) != 2 {
			continue
		}
		keyAndField := strings.SplitN(parts[0], "_", 2)
		if len(keyAndField) != 2 || keyAndField[0] == "" || keyAndField[1] == "" {
			continue
		}
		name := strings.ToLower(keyAndField[0])
		fieldName := strings.ToLower(keyAndField[1])

		entry := map[string]interface{}{}
		if existing := mapField.MapIndex(reflect.ValueOf(name)); existing.IsValid() {
			if m, ok := existing.Interface().(map[string]interface{}); ok {
				entry = m
			}
		}
		entry[fieldName] = parts[1]
		mapField.SetMapIndex(reflect.ValueOf(name), reflect.ValueOf(entry))
	}
}

// setField converts value to the kind of field.
func setField(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		intValue, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(intValue)
	case reflect.Float64, reflect.Float32:
		floatValue, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(floatValue)
	case reflect.Bool:
		boolValue, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolValue)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return nil
		}
		var items []string
		for _, s := range strings.Split(value, ",") {
			if s = strings.TrimSpace(s); s != "" {
				items = append(items, s)
			}
		}
		field.Set(reflect.ValueOf(items))
	}
	return nil
}
