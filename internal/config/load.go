package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g.
// SCRY_BATCH_CLIENT_MAX_RETRIES.
const EnvPrefix = "SCRY_BATCH"

// defaultConfigName is looked up in the working directory when no explicit
// config file is given.
const defaultConfigName = "scry-batch"

// Load configuration from environment variables and an optional config file
// named scry-batch.{yaml,json,toml} in the working directory.
// Environment variables take precedence over values from config files.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile loads configuration like Load but reads the given config file.
// A missing explicit file is an error; a missing default file is not.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName(defaultConfigName)
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the struct-level constraints of a configuration.
func Validate(cfg *Config) error {
	validate := validator.New()
	validate.RegisterStructValidation(validateBatchPaths, BatchConfig{})
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// validateBatchPaths rejects result log and checkpoint overrides outside the
// locked state directory.
func validateBatchPaths(sl validator.StructLevel) {
	b := sl.Current().Interface().(BatchConfig)
	if b.StateDir == "" {
		return
	}
	if b.ResultLogFile != "" && !WithinDir(b.StateDir, b.ResultLogFile) {
		sl.ReportError(b.ResultLogFile, "ResultLogFile", "result_log_path", "within_state_dir", b.StateDir)
	}
	if b.CheckpointFile != "" && !WithinDir(b.StateDir, b.CheckpointFile) {
		sl.ReportError(b.CheckpointFile, "CheckpointFile", "checkpoint_path", "within_state_dir", b.StateDir)
	}
}

// Default returns a configuration populated with the default values only.
func Default() Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	// Defaults are static and always decode.
	_ = v.Unmarshal(&cfg)
	return cfg
}

// setDefaults registers every key so that AutomaticEnv can resolve it during
// Unmarshal, even when the value has no sensible default.
func setDefaults(v *viper.Viper) {
	v.SetDefault("batch.concurrency", 5)
	v.SetDefault("batch.state_dir", ".scry-batch")
	v.SetDefault("batch.result_log_path", "")
	v.SetDefault("batch.checkpoint_path", "")
	v.SetDefault("batch.progress_path", "")

	v.SetDefault("client.requests_per_second", 2.0)
	v.SetDefault("client.burst", 1)
	v.SetDefault("client.max_retries", 3)
	v.SetDefault("client.base_delay", time.Second)
	v.SetDefault("client.max_delay", 30*time.Second)
	v.SetDefault("client.jitter", 500*time.Millisecond)
	v.SetDefault("client.call_timeout", 60*time.Second)

	v.SetDefault("checkpoint.every_n", 25)
	v.SetDefault("checkpoint.interval", 10*time.Second)

	v.SetDefault("progress.interval", 2*time.Second)

	v.SetDefault("llm.gemini_api_key", "")
	v.SetDefault("llm.model_name", "gemini-2.0-flash")
	v.SetDefault("llm.prompt_template_path", "prompts/item.tmpl")
	v.SetDefault("llm.base_url", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.output", "stderr")
}
