package config

import (
	"path/filepath"
	"strings"
	"time"
)

// Default file names inside the state directory.
const (
	DefaultResultLogFile  = "results.jsonl"
	DefaultCheckpointFile = "checkpoint.json"
	DefaultProgressFile   = "progress.json"
	DefaultLineageFile    = "run.json"
)

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Batch      BatchConfig      `mapstructure:"batch" validate:"required"`
	Client     ClientConfig     `mapstructure:"client" validate:"required"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint" validate:"required"`
	Progress   ProgressConfig   `mapstructure:"progress" validate:"required"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Log        LogConfig        `mapstructure:"log" validate:"required"`
}

// BatchConfig contains the run-level settings: how many workers to start and
// where durable state lives.
type BatchConfig struct {
	Concurrency int    `mapstructure:"concurrency" validate:"gte=1,lte=256"`
	StateDir    string `mapstructure:"state_dir" validate:"required"`

	// Optional overrides; when empty the files live inside StateDir. The
	// result log and checkpoint must stay inside StateDir, which the run lock
	// guards.
	ResultLogFile  string `mapstructure:"result_log_path"`
	CheckpointFile string `mapstructure:"checkpoint_path"`
	ProgressFile   string `mapstructure:"progress_path"`
}

// ResultLogPath returns the path of the append-only result log.
func (b BatchConfig) ResultLogPath() string {
	return b.pathOrDefault(b.ResultLogFile, DefaultResultLogFile)
}

// CheckpointPath returns the path of the checkpoint document.
func (b BatchConfig) CheckpointPath() string {
	return b.pathOrDefault(b.CheckpointFile, DefaultCheckpointFile)
}

// ProgressPath returns the path of the progress snapshot document.
func (b BatchConfig) ProgressPath() string {
	return b.pathOrDefault(b.ProgressFile, DefaultProgressFile)
}

func (b BatchConfig) pathOrDefault(override, name string) string {
	if override != "" {
		return override
	}
	return filepath.Join(b.StateDir, name)
}

// ClientConfig contains pacing and retry settings for calls to the
// generation service.
type ClientConfig struct {
	RequestsPerSecond float64       `mapstructure:"requests_per_second" validate:"gt=0"`
	Burst             int           `mapstructure:"burst" validate:"gte=1"`
	MaxRetries        int           `mapstructure:"max_retries" validate:"gte=0,lte=20"`
	BaseDelay         time.Duration `mapstructure:"base_delay" validate:"gt=0"`
	MaxDelay          time.Duration `mapstructure:"max_delay" validate:"gtefield=BaseDelay"`
	Jitter            time.Duration `mapstructure:"jitter" validate:"gte=0"`
	CallTimeout       time.Duration `mapstructure:"call_timeout" validate:"gt=0"`
}

// CheckpointConfig controls how often the checkpoint is persisted: after
// EveryN results or Interval, whichever comes first.
type CheckpointConfig struct {
	EveryN   int           `mapstructure:"every_n" validate:"gte=1"`
	Interval time.Duration `mapstructure:"interval" validate:"gt=0"`
}

// ProgressConfig controls the progress snapshot timer.
type ProgressConfig struct {
	Interval time.Duration `mapstructure:"interval" validate:"gt=0"`
}

// LLMConfig contains all LLM integration related settings.
// These are validated when the generator is constructed, so commands that
// never call the service do not need an API key.
type LLMConfig struct {
	GeminiAPIKey       string `mapstructure:"gemini_api_key"`
	ModelName          string `mapstructure:"model_name"`
	PromptTemplatePath string `mapstructure:"prompt_template_path"`
	BaseURL            string `mapstructure:"base_url" validate:"omitempty,url"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Output string `mapstructure:"output" validate:"required,oneof=stdout stderr"`
}

// WithinDir reports whether path names a location inside dir.
func WithinDir(dir, path string) bool {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absDir, absPath)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
