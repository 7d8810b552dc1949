// Package logger provides structured logging functionality for the application.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/phrazzld/scry-batch/internal/config"
)

// Setup initializes and configures the application's logging system based on
// the provided configuration. It creates a structured JSON logger with the
// appropriate log level and sets it as the default logger for the application.
//
// Logs go to stderr unless configured otherwise so that command output on
// stdout (the run summary) stays machine readable.
func Setup(cfg config.LogConfig) (*slog.Logger, error) {
	return SetupWriters(cfg, os.Stdout, os.Stderr)
}

// SetupWriters is Setup with explicit stdout and stderr streams, for
// commands that are given their output writers.
func SetupWriters(cfg config.LogConfig, stdout, stderr io.Writer) (*slog.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		// If the log level is invalid, use info level as default and log a warning
		level = slog.LevelInfo

		tmpLogger := slog.New(slog.NewTextHandler(stderr, nil))
		tmpLogger.Warn("invalid log level configured, using default level",
			"configured_level", cfg.Level,
			"default_level", "info")
	}

	var out io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stdout":
		out = stdout
	case "", "stderr":
		out = stderr
	default:
		return nil, fmt.Errorf("unsupported log output %q", cfg.Output)
	}

	logger := New(out, level)

	// Set this logger as the default for the application
	slog.SetDefault(logger)

	return logger, nil
}

// New creates a JSON logger writing to out at the given level.
func New(out io.Writer, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: level,
	}
	return slog.New(slog.NewJSONHandler(out, opts))
}

// ParseLevel parses a case-insensitive level name.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", name)
	}
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}
