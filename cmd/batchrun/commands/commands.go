package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/alecthomas/kingpin/v2"

	"github.com/phrazzld/scry-batch/internal/config"
	"github.com/phrazzld/scry-batch/internal/platform/logger"
)

// Command represents an application command, all commands that want to be executed
// should implement and setup on main.
type Command interface {
	Name() string
	Run(ctx context.Context) error
}

// RootCommand represents the root command configuration and global configuration
// for all the commands.
type RootCommand struct {
	// Global flags.
	Debug      bool
	ConfigPath string
	StateDir   string

	// Global instances.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Config *config.Config
	Logger *slog.Logger
}

// NewRootCommand initializes the main root configuration.
func NewRootCommand(app *kingpin.Application) *RootCommand {
	c := &RootCommand{}

	app.Flag("debug", "Enable debug logging.").BoolVar(&c.Debug)
	app.Flag("config", "Path to a config file (yaml, json or toml).").StringVar(&c.ConfigPath)
	app.Flag("state-dir", "Directory holding the result log, checkpoint and progress files.").StringVar(&c.StateDir)

	return c
}

// Setup loads the configuration, applies the global flag overrides and
// builds the logger. It must run after flags are parsed.
func (c *RootCommand) Setup() error {
	cfg, err := config.LoadFile(c.ConfigPath)
	if err != nil {
		return fmt.Errorf("could not load config: %w", err)
	}

	if c.StateDir != "" {
		cfg.Batch.StateDir = c.StateDir
	}
	if c.Debug {
		cfg.Log.Level = "debug"
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	l, err := logger.SetupWriters(cfg.Log, c.Stdout, c.Stderr)
	if err != nil {
		return fmt.Errorf("could not set up logger: %w", err)
	}

	c.Config = cfg
	c.Logger = l
	return nil
}

// printJSON writes v as indented JSON followed by a newline.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
