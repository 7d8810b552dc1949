package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"
	"go.uber.org/multierr"

	"github.com/phrazzld/scry-batch/internal/batch"
	"github.com/phrazzld/scry-batch/internal/client"
	"github.com/phrazzld/scry-batch/internal/config"
	"github.com/phrazzld/scry-batch/internal/events"
	"github.com/phrazzld/scry-batch/internal/generation"
	"github.com/phrazzld/scry-batch/internal/input"
	"github.com/phrazzld/scry-batch/internal/platform/gemini"
)

// RunCommand processes an input file to completion, resuming any prior
// progress recorded in the state directory.
type RunCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	inputPath   string
	concurrency int
	dryRun      bool
	breakLock   bool
}

// NewRunCommand returns the run command.
func NewRunCommand(rootCmd *RootCommand, app *kingpin.Application) *RunCommand {
	c := &RunCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("run", "Process every pending item of an input file.")
	c.Cmd.Flag("input", "Input file (.jsonl, .ndjson, .json, .yaml).").Short('i').Required().StringVar(&c.inputPath)
	c.Cmd.Flag("concurrency", "Number of workers, overrides the config.").IntVar(&c.concurrency)
	c.Cmd.Flag("dry-run", "Echo each payload instead of calling the language model.").BoolVar(&c.dryRun)
	c.Cmd.Flag("break-lock", "Reclaim the state directory lock even if another run appears to hold it.").BoolVar(&c.breakLock)

	return c
}

func (c RunCommand) Name() string { return c.Cmd.FullCommand() }

func (c RunCommand) Run(ctx context.Context) error {
	cfg := c.rootCmd.Config
	logger := c.rootCmd.Logger

	if c.concurrency != 0 {
		cfg.Batch.Concurrency = c.concurrency
		if err := config.Validate(cfg); err != nil {
			return err
		}
	}

	items, err := input.LoadFile(c.inputPath)
	if err != nil {
		return fmt.Errorf("could not load input: %w", err)
	}

	gen, err := c.generator(ctx, cfg)
	if err != nil {
		return fmt.Errorf("could not create generator: %w", err)
	}

	invoker, err := client.New(gen, cfg.Client, logger)
	if err != nil {
		return fmt.Errorf("could not create client: %w", err)
	}

	emitter := events.NewInMemoryEventEmitter(logger)
	emitter.RegisterHandler(events.NewLogHandler(logger))

	runCfg := batch.ConfigFrom(cfg)
	runCfg.BreakLock = c.breakLock

	orch, err := batch.New(runCfg, invoker, emitter, logger)
	if err != nil {
		return fmt.Errorf("could not create orchestrator: %w", err)
	}

	summary, runErr := orch.Run(ctx, items)
	if summary != nil {
		if err := printJSON(c.rootCmd.Stdout, summary); err != nil {
			runErr = multierr.Append(runErr, fmt.Errorf("could not print summary: %w", err))
		}
	}

	return runErr
}

func (c RunCommand) generator(ctx context.Context, cfg *config.Config) (generation.Generator, error) {
	if c.dryRun {
		c.rootCmd.Logger.Info("dry run, payloads are echoed")
		return generation.Echo, nil
	}
	return gemini.NewGenerator(ctx, c.rootCmd.Logger, cfg.LLM)
}
