package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
	"github.com/oklog/run"

	"github.com/phrazzld/scry-batch/cmd/batchrun/commands"
	"github.com/phrazzld/scry-batch/internal/batch"
)

const (
	// Version is the application version (set via ldflags).
	Version = "dev"
)

// Exit codes.
const (
	exitOK        = 0
	exitError     = 1
	exitCancelled = 2
)

// errInterrupted is returned when a termination signal stops the command.
var errInterrupted = fmt.Errorf("termination signal received: %w", batch.ErrRunCancelled)

// Run runs the main application.
func Run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) (err error) {
	app := kingpin.New("batchrun", "Resilient batch execution against a language model.")
	app.Version(Version)
	app.DefaultEnvars()
	rootCmd := commands.NewRootCommand(app)

	// Setup commands (registers flags).
	runCmd := commands.NewRunCommand(rootCmd, app)
	statusCmd := commands.NewStatusCommand(rootCmd, app)

	cmds := map[string]commands.Command{
		runCmd.Name():    runCmd,
		statusCmd.Name(): statusCmd,
	}

	// Parse command.
	cmdName, err := app.Parse(args[1:])
	if err != nil {
		return fmt.Errorf("invalid command configuration: %w", err)
	}

	// Set standard input/output.
	rootCmd.Stdin = stdin
	rootCmd.Stdout = stdout
	rootCmd.Stderr = stderr

	if err := rootCmd.Setup(); err != nil {
		return err
	}
	rootCmd.Logger.Debug("debug level is enabled", "version", Version)

	var g run.Group

	// OS signals.
	{
		sigC := make(chan os.Signal, 1)
		exitC := make(chan struct{})
		signal.Notify(sigC, syscall.SIGTERM, syscall.SIGINT)

		g.Add(
			func() error {
				select {
				case s := <-sigC:
					rootCmd.Logger.Info("termination signal received, draining", "signal", s.String())
					return errInterrupted
				case <-exitC:
					return nil
				}
			},
			func(_ error) {
				signal.Stop(sigC)
				close(exitC)
			},
		)
	}

	// Execute command.
	{
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		g.Add(
			func() error {
				err := cmds[cmdName].Run(ctx)
				if err != nil {
					return fmt.Errorf("%q command failed: %w", cmdName, err)
				}
				return nil
			},
			func(_ error) {
				cancel()
			},
		)
	}

	return g.Run()
}

// exitCode maps a Run error to the process exit status. A cancelled run
// has durable partial progress and exits with its own code so wrappers can
// tell it apart from a failure.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, batch.ErrRunCancelled):
		return exitCancelled
	default:
		return exitError
	}
}

func main() {
	// A missing .env file is normal.
	_ = godotenv.Load()

	ctx := context.Background()
	err := Run(ctx, os.Args, os.Stdin, os.Stdout, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
	}
	os.Exit(exitCode(err))
}
