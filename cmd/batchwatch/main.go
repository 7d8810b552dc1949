package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/oklog/run"

	"github.com/phrazzld/scry-batch/internal/config"
	"github.com/phrazzld/scry-batch/internal/monitor"
	"github.com/phrazzld/scry-batch/internal/platform/logger"
)

const (
	// Version is the application version (set via ldflags).
	Version = "dev"

	shutdownTimeout = 5 * time.Second
)

type options struct {
	configPath   string
	progressPath string
	interval     time.Duration

	addr string

	exitOnDone bool
}

// Run runs the main application.
func Run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	app := kingpin.New("batchwatch", "Watch the progress of a batch run.")
	app.Version(Version)
	app.DefaultEnvars()

	var opts options
	app.Flag("config", "Path to a config file (yaml, json or toml).").StringVar(&opts.configPath)
	app.Flag("progress", "Progress snapshot file, defaults to the configured one.").StringVar(&opts.progressPath)

	tuiCmd := app.Command("tui", "Show a live progress view in the terminal.")
	tuiCmd.Flag("interval", "Refresh interval.").Default("1s").DurationVar(&opts.interval)
	tuiCmd.Flag("exit-on-done", "Quit once the run completes or aborts.").BoolVar(&opts.exitOnDone)

	serveCmd := app.Command("serve", "Serve the progress snapshot over HTTP.")
	serveCmd.Flag("addr", "Listen address.").Default(":8089").StringVar(&opts.addr)

	cmdName, err := app.Parse(args[1:])
	if err != nil {
		return fmt.Errorf("invalid command configuration: %w", err)
	}

	cfg, err := config.LoadFile(opts.configPath)
	if err != nil {
		return fmt.Errorf("could not load config: %w", err)
	}
	if opts.progressPath == "" {
		opts.progressPath = cfg.Batch.ProgressPath()
	}

	var g run.Group

	// OS signals.
	{
		sigC := make(chan os.Signal, 1)
		exitC := make(chan struct{})
		signal.Notify(sigC, syscall.SIGTERM, syscall.SIGINT)

		g.Add(
			func() error {
				select {
				case <-sigC:
				case <-exitC:
				}
				return nil
			},
			func(_ error) {
				signal.Stop(sigC)
				close(exitC)
			},
		)
	}

	switch cmdName {
	case tuiCmd.FullCommand():
		model := monitor.NewModel(opts.progressPath, opts.interval)
		model.ExitOnDone = opts.exitOnDone
		p := tea.NewProgram(model, tea.WithContext(ctx), tea.WithInput(stdin), tea.WithOutput(stdout), tea.WithAltScreen())

		g.Add(
			func() error {
				_, err := p.Run()
				if errors.Is(err, tea.ErrProgramKilled) {
					return nil
				}
				return err
			},
			func(_ error) {
				p.Quit()
			},
		)

	case serveCmd.FullCommand():
		l, err := logger.SetupWriters(cfg.Log, stdout, stderr)
		if err != nil {
			return fmt.Errorf("could not set up logger: %w", err)
		}

		server := &http.Server{
			Addr:              opts.addr,
			Handler:           monitor.NewRouter(opts.progressPath, l),
			ReadHeaderTimeout: 5 * time.Second,
		}

		g.Add(
			func() error {
				l.Info("serving progress", "addr", opts.addr, "progress_path", opts.progressPath)
				if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			},
			func(_ error) {
				ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
				defer cancel()
				if err := server.Shutdown(ctx); err != nil {
					l.Error("server shutdown failed", "error", err)
				}
			},
		)
	}

	return g.Run()
}

func main() {
	// A missing .env file is normal.
	_ = godotenv.Load()

	ctx := context.Background()
	if err := Run(ctx, os.Args, os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
