package commands

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/alecthomas/kingpin/v2"

	"github.com/phrazzld/scry-batch/internal/batch"
	"github.com/phrazzld/scry-batch/internal/checkpoint"
	"github.com/phrazzld/scry-batch/internal/progress"
	"github.com/phrazzld/scry-batch/internal/runstore"
)

// StatusReport is what the status command prints.
type StatusReport struct {
	Summary  *batch.Summary      `json:"summary"`
	Progress *progress.Snapshot  `json:"progress,omitempty"`
	Owner    *runstore.LockOwner `json:"owner,omitempty"`
}

// StatusCommand reports the persisted state of a run without touching it.
type StatusCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand
}

// NewStatusCommand returns the status command.
func NewStatusCommand(rootCmd *RootCommand, app *kingpin.Application) *StatusCommand {
	c := &StatusCommand{rootCmd: rootCmd}
	c.Cmd = app.Command("status", "Show the checkpointed state of the run in the state directory.")
	return c
}

func (c StatusCommand) Name() string { return c.Cmd.FullCommand() }

func (c StatusCommand) Run(ctx context.Context) error {
	cfg := c.rootCmd.Config

	doc, err := checkpoint.ReadDocument(cfg.Batch.CheckpointPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("no checkpoint in %s: %w", cfg.Batch.StateDir, err)
		}
		return fmt.Errorf("could not read checkpoint: %w", err)
	}

	report := StatusReport{Summary: batch.SummaryFromCheckpoint(doc)}

	// Both are best effort: the snapshot may not exist yet and the lock is
	// only present while a run is active.
	if snap, err := progress.ReadSnapshot(cfg.Batch.ProgressPath()); err == nil {
		report.Progress = snap
	} else {
		c.rootCmd.Logger.Debug("no progress snapshot", "error", err)
	}
	if owner, err := runstore.ReadLockOwner(cfg.Batch.StateDir); err == nil {
		report.Owner = &owner
	}

	if err := printJSON(c.rootCmd.Stdout, report); err != nil {
		return fmt.Errorf("could not print status: %w", err)
	}
	return nil
}
