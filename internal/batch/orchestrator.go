package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phrazzld/scry-batch/internal/checkpoint"
	"github.com/phrazzld/scry-batch/internal/client"
	"github.com/phrazzld/scry-batch/internal/config"
	"github.com/phrazzld/scry-batch/internal/domain"
	"github.com/phrazzld/scry-batch/internal/events"
	"github.com/phrazzld/scry-batch/internal/generation"
	"github.com/phrazzld/scry-batch/internal/progress"
	"github.com/phrazzld/scry-batch/internal/redact"
	"github.com/phrazzld/scry-batch/internal/resultlog"
	"github.com/phrazzld/scry-batch/internal/runstore"
	"go.uber.org/multierr"
)

// DefaultConcurrency is the worker count when none is configured.
const DefaultConcurrency = 5

// Common errors returned by the Orchestrator
var (
	// ErrRunCancelled is returned with an ABORTED summary when the run was
	// cancelled before every item completed. A later run resumes the rest.
	ErrRunCancelled = errors.New("run cancelled")

	// ErrAlreadyStarted is returned when Run is called twice.
	ErrAlreadyStarted = errors.New("orchestrator already started")
)

// Invoker runs one item against the generation service, returning a final
// outcome. *client.Client implements it.
type Invoker interface {
	Invoke(ctx context.Context, item domain.Item) (client.Outcome, error)
}

// Config holds the orchestrator settings.
type Config struct {
	Concurrency int

	StateDir       string
	ResultLogPath  string
	CheckpointPath string
	ProgressPath   string

	CheckpointEveryN   int
	CheckpointInterval time.Duration
	ProgressInterval   time.Duration

	// BreakLock reclaims the state directory lock whoever holds it
	BreakLock bool
}

// ConfigFrom extracts the orchestrator settings from the application config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Concurrency:        cfg.Batch.Concurrency,
		StateDir:           cfg.Batch.StateDir,
		ResultLogPath:      cfg.Batch.ResultLogPath(),
		CheckpointPath:     cfg.Batch.CheckpointPath(),
		ProgressPath:       cfg.Batch.ProgressPath(),
		CheckpointEveryN:   cfg.Checkpoint.EveryN,
		CheckpointInterval: cfg.Checkpoint.Interval,
		ProgressInterval:   cfg.Progress.Interval,
	}
}

// Orchestrator owns the lifecycle of one run. It is single use.
type Orchestrator struct {
	config  Config
	invoker Invoker
	emitter events.EventEmitter
	logger  *slog.Logger

	started atomic.Bool

	stateMu sync.Mutex
	state   State
	runID   string

	checkpoint *checkpoint.Manager
	writer     *resultlog.Writer
	progress   *progress.Tracker

	// commitMu makes append, checkpoint observe and progress update one step,
	// so checkpoint offsets follow log order.
	commitMu sync.Mutex

	cancelWork context.CancelFunc
	fatalMu    sync.Mutex
	fatalErr   error
}

// New creates an Orchestrator.
func New(cfg Config, invoker Invoker, emitter events.EventEmitter, logger *slog.Logger) (*Orchestrator, error) {
	if invoker == nil {
		return nil, errors.New("invoker cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.StateDir == "" {
		return nil, errors.New("state directory is required")
	}
	if cfg.ResultLogPath == "" || cfg.CheckpointPath == "" || cfg.ProgressPath == "" {
		return nil, errors.New("result log, checkpoint and progress paths are required")
	}
	if !config.WithinDir(cfg.StateDir, cfg.ResultLogPath) || !config.WithinDir(cfg.StateDir, cfg.CheckpointPath) {
		return nil, fmt.Errorf("result log and checkpoint must be inside the state directory %s", cfg.StateDir)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if emitter == nil {
		emitter = events.NopEmitter{}
	}

	return &Orchestrator{
		config:  cfg,
		invoker: invoker,
		emitter: emitter,
		logger:  logger.With("component", "orchestrator"),
		state:   StateInit,
	}, nil
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	return o.state
}

// Run processes every pending item of items and returns the run summary.
//
// Invalid input, a locked or unreadable state directory and an input set that
// does not match existing state fail before any work is dispatched, with a
// nil summary. Once items are dispatched a summary is always returned: on
// cancellation it is ABORTED and the error wraps ErrRunCancelled; on a fatal
// I/O error it is ABORTED and the error describes the failure.
func (o *Orchestrator) Run(ctx context.Context, items []domain.Item) (summary *Summary, err error) {
	if !o.started.CompareAndSwap(false, true) {
		return nil, ErrAlreadyStarted
	}
	start := time.Now()

	o.setState(ctx, StateLoading)

	if err := domain.ValidateItems(items); err != nil {
		return nil, o.abortEarly(ctx, err)
	}

	lock, err := runstore.AcquireRunLock(o.config.StateDir,
		runstore.WithBreakLock(o.config.BreakLock),
		runstore.WithLockLogger(o.logger))
	if err != nil {
		return nil, o.abortEarly(ctx, err)
	}
	defer func() {
		err = multierr.Append(err, lock.Release())
	}()

	manager, err := checkpoint.NewManager(checkpoint.Config{
		Path:        o.config.CheckpointPath,
		LogPath:     o.config.ResultLogPath,
		LineagePath: filepath.Join(o.config.StateDir, config.DefaultLineageFile),
		EveryN:      o.config.CheckpointEveryN,
		Interval:    o.config.CheckpointInterval,
	}, o.emitter, o.logger)
	if err != nil {
		return nil, o.abortEarly(ctx, err)
	}
	o.checkpoint = manager

	loaded, err := manager.LoadOrRebuild(ctx, checkpoint.ExpectItems(items))
	if err != nil {
		return nil, o.abortEarly(ctx, fmt.Errorf("reconcile run state: %w", err))
	}

	o.stateMu.Lock()
	o.runID = loaded.RunID
	o.stateMu.Unlock()
	o.logger = o.logger.With("run_id", loaded.RunID)

	writer, err := resultlog.OpenWriter(o.config.ResultLogPath)
	if err != nil {
		return nil, o.abortEarly(ctx, err)
	}
	o.writer = writer
	defer func() {
		err = multierr.Append(err, writer.Close())
	}()

	pending := make([]domain.Item, 0, len(items))
	for _, item := range items {
		if !loaded.IsCompleted(item.ID) {
			pending = append(pending, item)
		}
	}

	_, failed, _ := loaded.Counts()
	o.progress = progress.NewTracker(o.config.ProgressPath, o.config.ProgressInterval, o.logger)
	o.progress.SetRunID(loaded.RunID)
	o.progress.SetState(string(o.State()))
	o.progress.Update(int64(len(loaded.Statuses)), int64(failed), int64(len(items)))

	o.logger.InfoContext(ctx, "run loaded",
		"total", len(items),
		"pending", len(pending),
		"resumed", loaded.Resumed,
		"concurrency", o.config.Concurrency)

	if len(pending) > 0 {
		o.setState(ctx, StateRunning)
		o.progress.Start(context.WithoutCancel(ctx))
		o.dispatch(ctx, pending)
	}

	return o.finish(ctx, items, loaded.Resumed, time.Since(start))
}

// dispatch queues pending items and blocks until every worker has stopped.
func (o *Orchestrator) dispatch(ctx context.Context, pending []domain.Item) {
	workCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.cancelWork = cancel

	queue := NewWorkQueue(len(pending), o.logger)
	for _, item := range pending {
		if err := queue.Enqueue(item); err != nil {
			o.fail(fmt.Errorf("queue item %s: %w", item.ID, err))
			break
		}
	}
	queue.Close()

	pool := NewWorkerPool(queue, WorkerPoolConfig{WorkerCount: o.config.Concurrency}, o.logger)
	pool.SetDrainHandler(func() {
		o.setState(ctx, StateDraining)
	})

	stopTicker := o.startCheckpointTicker(workCtx)
	pool.Run(workCtx, o.processItem)
	stopTicker()
}

// processItem runs one item to a final outcome and commits it. A
// cancelled item is left pending.
func (o *Orchestrator) processItem(ctx context.Context, workerID int, item domain.Item) {
	logger := o.logger.With("item_id", item.ID, "worker_id", workerID)

	outcome, err := o.invoker.Invoke(ctx, item)
	if errors.Is(err, client.ErrCancelled) {
		logger.InfoContext(ctx, "item left pending after cancellation", "attempts", outcome.Attempts)
		return
	}

	result := o.resultFor(item, outcome, err)
	if err := o.commit(result); err != nil {
		o.fail(err)
		return
	}

	switch result.Status {
	case domain.ResultStatusFailed:
		logger.WarnContext(ctx, "item failed permanently",
			"attempts", result.AttemptCount,
			"error", result.Error)
		o.emit(ctx, events.NewRunEvent(events.TypeItemFailed, o.runID).
			WithItem(item.ID).
			WithMessage(result.Error))
	case domain.ResultStatusSkipped:
		logger.InfoContext(ctx, "item skipped", "reason", result.Error)
	default:
		logger.DebugContext(ctx, "item completed", "attempts", result.AttemptCount)
	}
}

func (o *Orchestrator) resultFor(item domain.Item, outcome client.Outcome, err error) domain.Result {
	if err == nil && len(outcome.Output) > 0 && !json.Valid(outcome.Output) {
		err = fmt.Errorf("%w: output is not valid JSON", generation.ErrInvalidResponse)
	}

	switch {
	case err == nil:
		return domain.NewSuccessResult(o.runID, item.ID, outcome.Output, outcome.Attempts)
	case errors.Is(err, generation.ErrSkipItem):
		return domain.NewSkippedResult(o.runID, item.ID, redact.Error(err), outcome.Attempts)
	default:
		return domain.NewFailedResult(o.runID, item.ID, redact.Error(err), outcome.Attempts)
	}
}

// commit durably records one result. Any error is fatal to the run.
func (o *Orchestrator) commit(result domain.Result) error {
	o.commitMu.Lock()
	defer o.commitMu.Unlock()

	offset, err := o.writer.Append(result)
	if err != nil {
		return fmt.Errorf("commit result for item %s: %w", result.ItemID, err)
	}
	o.checkpoint.Observe(result, offset)
	o.progress.RecordCompleted(result.IsFailed())

	if err := o.checkpoint.PersistIfDue(); err != nil {
		return err
	}
	return nil
}

// startCheckpointTicker persists the checkpoint on its time cadence even
// when results arrive slowly.
func (o *Orchestrator) startCheckpointTicker(ctx context.Context) func() {
	if o.config.CheckpointInterval <= 0 {
		return func() {}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(o.config.CheckpointInterval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := o.checkpoint.PersistIfDue(); err != nil {
					o.fail(err)
					return
				}
			}
		}
	}()

	return func() {
		close(stop)
		<-done
	}
}

// finish persists final state and builds the summary.
func (o *Orchestrator) finish(ctx context.Context, items []domain.Item, resumed bool, duration time.Duration) (*Summary, error) {
	if err := o.checkpoint.PersistIfDirty(); err != nil {
		o.fail(err)
	}

	summary := newSummary(o.checkpoint.State(), items, duration)
	summary.Resumed = resumed

	fatal := o.fatal()
	var runErr error
	switch {
	case fatal != nil:
		summary.State = StateAborted
		runErr = fatal
	case len(summary.Incomplete) > 0:
		summary.State = StateAborted
		runErr = fmt.Errorf("%w: %d items incomplete", ErrRunCancelled, len(summary.Incomplete))
		if cause := context.Cause(ctx); cause != nil {
			runErr = fmt.Errorf("%w: %w", runErr, cause)
		}
	default:
		summary.State = StateCompleted
	}

	o.setState(ctx, summary.State)
	if err := o.progress.Stop(); err != nil {
		o.logger.WarnContext(ctx, "final progress flush failed", "error", err)
	}

	o.logger.InfoContext(ctx, "run finished",
		"state", summary.State,
		"total", summary.Total,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
		"incomplete", len(summary.Incomplete),
		"duration", duration)

	return summary, runErr
}

// fail records the first fatal error and stops dispatch.
func (o *Orchestrator) fail(err error) {
	o.fatalMu.Lock()
	first := o.fatalErr == nil
	if first {
		o.fatalErr = err
	}
	o.fatalMu.Unlock()

	if first {
		o.logger.Error("fatal error, aborting run", "error", err)
	}
	if o.cancelWork != nil {
		o.cancelWork()
	}
}

func (o *Orchestrator) fatal() error {
	o.fatalMu.Lock()
	defer o.fatalMu.Unlock()
	return o.fatalErr
}

// abortEarly moves to ABORTED for failures before dispatch.
func (o *Orchestrator) abortEarly(ctx context.Context, err error) error {
	o.logger.ErrorContext(ctx, "run aborted before dispatch", "error", err)
	o.setState(ctx, StateAborted)
	return err
}

func (o *Orchestrator) setState(ctx context.Context, state State) {
	o.stateMu.Lock()
	if o.state == state || o.state.IsTerminal() {
		o.stateMu.Unlock()
		return
	}
	prev := o.state
	o.state = state
	runID := o.runID
	o.stateMu.Unlock()

	if o.progress != nil {
		o.progress.SetState(string(state))
	}

	o.logger.InfoContext(ctx, "run state changed", "from", prev, "to", state)
	o.emit(ctx, events.NewRunEvent(events.TypeStateChanged, runID).
		WithState(string(state)).
		WithMessage(fmt.Sprintf("%s -> %s", prev, state)))
}

func (o *Orchestrator) emit(ctx context.Context, event *events.RunEvent) {
	if err := o.emitter.EmitEvent(context.WithoutCancel(ctx), event); err != nil {
		o.logger.WarnContext(ctx, "failed to emit event", "event_type", event.Type, "error", err)
	}
}
