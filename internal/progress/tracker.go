// Package progress publishes live run counters to a snapshot file for
// external monitors.
//
// The snapshot is purely observational: it is derived from in-memory
// counters, replaced atomically on a fixed timer, and losing it never
// affects the run.
package progress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phrazzld/scry-batch/internal/runstore"
)

// DefaultInterval is the flush period when none is configured.
const DefaultInterval = 2 * time.Second

// Snapshot is the document written to the progress file. Completed counts
// every item that is no longer pending, failed items included.
type Snapshot struct {
	RunID          string    `json:"run_id"`
	State          string    `json:"state"`
	Completed      int64     `json:"completed"`
	Failed         int64     `json:"failed"`
	Total          int64     `json:"total"`
	ItemsPerMinute float64   `json:"items_per_minute"`
	ETASeconds     float64   `json:"eta_seconds"`
	StartedAt      time.Time `json:"started_at"`
	SnapshotAt     time.Time `json:"snapshot_at"`
}

// Remaining returns the number of pending items.
func (s Snapshot) Remaining() int64 {
	if s.Total <= s.Completed {
		return 0
	}
	return s.Total - s.Completed
}

// Fraction returns completion in [0, 1].
func (s Snapshot) Fraction() float64 {
	if s.Total <= 0 {
		return 0
	}
	return float64(s.Completed) / float64(s.Total)
}

// Tracker holds the live counters. Update, RecordCompleted and SetState are
// lock-free and may be called from any worker.
type Tracker struct {
	path     string
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	runID     atomic.Pointer[string]
	state     atomic.Pointer[string]
	completed atomic.Int64
	failed    atomic.Int64
	total     atomic.Int64

	// finished counts items completed by this process; the rate is computed
	// from it so resumed work does not inflate throughput.
	finished  atomic.Int64
	startedAt time.Time

	flushMu  sync.Mutex
	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewTracker creates a Tracker that flushes to path every interval.
func NewTracker(path string, interval time.Duration, logger *slog.Logger) *Tracker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	t := &Tracker{
		path:     path,
		interval: interval,
		logger:   logger.With("component", "progress"),
		now:      func() time.Time { return time.Now().UTC() },
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	t.startedAt = t.now()
	t.SetRunID("")
	t.SetState("")
	return t
}

// SetRunID sets the run id reported in snapshots.
func (t *Tracker) SetRunID(runID string) {
	t.runID.Store(&runID)
}

// SetState sets the run state reported in snapshots.
func (t *Tracker) SetState(state string) {
	t.state.Store(&state)
}

// Update sets absolute counter values, typically from a resumed checkpoint.
func (t *Tracker) Update(completed, failed, total int64) {
	t.total.Store(total)
	t.completed.Store(completed)
	t.failed.Store(failed)
}

// RecordCompleted counts one finished item.
func (t *Tracker) RecordCompleted(failed bool) {
	// completed is bumped before failed so a concurrent Snapshot, which reads
	// failed first, never sees failed > completed.
	t.completed.Add(1)
	if failed {
		t.failed.Add(1)
	}
	t.finished.Add(1)
}

// Snapshot returns the current counters with derived rate and ETA. ETA is
// -1 while no item has finished in this process.
func (t *Tracker) Snapshot() Snapshot {
	failed := t.failed.Load()
	completed := t.completed.Load()
	total := t.total.Load()
	finished := t.finished.Load()
	now := t.now()

	snap := Snapshot{
		RunID:      *t.runID.Load(),
		State:      *t.state.Load(),
		Completed:  completed,
		Failed:     failed,
		Total:      total,
		StartedAt:  t.startedAt,
		SnapshotAt: now,
	}

	elapsed := now.Sub(t.startedAt)
	if finished > 0 && elapsed > 0 {
		snap.ItemsPerMinute = float64(finished) / elapsed.Minutes()
	}

	switch remaining := snap.Remaining(); {
	case remaining == 0:
		snap.ETASeconds = 0
	case snap.ItemsPerMinute > 0:
		snap.ETASeconds = float64(remaining) / snap.ItemsPerMinute * 60
	default:
		snap.ETASeconds = -1
	}
	return snap
}

// Flush writes the current snapshot atomically.
func (t *Tracker) Flush() error {
	t.flushMu.Lock()
	defer t.flushMu.Unlock()

	if err := runstore.WriteJSON(t.path, t.Snapshot()); err != nil {
		return fmt.Errorf("flush progress: %w", err)
	}
	return nil
}

// Start flushes on a fixed timer until ctx is done or Stop is called.
// Flush failures are logged and otherwise ignored.
func (t *Tracker) Start(ctx context.Context) {
	if !t.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(t.done)

		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-t.stop:
				return
			case <-ticker.C:
				if err := t.Flush(); err != nil {
					t.logger.Warn("progress flush failed", "error", err)
				}
			}
		}
	}()
}

// Stop ends the timer started by Start, if any, and performs a final flush.
func (t *Tracker) Stop() error {
	t.stopOnce.Do(func() {
		close(t.stop)
	})

	if t.started.Load() {
		<-t.done
	}
	return t.Flush()
}

// ReadSnapshot reads a progress file written by a Tracker.
func ReadSnapshot(path string) (*Snapshot, error) {
	var snap Snapshot
	if err := runstore.ReadJSON(path, &snap); err != nil {
		return nil, err
	}
	if snap.Total < 0 || snap.Completed < 0 || snap.Failed < 0 {
		return nil, errors.New("progress snapshot has negative counters")
	}
	return &snap, nil
}
