package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-batch/internal/domain"
	"github.com/phrazzld/scry-batch/internal/events"
	"github.com/phrazzld/scry-batch/internal/resultlog"
	"github.com/phrazzld/scry-batch/internal/runstore"
)

// Config configures a Manager.
type Config struct {
	// Path is the checkpoint file
	Path string

	// LogPath is the result log the checkpoint indexes
	LogPath string

	// LineagePath records the input set of the run lineage; empty disables
	LineagePath string

	// EveryN persists after this many observed results; zero disables
	EveryN int

	// Interval persists dirty state after this much time; zero disables
	Interval time.Duration
}

// Expectation describes the input set a run is started with.
type Expectation struct {
	Fingerprint string
	TotalItems  int
	ItemIDs     map[string]struct{}
}

// ExpectItems builds the Expectation for an input set.
func ExpectItems(items []domain.Item) Expectation {
	return Expectation{
		Fingerprint: domain.InputFingerprint(items),
		TotalItems:  len(items),
		ItemIDs:     domain.ItemIDs(items),
	}
}

// State is a point-in-time copy of the checkpoint index.
type State struct {
	RunID      string
	TotalItems int

	// Statuses holds the final status of every completed item
	Statuses map[string]domain.ResultStatus

	// Failures maps failed item ids to their error text
	Failures map[string]string

	LogOffset   int64
	RecordCount int

	// Resumed is set when earlier run state was found
	Resumed bool

	// Rebuilt is set when the index was rebuilt from the log
	Rebuilt bool

	// Repaired is set when an interrupted write was truncated from the log
	Repaired bool
}

// IsCompleted reports whether an item needs no further processing.
func (s *State) IsCompleted(itemID string) bool {
	_, ok := s.Statuses[itemID]
	return ok
}

// Counts returns the number of succeeded, failed and skipped items.
func (s *State) Counts() (succeeded, failed, skipped int) {
	for _, status := range s.Statuses {
		switch status {
		case domain.ResultStatusSuccess:
			succeeded++
		case domain.ResultStatusFailed:
			failed++
		case domain.ResultStatusSkipped:
			skipped++
		}
	}
	return succeeded, failed, skipped
}

// FailedIDs returns failed item ids in sorted order.
func (s *State) FailedIDs() []string {
	ids := make([]string, 0, len(s.Failures))
	for id := range s.Failures {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Manager owns the checkpoint file. All methods are safe for concurrent use.
type Manager struct {
	config  Config
	emitter events.EventEmitter
	logger  *slog.Logger
	now     func() time.Time

	mu          sync.Mutex
	expect      Expectation
	idx         *index
	loaded      bool
	dirty       bool
	sinceSave   int
	lastPersist time.Time
}

// NewManager creates a Manager. Call LoadOrRebuild before anything else.
func NewManager(cfg Config, emitter events.EventEmitter, logger *slog.Logger) (*Manager, error) {
	if cfg.Path == "" || cfg.LogPath == "" {
		return nil, errors.New("checkpoint and result log paths are required")
	}
	if emitter == nil {
		emitter = events.NopEmitter{}
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	return &Manager{
		config:  cfg,
		emitter: emitter,
		logger:  logger.With("component", "checkpoint"),
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// LoadOrRebuild reconciles the checkpoint with the result log for the given
// input set and persists the reconciled checkpoint.
//
// A lineage record or checkpoint for a different input set yields
// domain.ErrInputMismatch. A
// missing, unreadable or out-of-range checkpoint is rebuilt from the log. An
// interrupted trailing write is truncated from the log. A log containing ids
// outside the input set yields domain.ErrInputMismatch; a malformed record
// in the middle of the log yields resultlog.ErrCorruptLog.
func (m *Manager) LoadOrRebuild(ctx context.Context, expect Expectation) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.expect = expect

	logSize, err := resultlog.Size(m.config.LogPath)
	if err != nil {
		return nil, err
	}

	lineage, err := m.readLineage(ctx)
	if err != nil {
		return nil, err
	}
	if lineage != nil && !lineage.Matches(expect) {
		return nil, fmt.Errorf("%w: state directory was started with %d items (fingerprint %.12s), input has %d (fingerprint %.12s)",
			domain.ErrInputMismatch,
			lineage.TotalItems, lineage.InputFingerprint,
			expect.TotalItems, expect.Fingerprint)
	}

	doc, reason, err := m.readCheckpoint(logSize)
	if err != nil {
		return nil, err
	}
	if doc != nil {
		if doc.InputFingerprint != expect.Fingerprint || doc.TotalItems != expect.TotalItems {
			return nil, fmt.Errorf("%w: checkpoint %s was written for %d items (fingerprint %.12s), input has %d (fingerprint %.12s)",
				domain.ErrInputMismatch, m.config.Path,
				doc.TotalItems, doc.InputFingerprint,
				expect.TotalItems, expect.Fingerprint)
		}
	}

	var (
		idx     *index
		report  resultlog.ScanReport
		rebuilt bool
	)
	if doc != nil {
		idx = indexFromDocument(doc)
		report, err = m.replay(idx, doc.LogOffset)
		if errors.Is(err, resultlog.ErrCorruptLog) && doc.LogOffset > 0 {
			// The recorded offset may not be a record boundary of this log.
			reason = fmt.Sprintf("replay from offset %d failed: %v", doc.LogOffset, err)
			doc = nil
		} else if err != nil {
			return nil, err
		}
	}
	if doc == nil {
		rebuilt = reason != ""
		idx = newIndex("")
		report, err = m.replay(idx, 0)
		if err != nil {
			return nil, err
		}
	}

	resumed := doc != nil || report.ValidOffset > 0 || report.TrailingGarbage
	if idx.runID == "" && lineage != nil {
		idx.runID = lineage.RunID
	}
	if idx.runID == "" {
		idx.runID = uuid.New().String()
	}

	if rebuilt {
		m.logger.WarnContext(ctx, "rebuilt checkpoint from result log",
			"reason", reason,
			"records", idx.records,
			"completed", len(idx.statuses))
		m.emit(ctx, events.NewRunEvent(events.TypeCheckpointRebuilt, idx.runID).WithMessage(reason))
	}

	repaired := false
	if report.TrailingGarbage {
		if err := resultlog.Truncate(m.config.LogPath, report.ValidOffset); err != nil {
			return nil, err
		}
		repaired = true
		msg := fmt.Sprintf("truncated %d bytes of interrupted write at offset %d", report.GarbageBytes, report.ValidOffset)
		m.logger.WarnContext(ctx, "repaired result log",
			"offset", report.ValidOffset,
			"discarded_bytes", report.GarbageBytes)
		m.emit(ctx, events.NewRunEvent(events.TypeLogRepaired, idx.runID).WithMessage(msg))
	}

	m.idx = idx
	m.loaded = true
	if err := m.persistLocked(); err != nil {
		return nil, err
	}
	if lineage == nil && m.config.LineagePath != "" {
		if err := runstore.WriteJSON(m.config.LineagePath, Lineage{
			SchemaVersion:    SchemaVersion,
			RunID:            idx.runID,
			InputFingerprint: expect.Fingerprint,
			TotalItems:       expect.TotalItems,
			CreatedAt:        m.now(),
		}); err != nil {
			return nil, fmt.Errorf("write lineage record: %w", err)
		}
	}

	state := m.stateLocked()
	state.Resumed = resumed
	state.Rebuilt = rebuilt
	state.Repaired = repaired

	m.logger.InfoContext(ctx, "checkpoint loaded",
		"run_id", state.RunID,
		"resumed", resumed,
		"completed", len(state.Statuses),
		"total", state.TotalItems,
		"log_offset", state.LogOffset)
	return state, nil
}

// readLineage returns the lineage record, or nil when there is none yet. A
// damaged record is replaced on load.
func (m *Manager) readLineage(ctx context.Context) (*Lineage, error) {
	if m.config.LineagePath == "" {
		return nil, nil
	}
	lineage, err := ReadLineage(m.config.LineagePath)
	switch {
	case err == nil:
		return lineage, nil
	case errors.Is(err, fs.ErrNotExist):
		return nil, nil
	case errors.Is(err, fs.ErrPermission):
		return nil, fmt.Errorf("read lineage record: %w", err)
	default:
		m.logger.WarnContext(ctx, "replacing unreadable lineage record",
			"path", m.config.LineagePath,
			"error", err)
		return nil, nil
	}
}

// readCheckpoint returns the checkpoint document, or nil with the reason it
// must be rebuilt. A fresh run with no log returns nil and an empty reason.
func (m *Manager) readCheckpoint(logSize int64) (*Document, string, error) {
	doc, err := ReadDocument(m.config.Path)
	switch {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist):
		if logSize == 0 {
			return nil, "", nil
		}
		return nil, "checkpoint missing", nil
	default:
		if errors.Is(err, fs.ErrPermission) {
			return nil, "", fmt.Errorf("read checkpoint: %w", err)
		}
		return nil, fmt.Sprintf("checkpoint unreadable: %v", err), nil
	}

	if doc.LogOffset > logSize {
		return nil, fmt.Sprintf("checkpoint offset %d is beyond log size %d", doc.LogOffset, logSize), nil
	}
	return doc, "", nil
}

// replay folds log records from offset into idx.
func (m *Manager) replay(idx *index, from int64) (resultlog.ScanReport, error) {
	return resultlog.Scan(m.config.LogPath, from, func(rec resultlog.Record) error {
		if _, ok := m.expect.ItemIDs[rec.Result.ItemID]; !ok {
			return fmt.Errorf("%w: result log contains item %q which is not in the input",
				domain.ErrInputMismatch, rec.Result.ItemID)
		}
		if idx.runID == "" {
			idx.runID = rec.Result.RunID
		}
		if !idx.apply(rec.Result, rec.Offset) {
			m.logger.Warn("duplicate result in log, keeping the first",
				"item_id", rec.Result.ItemID,
				"offset", rec.Offset)
		}
		return nil
	})
}

// Observe records a result that was durably appended to the log, ending at
// offset.
func (m *Manager) Observe(result domain.Result, offset int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.idx.apply(result, offset) {
		m.logger.Warn("result observed for completed item, keeping the first",
			"item_id", result.ItemID)
	}
	m.dirty = true
	m.sinceSave++
}

// Due reports whether the persistence cadence has been reached.
func (m *Manager) Due() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dueLocked()
}

func (m *Manager) dueLocked() bool {
	if !m.dirty {
		return false
	}
	if m.config.EveryN > 0 && m.sinceSave >= m.config.EveryN {
		return true
	}
	return m.config.Interval > 0 && m.now().Sub(m.lastPersist) >= m.config.Interval
}

// PersistIfDue persists when the cadence has been reached.
func (m *Manager) PersistIfDue() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.dueLocked() {
		return nil
	}
	return m.persistLocked()
}

// PersistIfDirty persists when anything was observed since the last persist.
func (m *Manager) PersistIfDirty() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.dirty {
		return nil
	}
	return m.persistLocked()
}

// Persist writes the checkpoint atomically.
func (m *Manager) Persist() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.persistLocked()
}

func (m *Manager) persistLocked() error {
	if !m.loaded {
		return errors.New("checkpoint not loaded")
	}

	now := m.now()
	doc := m.idx.document(m.expect.Fingerprint, m.expect.TotalItems, now)
	if err := runstore.WriteJSON(m.config.Path, doc); err != nil {
		return fmt.Errorf("persist checkpoint: %w", err)
	}

	m.idx.lastUpdate = now
	m.lastPersist = now
	m.dirty = false
	m.sinceSave = 0
	return nil
}

// State returns a copy of the current index.
func (m *Manager) State() *State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

func (m *Manager) stateLocked() *State {
	statuses := make(map[string]domain.ResultStatus, len(m.idx.statuses))
	for id, status := range m.idx.statuses {
		statuses[id] = status
	}
	failures := make(map[string]string, len(m.idx.failures))
	for id, msg := range m.idx.failures {
		failures[id] = msg
	}

	return &State{
		RunID:       m.idx.runID,
		TotalItems:  m.expect.TotalItems,
		Statuses:    statuses,
		Failures:    failures,
		LogOffset:   m.idx.offset,
		RecordCount: m.idx.records,
	}
}

// RunID returns the id of the run lineage.
func (m *Manager) RunID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.idx == nil {
		return ""
	}
	return m.idx.runID
}

func (m *Manager) emit(ctx context.Context, event *events.RunEvent) {
	if err := m.emitter.EmitEvent(ctx, event); err != nil {
		m.logger.WarnContext(ctx, "failed to emit event", "event_type", event.Type, "error", err)
	}
}
