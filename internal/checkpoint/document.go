package checkpoint

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/phrazzld/scry-batch/internal/domain"
	"github.com/phrazzld/scry-batch/internal/runstore"
)

// SchemaVersion is the current checkpoint document version.
const SchemaVersion = 1

// ErrInvalidDocument is returned for a checkpoint that parses but is not
// internally consistent.
var ErrInvalidDocument = errors.New("invalid checkpoint document")

// Document is the on-disk checkpoint.
type Document struct {
	SchemaVersion    int               `json:"schema_version"`
	RunID            string            `json:"run_id"`
	InputFingerprint string            `json:"input_fingerprint"`
	TotalItems       int               `json:"total_items"`
	CompletedItemIDs []string          `json:"completed_item_ids"`
	FailedItems      map[string]string `json:"failed_items"`
	SkippedItemIDs   []string          `json:"skipped_item_ids"`
	LogOffset        int64             `json:"log_offset"`
	RecordCount      int               `json:"record_count"`
	LastUpdated      time.Time         `json:"last_updated"`
}

// Validate checks the document for internal consistency.
func (d *Document) Validate() error {
	if d.SchemaVersion != SchemaVersion {
		return fmt.Errorf("%w: schema version %d, want %d", ErrInvalidDocument, d.SchemaVersion, SchemaVersion)
	}
	if d.RunID == "" {
		return fmt.Errorf("%w: missing run id", ErrInvalidDocument)
	}
	if d.InputFingerprint == "" {
		return fmt.Errorf("%w: missing input fingerprint", ErrInvalidDocument)
	}
	if d.TotalItems <= 0 {
		return fmt.Errorf("%w: total items must be positive", ErrInvalidDocument)
	}
	if d.LogOffset < 0 || d.RecordCount < 0 {
		return fmt.Errorf("%w: negative log position", ErrInvalidDocument)
	}
	if len(d.CompletedItemIDs) > d.TotalItems {
		return fmt.Errorf("%w: %d completed items exceed total %d", ErrInvalidDocument, len(d.CompletedItemIDs), d.TotalItems)
	}

	completed := make(map[string]struct{}, len(d.CompletedItemIDs))
	for _, id := range d.CompletedItemIDs {
		if _, dup := completed[id]; dup {
			return fmt.Errorf("%w: item %q listed twice", ErrInvalidDocument, id)
		}
		completed[id] = struct{}{}
	}
	for id := range d.FailedItems {
		if _, ok := completed[id]; !ok {
			return fmt.Errorf("%w: failed item %q is not completed", ErrInvalidDocument, id)
		}
	}
	for _, id := range d.SkippedItemIDs {
		if _, ok := completed[id]; !ok {
			return fmt.Errorf("%w: skipped item %q is not completed", ErrInvalidDocument, id)
		}
	}
	return nil
}

// Counts returns the number of succeeded, failed and skipped items.
func (d *Document) Counts() (succeeded, failed, skipped int) {
	failed = len(d.FailedItems)
	skipped = len(d.SkippedItemIDs)
	succeeded = len(d.CompletedItemIDs) - failed - skipped
	return succeeded, failed, skipped
}

// ReadDocument loads and validates the checkpoint at path.
func ReadDocument(path string) (*Document, error) {
	var doc Document
	if err := runstore.ReadJSON(path, &doc); err != nil {
		return nil, err
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Lineage records the input set a state directory was started with. It is
// written once, when the first run of a lineage loads, and survives loss of
// the checkpoint.
type Lineage struct {
	SchemaVersion    int       `json:"schema_version"`
	RunID            string    `json:"run_id"`
	InputFingerprint string    `json:"input_fingerprint"`
	TotalItems       int       `json:"total_items"`
	CreatedAt        time.Time `json:"created_at"`
}

// Matches reports whether the lineage was started with the expected input.
func (l *Lineage) Matches(expect Expectation) bool {
	return l.InputFingerprint == expect.Fingerprint && l.TotalItems == expect.TotalItems
}

// ReadLineage loads the lineage record at path.
func ReadLineage(path string) (*Lineage, error) {
	var l Lineage
	if err := runstore.ReadJSON(path, &l); err != nil {
		return nil, err
	}
	if l.SchemaVersion != SchemaVersion || l.RunID == "" || l.InputFingerprint == "" {
		return nil, fmt.Errorf("%w: incomplete lineage record %s", ErrInvalidDocument, path)
	}
	return &l, nil
}

// index is the in-memory form of a checkpoint.
type index struct {
	runID      string
	statuses   map[string]domain.ResultStatus
	failures   map[string]string
	offset     int64
	records    int
	lastUpdate time.Time
}

func newIndex(runID string) *index {
	return &index{
		runID:    runID,
		statuses: make(map[string]domain.ResultStatus),
		failures: make(map[string]string),
	}
}

func indexFromDocument(doc *Document) *index {
	idx := newIndex(doc.RunID)
	for _, id := range doc.CompletedItemIDs {
		idx.statuses[id] = domain.ResultStatusSuccess
	}
	for id, msg := range doc.FailedItems {
		idx.statuses[id] = domain.ResultStatusFailed
		idx.failures[id] = msg
	}
	for _, id := range doc.SkippedItemIDs {
		idx.statuses[id] = domain.ResultStatusSkipped
	}
	idx.offset = doc.LogOffset
	idx.records = doc.RecordCount
	idx.lastUpdate = doc.LastUpdated
	return idx
}

// apply records one result. It reports false when the item was already
// completed, in which case the index is left unchanged apart from the log
// position.
func (idx *index) apply(result domain.Result, offset int64) bool {
	if offset > idx.offset {
		idx.offset = offset
	}
	idx.records++

	if _, done := idx.statuses[result.ItemID]; done {
		return false
	}
	idx.statuses[result.ItemID] = result.Status
	if result.Status == domain.ResultStatusFailed {
		idx.failures[result.ItemID] = result.Error
	}
	return true
}

func (idx *index) document(fingerprint string, total int, now time.Time) *Document {
	completed := make([]string, 0, len(idx.statuses))
	skipped := []string{}
	for id, status := range idx.statuses {
		completed = append(completed, id)
		if status == domain.ResultStatusSkipped {
			skipped = append(skipped, id)
		}
	}
	sort.Strings(completed)
	sort.Strings(skipped)

	failures := make(map[string]string, len(idx.failures))
	for id, msg := range idx.failures {
		failures[id] = msg
	}

	return &Document{
		SchemaVersion:    SchemaVersion,
		RunID:            idx.runID,
		InputFingerprint: fingerprint,
		TotalItems:       total,
		CompletedItemIDs: completed,
		FailedItems:      failures,
		SkippedItemIDs:   skipped,
		LogOffset:        idx.offset,
		RecordCount:      idx.records,
		LastUpdated:      now,
	}
}
