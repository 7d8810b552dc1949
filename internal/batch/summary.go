package batch

import (
	"sort"
	"time"

	"github.com/phrazzld/scry-batch/internal/checkpoint"
	"github.com/phrazzld/scry-batch/internal/domain"
)

// Failure is one permanently failed item.
type Failure struct {
	ItemID string `json:"item_id"`
	Error  string `json:"error"`
}

// Summary reports the outcome of a run lineage: items finished by earlier
// processes against the same state are included.
type Summary struct {
	RunID     string `json:"run_id"`
	State     State  `json:"state,omitempty"`
	Total     int    `json:"total"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
	Pending   int    `json:"pending"`

	// Resumed is set when earlier run state was picked up
	Resumed bool `json:"resumed"`

	Duration        time.Duration `json:"-"`
	DurationSeconds float64       `json:"duration_seconds"`

	Failures []Failure `json:"failures"`

	// Incomplete lists pending item ids in input order
	Incomplete []string `json:"incomplete,omitempty"`
}

func newSummary(state *checkpoint.State, items []domain.Item, duration time.Duration) *Summary {
	succeeded, failed, skipped := state.Counts()

	summary := &Summary{
		RunID:           state.RunID,
		Total:           len(items),
		Succeeded:       succeeded,
		Failed:          failed,
		Skipped:         skipped,
		Duration:        duration,
		DurationSeconds: duration.Seconds(),
		Failures:        failuresFrom(state.Failures),
	}

	for _, item := range items {
		if !state.IsCompleted(item.ID) {
			summary.Incomplete = append(summary.Incomplete, item.ID)
		}
	}
	summary.Pending = len(summary.Incomplete)
	return summary
}

// SummaryFromCheckpoint reports the state recorded in a checkpoint document,
// without an input set or a live run.
func SummaryFromCheckpoint(doc *checkpoint.Document) *Summary {
	succeeded, failed, skipped := doc.Counts()
	summary := &Summary{
		RunID:     doc.RunID,
		Total:     doc.TotalItems,
		Succeeded: succeeded,
		Failed:    failed,
		Skipped:   skipped,
		Pending:   doc.TotalItems - len(doc.CompletedItemIDs),
		Failures:  failuresFrom(doc.FailedItems),
	}
	if summary.Pending == 0 {
		summary.State = StateCompleted
	}
	return summary
}

func failuresFrom(failed map[string]string) []Failure {
	failures := make([]Failure, 0, len(failed))
	for id, msg := range failed {
		failures = append(failures, Failure{ItemID: id, Error: msg})
	}
	sort.Slice(failures, func(i, j int) bool {
		return failures[i].ItemID < failures[j].ItemID
	})
	return failures
}
