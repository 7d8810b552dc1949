package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ResultStatus is the outcome of processing one item.
type ResultStatus string

// Possible result status values
const (
	ResultStatusSuccess ResultStatus = "success"
	ResultStatusFailed  ResultStatus = "failed"
	ResultStatusSkipped ResultStatus = "skipped"
)

// Result is the durable outcome record for one item. It is written exactly
// once per item and never modified afterwards.
type Result struct {
	RunID        string          `json:"run_id,omitempty"`
	ItemID       string          `json:"item_id"`
	Status       ResultStatus    `json:"status"`
	Output       json.RawMessage `json:"output"`
	Error        string          `json:"error,omitempty"`
	AttemptCount int             `json:"attempt_count"`
	CompletedAt  time.Time       `json:"completed_at"`
}

// NewSuccessResult records a successful generation.
func NewSuccessResult(runID, itemID string, output json.RawMessage, attempts int) Result {
	return Result{
		RunID:        runID,
		ItemID:       itemID,
		Status:       ResultStatusSuccess,
		Output:       output,
		AttemptCount: attempts,
		CompletedAt:  time.Now().UTC(),
	}
}

// NewFailedResult records a permanent failure for an item.
func NewFailedResult(runID, itemID, errMsg string, attempts int) Result {
	return Result{
		RunID:        runID,
		ItemID:       itemID,
		Status:       ResultStatusFailed,
		Error:        errMsg,
		AttemptCount: attempts,
		CompletedAt:  time.Now().UTC(),
	}
}

// NewSkippedResult records an item the generator declined to process.
func NewSkippedResult(runID, itemID, reason string, attempts int) Result {
	return Result{
		RunID:        runID,
		ItemID:       itemID,
		Status:       ResultStatusSkipped,
		Error:        reason,
		AttemptCount: attempts,
		CompletedAt:  time.Now().UTC(),
	}
}

// Validate checks that a result record is complete. Records read back from
// the result log must pass validation to count as durably completed.
func (r Result) Validate() error {
	if strings.TrimSpace(r.ItemID) == "" {
		return fmt.Errorf("%w: %w", ErrValidation, ErrEmptyItemID)
	}
	if !IsValidResultStatus(r.Status) {
		return fmt.Errorf("%w: %w %q", ErrValidation, ErrInvalidResultStatus, r.Status)
	}
	if r.AttemptCount < 0 {
		return fmt.Errorf("%w: negative attempt count", ErrValidation)
	}
	if r.CompletedAt.IsZero() {
		return fmt.Errorf("%w: missing completion time", ErrValidation)
	}
	return nil
}

// IsFailed reports whether the result is a permanent failure.
func (r Result) IsFailed() bool {
	return r.Status == ResultStatusFailed
}

// IsValidResultStatus checks that a status is one of the known values.
func IsValidResultStatus(status ResultStatus) bool {
	switch status {
	case ResultStatusSuccess, ResultStatusFailed, ResultStatusSkipped:
		return true
	default:
		return false
	}
}
