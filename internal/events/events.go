package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event types published during a run.
const (
	// TypeStateChanged is published on every orchestrator state transition.
	TypeStateChanged = "run.state_changed"

	// TypeItemFailed is published when an item is recorded as a permanent failure.
	TypeItemFailed = "item.failed"

	// TypeLogRepaired is published when an interrupted trailing write is
	// truncated from the result log.
	TypeLogRepaired = "log.repaired"

	// TypeCheckpointRebuilt is published when the checkpoint is rebuilt from
	// the result log.
	TypeCheckpointRebuilt = "checkpoint.rebuilt"
)

// RunEvent represents a notable occurrence during a batch run.
type RunEvent struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	// Type is one of the Type* constants
	Type string `json:"type"`

	// RunID identifies the run lineage that produced the event
	RunID string `json:"run_id"`

	// State is the orchestrator state, set for state changes
	State string `json:"state,omitempty"`

	// ItemID is set for item-level events
	ItemID string `json:"item_id,omitempty"`

	// Message is a human-readable description
	Message string `json:"message,omitempty"`

	// CreatedAt is the timestamp when the event was created
	CreatedAt time.Time `json:"created_at"`
}

// NewRunEvent creates a new RunEvent with a fresh id and timestamp.
func NewRunEvent(eventType, runID string) *RunEvent {
	return &RunEvent{
		ID:        uuid.New(),
		Type:      eventType,
		RunID:     runID,
		CreatedAt: time.Now().UTC(),
	}
}

// WithState sets the state and returns the event.
func (e *RunEvent) WithState(state string) *RunEvent {
	e.State = state
	return e
}

// WithItem sets the item id and returns the event.
func (e *RunEvent) WithItem(itemID string) *RunEvent {
	e.ItemID = itemID
	return e
}

// WithMessage sets the message and returns the event.
func (e *RunEvent) WithMessage(message string) *RunEvent {
	e.Message = message
	return e
}

// EventHandler defines an interface for components that can handle events.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	// Returns an error if the event cannot be handled successfully.
	HandleEvent(ctx context.Context, event *RunEvent) error
}

// EventEmitter defines an interface for components that can emit events.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	EmitEvent(ctx context.Context, event *RunEvent) error
}

// NopEmitter discards every event.
type NopEmitter struct{}

// EmitEvent implements EventEmitter.
func (NopEmitter) EmitEvent(context.Context, *RunEvent) error {
	return nil
}
