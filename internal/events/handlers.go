package events

import (
	"context"
	"log/slog"
	"sync"
)

// LogHandler writes every event to a structured logger. Recovered faults are
// logged at warn level, everything else at info.
type LogHandler struct {
	logger *slog.Logger
}

// NewLogHandler creates a LogHandler.
func NewLogHandler(logger *slog.Logger) *LogHandler {
	return &LogHandler{logger: logger.With("component", "run_events")}
}

// HandleEvent implements EventHandler.
func (h *LogHandler) HandleEvent(ctx context.Context, event *RunEvent) error {
	level := slog.LevelInfo
	switch event.Type {
	case TypeLogRepaired, TypeCheckpointRebuilt, TypeItemFailed:
		level = slog.LevelWarn
	}

	attrs := []any{
		"event_id", event.ID,
		"event_type", event.Type,
		"run_id", event.RunID,
	}
	if event.State != "" {
		attrs = append(attrs, "state", event.State)
	}
	if event.ItemID != "" {
		attrs = append(attrs, "item_id", event.ItemID)
	}

	msg := event.Message
	if msg == "" {
		msg = event.Type
	}
	h.logger.Log(ctx, level, msg, attrs...)
	return nil
}

// Recorder keeps every event it receives. It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []RunEvent
}

// HandleEvent implements EventHandler.
func (r *Recorder) HandleEvent(_ context.Context, event *RunEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *event)
	return nil
}

// EmitEvent lets a Recorder stand in for an emitter.
func (r *Recorder) EmitEvent(ctx context.Context, event *RunEvent) error {
	return r.HandleEvent(ctx, event)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []RunEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RunEvent, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns the recorded events of one type.
func (r *Recorder) OfType(eventType string) []RunEvent {
	var out []RunEvent
	for _, e := range r.Events() {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// States returns the states of recorded state-change events in order.
func (r *Recorder) States() []string {
	var out []string
	for _, e := range r.OfType(TypeStateChanged) {
		out = append(out, e.State)
	}
	return out
}
