// Package events provides the run event types and a simple in-process
// fan-out emitter.
//
// The batch orchestrator and checkpoint manager publish RunEvents for state
// transitions and recovered faults without knowing who consumes them. The
// primary components are:
// - RunEvent: a single notable occurrence during a run
// - EventHandler: interface for components that consume events
// - EventEmitter: interface for components that publish events
// - LogHandler: a handler that writes events to a structured logger
package events
