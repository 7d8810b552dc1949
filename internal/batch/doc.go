// Package batch drives a run over an input set.
//
// The Orchestrator reconciles earlier run state, dispatches pending items to
// a fixed worker pool through a rate-limited client, and commits every final
// outcome to the result log, the checkpoint and the progress tracker in a
// single critical section. Item-level failures become Failed results and
// never stop the run; I/O failures on durable state abort it.
package batch
