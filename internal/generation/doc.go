// Package generation defines the boundary between the batch runner and the
// external AI/LLM service that produces output for each item. The Generator
// interface is deliberately opaque: the runner only needs to know whether a
// call succeeded, failed transiently, or failed permanently.
package generation
