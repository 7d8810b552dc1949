// Package logger provides structured logging functionality for the batch runner.
//
// It utilizes Go's standard library log/slog package to implement structured JSON logging
// with configurable log levels and output streams.
package logger
