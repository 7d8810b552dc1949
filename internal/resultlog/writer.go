package resultlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/phrazzld/scry-batch/internal/domain"
	"go.uber.org/multierr"
)

// Common errors returned by the result log
var (
	// ErrCorruptLog is returned when a malformed record is followed by valid
	// data. Only a trailing record can be the product of an interrupted write,
	// so anything else means the log was damaged and cannot be trusted.
	ErrCorruptLog = errors.New("result log is corrupt")

	// ErrWriterClosed is returned by Append after Close.
	ErrWriterClosed = errors.New("result log writer is closed")
)

// Writer appends results to the log. All workers share one Writer; appends
// are serialized by an internal mutex.
type Writer struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	offset int64

	// err is sticky: after a failed write the tail of the file is unknown and
	// further appends could bury a partial record in the middle of the log.
	err error
}

// OpenWriter opens path for appending, creating it if needed. Existing
// records are never truncated or rewritten.
func OpenWriter(path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create result log directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open result log %s: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("stat result log %s: %w", path, err), file.Close())
	}

	return &Writer{
		path:   path,
		file:   file,
		offset: info.Size(),
	}, nil
}

// Append durably writes one result and returns the byte offset just past the
// new record. The record is on stable storage when Append returns nil.
func (w *Writer) Append(result domain.Result) (int64, error) {
	if err := result.Validate(); err != nil {
		return 0, fmt.Errorf("refusing to append invalid result: %w", err)
	}

	line, err := json.Marshal(result)
	if err != nil {
		return 0, fmt.Errorf("marshal result for item %s: %w", result.ItemID, err)
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return 0, ErrWriterClosed
	}
	if w.err != nil {
		return 0, w.err
	}

	n, err := w.file.Write(line)
	if err != nil {
		w.err = fmt.Errorf("write result log %s: %w", w.path, err)
		return 0, w.err
	}
	if err := w.file.Sync(); err != nil {
		w.err = fmt.Errorf("sync result log %s: %w", w.path, err)
		return 0, w.err
	}

	w.offset += int64(n)
	return w.offset, nil
}

// Offset returns the byte offset just past the last committed record.
func (w *Writer) Offset() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.offset
}

// Path returns the log file path.
func (w *Writer) Path() string {
	return w.path
}

// Close syncs and closes the log. Closing twice is a no-op.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	err := multierr.Combine(w.file.Sync(), w.file.Close())
	w.file = nil
	if err != nil {
		return fmt.Errorf("close result log %s: %w", w.path, err)
	}
	return nil
}
