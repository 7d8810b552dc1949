package resultlog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/phrazzld/scry-batch/internal/domain"
	"go.uber.org/multierr"
)

// ErrOffsetBeyondEnd is returned by Scan when the start offset lies past the
// end of the log, which means the log was replaced or shortened.
var ErrOffsetBeyondEnd = errors.New("offset is beyond the end of the result log")

// Record is one committed result together with its position in the log.
type Record struct {
	Result domain.Result

	// Offset is the byte offset just past this record.
	Offset int64
}

// ScanReport summarizes a Scan.
type ScanReport struct {
	// ValidOffset is the offset just past the last committed record. A log
	// with trailing garbage must be truncated to this offset before appending.
	ValidOffset int64

	// Records is the number of committed records visited.
	Records int

	// TrailingGarbage reports an interrupted write at the end of the log.
	TrailingGarbage bool

	// GarbageBytes is the size of the trailing garbage.
	GarbageBytes int64
}

// Size returns the size of the log file. A missing log has size zero.
func Size(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("stat result log %s: %w", path, err)
	}
	return info.Size(), nil
}

// Scan reads committed records starting at from, which must be a record
// boundary, and calls fn for each one in log order. An error from fn stops
// the scan and is returned unchanged.
//
// A malformed last line, or a last line without its newline, is reported as
// trailing garbage. A malformed line followed by more data yields
// ErrCorruptLog. A missing log scans as empty.
func Scan(path string, from int64, fn func(Record) error) (report ScanReport, err error) {
	report.ValidOffset = from

	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && from == 0 {
			return report, nil
		}
		if errors.Is(err, fs.ErrNotExist) {
			return report, fmt.Errorf("%w: log %s is missing, offset %d", ErrOffsetBeyondEnd, path, from)
		}
		return report, fmt.Errorf("open result log %s: %w", path, err)
	}
	defer func() {
		err = multierr.Append(err, file.Close())
	}()

	info, err := file.Stat()
	if err != nil {
		return report, fmt.Errorf("stat result log %s: %w", path, err)
	}
	if from > info.Size() {
		return report, fmt.Errorf("%w: offset %d, size %d", ErrOffsetBeyondEnd, from, info.Size())
	}
	if _, err := file.Seek(from, io.SeekStart); err != nil {
		return report, fmt.Errorf("seek result log %s to %d: %w", path, from, err)
	}

	reader := bufio.NewReader(file)
	offset := from
	badAt := int64(-1)

	for {
		line, readErr := reader.ReadBytes('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return report, fmt.Errorf("read result log %s at %d: %w", path, offset, readErr)
		}
		if len(line) == 0 {
			break
		}

		start := offset
		offset += int64(len(line))

		if badAt >= 0 {
			// Data after a malformed line: not an interrupted write.
			return report, fmt.Errorf("%w: malformed record at offset %d is followed by more data", ErrCorruptLog, badAt)
		}

		if readErr != nil {
			// No terminating newline, so the record was never committed.
			badAt = start
			break
		}

		result, ok := decodeRecord(line)
		if !ok {
			badAt = start
			continue
		}

		report.Records++
		report.ValidOffset = offset
		if err := fn(Record{Result: result, Offset: offset}); err != nil {
			return report, err
		}
	}

	if badAt >= 0 {
		report.TrailingGarbage = true
		report.GarbageBytes = offset - badAt
	}
	return report, nil
}

func decodeRecord(line []byte) (domain.Result, bool) {
	var result domain.Result
	if err := json.Unmarshal(line, &result); err != nil {
		return domain.Result{}, false
	}
	if err := result.Validate(); err != nil {
		return domain.Result{}, false
	}
	return result, true
}

// Truncate cuts the log back to offset, discarding an interrupted trailing
// write. It must only be called before a Writer is opened on path.
func Truncate(path string, offset int64) (err error) {
	file, err := os.OpenFile(path, os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open result log %s for truncation: %w", path, err)
	}
	defer func() {
		err = multierr.Append(err, file.Close())
	}()

	if err := file.Truncate(offset); err != nil {
		return fmt.Errorf("truncate result log %s to %d: %w", path, offset, err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("sync result log %s: %w", path, err)
	}
	return nil
}
