package resultlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/phrazzld/scry-batch/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func logPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "state", "results.jsonl")
}

func success(id string) domain.Result {
	return domain.NewSuccessResult("run-1", id, json.RawMessage(`{"id":"`+id+`"}`), 1)
}

func collect(t *testing.T, path string, from int64) ([]Record, ScanReport, error) {
	t.Helper()
	var records []Record
	report, err := Scan(path, from, func(r Record) error {
		records = append(records, r)
		return nil
	})
	return records, report, err
}

func writeAll(t *testing.T, path string, results ...domain.Result) []int64 {
	t.Helper()
	w, err := OpenWriter(path)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, w.Close())
	}()

	offsets := make([]int64, 0, len(results))
	for _, r := range results {
		off, err := w.Append(r)
		require.NoError(t, err)
		offsets = append(offsets, off)
	}
	return offsets
}

func TestAppendAndScan(t *testing.T) {
	t.Parallel()
	path := logPath(t)

	offsets := writeAll(t, path, success("a"), domain.NewFailedResult("run-1", "b", "boom", 4), success("c"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, info.Size(), offsets[2])
	assert.Less(t, offsets[0], offsets[1])

	records, report, err := collect(t, path, 0)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, 3, report.Records)
	assert.False(t, report.TrailingGarbage)
	assert.Equal(t, offsets[2], report.ValidOffset)

	assert.Equal(t, "a", records[0].Result.ItemID)
	assert.Equal(t, domain.ResultStatusFailed, records[1].Result.Status)
	assert.Equal(t, "boom", records[1].Result.Error)
	assert.Equal(t, 4, records[1].Result.AttemptCount)
	assert.Equal(t, offsets[1], records[1].Offset)
}

func TestScan_FromOffset(t *testing.T) {
	t.Parallel()
	path := logPath(t)
	offsets := writeAll(t, path, success("a"), success("b"), success("c"))

	records, report, err := collect(t, path, offsets[0])
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "b", records[0].Result.ItemID)
	assert.Equal(t, offsets[2], report.ValidOffset)

	records, report, err = collect(t, path, offsets[2])
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Equal(t, offsets[2], report.ValidOffset)
}

func TestScan_OffsetBeyondEnd(t *testing.T) {
	t.Parallel()
	path := logPath(t)
	writeAll(t, path, success("a"))

	_, _, err := collect(t, path, 1<<20)
	assert.ErrorIs(t, err, ErrOffsetBeyondEnd)

	_, _, err = collect(t, filepath.Join(t.TempDir(), "missing.jsonl"), 10)
	assert.ErrorIs(t, err, ErrOffsetBeyondEnd)
}

func TestScan_MissingLogIsEmpty(t *testing.T) {
	t.Parallel()

	records, report, err := collect(t, filepath.Join(t.TempDir(), "missing.jsonl"), 0)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Equal(t, int64(0), report.ValidOffset)
}

func TestScan_TruncatedAtEveryByte(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	full := filepath.Join(dir, "full.jsonl")
	offsets := writeAll(t, full, success("a"), success("b"), success("c"))

	data, err := os.ReadFile(full)
	require.NoError(t, err)

	for cut := int64(0); cut <= int64(len(data)); cut++ {
		path := filepath.Join(dir, fmt.Sprintf("cut-%d.jsonl", cut))
		require.NoError(t, os.WriteFile(path, data[:cut], 0o644))

		records, report, err := collect(t, path, 0)
		require.NoError(t, err, "cut at %d", cut)

		committed := 0
		var lastBoundary int64
		for _, off := range offsets {
			if off <= cut {
				committed++
				lastBoundary = off
			}
		}
		assert.Len(t, records, committed, "cut at %d", cut)
		assert.Equal(t, lastBoundary, report.ValidOffset, "cut at %d", cut)
		assert.Equal(t, cut != lastBoundary, report.TrailingGarbage, "cut at %d", cut)
		assert.Equal(t, cut-lastBoundary, report.GarbageBytes, "cut at %d", cut)
	}
}

func TestScan_CorruptMiddleRecord(t *testing.T) {
	t.Parallel()
	path := logPath(t)
	writeAll(t, path, success("a"))

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{not json}\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	writeAll(t, path, success("b"))

	_, _, err = collect(t, path, 0)
	assert.ErrorIs(t, err, ErrCorruptLog)
}

func TestScan_InvalidRecordAtEndIsGarbage(t *testing.T) {
	t.Parallel()
	path := logPath(t)
	offsets := writeAll(t, path, success("a"))

	// Parses as JSON but is not a valid result.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"item_id":"","status":"success"}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	records, report, err := collect(t, path, 0)
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.True(t, report.TrailingGarbage)
	assert.Equal(t, offsets[0], report.ValidOffset)
}

func TestScan_CallbackErrorStops(t *testing.T) {
	t.Parallel()
	path := logPath(t)
	writeAll(t, path, success("a"), success("b"))

	stop := errors.New("stop")
	calls := 0
	_, err := Scan(path, 0, func(Record) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestTruncateThenResumeAppending(t *testing.T) {
	t.Parallel()
	path := logPath(t)
	offsets := writeAll(t, path, success("a"), success("b"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:offsets[1]-5], 0o644))

	_, report, err := collect(t, path, 0)
	require.NoError(t, err)
	require.True(t, report.TrailingGarbage)

	require.NoError(t, Truncate(path, report.ValidOffset))
	writeAll(t, path, success("b"))

	records, report, err := collect(t, path, 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.False(t, report.TrailingGarbage)
	assert.Equal(t, "b", records[1].Result.ItemID)
}

func TestOpenWriter_NeverTruncates(t *testing.T) {
	t.Parallel()
	path := logPath(t)
	first := writeAll(t, path, success("a"))

	w, err := OpenWriter(path)
	require.NoError(t, err)
	assert.Equal(t, first[0], w.Offset())
	require.NoError(t, w.Close())

	records, _, err := collect(t, path, 0)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestAppend_RejectsInvalidResult(t *testing.T) {
	t.Parallel()
	w, err := OpenWriter(logPath(t))
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Append(domain.Result{ItemID: "a", Status: "weird"})
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, int64(0), w.Offset())
}

func TestAppend_AfterClose(t *testing.T) {
	t.Parallel()
	w, err := OpenWriter(logPath(t))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	_, err = w.Append(success("a"))
	assert.ErrorIs(t, err, ErrWriterClosed)
}

func TestAppend_ConcurrentWriters(t *testing.T) {
	t.Parallel()
	path := logPath(t)
	w, err := OpenWriter(path)
	require.NoError(t, err)

	const workers, perWorker = 8, 25
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				_, err := w.Append(success(fmt.Sprintf("w%d-%d", worker, j)))
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()
	require.NoError(t, w.Close())

	records, report, err := collect(t, path, 0)
	require.NoError(t, err)
	assert.Len(t, records, workers*perWorker)
	assert.False(t, report.TrailingGarbage)

	seen := make(map[string]bool)
	for _, r := range records {
		assert.False(t, seen[r.Result.ItemID], "duplicate %s", r.Result.ItemID)
		seen[r.Result.ItemID] = true
	}
}

func TestSize(t *testing.T) {
	t.Parallel()
	path := logPath(t)

	size, err := Size(path)
	require.NoError(t, err)
	assert.Zero(t, size)

	offsets := writeAll(t, path, success("a"))
	size, err = Size(path)
	require.NoError(t, err)
	assert.Equal(t, offsets[0], size)
}
