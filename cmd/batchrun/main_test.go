package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/scry-batch/cmd/batchrun/commands"
	"github.com/phrazzld/scry-batch/internal/batch"
	"github.com/phrazzld/scry-batch/internal/runstore"
)

func writeInput(t *testing.T, ids ...string) string {
	t.Helper()

	var b strings.Builder
	for _, id := range ids {
		fmt.Fprintf(&b, "{\"id\":%q,\"payload\":{\"text\":\"item %s\"}}\n", id, id)
	}
	path := filepath.Join(t.TempDir(), "items.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

// fastClient keeps the default pacing out of test runtime.
func fastClient(t *testing.T) {
	t.Setenv("SCRY_BATCH_CLIENT_REQUESTS_PER_SECOND", "1000")
	t.Setenv("SCRY_BATCH_CLIENT_BURST", "10")
}

func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	err := Run(context.Background(), append([]string{"batchrun"}, args...), strings.NewReader(""), &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

func TestRun_DryRunThenStatus(t *testing.T) {
	fastClient(t)
	stateDir := t.TempDir()
	inputPath := writeInput(t, "a", "b", "c")

	stdout, stderr, err := runCLI(t, "--state-dir", stateDir, "run", "--input", inputPath, "--dry-run", "--concurrency", "2")
	require.NoError(t, err, stderr)
	assert.Equal(t, exitOK, exitCode(err))

	var summary batch.Summary
	require.NoError(t, json.Unmarshal([]byte(stdout), &summary))
	assert.Equal(t, batch.StateCompleted, summary.State)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 3, summary.Succeeded)
	assert.False(t, summary.Resumed)
	assert.Contains(t, stderr, `"msg":"run finished"`, "logs go to stderr")

	stdout, stderr, err = runCLI(t, "--state-dir", stateDir, "status")
	require.NoError(t, err, stderr)

	var report commands.StatusReport
	require.NoError(t, json.Unmarshal([]byte(stdout), &report))
	require.NotNil(t, report.Summary)
	assert.Equal(t, summary.RunID, report.Summary.RunID)
	assert.Equal(t, 3, report.Summary.Succeeded)
	assert.Equal(t, batch.StateCompleted, report.Summary.State)
	require.NotNil(t, report.Progress)
	assert.Equal(t, int64(3), report.Progress.Completed)
	assert.Nil(t, report.Owner, "no run holds the lock")
}

func TestRun_SecondRunResumes(t *testing.T) {
	fastClient(t)
	stateDir := t.TempDir()
	inputPath := writeInput(t, "a", "b")

	_, stderr, err := runCLI(t, "--state-dir", stateDir, "run", "-i", inputPath, "--dry-run")
	require.NoError(t, err, stderr)

	stdout, stderr, err := runCLI(t, "--state-dir", stateDir, "run", "-i", inputPath, "--dry-run")
	require.NoError(t, err, stderr)

	var summary batch.Summary
	require.NoError(t, json.Unmarshal([]byte(stdout), &summary))
	assert.True(t, summary.Resumed)
	assert.Equal(t, 2, summary.Succeeded)
}

func TestRun_InputMismatchFails(t *testing.T) {
	fastClient(t)
	stateDir := t.TempDir()

	_, stderr, err := runCLI(t, "--state-dir", stateDir, "run", "-i", writeInput(t, "a", "b"), "--dry-run")
	require.NoError(t, err, stderr)

	stdout, _, err := runCLI(t, "--state-dir", stateDir, "run", "-i", writeInput(t, "a", "z"), "--dry-run")
	require.Error(t, err)
	assert.Empty(t, stdout, "no summary without a run")
	assert.Equal(t, exitError, exitCode(err))
}

func TestRun_BreakLock(t *testing.T) {
	fastClient(t)
	stateDir := t.TempDir()
	lockDir := filepath.Join(stateDir, ".run.lock")
	require.NoError(t, runstore.Mkdir(lockDir))
	host, err := os.Hostname()
	require.NoError(t, err)
	require.NoError(t, runstore.WriteJSON(filepath.Join(lockDir, "owner.json"), runstore.LockOwner{
		PID:       os.Getppid(),
		CreatedAt: "2026-01-01T00:00:00Z",
		Hostname:  host,
	}))
	inputPath := writeInput(t, "a", "b")

	_, _, err = runCLI(t, "--state-dir", stateDir, "run", "-i", inputPath, "--dry-run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pid=")

	stdout, stderr, err := runCLI(t, "--state-dir", stateDir, "run", "-i", inputPath, "--dry-run", "--break-lock")
	require.NoError(t, err, stderr)
	assert.Contains(t, stderr, "reclaiming run lock")

	var summary batch.Summary
	require.NoError(t, json.Unmarshal([]byte(stdout), &summary))
	assert.Equal(t, 2, summary.Succeeded)
}

func TestRun_StatusWithoutCheckpoint(t *testing.T) {
	_, _, err := runCLI(t, "--state-dir", t.TempDir(), "status")
	require.Error(t, err)
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.Equal(t, exitError, exitCode(err))
}

func TestRun_InvalidArguments(t *testing.T) {
	tests := map[string][]string{
		"missing input":   {"run"},
		"unknown command": {"explode"},
		"bad concurrency": {"run", "-i", "items.jsonl", "--concurrency", "many"},
	}

	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			_, _, err := runCLI(t, args...)
			assert.Error(t, err)
		})
	}
}

func TestRun_ConcurrencyOverrideValidated(t *testing.T) {
	_, _, err := runCLI(t, "--state-dir", t.TempDir(), "run", "-i", writeInput(t, "a"), "--dry-run", "--concurrency=500")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config validation failed")
}

func TestExitCode(t *testing.T) {
	t.Parallel()

	assert.Equal(t, exitOK, exitCode(nil))
	assert.Equal(t, exitError, exitCode(errors.New("boom")))
	assert.Equal(t, exitCancelled, exitCode(errInterrupted))
	assert.Equal(t, exitCancelled, exitCode(fmt.Errorf("%q command failed: %w", "run", batch.ErrRunCancelled)))
}
