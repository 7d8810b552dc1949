package monitor

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/scry-batch/internal/progress"
	"github.com/phrazzld/scry-batch/internal/runstore"
)

func runningSnapshot() *progress.Snapshot {
	return &progress.Snapshot{
		RunID:          "run-7",
		State:          "RUNNING",
		Completed:      3,
		Failed:         1,
		Total:          10,
		ItemsPerMinute: 12,
		ETASeconds:     35,
	}
}

func TestModel_LoadReadsSnapshot(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "progress.json")
	require.NoError(t, runstore.WriteJSON(path, runningSnapshot()))

	m := NewModel(path, time.Second)
	msg := m.load()()

	sm, ok := msg.(snapshotMsg)
	require.True(t, ok)
	require.NoError(t, sm.err)
	assert.Equal(t, "run-7", sm.snap.RunID)
}

func TestModel_ViewShowsCounters(t *testing.T) {
	t.Parallel()

	m := NewModel("progress.json", time.Second)
	updated, cmd := m.Update(snapshotMsg{snap: runningSnapshot()})
	assert.Nil(t, cmd)

	view := updated.View()
	assert.Contains(t, view, "run-7")
	assert.Contains(t, view, "RUNNING")
	assert.Contains(t, view, "3/10 (1 failed)")
	assert.Contains(t, view, "12.0 items/min")
	assert.Contains(t, view, "35s")
}

func TestModel_KeepsLastSnapshotOnReadError(t *testing.T) {
	t.Parallel()

	m := NewModel("progress.json", time.Second)
	updated, _ := m.Update(snapshotMsg{snap: runningSnapshot()})
	updated, _ = updated.Update(snapshotMsg{err: errors.New("disk gone")})

	view := updated.View()
	assert.Contains(t, view, "3/10")
	assert.Contains(t, view, "last read failed: disk gone")
}

func TestModel_WaitingView(t *testing.T) {
	t.Parallel()

	m := NewModel("missing.json", time.Second)
	assert.Contains(t, m.View(), "loading missing.json")

	updated, _ := m.Update(snapshotMsg{err: errors.New("no such file")})
	assert.Contains(t, updated.View(), "waiting for missing.json: no such file")
}

func TestModel_QuitKeys(t *testing.T) {
	t.Parallel()

	m := NewModel("progress.json", time.Second)
	for _, key := range []tea.KeyMsg{
		{Type: tea.KeyRunes, Runes: []rune{'q'}},
		{Type: tea.KeyEsc},
		{Type: tea.KeyCtrlC},
	} {
		_, cmd := m.Update(key)
		require.NotNil(t, cmd, key.String())
		assert.Equal(t, tea.QuitMsg{}, cmd(), key.String())
	}
}

func TestModel_ExitOnDone(t *testing.T) {
	t.Parallel()

	done := runningSnapshot()
	done.State = "COMPLETED"
	done.Completed = 10
	done.ETASeconds = 0

	m := NewModel("progress.json", time.Second)
	_, cmd := m.Update(snapshotMsg{snap: done})
	assert.Nil(t, cmd, "stays open by default")

	m.ExitOnDone = true
	updated, cmd := m.Update(snapshotMsg{snap: done})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.QuitMsg{}, cmd())
	assert.Contains(t, updated.View(), "done")
}

func TestModel_TickSchedulesReload(t *testing.T) {
	t.Parallel()

	m := NewModel("progress.json", time.Second)
	_, cmd := m.Update(tickMsg(time.Now()))
	assert.NotNil(t, cmd)
	assert.NotNil(t, m.Init())
}

func TestFormatETA(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "unknown", formatETA(-1))
	assert.Equal(t, "done", formatETA(0))
	assert.Equal(t, "2m5s", formatETA(125))
}
