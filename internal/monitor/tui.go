package monitor

import (
	"fmt"
	"strings"
	"time"

	bar "github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/phrazzld/scry-batch/internal/batch"
	"github.com/phrazzld/scry-batch/internal/progress"
)

const (
	barPadding  = 2
	barMaxWidth = 80
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	labelStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
	helpStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	stateStyleOK   = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	stateStyleBad  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	stateStyleBusy = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true)
)

// snapshotMsg carries the result of one read of the progress file.
type snapshotMsg struct {
	snap *progress.Snapshot
	err  error
}

type tickMsg time.Time

// Model is the bubbletea model that polls a progress file.
type Model struct {
	path     string
	interval time.Duration
	read     func(string) (*progress.Snapshot, error)

	// ExitOnDone quits once the run reaches a terminal state.
	ExitOnDone bool

	bar  bar.Model
	snap *progress.Snapshot
	err  error
}

// NewModel returns a model that re-reads path every interval.
func NewModel(path string, interval time.Duration) Model {
	if interval <= 0 {
		interval = progress.DefaultInterval
	}
	return Model{
		path:     path,
		interval: interval,
		read:     progress.ReadSnapshot,
		bar:      bar.New(bar.WithDefaultGradient()),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.load(), m.tick())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, m.load()
		}

	case tea.WindowSizeMsg:
		m.bar.Width = max(min(msg.Width-barPadding*2, barMaxWidth), 10)
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.load(), m.tick())

	case snapshotMsg:
		m.err = msg.err
		if msg.snap != nil {
			m.snap = msg.snap
		}
		if m.ExitOnDone && m.snap != nil && batch.State(m.snap.State).IsTerminal() {
			return m, tea.Quit
		}
		return m, nil
	}

	return m, nil
}

func (m Model) View() string {
	var b strings.Builder
	pad := strings.Repeat(" ", barPadding)

	b.WriteString("\n" + pad + titleStyle.Render("scry-batch progress") + "\n\n")

	if m.snap == nil {
		if m.err != nil {
			b.WriteString(pad + errorStyle.Render("waiting for "+m.path+": "+m.err.Error()) + "\n")
		} else {
			b.WriteString(pad + labelStyle.Render("loading "+m.path) + "\n")
		}
		b.WriteString("\n" + pad + helpStyle.Render("q: quit") + "\n")
		return b.String()
	}

	s := m.snap
	b.WriteString(pad + m.bar.ViewAs(s.Fraction()) + "\n\n")
	fmt.Fprintf(&b, "%s%s %s\n", pad, labelStyle.Render("run:      "), s.RunID)
	fmt.Fprintf(&b, "%s%s %s\n", pad, labelStyle.Render("state:    "), styleForState(s.State).Render(s.State))
	fmt.Fprintf(&b, "%s%s %d/%d (%d failed)\n", pad, labelStyle.Render("completed:"), s.Completed, s.Total, s.Failed)
	fmt.Fprintf(&b, "%s%s %.1f items/min\n", pad, labelStyle.Render("rate:     "), s.ItemsPerMinute)
	fmt.Fprintf(&b, "%s%s %s\n", pad, labelStyle.Render("eta:      "), formatETA(s.ETASeconds))

	if m.err != nil {
		b.WriteString("\n" + pad + errorStyle.Render("last read failed: "+m.err.Error()) + "\n")
	}

	b.WriteString("\n" + pad + helpStyle.Render("r: refresh • q: quit") + "\n")
	return b.String()
}

func (m Model) load() tea.Cmd {
	path, read := m.path, m.read
	return func() tea.Msg {
		snap, err := read(path)
		return snapshotMsg{snap: snap, err: err}
	}
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func styleForState(state string) lipgloss.Style {
	switch batch.State(state) {
	case batch.StateCompleted:
		return stateStyleOK
	case batch.StateAborted:
		return stateStyleBad
	default:
		return stateStyleBusy
	}
}

// formatETA renders the snapshot's ETA, where a negative value means the
// rate is not known yet.
func formatETA(seconds float64) string {
	switch {
	case seconds < 0:
		return "unknown"
	case seconds == 0:
		return "done"
	default:
		return (time.Duration(seconds) * time.Second).Round(time.Second).String()
	}
}
