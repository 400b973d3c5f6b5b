package cli

import (
	"fmt"
	"strings"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/raphaelgruber/mensa/internal/models"
)

const pollInterval = 250 * time.Millisecond

// jobLine is one row of the progress display.
type jobLine struct {
	Label   string
	Status  models.JobStatus
	Percent float64 // 0-1, negative when unknown
	Detail  string
	Error   string
}

func ingestLine(j models.IngestionJob) jobLine {
	l := jobLine{Label: j.Game, Status: j.Status, Percent: -1, Error: j.Error}
	if j.TotalRows > 0 || j.Status == models.StatusCompleted {
		l.Percent = j.Percent()
	}
	switch {
	case j.Confirmed:
		l.Detail = fmt.Sprintf("%d draws stored", j.RowsFetched)
	case j.TotalRows > 0:
		l.Detail = fmt.Sprintf("%d/%d rows", j.RowsFetched, j.TotalRows)
	}
	return l
}

func trainLine(r models.TrainingRun) jobLine {
	l := jobLine{Label: r.Game, Status: r.Status, Percent: float64(r.Progress) / 100, Error: r.Error}
	if r.ExperimentID != "" {
		l.Detail = "experiment " + r.ExperimentID
	}
	return l
}

// tickMsg triggers reading the job state
type tickMsg time.Time

// linesMsg carries the current job rows
type linesMsg []jobLine

// doneMsg signals that the background work returned
type doneMsg struct{ err error }

// progressModel is the bubbletea model for in-process job progress.
type progressModel struct {
	title    string
	snapshot func() []jobLine
	done     <-chan error
	cancel   func()

	lines    []jobLine
	progress progress.Model
	theme    Theme
	finished bool
	quitting bool
	err      error
}

// newProgressModel creates a progress model. snapshot is read every tick;
// done receives the result of the work; cancel stops it on Ctrl+C.
func newProgressModel(title string, snapshot func() []jobLine, done <-chan error, cancel func()) progressModel {
	// Create progress bar with color blend
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)

	return progressModel{
		title:    title,
		snapshot: snapshot,
		done:     done,
		cancel:   cancel,
		progress: prog,
		theme:    defaultTheme,
	}
}

// Init returns the initial command (start polling).
func (m progressModel) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		m.waitDone(),
		m.progress.Init(),
	)
}

// Update handles messages and returns the updated model.
func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		}

	case tickMsg:
		return m, m.readLines()

	case linesMsg:
		m.lines = msg
		if m.finished {
			return m, nil
		}
		return m, tickCmd()

	case doneMsg:
		m.finished = true
		m.err = msg.err
		m.lines = m.snapshot()
		return m, tea.Quit

	case progress.FrameMsg:
		// Update progress bar animation
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the progress display.
func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

// renderContent builds the display string.
func (m progressModel) renderContent() string {
	var b strings.Builder
	b.WriteString(m.theme.titleStyle().Render(m.title))
	b.WriteString("\n")

	if len(m.lines) == 0 && !m.finished {
		b.WriteString("Waiting for job status...\n")
	}
	for _, l := range m.lines {
		b.WriteString(m.renderLine(l))
		b.WriteString("\n")
	}

	switch {
	case m.quitting:
		b.WriteString(m.theme.hintStyle().Render("Cancelled."))
		b.WriteString("\n")
	case m.finished && m.err != nil:
		b.WriteString(m.theme.errorStyle().Render(fmt.Sprintf("✗ %s", m.err)))
		b.WriteString("\n")
	case !m.finished:
		b.WriteString(m.theme.hintStyle().Render("Press Ctrl+C to cancel"))
		b.WriteString("\n")
	}
	return b.String()
}

func (m progressModel) renderLine(l jobLine) string {
	status := m.statusBadge(l.Status)

	bar := strings.Repeat(" ", 40)
	if l.Percent >= 0 {
		bar = m.progress.ViewAs(l.Percent)
	}

	line := fmt.Sprintf("%-14s %s %s %s", l.Label, status, bar, l.Detail)
	if l.Error != "" {
		line += "\n  " + m.theme.errorStyle().Render(l.Error)
	}
	return line
}

func (m progressModel) statusBadge(s models.JobStatus) string {
	label := fmt.Sprintf("[%s]", s)
	switch s {
	case models.StatusCompleted:
		return m.theme.completedStyle().Render(label)
	case models.StatusError:
		return m.theme.errorStyle().Render(label)
	}
	return m.theme.statusStyle().Render(label)
}

// readLines reads the job state in a command to keep Update() non-blocking.
func (m progressModel) readLines() tea.Cmd {
	return func() tea.Msg {
		return linesMsg(m.snapshot())
	}
}

func (m progressModel) waitDone() tea.Cmd {
	return func() tea.Msg {
		return doneMsg{err: <-m.done}
	}
}

// tickCmd returns a command that sends a tick after the poll interval.
func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// runProgress runs work in the background while showing its progress.
// Without a terminal, work runs in the foreground and nothing is drawn.
func runProgress(title string, snapshot func() []jobLine, cancel func(), work func() error) error {
	if !isTerminal() {
		return work()
	}

	done := make(chan error, 1)
	go func() { done <- work() }()

	p := tea.NewProgram(newProgressModel(title, snapshot, done, cancel))
	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("progress UI error: %w", err)
	}

	m, ok := finalModel.(progressModel)
	if !ok {
		return nil
	}
	if m.quitting {
		// wait for the cancelled work to settle its job state
		return <-done
	}
	return m.err
}
