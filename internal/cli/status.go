package cli

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/raphaelgruber/mensa/internal/models"
	"github.com/raphaelgruber/mensa/internal/service"
	"github.com/spf13/cobra"
)

var (
	statusInit bool
	statusWait bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show backend initialization status",
	Long: `Show the backend's startup status: overall progress, the game being
ingested and per-game results.

Initialization is never started automatically. Use --init to request it
while the backend reports "pending".

Examples:
  mensa status
  mensa status --init --wait`,
	Annotations: map[string]string{tuiAnnotation: "true"},
	RunE:        runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusInit, "init", false, "request initialization when status is pending")
	statusCmd.Flags().BoolVar(&statusWait, "wait", false, "keep polling until the backend is ready or failed")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	a := newApp()
	defer a.Close()

	state := a.startup.Poll(ctx)
	if statusInit {
		if err := a.startup.Start(ctx); err != nil {
			if errors.Is(err, service.ErrNotPending) {
				return fmt.Errorf("cannot start initialization: backend status is %q", snapshotStatus(state))
			}
			return err
		}
		fmt.Println("Initialization requested.")
	}

	if !statusWait {
		printStartupState(state)
		if state.Phase == models.PhaseFailed {
			return service.ErrStartupFailed
		}
		return nil
	}

	if isInteractive() {
		return runStartupScreen(ctx, a.startup)
	}

	last := ""
	state, err := a.startup.Run(ctx, func(s models.StartupState) {
		line := startupSummary(s)
		if line != last {
			fmt.Println(line)
			last = line
		}
	})
	if state.Report != nil {
		printReport(*state.Report)
	}
	return err
}

func snapshotStatus(s models.StartupState) string {
	if s.Snapshot == nil {
		return "unknown"
	}
	return s.Snapshot.Status
}

// startupSummary is a one-line description of the state.
func startupSummary(s models.StartupState) string {
	if s.Phase != models.PhaseLoading || s.Snapshot == nil {
		return string(s.Phase)
	}
	snap := s.Snapshot
	line := fmt.Sprintf("%s %.0f%%", snap.Status, s.Percent()*100)
	if snap.CurrentGame != "" {
		line += " · " + snap.CurrentGame
		if pct := s.CurrentGamePercent(); pct >= 0 {
			line += fmt.Sprintf(" (%d/%d rows)", snap.CurrentGameRowsFetched, snap.CurrentGameRowsTotal)
		}
	}
	if snap.CurrentTask != "" {
		line += " · " + snap.CurrentTask
	}
	return line
}

// printStartupState displays one status snapshot.
func printStartupState(s models.StartupState) {
	fmt.Printf("Backend: %s\n", apiClient.BaseURL())
	fmt.Printf("Phase:   %s\n", s.Phase)

	if s.Snapshot != nil {
		snap := s.Snapshot
		fmt.Printf("Status:  %s\n", snap.Status)
		if snap.Total > 0 {
			fmt.Printf("Progress: %.0f/%d games (%.0f%%)\n", snap.Progress, snap.Total, s.Percent()*100)
		}
		if snap.CurrentGame != "" {
			fmt.Printf("Current: %s", snap.CurrentGame)
			if snap.CurrentGameRowsTotal > 0 {
				fmt.Printf(" (%d/%d rows)", snap.CurrentGameRowsFetched, snap.CurrentGameRowsTotal)
			}
			fmt.Println()
		}
		if snap.ElapsedS > 0 {
			fmt.Printf("Elapsed: %s\n", (time.Duration(snap.ElapsedS * float64(time.Second))).Round(time.Second))
		}
		if len(snap.Games) > 0 {
			fmt.Println("\nGames:")
			for _, g := range slices.Sorted(maps.Keys(snap.Games)) {
				gs := snap.Games[g]
				fmt.Printf("  %-16s %s", g, gs.Status)
				if gs.Error != "" {
					fmt.Printf("  (%s)", gs.Error)
				}
				fmt.Println()
			}
		}
		if s.CanInit() {
			fmt.Println("\nRun 'mensa status --init' to start initialization.")
		}
	}

	if s.Report != nil {
		fmt.Println()
		printReport(*s.Report)
	}
}

// printReport displays a categorized error with suggestions.
func printReport(r models.ErrorReport) {
	fmt.Println(defaultTheme.errorStyle().Render(r.Title))
	fmt.Printf("  %s\n", r.Original)
	if len(r.Suggestions) > 0 {
		fmt.Println("\nSuggestions:")
		for _, s := range r.Suggestions {
			fmt.Printf("  • %s\n", s)
		}
	}
}

// startupStateMsg carries one poll result
type startupStateMsg models.StartupState

// startupInitMsg carries the result of an initialization request
type startupInitMsg struct{ err error }

// startupModel is the blocking loading screen shown until the backend is ready.
type startupModel struct {
	ctx      context.Context
	monitor  *service.StartupMonitor
	interval time.Duration

	state    models.StartupState
	polled   bool
	notice   string
	progress progress.Model
	theme    Theme
	quitting bool
}

func newStartupModel(ctx context.Context, monitor *service.StartupMonitor) startupModel {
	return startupModel{
		ctx:      ctx,
		monitor:  monitor,
		interval: cfg.StartupPollInterval,
		state:    monitor.State(),
		progress: progress.New(progress.WithDefaultBlend(), progress.WithWidth(40)),
		theme:    defaultTheme,
	}
}

func (m startupModel) Init() tea.Cmd {
	return tea.Batch(m.poll(), m.progress.Init())
}

func (m startupModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		case "s":
			if m.state.CanInit() {
				m.notice = "Requesting initialization..."
				return m, m.requestInit()
			}
		}

	case tickMsg:
		return m, m.poll()

	case startupStateMsg:
		m.state = models.StartupState(msg)
		m.polled = true
		if m.state.Phase != models.PhaseLoading {
			return m, tea.Quit
		}
		return m, tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })

	case startupInitMsg:
		if msg.err != nil {
			m.notice = "Initialization request failed: " + msg.err.Error()
		} else {
			m.notice = "Initialization requested."
		}
		return m, nil

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m startupModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m startupModel) renderContent() string {
	var b strings.Builder
	b.WriteString(m.theme.titleStyle().Render("Backend starting up"))
	b.WriteString("  " + m.theme.hintStyle().Render(apiClient.BaseURL()) + "\n\n")

	if !m.polled {
		b.WriteString("Checking backend status...\n")
		return b.String()
	}

	s := m.state
	if s.Phase == models.PhaseFailed && s.Report != nil {
		b.WriteString(m.theme.errorStyle().Render(s.Report.Title) + "\n")
		b.WriteString("  " + s.Report.Original + "\n")
		for _, sg := range s.Report.Suggestions {
			b.WriteString("  • " + sg + "\n")
		}
		return b.String()
	}

	fmt.Fprintf(&b, "%s %s\n", m.theme.statusStyle().Render(fmt.Sprintf("[%s]", snapshotStatus(s))), m.progress.ViewAs(s.Percent()))
	if s.Snapshot != nil && s.Snapshot.CurrentGame != "" {
		line := "  " + s.Snapshot.CurrentGame
		if pct := s.CurrentGamePercent(); pct >= 0 {
			line += " " + m.progress.ViewAs(pct)
		}
		b.WriteString(line + "\n")
	}
	if s.ConsecutiveFailures > 0 {
		b.WriteString(m.theme.errorStyle().Render(fmt.Sprintf("  status check failed %d time(s), retrying", s.ConsecutiveFailures)) + "\n")
	}
	if m.notice != "" {
		b.WriteString("\n" + m.notice + "\n")
	}

	hint := "q to quit"
	if s.CanInit() {
		hint = "s to start initialization · " + hint
	}
	b.WriteString("\n" + m.theme.hintStyle().Render(hint) + "\n")
	return b.String()
}

func (m startupModel) poll() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, cfg.RequestTimeout*time.Duration(max(cfg.RetryAttempts, 1)))
		defer cancel()
		return startupStateMsg(m.monitor.Poll(ctx))
	}
}

func (m startupModel) requestInit() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, 10*time.Second)
		defer cancel()
		return startupInitMsg{err: m.monitor.Start(ctx)}
	}
}

// runStartupScreen blocks on the loading screen until the backend is ready.
func runStartupScreen(ctx context.Context, monitor *service.StartupMonitor) error {
	p := tea.NewProgram(newStartupModel(ctx, monitor))
	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("startup UI error: %w", err)
	}

	m, _ := finalModel.(startupModel)
	switch {
	case m.quitting:
		return context.Canceled
	case m.state.Phase == models.PhaseFailed:
		if m.state.Report != nil {
			printReport(*m.state.Report)
		}
		return service.ErrStartupFailed
	}
	fmt.Println(defaultTheme.completedStyle().Render("✓ Backend ready"))
	return nil
}
