package cli

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/raphaelgruber/mensa/internal/client"
	"github.com/raphaelgruber/mensa/internal/config"
	"github.com/raphaelgruber/mensa/internal/events"
	"github.com/raphaelgruber/mensa/internal/models"
	"github.com/raphaelgruber/mensa/internal/service"
	"github.com/spf13/cobra"
)

var (
	dashNoChroma         bool
	dashNoExperiments    bool
	dashNoStartupGate    bool
	dashSequentialIngest bool
	dashMetricsAddr      string
)

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Interactive dashboard",
	Long: `Open the interactive dashboard: backend startup gate, games with ingestion
and training progress, predictions, experiments and vector store status.

Keys:
  ↑/↓ j/k   select game
  i / I     ingest selected / all games     f  force re-ingest selected
  t         train selected game (default hyperparameters)
  p / P     predict selected / all games    + / -  recent draws window
  r         reload games                    x  dismiss error
  q         quit`,
	Annotations: map[string]string{tuiAnnotation: "true"},
	RunE:        runDashboard,
}

func init() {
	dashboardCmd.Flags().BoolVar(&dashNoChroma, "no-chroma", false, "hide the vector store panel")
	dashboardCmd.Flags().BoolVar(&dashNoExperiments, "no-experiments", false, "hide the experiments panel")
	dashboardCmd.Flags().BoolVar(&dashNoStartupGate, "no-startup-gate", false, "skip waiting for backend startup")
	dashboardCmd.Flags().BoolVar(&dashSequentialIngest, "sequential-ingest", false, "ingest all games one at a time")
	dashboardCmd.Flags().StringVar(&dashMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")
}

func dashboardFeatures() config.Features {
	f := cfg.Features
	if dashNoChroma {
		f.Chroma = false
	}
	if dashNoExperiments {
		f.Experiments = false
	}
	if dashNoStartupGate {
		f.StartupGate = false
	}
	if dashSequentialIngest {
		f.ConcurrentIngest = false
	}
	return f
}

func runDashboard(cmd *cobra.Command, args []string) error {
	if !isInteractive() {
		return errors.New("dashboard requires a terminal")
	}
	features := dashboardFeatures()

	ctx, cancel := commandContext()
	defer cancel()

	a := newApp()
	defer a.Close()

	addr := cfg.MetricsAddr
	if dashMetricsAddr != "" {
		addr = dashMetricsAddr
	}
	if addr != "" {
		go func() {
			if err := collector.Serve(ctx, addr, logger); err != nil {
				logger.Error("metrics endpoint failed", "addr", addr, "error", err)
			}
		}()
	}

	if features.StartupGate {
		if err := runStartupScreen(ctx, a.startup); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
	}

	if err := a.loadCatalog(ctx); err != nil {
		return err
	}
	if features.Experiments {
		go a.experiments.Run(ctx, nil)
	}
	if features.Chroma {
		go a.chroma.Run(ctx, nil)
	}

	p := tea.NewProgram(newDashboardModel(ctx, a, features))

	unsubErrors := buses.Errors.Subscribe(func(e events.AppError) { p.Send(appErrorMsg(e)) })
	defer unsubErrors()
	unsubCollections := buses.Collections.Subscribe(func(u events.CollectionUpdate) { p.Send(collectionMsg(u)) })
	defer unsubCollections()

	_, err := p.Run()
	cancel()
	if err != nil {
		return fmt.Errorf("dashboard UI error: %w", err)
	}
	return nil
}

// dashboardData is a point-in-time copy of coordinator state.
type dashboardData struct {
	games       []models.Game
	partial     bool
	jobs        map[string]models.IngestionJob
	runs        map[string]models.TrainingRun
	experiments []client.Experiment
	updatedAt   time.Time
	trained     bool
	ready       []string
	chroma      *client.ChromaCollections
	chromaErr   error
}

func readDashboard(a *app) dashboardData {
	d := dashboardData{
		games:   a.catalog.Games(),
		partial: a.catalog.PartialFailure(),
		jobs:    make(map[string]models.IngestionJob),
		runs:    make(map[string]models.TrainingRun),
	}
	for _, j := range a.ingest.Jobs() {
		d.jobs[j.Game] = j
	}
	for _, g := range d.games {
		if r, ok := a.train.Run(g.Name); ok {
			d.runs[g.Name] = r
		}
	}
	d.experiments = sortExperiments(a.experiments.Experiments())
	d.updatedAt = a.experiments.UpdatedAt()
	d.trained = a.experiments.IsTrained()
	d.ready = a.experiments.ReadyGames()
	d.chroma, d.chromaErr = a.chroma.Latest()
	return d
}

type (
	dashDataMsg   dashboardData
	appErrorMsg   events.AppError
	collectionMsg events.CollectionUpdate
	predictMsg    struct {
		outcomes []models.PredictionOutcome
		summary  models.PredictionSummary
	}
	actionDoneMsg struct{ key string }
)

// dashboardModel is the bubbletea model for the main dashboard.
type dashboardModel struct {
	ctx      context.Context
	app      *app
	baseURL  string
	features config.Features
	theme    Theme
	bar      progress.Model

	data        dashboardData
	cursor      int
	recentK     int
	predictions map[string]models.PredictionOutcome
	warning     string
	busy        map[string]bool
	banners     []events.AppError
	notice      string
}

func newDashboardModel(ctx context.Context, a *app, features config.Features) dashboardModel {
	return dashboardModel{
		ctx:         ctx,
		app:         a,
		baseURL:     apiClient.BaseURL(),
		features:    features,
		theme:       defaultTheme,
		bar:         progress.New(progress.WithDefaultBlend(), progress.WithWidth(16)),
		data:        readDashboard(a),
		recentK:     models.DefaultRecentK,
		predictions: make(map[string]models.PredictionOutcome),
		busy:        make(map[string]bool),
	}
}

func (m dashboardModel) Init() tea.Cmd {
	return tea.Batch(tickCmd(), m.bar.Init())
}

func (m dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		return m.handleKey(msg.String())

	case tickMsg:
		a := m.app
		return m, func() tea.Msg { return dashDataMsg(readDashboard(a)) }

	case dashDataMsg:
		m.data = dashboardData(msg)
		if m.cursor >= len(m.data.games) {
			m.cursor = max(len(m.data.games)-1, 0)
		}
		return m, tickCmd()

	case appErrorMsg:
		m.banners = append(m.banners, events.AppError(msg))
		return m, nil

	case collectionMsg:
		m.notice = fmt.Sprintf("%s: +%d draws (%d stored)", msg.Game, msg.RowsAdded, msg.TotalRows)
		return m, nil

	case predictMsg:
		for _, o := range msg.outcomes {
			m.predictions[o.Game] = o
		}
		m.warning = msg.summary.Warning
		return m, nil

	case actionDoneMsg:
		delete(m.busy, msg.key)
		return m, nil

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.bar, cmd = m.bar.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m dashboardModel) selected() (string, bool) {
	if m.cursor < 0 || m.cursor >= len(m.data.games) {
		return "", false
	}
	return m.data.games[m.cursor].Name, true
}

func (m dashboardModel) handleKey(key string) (tea.Model, tea.Cmd) {
	game, hasGame := m.selected()

	switch key {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.data.games)-1 {
			m.cursor++
		}
	case "x":
		if len(m.banners) > 0 {
			m.banners = m.banners[1:]
		}
	case "+", "=":
		m.recentK++
	case "-":
		if m.recentK > 1 {
			m.recentK--
		}
	case "r":
		return m.startAction("reload", func(ctx context.Context) error {
			return m.app.loadCatalog(ctx)
		})
	case "i", "f":
		if hasGame {
			opts := service.IngestOptions{Force: key == "f"}
			return m.startAction("ingest:"+game, func(ctx context.Context) error {
				_, err := m.app.ingest.Start(ctx, game, opts)
				return err
			})
		}
	case "I":
		names := m.app.catalog.Names()
		opts := service.IngestOptions{Sequential: !m.features.ConcurrentIngest}
		return m.startAction("ingest:all", func(ctx context.Context) error {
			_, err := m.app.ingest.StartAll(ctx, names, opts)
			return err
		})
	case "t":
		if hasGame {
			return m.startAction("train:"+game, func(ctx context.Context) error {
				_, err := m.app.train.Start(ctx, game, models.DefaultHyperparameters())
				return err
			})
		}
	case "p":
		if hasGame {
			if err := requireTrained(m.data.trained, m.data.ready, game); err != nil {
				m.warning = err.Error()
				return m, nil
			}
			return m.predict("predict:"+game, []string{game})
		}
	case "P":
		if err := requireTrained(m.data.trained, m.data.ready, models.AllGames); err != nil {
			m.warning = err.Error()
			return m, nil
		}
		return m.predict("predict:all", m.app.catalog.Names())
	}
	return m, nil
}

// startAction runs fn in the background; errors go to the error bus.
func (m dashboardModel) startAction(key string, fn func(context.Context) error) (tea.Model, tea.Cmd) {
	if m.busy[key] {
		return m, nil
	}
	m.busy[key] = true
	ctx := m.ctx
	return m, func() tea.Msg {
		if err := fn(ctx); err != nil {
			buses.Errors.Publish(events.AppError{Source: key, Message: err.Error()})
		}
		return actionDoneMsg{key: key}
	}
}

func (m dashboardModel) predict(key string, games []string) (tea.Model, tea.Cmd) {
	if m.busy[key] {
		return m, nil
	}
	m.busy[key] = true
	ctx, predictor, k := m.ctx, m.app.predictor, m.recentK
	return m, tea.Sequence(
		func() tea.Msg {
			outcomes, summary, err := predictor.PredictAll(ctx, games, k)
			if err == nil {
				err = summary.Err
			}
			if err != nil {
				buses.Errors.Publish(events.AppError{Source: key, Message: err.Error()})
			}
			return predictMsg{outcomes: outcomes, summary: summary}
		},
		func() tea.Msg { return actionDoneMsg{key: key} },
	)
}

func (m dashboardModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m dashboardModel) renderContent() string {
	t := m.theme
	var b strings.Builder

	b.WriteString(t.titleStyle().Render("mensa"))
	b.WriteString("  " + t.hintStyle().Render(m.baseURL) + "\n")

	for i, e := range m.banners {
		line := fmt.Sprintf("%s: %s", e.Source, e.Message)
		if i == 0 {
			line += "  (x to dismiss)"
		}
		b.WriteString(t.bannerStyle().Render(line) + "\n")
	}
	if m.data.partial {
		b.WriteString(t.errorStyle().Render("Some game summaries failed to load (press r to retry)") + "\n")
	}
	b.WriteString("\n")

	b.WriteString(m.renderGames())

	if game, ok := m.selected(); ok {
		if o, ok := m.predictions[game]; ok {
			b.WriteString("\n")
			b.WriteString(formatOutcome(o, t))
		}
	}
	if m.warning != "" {
		b.WriteString(t.errorStyle().Render("Warning: "+m.warning) + "\n")
	}
	if m.features.Experiments {
		b.WriteString("\n" + m.renderExperiments())
	}
	if m.features.Chroma {
		b.WriteString("\n" + m.renderChroma())
	}
	if m.notice != "" {
		b.WriteString("\n" + t.completedStyle().Render(m.notice) + "\n")
	}

	b.WriteString("\n" + t.hintStyle().Render(m.keyHints()) + "\n")
	return b.String()
}

func (m dashboardModel) renderGames() string {
	if len(m.data.games) == 0 {
		return "No games loaded.\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "  %-14s %7s  %-30s %-30s %s\n", "GAME", "DRAWS", "INGEST", "TRAIN", "MODEL")
	for i, g := range m.data.games {
		cursor := "  "
		name := fmt.Sprintf("%-14s", g.Name)
		if i == m.cursor {
			cursor = "> "
			name = m.theme.selectedStyle().Render(name)
		}

		draws := fmt.Sprintf("%7d", g.DrawCount)
		if g.SummaryFailed {
			draws = fmt.Sprintf("%7s", "?")
		}

		ingest := "-"
		if j, ok := m.data.jobs[g.Name]; ok {
			ingest = m.cell(ingestLine(j))
		}
		train := "-"
		if r, ok := m.data.runs[g.Name]; ok {
			train = m.cell(trainLine(r))
		}
		model := "-"
		if slices.Contains(m.data.ready, g.Name) {
			label := "trained"
			if e, ok := models.LatestTraining(m.data.experiments, g.Name); ok && e.Score != nil {
				label = fmt.Sprintf("trained %.4f", *e.Score)
			}
			model = m.theme.completedStyle().Render(label)
		}

		fmt.Fprintf(&b, "%s%s %s  %-30s %-30s %s\n", cursor, name, draws, ingest, train, model)
	}
	return b.String()
}

func (m dashboardModel) cell(l jobLine) string {
	switch l.Status {
	case models.StatusCompleted:
		return m.theme.completedStyle().Render("✓ " + l.Detail)
	case models.StatusError:
		return m.theme.errorStyle().Render("✗ failed")
	}
	if l.Percent >= 0 {
		return m.bar.ViewAs(l.Percent) + " " + string(l.Status)
	}
	return m.theme.statusStyle().Render(string(l.Status))
}

func (m dashboardModel) renderExperiments() string {
	var b strings.Builder
	b.WriteString(m.theme.titleStyle().Render("Experiments"))
	if !m.data.updatedAt.IsZero() {
		b.WriteString("  " + m.theme.hintStyle().Render("updated "+m.data.updatedAt.Format(time.TimeOnly)))
	}
	b.WriteString("\n")
	if len(m.data.experiments) == 0 {
		b.WriteString("  none yet\n")
		return b.String()
	}
	for _, e := range m.data.experiments[:min(5, len(m.data.experiments))] {
		score := "-"
		if e.Score != nil {
			score = fmt.Sprintf("%.4f", *e.Score)
		}
		fmt.Fprintf(&b, "  %-12s %-14s %-10s %-10s %s\n", truncateID(e.ID), e.Game, e.Status, score, e.Timestamp.Format(time.DateTime))
	}
	return b.String()
}

func (m dashboardModel) renderChroma() string {
	var b strings.Builder
	b.WriteString(m.theme.titleStyle().Render("Vector store") + "\n")
	switch {
	case m.data.chroma == nil && m.data.chromaErr != nil:
		b.WriteString("  " + m.theme.errorStyle().Render(m.data.chromaErr.Error()) + "\n")
	case m.data.chroma == nil:
		b.WriteString("  loading...\n")
	default:
		if err := m.data.chroma.Err(); err != nil {
			b.WriteString("  " + m.theme.errorStyle().Render(err.Error()) + "\n")
		}
		for _, c := range m.data.chroma.Collections {
			fmt.Fprintf(&b, "  %-24s %8d\n", c.Name, c.Count)
			if c.Error != "" {
				b.WriteString("    " + m.theme.errorStyle().Render(c.Error) + "\n")
			}
		}
		if m.data.chromaErr != nil {
			b.WriteString("  " + m.theme.hintStyle().Render("stale: "+m.data.chromaErr.Error()) + "\n")
		}
	}
	return b.String()
}

func (m dashboardModel) predictHint(game string) string {
	label := fmt.Sprintf("p predict (k=%d)", m.recentK)
	switch {
	case requireTrained(m.data.trained, m.data.ready, game) != nil:
		return label + " (needs training)"
	case m.busy["predict:"+game]:
		return label + " (running)"
	}
	return label
}

func (m dashboardModel) keyHints() string {
	game, _ := m.selected()
	hint := func(key, label string, busy bool) string {
		if busy {
			return key + " " + label + " (running)"
		}
		return key + " " + label
	}

	ingestBusy := m.busy["ingest:"+game] || m.busy["ingest:all"]
	if j, ok := m.data.jobs[game]; ok && j.Status.Running() {
		ingestBusy = true
	}
	trainBusy := m.busy["train:"+game]
	if r, ok := m.data.runs[game]; ok && r.Status == models.StatusActive {
		trainBusy = true
	}

	return strings.Join([]string{
		hint("i", "ingest", ingestBusy),
		hint("t", "train", trainBusy),
		m.predictHint(game),
		"r reload",
		"q quit",
	}, " · ")
}
