package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
	"unicode/utf8"

	tea "charm.land/bubbletea/v2"
	"github.com/raphaelgruber/mensa/internal/client"
	"github.com/raphaelgruber/mensa/internal/config"
	"github.com/raphaelgruber/mensa/internal/events"
	"github.com/raphaelgruber/mensa/internal/models"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func key(s string) tea.KeyPressMsg {
	r := []rune(s)
	return tea.KeyPressMsg{Code: r[0], Text: s}
}

func TestValidateRawRequest(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		body       string
		wantMethod string
		wantBody   string
		wantField  string
	}{
		{name: "get without body", method: "get", wantMethod: "GET"},
		{name: "post with body", method: "POST", body: `{"game":"pick3"}`, wantMethod: "POST", wantBody: `{"game":"pick3"}`},
		{name: "delete trims method", method: " delete ", wantMethod: "DELETE"},
		{name: "unknown method", method: "TRACE", wantField: "method"},
		{name: "get with body", method: "GET", body: `{}`, wantField: "body"},
		{name: "invalid json", method: "POST", body: `{"game":`, wantField: "body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method, body, err := validateRawRequest(tt.method, tt.body)
			if tt.wantField != "" {
				var verr *client.ValidationError
				require.ErrorAs(t, err, &verr)
				assert.Equal(t, tt.wantField, verr.Field)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantMethod, method)
			assert.Equal(t, tt.wantBody, string(body))
		})
	}
}

func TestParseToolParams(t *testing.T) {
	params, err := parseToolParams("")
	require.NoError(t, err)
	assert.Nil(t, params)

	params, err = parseToolParams(`{"path":"data","limit":3}`)
	require.NoError(t, err)
	assert.Equal(t, "data", params["path"])
	assert.InDelta(t, 3, params["limit"], 0)

	_, err = parseToolParams(`[1,2]`)
	var verr *client.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "params", verr.Field)
}

func TestMessageErr(t *testing.T) {
	assert.NoError(t, messageErr(models.ChatMessage{Text: "hi"}))

	err := messageErr(models.ChatMessage{Text: "Error: backend down", IsError: true})
	require.Error(t, err)
	assert.Equal(t, "backend down", err.Error())
}

// newTrainFlagsCmd binds the train flags to a fresh command so Changed
// reflects only what the test passes.
func newTrainFlagsCmd(t *testing.T, paramsFile string) *cobra.Command {
	t.Helper()
	saved := trainParamsFile
	t.Cleanup(func() { trainParamsFile = saved })
	trainParamsFile = paramsFile

	defaults := models.DefaultHyperparameters()
	cmd := &cobra.Command{Use: "train"}
	cmd.Flags().IntVar(&trainTestSize, "test-size", defaults.TestSizePercent, "")
	cmd.Flags().IntVar(&trainEstimators, "estimators", defaults.NEstimators, "")
	cmd.Flags().IntVar(&trainMaxDepth, "max-depth", defaults.MaxDepth, "")
	cmd.Flags().IntVar(&trainSeed, "seed", defaults.RandomState, "")
	return cmd
}

func TestTrainParams(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "params.yaml")
	require.NoError(t, os.WriteFile(file, []byte("n_estimators: 300\nmax_depth: 20\n"), 0o644))

	tests := []struct {
		name  string
		file  string
		args  []string
		check func(t *testing.T, p models.Hyperparameters)
	}{
		{
			name: "defaults",
			check: func(t *testing.T, p models.Hyperparameters) {
				assert.Equal(t, models.DefaultHyperparameters(), p)
			},
		},
		{
			name: "yaml file overrides defaults",
			file: file,
			check: func(t *testing.T, p models.Hyperparameters) {
				assert.Equal(t, 300, p.NEstimators)
				assert.Equal(t, 20, p.MaxDepth)
				assert.Equal(t, models.DefaultHyperparameters().TestSizePercent, p.TestSizePercent)
			},
		},
		{
			name: "flags override yaml",
			file: file,
			args: []string{"--estimators", "150", "--seed", "7"},
			check: func(t *testing.T, p models.Hyperparameters) {
				assert.Equal(t, 150, p.NEstimators)
				assert.Equal(t, 20, p.MaxDepth)
				assert.Equal(t, 7, p.RandomState)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newTrainFlagsCmd(t, tt.file)
			require.NoError(t, cmd.Flags().Parse(tt.args))

			p, err := trainParams(cmd)
			require.NoError(t, err)
			tt.check(t, p)
		})
	}
}

func TestTrainParamsBadFile(t *testing.T) {
	cmd := newTrainFlagsCmd(t, filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := trainParams(cmd)
	assert.ErrorContains(t, err, "read params")
}

func sampleExperiments() []client.Experiment {
	score := 0.8125
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return []client.Experiment{
		{ID: "exp-old", Game: "pick3", Status: "completed", Score: &score, Description: "baseline forest", Timestamp: base, Params: map[string]any{"n_estimators": 100}},
		{ID: "exp-new-with-a-long-identifier", Game: "powerball", Status: "failed", Error: "no draws", Timestamp: base.Add(time.Hour)},
	}
}

func TestWriteExperiments(t *testing.T) {
	t.Run("json newest first", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, writeExperiments(&buf, sampleExperiments(), "json"))

		var rows []experimentRow
		require.NoError(t, json.Unmarshal(buf.Bytes(), &rows))
		require.Len(t, rows, 2)
		assert.Equal(t, "exp-new-with-a-long-identifier", rows[0].ID)
		assert.Equal(t, "2025-03-01T12:00:00Z", rows[1].Timestamp)
		assert.Equal(t, "baseline forest", rows[1].Summary)
		assert.Equal(t, "no draws", rows[0].Summary)
	})

	t.Run("yaml", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, writeExperiments(&buf, sampleExperiments(), "yaml"))

		var rows []experimentRow
		require.NoError(t, yaml.Unmarshal(buf.Bytes(), &rows))
		require.Len(t, rows, 2)
		assert.Equal(t, "pick3", rows[1].Game)
		require.NotNil(t, rows[1].Score)
		assert.InDelta(t, 0.8125, *rows[1].Score, 1e-9)
	})

	t.Run("table", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, writeExperiments(&buf, sampleExperiments(), "table"))

		out := buf.String()
		assert.Contains(t, out, "exp-new-with")
		assert.NotContains(t, out, "exp-new-with-a-long-identifier")
		assert.Contains(t, out, "0.8125")
		assert.Contains(t, out, "Error: no draws")
		assert.Contains(t, out, "  baseline forest")
	})

	t.Run("empty table", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, writeExperiments(&buf, nil, "table"))
		assert.Contains(t, buf.String(), "No experiments found.")
	})
}

func TestFormatNumbers(t *testing.T) {
	assert.Equal(t, " 3  14  27", formatNumbers([]int{3, 14, 27}))
	assert.Equal(t, "", formatNumbers(nil))
}

func TestFormatOutcome(t *testing.T) {
	t.Run("error", func(t *testing.T) {
		out := formatOutcome(models.PredictionOutcome{Game: "a", Status: models.OutcomeError, Message: "model not trained"}, defaultTheme)
		assert.Contains(t, out, "a")
		assert.Contains(t, out, "model not trained")
	})

	t.Run("formatted with bonus", func(t *testing.T) {
		o := models.PredictionOutcome{
			Game:   "powerball",
			Status: models.OutcomeSuccess,
			Prediction: &client.GamePrediction{
				PredictedNumbers: []int{1, 2, 3, 4, 5, 6},
				Formatted: &client.FormattedPrediction{
					MainNumbers:  []int{1, 2, 3, 4, 5},
					BonusNumbers: []int{6},
					MainLabel:    "White",
					BonusLabel:   "Powerball",
				},
				Sessions: [][]int{{7, 8, 9}},
			},
		}
		out := formatOutcome(o, defaultTheme)
		assert.Contains(t, out, "White:")
		assert.Contains(t, out, " 1   2   3   4   5")
		assert.Contains(t, out, "Powerball:")
		assert.Contains(t, out, "#1:")
	})
}

func TestProgressModel(t *testing.T) {
	lines := []jobLine{{Label: "pick3", Status: models.StatusActive, Percent: 0.5, Detail: "50/100 rows"}}
	snapshot := func() []jobLine { return lines }

	t.Run("waiting before first snapshot", func(t *testing.T) {
		m := newProgressModel("Ingesting", snapshot, nil, nil)
		out := m.renderContent()
		assert.Contains(t, out, "Ingesting")
		assert.Contains(t, out, "Waiting for job status...")
		assert.Contains(t, out, "Press Ctrl+C to cancel")
	})

	t.Run("done reads final lines and quits", func(t *testing.T) {
		m := newProgressModel("Ingesting", snapshot, nil, nil)
		updated, cmd := m.Update(doneMsg{err: errors.New("1 of 2 games failed")})
		require.NotNil(t, cmd)

		pm := updated.(progressModel)
		assert.True(t, pm.finished)
		assert.Len(t, pm.lines, 1)
		out := pm.renderContent()
		assert.Contains(t, out, "50/100 rows")
		assert.Contains(t, out, "1 of 2 games failed")
	})

	t.Run("q cancels work", func(t *testing.T) {
		cancelled := false
		m := newProgressModel("Training", snapshot, nil, func() { cancelled = true })
		updated, cmd := m.Update(key("q"))
		require.NotNil(t, cmd)
		assert.True(t, cancelled)
		assert.Contains(t, updated.(progressModel).renderContent(), "Cancelled.")
	})

	t.Run("lines keep polling until finished", func(t *testing.T) {
		m := newProgressModel("Ingesting", snapshot, nil, nil)
		updated, cmd := m.Update(linesMsg(lines))
		assert.NotNil(t, cmd)
		assert.Len(t, updated.(progressModel).lines, 1)
	})
}

func TestIngestLine(t *testing.T) {
	l := ingestLine(models.IngestionJob{Game: "pick3", Status: models.StatusActive, RowsFetched: 25, TotalRows: 100})
	assert.Equal(t, "25/100 rows", l.Detail)
	assert.InDelta(t, 0.25, l.Percent, 1e-9)

	l = ingestLine(models.IngestionJob{Game: "pick3", Status: models.StatusPending})
	assert.Negative(t, l.Percent)
}

func testDashboard(games ...string) dashboardModel {
	m := dashboardModel{
		theme:       defaultTheme,
		baseURL:     "http://localhost:8000",
		recentK:     models.DefaultRecentK,
		predictions: make(map[string]models.PredictionOutcome),
		busy:        make(map[string]bool),
	}
	for _, g := range games {
		m.data.games = append(m.data.games, models.Game{Name: g, DrawCount: 10})
	}
	return m
}

func TestDashboardBanners(t *testing.T) {
	m := testDashboard("pick3")

	updated, _ := m.Update(appErrorMsg(events.AppError{Source: "ingest:pick3", Message: "backend unavailable"}))
	updated, _ = updated.Update(appErrorMsg(events.AppError{Source: "predict:all", Message: "all 2 games failed: a, b"}))
	dm := updated.(dashboardModel)
	require.Len(t, dm.banners, 2)
	assert.Contains(t, dm.renderContent(), "ingest:pick3: backend unavailable")

	updated, _ = dm.Update(key("x"))
	dm = updated.(dashboardModel)
	require.Len(t, dm.banners, 1)
	assert.Equal(t, "predict:all", dm.banners[0].Source)
	assert.NotContains(t, dm.renderContent(), "backend unavailable")
}

func TestDashboardNavigation(t *testing.T) {
	m := testDashboard("a", "b", "c")

	var model tea.Model = m
	for _, k := range []string{"j", "j", "j"} {
		model, _ = model.Update(key(k))
	}
	assert.Equal(t, 2, model.(dashboardModel).cursor)

	model, _ = model.Update(key("k"))
	name, ok := model.(dashboardModel).selected()
	require.True(t, ok)
	assert.Equal(t, "b", name)

	model, _ = model.Update(key("-"))
	assert.Equal(t, models.DefaultRecentK-1, model.(dashboardModel).recentK)
	model, _ = model.Update(key("+"))
	model, _ = model.Update(key("+"))
	assert.Equal(t, models.DefaultRecentK+1, model.(dashboardModel).recentK)

	_, cmd := model.Update(key("q"))
	assert.NotNil(t, cmd)
}

func TestDashboardRender(t *testing.T) {
	m := testDashboard("pick3", "powerball")
	m.data.partial = true
	m.data.games[1].SummaryFailed = true
	m.data.ready = []string{"pick3"}
	m.predictions["pick3"] = models.PredictionOutcome{
		Game:       "pick3",
		Status:     models.OutcomeSuccess,
		Prediction: &client.GamePrediction{PredictedNumbers: []int{4, 5, 6}},
	}
	m.warning = "1 of 2 games failed: powerball"

	out := m.renderContent()
	assert.Contains(t, out, "http://localhost:8000")
	assert.Contains(t, out, "Some game summaries failed to load")
	assert.Contains(t, out, "trained")
	assert.Contains(t, out, " 4   5   6")
	assert.Contains(t, out, "Warning: 1 of 2 games failed: powerball")
	assert.Contains(t, out, "p predict (k=10)")
}

func TestDashboardHintsShowRunningJobs(t *testing.T) {
	m := testDashboard("pick3")
	m.data.jobs = map[string]models.IngestionJob{"pick3": {Game: "pick3", Status: models.StatusActive}}
	m.busy["train:pick3"] = true

	hints := m.keyHints()
	assert.Contains(t, hints, "i ingest (running)")
	assert.Contains(t, hints, "t train (running)")
	assert.NotContains(t, hints, "predict (k=10) (running)")
}

func TestDashboardFeatures(t *testing.T) {
	savedCfg, savedChroma, savedGate := cfg, dashNoChroma, dashNoStartupGate
	t.Cleanup(func() { cfg, dashNoChroma, dashNoStartupGate = savedCfg, savedChroma, savedGate })

	cfg = config.Config{Features: config.Features{Chroma: true, Experiments: true, StartupGate: true, ConcurrentIngest: true}}
	dashNoChroma, dashNoStartupGate = true, true

	f := dashboardFeatures()
	assert.False(t, f.Chroma)
	assert.False(t, f.StartupGate)
	assert.True(t, f.Experiments)
	assert.True(t, f.ConcurrentIngest)
}

func TestRequireTrained(t *testing.T) {
	tests := []struct {
		name    string
		trained bool
		ready   []string
		game    string
		wantErr string
	}{
		{name: "nothing trained", game: "pick3", wantErr: "no trained model yet"},
		{name: "nothing trained all", game: models.AllGames, wantErr: "no trained model yet"},
		{name: "other game trained", trained: true, ready: []string{"mega"}, game: "pick3", wantErr: "pick3 has no trained model"},
		{name: "game trained", trained: true, ready: []string{"pick3"}, game: "pick3"},
		{name: "all once any trained", trained: true, ready: []string{"mega"}, game: models.AllGames},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := requireTrained(tt.trained, tt.ready, tt.game)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			var verr *client.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Message, tt.wantErr)
		})
	}
}

func TestDashboardPredictNeedsTrainedModel(t *testing.T) {
	m := testDashboard("pick3", "mega")
	m.app = &app{}

	updated, cmd := m.Update(key("p"))
	assert.Nil(t, cmd)
	dm := updated.(dashboardModel)
	assert.Empty(t, dm.busy)
	assert.Contains(t, dm.warning, "no trained model yet")
	assert.Contains(t, dm.keyHints(), "p predict (k=10) (needs training)")

	updated, cmd = dm.Update(key("P"))
	assert.Nil(t, cmd)
	assert.Empty(t, updated.(dashboardModel).busy)

	// mega is trained, pick3 is still not
	dm.data.trained = true
	dm.data.ready = []string{"mega"}
	dm.warning = ""
	updated, cmd = dm.Update(key("p"))
	assert.Nil(t, cmd)
	assert.Contains(t, updated.(dashboardModel).warning, "pick3 has no trained model")

	dm.cursor = 1
	assert.NotContains(t, dm.keyHints(), "needs training")
	updated, cmd = dm.Update(key("p"))
	assert.NotNil(t, cmd)
	assert.True(t, updated.(dashboardModel).busy["predict:mega"])
}

func TestDashboardShowsLatestTrainingScore(t *testing.T) {
	score := 0.75
	m := testDashboard("pick3")
	m.features.Experiments = true
	m.data.trained = true
	m.data.ready = []string{"pick3"}
	m.data.updatedAt = time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	m.data.experiments = []client.Experiment{
		{ID: "e1", Game: "pick3", Type: "training", Status: "completed", Score: &score, Timestamp: m.data.updatedAt},
	}

	out := m.renderContent()
	assert.Contains(t, out, "trained 0.7500")
	assert.Contains(t, out, "updated 09:30:00")
}

func TestWriteCollectionsShowsStoreError(t *testing.T) {
	var buf bytes.Buffer
	writeCollections(&buf, &client.ChromaCollections{
		Status:      "error",
		Error:       "index corrupted",
		Collections: []client.ChromaCollection{{Name: "pick3", Count: 10}, {Name: "mega", Error: "missing"}},
	})

	out := buf.String()
	assert.Contains(t, out, "Status: error")
	assert.Contains(t, out, "index corrupted")
	assert.Contains(t, out, "Error: missing")
	assert.Contains(t, out, "total")
}

func TestDashboardChromaShowsStoreError(t *testing.T) {
	m := testDashboard("pick3")
	m.features.Chroma = true
	m.data.chroma = &client.ChromaCollections{
		Status:      "error",
		Error:       "index corrupted",
		Collections: []client.ChromaCollection{{Name: "pick3", Count: 10, Error: "stale segment"}},
	}

	out := m.renderContent()
	assert.Contains(t, out, "index corrupted")
	assert.Contains(t, out, "stale segment")
}

func TestShortenKeepsRunesWhole(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"abcdef", 3, "abc..."},
		{"ÄÖÜäöü", 4, "ÄÖÜä..."},
		{"€€€", 3, "€€€"},
	}
	for _, tt := range tests {
		got := shorten(tt.in, tt.n)
		assert.Equal(t, tt.want, got)
		assert.True(t, utf8.ValidString(got))
	}
}
