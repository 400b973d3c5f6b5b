package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/raphaelgruber/mensa/internal/client"
	"github.com/raphaelgruber/mensa/internal/models"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	experimentsWatch  bool
	experimentsOutput string
)

var experimentsCmd = &cobra.Command{
	Use:   "experiments",
	Short: "List training and prediction experiments",
	Long: `List experiment records from the backend, newest first.

Examples:
  mensa experiments
  mensa experiments -o yaml
  mensa experiments --watch`,
	RunE: runExperiments,
}

func init() {
	experimentsCmd.Flags().BoolVarP(&experimentsWatch, "watch", "w", false, "keep polling and reprint on every refresh")
	experimentsCmd.Flags().StringVarP(&experimentsOutput, "output", "o", "table", "output format: table, json or yaml")
}

// experimentRow is the exported shape of one experiment.
type experimentRow struct {
	ID        string         `json:"id" yaml:"id"`
	Game      string         `json:"game" yaml:"game"`
	Type      string         `json:"type" yaml:"type"`
	Status    string         `json:"status" yaml:"status"`
	Score     *float64       `json:"score,omitempty" yaml:"score,omitempty"`
	Timestamp string         `json:"timestamp,omitempty" yaml:"timestamp,omitempty"`
	Params    map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
	Summary   string         `json:"summary,omitempty" yaml:"summary,omitempty"`
	Error     string         `json:"error,omitempty" yaml:"error,omitempty"`
}

func toExperimentRows(list []client.Experiment) []experimentRow {
	rows := make([]experimentRow, 0, len(list))
	for _, e := range list {
		typ := e.Type
		if typ == "" && models.IsTrainingExperiment(e) {
			typ = "training"
		}
		r := experimentRow{
			ID:      e.ID,
			Game:    e.Game,
			Type:    typ,
			Status:  e.Status,
			Score:   e.Score,
			Params:  e.Params,
			Summary: e.Summary(),
			Error:   e.Error,
		}
		if !e.Timestamp.IsZero() {
			r.Timestamp = e.Timestamp.Format(time.RFC3339)
		}
		rows = append(rows, r)
	}
	return rows
}

func runExperiments(cmd *cobra.Command, args []string) error {
	switch experimentsOutput {
	case "table", "json", "yaml":
	default:
		return &client.ValidationError{Field: "output", Message: fmt.Sprintf("unknown output format %q", experimentsOutput)}
	}

	ctx, cancel := commandContext()
	defer cancel()

	a := newApp()
	defer a.Close()

	if !experimentsWatch {
		list, err := a.experiments.Refresh(ctx)
		if err != nil {
			return err
		}
		return writeExperiments(os.Stdout, list, experimentsOutput)
	}

	a.experiments.Run(ctx, func(list []client.Experiment, err error) {
		fmt.Printf("\n── %s ──\n", time.Now().Format("15:04:05"))
		if err != nil {
			fmt.Println(defaultTheme.errorStyle().Render(err.Error()))
			return
		}
		if err := writeExperiments(os.Stdout, list, experimentsOutput); err != nil {
			logger.Error("failed to print experiments", "error", err)
		}
	})
	return nil
}

func writeExperiments(w io.Writer, list []client.Experiment, format string) error {
	rows := toExperimentRows(sortExperiments(list))

	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(rows); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	}

	if len(rows) == 0 {
		fmt.Fprintln(w, "No experiments found.")
		return nil
	}
	fmt.Fprintf(w, "%-14s %-14s %-11s %-10s %-8s %s\n", "ID", "GAME", "TYPE", "STATUS", "SCORE", "WHEN")
	fmt.Fprintln(w, "--------------------------------------------------------------------------------")
	for _, r := range rows {
		score := "-"
		if r.Score != nil {
			score = fmt.Sprintf("%.4f", *r.Score)
		}
		fmt.Fprintf(w, "%-14s %-14s %-11s %-10s %-8s %s\n", truncateID(r.ID), r.Game, r.Type, r.Status, score, r.Timestamp)
		switch {
		case r.Error != "":
			fmt.Fprintf(w, "  Error: %s\n", r.Error)
		case r.Summary != "":
			fmt.Fprintf(w, "  %s\n", r.Summary)
		}
	}

	if ready := models.ReadyGames(list); len(ready) > 0 {
		fmt.Fprintf(w, "\nReady for prediction: %v\n", ready)
	}
	return nil
}

// sortExperiments orders newest first without touching the cache.
func sortExperiments(list []client.Experiment) []client.Experiment {
	out := slices.Clone(list)
	slices.SortStableFunc(out, func(a, b client.Experiment) int {
		return b.Timestamp.Compare(a.Timestamp)
	})
	return out
}

func truncateID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
