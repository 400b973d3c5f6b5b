package cli

import (
	"fmt"
	"time"

	"github.com/raphaelgruber/mensa/internal/models"
	"github.com/raphaelgruber/mensa/internal/service"
	"github.com/spf13/cobra"
)

var (
	ingestForce      bool
	ingestSequential bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [game|all]",
	Short: "Ingest draw history for one game or all games",
	Long: `Trigger ingestion and follow it until it completes or fails.

A game that already has stored draws is confirmed without a new request
unless --force is given. "all" ingests every game, concurrently unless
--sequential is set; one game failing never stops the others.

Examples:
  mensa ingest pick3
  mensa ingest all --sequential
  mensa ingest powerball --force`,
	Args:        cobra.MaximumNArgs(1),
	Annotations: map[string]string{tuiAnnotation: "true"},
	RunE:        runIngest,
}

func init() {
	ingestCmd.Flags().BoolVarP(&ingestForce, "force", "f", false, "re-ingest even when draws are stored")
	ingestCmd.Flags().BoolVar(&ingestSequential, "sequential", false, "ingest one game at a time (all only)")
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	a := newApp()
	defer a.Close()

	game, err := resolveGame(ctx, a, args, true)
	if err != nil {
		return err
	}
	opts := service.IngestOptions{
		Force:      ingestForce,
		Sequential: ingestSequential || !cfg.Features.ConcurrentIngest,
	}

	if game == models.AllGames {
		names := a.catalog.Names()
		var agg service.IngestAggregate
		err := runProgress("Ingesting all games", ingestLines(a, names), cancel, func() error {
			var err error
			agg, err = a.ingest.StartAll(ctx, names, opts)
			return err
		})
		if err != nil {
			return err
		}
		printJobs(agg.Jobs)
		if agg.Status != models.StatusCompleted {
			return fmt.Errorf("ingestion failed: %s", agg.Message)
		}
		return nil
	}

	var job models.IngestionJob
	err = runProgress("Ingesting "+game, ingestLines(a, []string{game}), cancel, func() error {
		var err error
		job, err = a.ingest.Start(ctx, game, opts)
		return err
	})
	if err != nil {
		return err
	}
	printJobs([]models.IngestionJob{job})
	if job.Status == models.StatusError {
		return fmt.Errorf("ingest %s failed: %s", game, job.Error)
	}
	return nil
}

func ingestLines(a *app, games []string) func() []jobLine {
	return func() []jobLine {
		var lines []jobLine
		for _, g := range games {
			if j, ok := a.ingest.Job(g); ok {
				lines = append(lines, ingestLine(j))
			}
		}
		return lines
	}
}

// printJobs displays settled ingestion jobs.
func printJobs(jobs []models.IngestionJob) {
	if len(jobs) == 0 {
		fmt.Println("No jobs found")
		return
	}

	fmt.Printf("%-10s %-16s %-12s %-12s %s\n", "ID", "GAME", "STATUS", "ROWS", "DURATION")
	fmt.Println("------------------------------------------------------------------------")

	for _, job := range jobs {
		rows := ""
		switch {
		case job.TotalRows > 0:
			rows = fmt.Sprintf("%d/%d", job.RowsFetched, job.TotalRows)
		case job.RowsFetched > 0:
			rows = fmt.Sprintf("%d", job.RowsFetched)
		}
		duration := ""
		if job.CompletedAt != nil && !job.StartedAt.IsZero() {
			duration = job.CompletedAt.Sub(job.StartedAt).Round(time.Millisecond).String()
		}
		status := string(job.Status)
		if job.Confirmed {
			status += " (stored)"
		}
		fmt.Printf("%-10s %-16s %-12s %-12s %s\n", job.ID, job.Game, status, rows, duration)
		if job.Error != "" {
			fmt.Printf("  Error: %s\n", job.Error)
		}
	}
}
