// Package cli provides the command-line interface for mensa.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/raphaelgruber/mensa/internal/client"
	"github.com/raphaelgruber/mensa/internal/config"
	"github.com/raphaelgruber/mensa/internal/events"
	"github.com/raphaelgruber/mensa/internal/metrics"
	"github.com/raphaelgruber/mensa/internal/models"
	"github.com/raphaelgruber/mensa/internal/service"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose     bool
	showStats   bool
	apiBaseFlag string

	// Global config, logger and API client
	cfg       config.Config
	logger    *slog.Logger
	closeLog  func() error
	apiClient *client.Client
	collector *metrics.Collector
	buses     *events.Buses
)

// tuiAnnotation marks commands that hand the terminal to a bubbletea program.
const tuiAnnotation = "tui"

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "mensa",
	Short: "Terminal dashboard for the lottery ML backend",
	Long: `Mensa drives the lottery prediction backend from the terminal: watch backend
startup, ingest draw history, train models, inspect experiments, request
predictions and chat with the RAG assistant.

The API location comes from --api-base, MENSA_API_BASE or a local .env file.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		cfg = config.Load()
		if apiBaseFlag != "" {
			cfg.APIBase = config.NormalizeAPIBase(apiBaseFlag)
		}

		level := cfg.LogLevel
		if verbose {
			level = slog.LevelDebug
		}
		quiet := cmd.Annotations[tuiAnnotation] == "true" && isTerminal()
		logger, closeLog = config.SetupLogger(cfg.LogFile, level, quiet)
		slog.SetDefault(logger)

		collector = metrics.NewCollector()
		apiClient = client.New(cfg.BaseURL(), client.Options{
			Timeout:       cfg.RequestTimeout,
			RetryAttempts: cfg.RetryAttempts,
			RetryBackoff:  cfg.RetryBackoff,
			Recorder:      collector,
		})
		buses = events.NewBuses()

		logger.Debug("configured", "api_base", apiClient.BaseURL(), "command", cmd.Name())
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if showStats && collector != nil {
			printStats(collector.Snapshot())
		}
		if buses != nil {
			buses.Close()
		}
		if closeLog != nil {
			if err := closeLog(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", err)
			}
		}
	},
}

// app wires the coordinators for one command invocation.
type app struct {
	catalog     *service.Catalog
	jobs        *service.JobManager
	ingest      *service.IngestCoordinator
	experiments *service.ExperimentsStore
	train       *service.TrainCoordinator
	predictor   *service.Predictor
	startup     *service.StartupMonitor
	chroma      *service.ChromaMonitor

	jobUpdates *events.Bus[models.IngestionJob]
	runUpdates *events.Bus[models.TrainingRun]
}

func newApp() *app {
	a := &app{
		jobUpdates: events.NewBus[models.IngestionJob](),
		runUpdates: events.NewBus[models.TrainingRun](),
	}
	a.catalog = service.NewCatalog(apiClient, logger)
	a.jobs = service.NewJobManager(a.jobUpdates, collector, logger)
	a.ingest = service.NewIngestCoordinator(apiClient, a.catalog, a.jobs, buses.Collections, cfg.IngestPollInterval, logger)
	a.experiments = service.NewExperimentsStore(apiClient, cfg.ExperimentsPollInterval, logger)
	a.train = service.NewTrainCoordinator(apiClient, a.catalog, a.ingest, a.experiments, a.runUpdates, collector, cfg.TrainTickInterval, logger)
	a.predictor = service.NewPredictor(apiClient, logger)
	a.startup = service.NewStartupMonitor(apiClient, cfg.StartupPollInterval, cfg.StartupFailureThreshold, apiClient.BaseURL(), logger)
	a.chroma = service.NewChromaMonitor(apiClient, cfg.ChromaPollInterval, buses.Collections, logger)
	return a
}

func (a *app) Close() {
	a.jobUpdates.Close()
	a.runUpdates.Close()
}

// loadCatalog loads the games and records server-side ingestion state.
func (a *app) loadCatalog(ctx context.Context) error {
	games, err := a.catalog.Load(ctx)
	if err != nil {
		return err
	}
	a.ingest.Reconcile(games)
	return nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&showStats, "stats", false, "print request statistics on exit")
	rootCmd.PersistentFlags().StringVar(&apiBaseFlag, "api-base", "", "backend API base URL (overrides MENSA_API_BASE)")

	// Add subcommands
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(gamesCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(trainCmd)
	rootCmd.AddCommand(experimentsCmd)
	rootCmd.AddCommand(predictCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(chromaCmd)
	rootCmd.AddCommand(apiCmd)
	rootCmd.AddCommand(dashboardCmd)
}

// commandContext is cancelled on interrupt.
func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

func isTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func isInteractive() bool {
	return isTerminal() && term.IsTerminal(int(os.Stdin.Fd()))
}
