package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/raphaelgruber/mensa/internal/models"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	trainTestSize   int
	trainEstimators int
	trainMaxDepth   int
	trainSeed       int
	trainParamsFile string
)

var trainCmd = &cobra.Command{
	Use:   "train [game]",
	Short: "Train a model for a game",
	Long: `Train a model on a game's stored draws. The game must have been ingested
and hold at least one draw.

Hyperparameters come from the defaults, then --params (YAML), then flags:

  test_size: 20        # percent, 10-50
  n_estimators: 100    # 50-500, steps of 50
  max_depth: 10        # 5-50, steps of 5
  random_state: 42

Examples:
  mensa train pick3
  mensa train powerball --estimators 200 --max-depth 15
  mensa train mega --params params.yaml`,
	Args:        cobra.MaximumNArgs(1),
	Annotations: map[string]string{tuiAnnotation: "true"},
	RunE:        runTrain,
}

func init() {
	defaults := models.DefaultHyperparameters()
	trainCmd.Flags().IntVar(&trainTestSize, "test-size", defaults.TestSizePercent, "test split in percent")
	trainCmd.Flags().IntVar(&trainEstimators, "estimators", defaults.NEstimators, "number of estimators")
	trainCmd.Flags().IntVar(&trainMaxDepth, "max-depth", defaults.MaxDepth, "maximum tree depth")
	trainCmd.Flags().IntVar(&trainSeed, "seed", defaults.RandomState, "random seed")
	trainCmd.Flags().StringVar(&trainParamsFile, "params", "", "YAML file with hyperparameters")
}

func runTrain(cmd *cobra.Command, args []string) error {
	params, err := trainParams(cmd)
	if err != nil {
		return err
	}
	if err := params.Validate(); err != nil {
		return err
	}

	ctx, cancel := commandContext()
	defer cancel()

	a := newApp()
	defer a.Close()

	game, err := resolveGame(ctx, a, args, false)
	if err != nil {
		return err
	}
	if err := a.train.CanTrain(game); err != nil {
		return err
	}

	var run models.TrainingRun
	snapshot := func() []jobLine {
		if r, ok := a.train.Run(game); ok {
			return []jobLine{trainLine(r)}
		}
		return nil
	}
	err = runProgress("Training "+game, snapshot, cancel, func() error {
		var err error
		run, err = a.train.Start(ctx, game, params)
		return err
	})
	if err != nil {
		return err
	}

	return printRun(run)
}

// trainParams merges defaults, the params file and explicitly set flags.
func trainParams(cmd *cobra.Command) (models.Hyperparameters, error) {
	params := models.DefaultHyperparameters()

	if trainParamsFile != "" {
		data, err := os.ReadFile(trainParamsFile)
		if err != nil {
			return params, fmt.Errorf("read params: %w", err)
		}
		if err := yaml.Unmarshal(data, &params); err != nil {
			return params, fmt.Errorf("parse params %s: %w", trainParamsFile, err)
		}
	}

	flags := cmd.Flags()
	if flags.Changed("test-size") {
		params.TestSizePercent = trainTestSize
	}
	if flags.Changed("estimators") {
		params.NEstimators = trainEstimators
	}
	if flags.Changed("max-depth") {
		params.MaxDepth = trainMaxDepth
	}
	if flags.Changed("seed") {
		params.RandomState = trainSeed
	}
	return params, nil
}

func printRun(run models.TrainingRun) error {
	if run.Status == models.StatusError {
		fmt.Println(defaultTheme.errorStyle().Render("✗ Training failed"))
		return fmt.Errorf("train %s: %s", run.Game, run.Error)
	}

	fmt.Println(defaultTheme.completedStyle().Render("✓ Training completed"))
	fmt.Printf("  Game:        %s\n", run.Game)
	fmt.Printf("  Experiment:  %s\n", run.ExperimentID)
	if run.Score != nil {
		fmt.Printf("  Score:       %.4f\n", *run.Score)
	}
	p := run.Params
	fmt.Printf("  Params:      test %d%%, %d estimators, depth %d, seed %d\n", p.TestSizePercent, p.NEstimators, p.MaxDepth, p.RandomState)
	if run.CompletedAt != nil {
		fmt.Printf("  Duration:    %s\n", run.CompletedAt.Sub(run.StartedAt).Round(100 * time.Millisecond))
	}

	if len(run.ParamsMismatch) > 0 {
		fmt.Println(defaultTheme.errorStyle().Render("\nServer used different hyperparameters:"))
		for _, m := range run.ParamsMismatch {
			fmt.Printf("  • %s\n", m)
		}
	}
	return nil
}
