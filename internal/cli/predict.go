package cli

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/raphaelgruber/mensa/internal/client"
	"github.com/raphaelgruber/mensa/internal/models"
	"github.com/spf13/cobra"
)

var predictRecent string

var predictCmd = &cobra.Command{
	Use:   "predict [game|all]",
	Short: "Request predictions for one game or all games",
	Long: `Request the next draw prediction from the trained model. With "all",
every game is requested concurrently; failures are reported per game.
A game can only be predicted after a successful training run.

Examples:
  mensa predict powerball
  mensa predict all --recent 20`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPredict,
}

func init() {
	predictCmd.Flags().StringVarP(&predictRecent, "recent", "k", strconv.Itoa(models.DefaultRecentK), "number of recent draws fed to the model")
}

func runPredict(cmd *cobra.Command, args []string) error {
	recentK, err := models.ParseRecentK(predictRecent)
	if err != nil {
		return err
	}

	ctx, cancel := commandContext()
	defer cancel()

	a := newApp()
	defer a.Close()

	game, err := resolveGame(ctx, a, args, true)
	if err != nil {
		return err
	}

	if _, err := a.experiments.Refresh(ctx); err != nil {
		return fmt.Errorf("check trained models: %w", err)
	}
	if err := requireTrained(a.experiments.IsTrained(), a.experiments.ReadyGames(), game); err != nil {
		return err
	}

	if game != models.AllGames {
		out, err := a.predictor.Predict(ctx, game, recentK)
		if err != nil {
			return err
		}
		fmt.Print(formatOutcome(out, defaultTheme))
		if out.Status == models.OutcomeError {
			return fmt.Errorf("predict %s: %s", game, out.Message)
		}
		return nil
	}

	outcomes, summary, err := a.predictor.PredictAll(ctx, a.catalog.Names(), recentK)
	if err != nil {
		return err
	}
	for _, o := range outcomes {
		fmt.Print(formatOutcome(o, defaultTheme))
	}
	if summary.Warning != "" {
		fmt.Println()
		fmt.Println(defaultTheme.errorStyle().Render("Warning: " + summary.Warning))
	}
	return summary.Err
}

// requireTrained rejects prediction before any training run succeeded, and
// for a single game without its own trained model.
func requireTrained(trained bool, ready []string, game string) error {
	if !trained {
		return &client.ValidationError{Field: "game", Message: "no trained model yet: run mensa train <game> first"}
	}
	if game != models.AllGames && !slices.Contains(ready, game) {
		return &client.ValidationError{Field: "game", Message: fmt.Sprintf("%s has no trained model: run mensa train %s first", game, game)}
	}
	return nil
}

// formatOutcome renders one prediction result.
func formatOutcome(o models.PredictionOutcome, t Theme) string {
	var b strings.Builder
	b.WriteString(t.titleStyle().Render(o.Game))
	b.WriteString("\n")

	if o.Status == models.OutcomeError {
		b.WriteString("  " + t.errorStyle().Render("✗ "+o.Message) + "\n")
		return b.String()
	}

	p := o.Prediction
	mainLabel, bonusLabel := p.Labels()
	fmt.Fprintf(&b, "  %-8s %s\n", mainLabel+":", formatNumbers(p.MainNumbers()))
	if bonus := p.BonusNumbers(); len(bonus) > 0 {
		fmt.Fprintf(&b, "  %-8s %s\n", bonusLabel+":", t.bonusStyle().Render(formatNumbers(bonus)))
	}
	for i, s := range p.Sessions {
		fmt.Fprintf(&b, "  %-8s %s\n", fmt.Sprintf("#%d:", i+1), formatNumbers(s))
	}
	return b.String()
}

func formatNumbers(nums []int) string {
	parts := make([]string, len(nums))
	for i, n := range nums {
		parts[i] = fmt.Sprintf("%2d", n)
	}
	return strings.Join(parts, "  ")
}
