package cli

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/AlecAivazis/survey/v2"
	"github.com/raphaelgruber/mensa/internal/models"
	"github.com/raphaelgruber/mensa/internal/service"
	"github.com/spf13/cobra"
)

var gamesCmd = &cobra.Command{
	Use:   "games",
	Short: "List games with stored draw counts",
	Long: `List the games known to the backend with the number of stored draws and
whether a trained model exists.

Examples:
  mensa games
  mensa games -v`,
	RunE: runGames,
}

func runGames(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	a := newApp()
	defer a.Close()

	games, err := a.catalog.Load(ctx)
	if err != nil {
		return err
	}
	if len(games) == 0 {
		fmt.Println("No games found.")
		return nil
	}

	// readiness is optional context; games still list without it
	var ready []string
	if _, err := a.experiments.Refresh(ctx); err != nil {
		logger.Warn("failed to load experiments", "error", err)
	} else {
		ready = a.experiments.ReadyGames()
	}

	fmt.Printf("Games (%d):\n\n", len(games))
	fmt.Printf("%-18s %10s  %s\n", "GAME", "DRAWS", "MODEL")
	fmt.Println("----------------------------------------------")
	for _, g := range games {
		draws := fmt.Sprintf("%d", g.DrawCount)
		if g.SummaryFailed {
			draws = "?"
		}
		model := "-"
		if slices.Contains(ready, g.Name) {
			model = "trained"
		}
		fmt.Printf("%-18s %10s  %s\n", g.Name, draws, model)
		if verbose && g.SummaryFailed {
			fmt.Printf("  summary failed: %s\n", g.SummaryError)
		}
	}

	if a.catalog.PartialFailure() {
		fmt.Println()
		fmt.Println(defaultTheme.errorStyle().Render("Some game summaries failed to load; their draw counts are unknown."))
	}
	return nil
}

// resolveGame returns the game named by args, or prompts for one.
// allowAll accepts the "all" sentinel.
func resolveGame(ctx context.Context, a *app, args []string, allowAll bool) (string, error) {
	if err := a.loadCatalog(ctx); err != nil {
		return "", err
	}
	names := a.catalog.Names()

	var game string
	switch {
	case len(args) > 0:
		game = args[0]
	case isInteractive():
		options := names
		if allowAll {
			options = append([]string{models.AllGames}, names...)
		}
		if err := survey.AskOne(&survey.Select{Message: "Game:", Options: options}, &game); err != nil {
			return "", fmt.Errorf("select game: %w", err)
		}
	default:
		return "", errors.New("game argument required")
	}

	if game == models.AllGames {
		if !allowAll {
			return "", fmt.Errorf("%q is not allowed here", models.AllGames)
		}
		return game, nil
	}
	if !slices.Contains(names, game) {
		return "", fmt.Errorf("%s: %w", game, service.ErrUnknownGame)
	}
	return game, nil
}
