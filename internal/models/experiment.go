package models

import (
	"slices"
	"strings"

	"github.com/raphaelgruber/mensa/internal/client"
)

// IsTrainingExperiment reports whether e is a training record. Records
// without a type predate the field and are training runs.
func IsTrainingExperiment(e client.Experiment) bool {
	t := strings.ToLower(e.Type)
	return t == "" || t == "training" || t == "train"
}

// IsSuccessful reports whether e finished successfully.
func IsSuccessful(e client.Experiment) bool {
	switch strings.ToLower(e.Status) {
	case "completed", "success":
		return true
	}
	return false
}

// DedupExperiments keeps the first record per id, preserving order.
// Records without an id are kept as is.
func DedupExperiments(list []client.Experiment) []client.Experiment {
	seen := make(map[string]bool, len(list))
	out := make([]client.Experiment, 0, len(list))
	for _, e := range list {
		if e.ID != "" {
			if seen[e.ID] {
				continue
			}
			seen[e.ID] = true
		}
		out = append(out, e)
	}
	return out
}

// IsTrained reports whether at least one training experiment succeeded.
func IsTrained(list []client.Experiment) bool {
	return slices.ContainsFunc(list, func(e client.Experiment) bool {
		return IsTrainingExperiment(e) && IsSuccessful(e)
	})
}

// ReadyGames returns the distinct games with a successful training
// experiment, most recent first.
func ReadyGames(list []client.Experiment) []string {
	trained := make([]client.Experiment, 0, len(list))
	for _, e := range list {
		if e.Game != "" && IsTrainingExperiment(e) && IsSuccessful(e) {
			trained = append(trained, e)
		}
	}
	slices.SortStableFunc(trained, func(a, b client.Experiment) int {
		return b.Timestamp.Compare(a.Timestamp)
	})

	var games []string
	for _, e := range trained {
		if !slices.Contains(games, e.Game) {
			games = append(games, e.Game)
		}
	}
	return games
}

// LatestTraining returns the most recent training experiment for game.
func LatestTraining(list []client.Experiment, game string) (client.Experiment, bool) {
	var best client.Experiment
	found := false
	for _, e := range list {
		if e.Game != game || !IsTrainingExperiment(e) {
			continue
		}
		if !found || e.Timestamp.After(best.Timestamp) {
			best = e
			found = true
		}
	}
	return best, found
}
