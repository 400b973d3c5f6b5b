package models

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/raphaelgruber/mensa/internal/client"
)

// DefaultRecentK is the default window of recent draws fed to the model.
const DefaultRecentK = 10

// ParseRecentK parses user input for the recent-draws window. Empty,
// non-numeric, non-integer, NaN, zero and negative values are rejected.
func ParseRecentK(s string) (int, error) {
	v := strings.TrimSpace(s)
	if v == "" {
		return 0, &client.ValidationError{Field: "recent_k", Message: "recent draws is required"}
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, &client.ValidationError{Field: "recent_k", Message: fmt.Sprintf("recent draws must be a number, got %q", v)}
	}
	if f != math.Trunc(f) {
		return 0, &client.ValidationError{Field: "recent_k", Message: fmt.Sprintf("recent draws must be a whole number, got %q", v)}
	}
	if f < 1 {
		return 0, &client.ValidationError{Field: "recent_k", Message: fmt.Sprintf("recent draws must be at least 1, got %q", v)}
	}
	return int(f), nil
}

// ValidateRecentK checks an already-numeric window.
func ValidateRecentK(k int) error {
	if k < 1 {
		return &client.ValidationError{Field: "recent_k", Message: fmt.Sprintf("recent draws must be at least 1, got %d", k)}
	}
	return nil
}

// OutcomeStatus is the normalized result of one game's prediction.
type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeError   OutcomeStatus = "error"
)

// PredictionOutcome is the uniform per-game result shape, whatever the cause
// of a failure was.
type PredictionOutcome struct {
	Game       string
	Status     OutcomeStatus
	Message    string
	Prediction *client.GamePrediction
}

// NormalizePrediction collapses a transport error, an application error, or
// a per-game error field into one PredictionOutcome.
func NormalizePrediction(game string, pred *client.GamePrediction, err error) PredictionOutcome {
	switch {
	case err != nil:
		return PredictionOutcome{Game: game, Status: OutcomeError, Message: err.Error()}
	case pred == nil:
		return PredictionOutcome{Game: game, Status: OutcomeError, Message: "empty prediction"}
	case pred.Error != "":
		return PredictionOutcome{Game: game, Status: OutcomeError, Message: pred.Error, Prediction: pred}
	}
	return PredictionOutcome{Game: game, Status: OutcomeSuccess, Prediction: pred}
}

// PredictionSummary aggregates a fan-out of outcomes.
type PredictionSummary struct {
	Succeeded int
	Failed    []string // failed games in outcome order
	Warning   string   // set when some but not all failed
	Err       error    // set when every game failed
}

// SummarizePredictions builds the aggregate warning or error.
func SummarizePredictions(outcomes []PredictionOutcome) PredictionSummary {
	var s PredictionSummary
	for _, o := range outcomes {
		if o.Status == OutcomeSuccess {
			s.Succeeded++
		} else {
			s.Failed = append(s.Failed, o.Game)
		}
	}

	total := len(outcomes)
	switch {
	case len(s.Failed) == 0:
	case s.Succeeded == 0:
		s.Err = fmt.Errorf("all %d games failed: %s", total, strings.Join(s.Failed, ", "))
	default:
		s.Warning = fmt.Sprintf("%d of %d games failed: %s", len(s.Failed), total, strings.Join(s.Failed, ", "))
	}
	return s
}
