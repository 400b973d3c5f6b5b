package models

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/raphaelgruber/mensa/internal/client"
)

// Synthetic training progress. The backend reports no real progress for the
// synchronous train call, so the client creeps toward a cap and snaps to 100
// when the response arrives.
const (
	SyntheticStep = 5
	SyntheticCap  = 95
)

// Hyperparameters are the tunable training inputs.
type Hyperparameters struct {
	TestSizePercent int `yaml:"test_size"`
	NEstimators     int `yaml:"n_estimators"`
	MaxDepth        int `yaml:"max_depth"`
	RandomState     int `yaml:"random_state"`
}

// DefaultHyperparameters returns the dashboard defaults.
func DefaultHyperparameters() Hyperparameters {
	return Hyperparameters{
		TestSizePercent: 20,
		NEstimators:     100,
		MaxDepth:        10,
		RandomState:     42,
	}
}

// Validate checks bounds: test split 10-50%, estimators 50-500 in steps of 50,
// max depth 5-50 in steps of 5, seed >= 0.
func (h Hyperparameters) Validate() error {
	switch {
	case h.TestSizePercent < 10 || h.TestSizePercent > 50:
		return &client.ValidationError{Field: "test_size", Message: fmt.Sprintf("test split must be between 10%% and 50%%, got %d%%", h.TestSizePercent)}
	case h.NEstimators < 50 || h.NEstimators > 500 || h.NEstimators%50 != 0:
		return &client.ValidationError{Field: "n_estimators", Message: fmt.Sprintf("estimators must be 50-500 in steps of 50, got %d", h.NEstimators)}
	case h.MaxDepth < 5 || h.MaxDepth > 50 || h.MaxDepth%5 != 0:
		return &client.ValidationError{Field: "max_depth", Message: fmt.Sprintf("max depth must be 5-50 in steps of 5, got %d", h.MaxDepth)}
	case h.RandomState < 0:
		return &client.ValidationError{Field: "random_state", Message: fmt.Sprintf("random seed must be >= 0, got %d", h.RandomState)}
	}
	return nil
}

// Request builds the train payload for game.
func (h Hyperparameters) Request(game string) client.TrainRequest {
	return client.TrainRequest{
		Game:        game,
		TestSize:    float64(h.TestSizePercent) / 100,
		NEstimators: h.NEstimators,
		MaxDepth:    h.MaxDepth,
		RandomState: h.RandomState,
	}
}

// CompareEcho compares server-echoed params with h and returns one entry per
// mismatching field. Absent fields are not compared. Both camelCase and
// snake_case keys are accepted; a test size above 1 is read as a percentage.
func (h Hyperparameters) CompareEcho(params map[string]any) []string {
	if len(params) == 0 {
		return nil
	}

	var mismatches []string
	check := func(name string, want float64, keys ...string) {
		for _, k := range keys {
			raw, ok := params[k]
			if !ok {
				continue
			}
			got, ok := toFloat(raw)
			if !ok {
				mismatches = append(mismatches, fmt.Sprintf("%s: unreadable value %v", name, raw))
				return
			}
			if name == "test_size" && got > 1 {
				got /= 100
			}
			if math.Abs(got-want) > 1e-9 {
				mismatches = append(mismatches, fmt.Sprintf("%s: sent %v, server used %v", name, want, got))
			}
			return
		}
	}

	check("test_size", float64(h.TestSizePercent)/100, "testSize", "test_size")
	check("n_estimators", float64(h.NEstimators), "nEstimators", "n_estimators")
	check("max_depth", float64(h.MaxDepth), "maxDepth", "max_depth")
	check("random_state", float64(h.RandomState), "randomState", "random_state")
	return mismatches
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// AdvanceSyntheticProgress returns the next synthetic percentage, capped.
func AdvanceSyntheticProgress(p int) int {
	return min(p+SyntheticStep, SyntheticCap)
}

// TrainingRun tracks one training request.
type TrainingRun struct {
	ID             string
	Game           string
	Status         JobStatus
	Progress       int // synthetic, 0-100
	Params         Hyperparameters
	ExperimentID   string
	Score          *float64
	Error          string
	ParamsMismatch []string
	StartedAt      time.Time
	CompletedAt    *time.Time
}

// NewTrainingRun creates an active run at 0%.
func NewTrainingRun(game string, params Hyperparameters, now time.Time) TrainingRun {
	return TrainingRun{
		ID:        uuid.New().String()[:8],
		Game:      game,
		Status:    StatusActive,
		Params:    params,
		StartedAt: now,
	}
}

// Complete resolves the run from the train response. Any response snaps the
// progress to 100; a transport failure resets it.
func (r TrainingRun) Complete(resp *client.TrainResponse, err error, now time.Time) TrainingRun {
	r.CompletedAt = &now
	if err != nil {
		r.Status = StatusError
		r.Error = err.Error()
		r.Progress = 0
		if resp != nil {
			r.Progress = 100
		}
		return r
	}
	r.Status = StatusCompleted
	r.Progress = 100
	r.ExperimentID = resp.ExperimentID
	r.Score = resp.Score
	return r
}
