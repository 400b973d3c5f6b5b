package service

import (
	"context"
	"log/slog"
	"sync"

	"github.com/raphaelgruber/mensa/internal/client"
	"github.com/raphaelgruber/mensa/internal/models"
)

// Predictor requests predictions for one game or many.
type Predictor struct {
	api    API
	logger *slog.Logger
}

// NewPredictor creates a predictor.
func NewPredictor(api API, logger *slog.Logger) *Predictor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Predictor{api: api, logger: logger}
}

// Predict requests one game. Only client-side validation is returned as an
// error; request failures are normalized into the outcome.
func (p *Predictor) Predict(ctx context.Context, game string, recentK int) (models.PredictionOutcome, error) {
	if err := models.ValidateRecentK(recentK); err != nil {
		return models.PredictionOutcome{}, err
	}
	return p.predict(ctx, game, recentK), nil
}

func (p *Predictor) predict(ctx context.Context, game string, recentK int) models.PredictionOutcome {
	pred, err := p.api.Predict(ctx, client.PredictRequest{Game: game, RecentK: recentK})
	out := models.NormalizePrediction(game, pred, err)
	if out.Status == models.OutcomeError {
		p.logger.Warn("prediction failed", "game", game, "error", out.Message)
	}
	return out
}

// PredictAll requests every game concurrently and settles all of them.
// Outcomes keep the order of games regardless of completion order.
func (p *Predictor) PredictAll(ctx context.Context, games []string, recentK int) ([]models.PredictionOutcome, models.PredictionSummary, error) {
	if err := models.ValidateRecentK(recentK); err != nil {
		return nil, models.PredictionSummary{}, err
	}

	outcomes := make([]models.PredictionOutcome, len(games))
	var wg sync.WaitGroup
	for i, g := range games {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i] = p.predict(ctx, g, recentK)
		}()
	}
	wg.Wait()

	summary := models.SummarizePredictions(outcomes)
	if summary.Warning != "" {
		p.logger.Warn("partial prediction failure", "warning", summary.Warning)
	}
	return outcomes, summary, nil
}
