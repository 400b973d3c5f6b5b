package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/raphaelgruber/mensa/internal/client"
	"github.com/raphaelgruber/mensa/internal/events"
	"github.com/raphaelgruber/mensa/internal/models"
)

// TrainCoordinator runs synchronous training with a synthetic progress
// indicator. Preconditions are checked before any network call.
type TrainCoordinator struct {
	api         API
	catalog     *Catalog
	ingest      *IngestCoordinator
	experiments *ExperimentsStore
	updates     *events.Bus[models.TrainingRun]
	recorder    JobRecorder
	tick        time.Duration
	logger      *slog.Logger

	mu   sync.RWMutex
	runs map[string]models.TrainingRun
}

// NewTrainCoordinator creates a coordinator. updates and recorder may be nil.
func NewTrainCoordinator(api API, catalog *Catalog, ingest *IngestCoordinator, experiments *ExperimentsStore,
	updates *events.Bus[models.TrainingRun], recorder JobRecorder, tick time.Duration, logger *slog.Logger) *TrainCoordinator {
	if tick <= 0 {
		tick = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TrainCoordinator{
		api:         api,
		catalog:     catalog,
		ingest:      ingest,
		experiments: experiments,
		updates:     updates,
		recorder:    recorder,
		tick:        tick,
		logger:      logger,
		runs:        make(map[string]models.TrainingRun),
	}
}

// Run returns the latest run for game.
func (c *TrainCoordinator) Run(game string) (models.TrainingRun, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.runs[game]
	return r, ok
}

// CanTrain checks the workflow preconditions for game: ingestion completed,
// at least one stored draw, and no run in progress.
func (c *TrainCoordinator) CanTrain(game string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.canTrainLocked(game)
}

// Start validates, then issues one train request and blocks until it
// returns. Rejections are returned as errors; a failed run is returned with
// status error and a nil error.
func (c *TrainCoordinator) Start(ctx context.Context, game string, params models.Hyperparameters) (models.TrainingRun, error) {
	if err := params.Validate(); err != nil {
		return models.TrainingRun{}, err
	}

	c.mu.Lock()
	if err := c.canTrainLocked(game); err != nil {
		c.mu.Unlock()
		return models.TrainingRun{}, err
	}
	run := models.NewTrainingRun(game, params, time.Now())
	c.runs[game] = run
	c.mu.Unlock()

	c.logger.Info("training started", "game", game, "run_id", run.ID,
		"test_size", params.TestSizePercent, "estimators", params.NEstimators,
		"max_depth", params.MaxDepth, "seed", params.RandomState)
	c.publish(run)

	tickCtx, stopTicking := context.WithCancel(ctx)
	ticking := make(chan struct{})
	go func() {
		defer close(ticking)
		c.advance(tickCtx, game, run.ID)
	}()

	resp, err := c.api.Train(ctx, params.Request(game))
	stopTicking()
	<-ticking

	run, _ = c.update(game, run.ID, func(r models.TrainingRun) models.TrainingRun {
		return r.Complete(resp, err, time.Now())
	})

	if run.Status == models.StatusError {
		c.logger.Error("training failed", "game", game, "run_id", run.ID, "error", run.Error)
	} else {
		c.logger.Info("training completed", "game", game, "run_id", run.ID, "experiment_id", run.ExperimentID)
		run = c.checkEcho(ctx, run)
	}
	if c.recorder != nil {
		c.recorder.RecordJob("train", string(run.Status))
	}
	return run, nil
}

// canTrainLocked checks the preconditions. Caller must hold c.mu.
func (c *TrainCoordinator) canTrainLocked(game string) error {
	if r, ok := c.runs[game]; ok && r.Status == models.StatusActive {
		return fmt.Errorf("train %s: %w", game, ErrJobActive)
	}

	g, ok := c.catalog.Game(game)
	if !ok {
		return fmt.Errorf("train %s: %w", game, ErrUnknownGame)
	}
	job, ok := c.ingest.Job(game)
	if !ok || job.Status != models.StatusCompleted {
		return &client.ValidationError{Field: "game", Message: fmt.Sprintf("ingest data for %s before training", game)}
	}
	if !g.HasDraws() {
		return &client.ValidationError{Field: "game", Message: fmt.Sprintf("%s has no draws to train on", game)}
	}
	return nil
}

// advance moves the synthetic progress every tick until ctx ends.
func (c *TrainCoordinator) advance(ctx context.Context, game, id string) {
	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.update(game, id, func(r models.TrainingRun) models.TrainingRun {
				if r.Status == models.StatusActive {
					r.Progress = models.AdvanceSyntheticProgress(r.Progress)
				}
				return r
			})
		}
	}
}

// checkEcho refreshes experiments and compares echoed params with the
// submitted ones. A mismatch is flagged on the run.
func (c *TrainCoordinator) checkEcho(ctx context.Context, run models.TrainingRun) models.TrainingRun {
	if c.experiments == nil {
		return run
	}
	if _, err := c.experiments.Refresh(ctx); err != nil {
		c.logger.Warn("failed to refresh experiments after training", "game", run.Game, "error", err)
		return run
	}

	exp, ok := c.experiments.Find(run.ExperimentID)
	if !ok {
		return run
	}
	mismatches := run.Params.CompareEcho(exp.Params)
	if len(mismatches) == 0 {
		return run
	}

	c.logger.Warn("server echoed different hyperparameters", "game", run.Game, "experiment_id", run.ExperimentID, "mismatches", mismatches)
	run, _ = c.update(run.Game, run.ID, func(r models.TrainingRun) models.TrainingRun {
		r.ParamsMismatch = mismatches
		return r
	})
	return run
}

func (c *TrainCoordinator) update(game, id string, fn func(models.TrainingRun) models.TrainingRun) (models.TrainingRun, bool) {
	c.mu.Lock()
	cur, ok := c.runs[game]
	if !ok || cur.ID != id {
		c.mu.Unlock()
		return models.TrainingRun{}, false
	}
	next := fn(cur)
	c.runs[game] = next
	c.mu.Unlock()

	c.publish(next)
	return next, true
}

func (c *TrainCoordinator) publish(run models.TrainingRun) {
	if c.updates != nil {
		c.updates.Publish(run)
	}
}
