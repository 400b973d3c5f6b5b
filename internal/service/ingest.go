package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/raphaelgruber/mensa/internal/client"
	"github.com/raphaelgruber/mensa/internal/events"
	"github.com/raphaelgruber/mensa/internal/models"
)

// IngestOptions configures an ingestion trigger.
type IngestOptions struct {
	Force      bool // re-ingest even when the game already has draws
	Sequential bool // StartAll only: one game at a time
}

// IngestAggregate is the settled result of StartAll.
type IngestAggregate struct {
	Status  models.JobStatus // completed only when no game failed
	Message string           // "game: message" per failed game
	Jobs    []models.IngestionJob
}

// IngestCoordinator triggers ingestion and follows it to a terminal state by
// polling the progress endpoint.
type IngestCoordinator struct {
	api          API
	catalog      *Catalog
	jobs         *JobManager
	collections  *events.Bus[events.CollectionUpdate]
	pollInterval time.Duration
	logger       *slog.Logger
}

// NewIngestCoordinator creates a coordinator. collections may be nil.
func NewIngestCoordinator(api API, catalog *Catalog, jobs *JobManager, collections *events.Bus[events.CollectionUpdate], pollInterval time.Duration, logger *slog.Logger) *IngestCoordinator {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestCoordinator{
		api:          api,
		catalog:      catalog,
		jobs:         jobs,
		collections:  collections,
		pollInterval: pollInterval,
		logger:       logger,
	}
}

// Job returns the current job for game.
func (c *IngestCoordinator) Job(game string) (models.IngestionJob, bool) {
	return c.jobs.Get(game)
}

// Jobs returns all jobs, most recent first.
func (c *IngestCoordinator) Jobs() []models.IngestionJob {
	return c.jobs.List()
}

// Reconcile records games that already hold draws on the server as
// confirmed-completed. Existing local jobs are left alone.
func (c *IngestCoordinator) Reconcile(games []models.Game) {
	now := time.Now()
	for _, g := range games {
		if !g.HasDraws() {
			continue
		}
		if c.jobs.PutIfAbsent(models.ConfirmedIngestion(g.Name, g.DrawCount, now)) {
			c.logger.Debug("ingestion confirmed from server state", "game", g.Name, "draws", g.DrawCount)
		}
	}
}

// Start ingests one game and blocks until its job is terminal. It returns
// ErrJobActive when the game already has a running job; every other failure
// is recorded on the returned job.
func (c *IngestCoordinator) Start(ctx context.Context, game string, opts IngestOptions) (models.IngestionJob, error) {
	job, err := c.jobs.Begin(game, opts.Force)
	if err != nil {
		return job, err
	}

	before, known := c.catalog.Game(game)
	if !known || before.SummaryFailed {
		before, _ = c.catalog.Refresh(ctx, game)
	}

	if !opts.Force && before.HasDraws() {
		confirmed := models.ConfirmedIngestion(game, before.DrawCount, time.Now())
		job, _ = c.jobs.Apply(game, job.ID, func(j models.IngestionJob) models.IngestionJob {
			confirmed.ID = j.ID
			confirmed.StartedAt = j.StartedAt
			return confirmed
		})
		c.logger.Info("ingestion skipped, game already has draws", "game", game, "draws", before.DrawCount)
		return job, nil
	}

	job = c.run(ctx, job)

	if job.Status == models.StatusCompleted {
		c.afterCompletion(ctx, job, before.DrawCount)
	}
	return job, nil
}

// run issues the trigger while polling progress until the job is terminal.
func (c *IngestCoordinator) run(ctx context.Context, job models.IngestionJob) models.IngestionJob {
	game, id := job.Game, job.ID

	pollCtx, stopPolling := context.WithCancel(ctx)
	defer stopPolling()

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.poll(pollCtx, game, id)
	}()

	resp, err := c.api.Ingest(ctx, client.IngestRequest{Game: game, Force: job.Force})
	if err != nil {
		err = fmt.Errorf("ingest %s: %w", game, err)
	}
	cur, _ := c.jobs.Apply(game, id, func(j models.IngestionJob) models.IngestionJob {
		return models.ReduceIngestResponse(j, resp, err, time.Now())
	})

	if cur.Status.Terminal() {
		stopPolling()
	}
	<-done

	cur, _ = c.jobs.Get(game)
	if cur.ID == id && !cur.Status.Terminal() {
		// Polling stopped without a verdict: the caller cancelled.
		cause := context.Cause(ctx)
		if cause == nil {
			cause = errors.New("progress polling stopped")
		}
		cur, _ = c.jobs.Apply(game, id, func(j models.IngestionJob) models.IngestionJob {
			return models.ReduceIngestResponse(j, nil, fmt.Errorf("ingest %s: %w", game, cause), time.Now())
		})
	}
	return cur
}

// poll follows the progress endpoint until the job is terminal or ctx ends.
// Poll failures are transient: logged and retried on the next tick.
func (c *IngestCoordinator) poll(ctx context.Context, game, id string) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		p, err := c.api.IngestProgress(ctx, game)
		switch {
		case err != nil && ctx.Err() != nil:
			return
		case err != nil:
			c.logger.Debug("ingest progress poll failed", "game", game, "error", err)
		default:
			job, ok := c.jobs.Apply(game, id, func(j models.IngestionJob) models.IngestionJob {
				return models.ReduceIngestion(j, *p, time.Now())
			})
			if !ok || job.Status.Terminal() {
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// afterCompletion refreshes the game's draw count and announces the change.
func (c *IngestCoordinator) afterCompletion(ctx context.Context, job models.IngestionJob, drawsBefore int) {
	g, err := c.catalog.Refresh(ctx, job.Game)
	if err != nil {
		c.logger.Warn("failed to refresh summary after ingestion", "game", job.Game, "error", err)
	}

	update := events.CollectionUpdate{Game: job.Game, TotalRows: g.DrawCount}
	switch {
	case job.Added != nil:
		update.RowsAdded = *job.Added
	case err == nil:
		update.RowsAdded = max(g.DrawCount-drawsBefore, 0)
	}
	if job.Total != nil && err != nil {
		update.TotalRows = *job.Total
	}

	if c.collections != nil {
		c.collections.Publish(update)
	}
}

// StartAll ingests every game, concurrently unless opts.Sequential. Sibling
// failures never abort other games; the aggregate is completed only when no
// game failed. The models.AllGames sentinel job tracks the fan-out.
func (c *IngestCoordinator) StartAll(ctx context.Context, games []string, opts IngestOptions) (IngestAggregate, error) {
	parent, err := c.jobs.Begin(models.AllGames, opts.Force)
	if err != nil {
		return IngestAggregate{}, err
	}
	c.jobs.Apply(models.AllGames, parent.ID, func(j models.IngestionJob) models.IngestionJob {
		j.Status = models.StatusActive
		j.TotalRows = len(games)
		return j
	})

	results := make([]models.IngestionJob, len(games))
	runOne := func(i int, game string) {
		job, err := c.Start(ctx, game, opts)
		if err != nil {
			now := time.Now()
			job = models.IngestionJob{Game: game, Status: models.StatusError, Error: err.Error(), StartedAt: now, CompletedAt: &now}
		}
		results[i] = job
		c.jobs.Apply(models.AllGames, parent.ID, func(j models.IngestionJob) models.IngestionJob {
			j.RowsFetched++
			return j
		})
	}

	if opts.Sequential {
		for i, g := range games {
			runOne(i, g)
		}
	} else {
		var wg sync.WaitGroup
		for i, g := range games {
			wg.Add(1)
			go func() {
				defer wg.Done()
				runOne(i, g)
			}()
		}
		wg.Wait()
	}

	agg := aggregateIngestion(results)
	c.jobs.Apply(models.AllGames, parent.ID, func(j models.IngestionJob) models.IngestionJob {
		now := time.Now()
		j.Status = agg.Status
		j.Error = agg.Message
		j.CompletedAt = &now
		return j
	})
	return agg, nil
}

func aggregateIngestion(jobs []models.IngestionJob) IngestAggregate {
	agg := IngestAggregate{Status: models.StatusCompleted, Jobs: jobs}

	var failures []string
	for _, j := range jobs {
		if j.Status != models.StatusCompleted {
			msg := j.Error
			if msg == "" {
				msg = "did not complete"
			}
			failures = append(failures, fmt.Sprintf("%s: %s", j.Game, msg))
		}
	}
	if len(failures) > 0 {
		agg.Status = models.StatusError
		agg.Message = strings.Join(failures, "; ")
	}
	return agg
}

// IsJobActive reports whether err is ErrJobActive.
func IsJobActive(err error) bool {
	return errors.Is(err, ErrJobActive)
}
