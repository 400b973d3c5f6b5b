package service

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/raphaelgruber/mensa/internal/events"
	"github.com/raphaelgruber/mensa/internal/models"
)

// JobManager tracks ingestion jobs, one current job per game (or the
// models.AllGames sentinel). All methods are thread-safe.
type JobManager struct {
	mu       sync.RWMutex
	jobs     map[string]models.IngestionJob
	updates  *events.Bus[models.IngestionJob]
	recorder JobRecorder
	logger   *slog.Logger
}

// NewJobManager creates a job manager. updates and recorder may be nil.
func NewJobManager(updates *events.Bus[models.IngestionJob], recorder JobRecorder, logger *slog.Logger) *JobManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobManager{
		jobs:     make(map[string]models.IngestionJob),
		updates:  updates,
		recorder: recorder,
		logger:   logger,
	}
}

// Begin creates a pending job for game. It fails with ErrJobActive when the
// game's current job is still running.
func (m *JobManager) Begin(game string, force bool) (models.IngestionJob, error) {
	m.mu.Lock()
	if cur, ok := m.jobs[game]; ok && cur.Status.Running() {
		m.mu.Unlock()
		return cur, fmt.Errorf("ingest %s: %w", game, ErrJobActive)
	}
	job := models.NewIngestionJob(game, force, time.Now())
	m.jobs[game] = job
	m.mu.Unlock()

	m.logger.Info("job created", "job_id", job.ID, "game", game, "force", force)
	m.publish(job)
	return job, nil
}

// Put stores job unconditionally unless the game's current job is running.
// Returns false when the job was not stored.
func (m *JobManager) Put(job models.IngestionJob) bool {
	m.mu.Lock()
	if cur, ok := m.jobs[job.Game]; ok && cur.Status.Running() && cur.ID != job.ID {
		m.mu.Unlock()
		return false
	}
	m.jobs[job.Game] = job
	m.mu.Unlock()

	m.publish(job)
	return true
}

// PutIfAbsent stores job only when the game has no job at all.
func (m *JobManager) PutIfAbsent(job models.IngestionJob) bool {
	m.mu.Lock()
	if _, ok := m.jobs[job.Game]; ok {
		m.mu.Unlock()
		return false
	}
	m.jobs[job.Game] = job
	m.mu.Unlock()

	m.publish(job)
	return true
}

// Apply updates the job for game with fn, but only while id is still the
// game's current job. Results for superseded jobs are dropped.
func (m *JobManager) Apply(game, id string, fn func(models.IngestionJob) models.IngestionJob) (models.IngestionJob, bool) {
	m.mu.Lock()
	cur, ok := m.jobs[game]
	if !ok || cur.ID != id {
		m.mu.Unlock()
		return models.IngestionJob{}, false
	}
	next := fn(cur)
	m.jobs[game] = next
	m.mu.Unlock()

	if next.Status != cur.Status {
		m.logTransition(next)
	}
	if next != cur {
		m.publish(next)
	}
	return next, true
}

// Get returns a copy of the current job for game.
func (m *JobManager) Get(game string) (models.IngestionJob, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[game]
	return job, ok
}

// List returns all jobs, most recent first.
func (m *JobManager) List() []models.IngestionJob {
	m.mu.RLock()
	jobs := make([]models.IngestionJob, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job)
	}
	m.mu.RUnlock()

	slices.SortFunc(jobs, func(a, b models.IngestionJob) int {
		if c := b.StartedAt.Compare(a.StartedAt); c != 0 {
			return c
		}
		if a.Game < b.Game {
			return -1
		}
		if a.Game > b.Game {
			return 1
		}
		return 0
	})
	return jobs
}

func (m *JobManager) logTransition(job models.IngestionJob) {
	switch job.Status {
	case models.StatusCompleted:
		m.logger.Info("job completed", "job_id", job.ID, "game", job.Game, "rows", job.RowsFetched)
	case models.StatusError:
		m.logger.Error("job failed", "job_id", job.ID, "game", job.Game, "error", job.Error)
	default:
		m.logger.Debug("job status", "job_id", job.ID, "game", job.Game, "status", job.Status)
	}
	if job.Status.Terminal() && m.recorder != nil {
		m.recorder.RecordJob("ingest", string(job.Status))
	}
}

func (m *JobManager) publish(job models.IngestionJob) {
	if m.updates != nil {
		m.updates.Publish(job)
	}
}
