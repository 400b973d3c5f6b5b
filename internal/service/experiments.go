package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/raphaelgruber/mensa/internal/client"
	"github.com/raphaelgruber/mensa/internal/models"
)

// ExperimentsStore is a read-only cache of experiment records, replaced
// wholesale on every refresh.
type ExperimentsStore struct {
	api      API
	interval time.Duration
	logger   *slog.Logger

	mu        sync.RWMutex
	list      []client.Experiment
	updatedAt time.Time
}

// NewExperimentsStore creates an empty store polled every interval by Run.
func NewExperimentsStore(api API, interval time.Duration, logger *slog.Logger) *ExperimentsStore {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ExperimentsStore{api: api, interval: interval, logger: logger}
}

// Refresh fetches all experiments and replaces the cache. On error the
// previous cache is kept.
func (s *ExperimentsStore) Refresh(ctx context.Context) ([]client.Experiment, error) {
	list, err := s.api.Experiments(ctx)
	if err != nil {
		return nil, fmt.Errorf("refresh experiments: %w", err)
	}
	list = models.DedupExperiments(list)

	s.mu.Lock()
	s.list = list
	s.updatedAt = time.Now()
	s.mu.Unlock()

	return append([]client.Experiment(nil), list...), nil
}

// Run refreshes immediately and then every interval until ctx is cancelled.
// onUpdate (optional) receives each result.
func (s *ExperimentsStore) Run(ctx context.Context, onUpdate func([]client.Experiment, error)) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		list, err := s.Refresh(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			s.logger.Debug("experiments poll failed", "error", err)
		}
		if onUpdate != nil {
			onUpdate(list, err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Experiments returns a copy of the cache.
func (s *ExperimentsStore) Experiments() []client.Experiment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]client.Experiment(nil), s.list...)
}

// UpdatedAt returns the time of the last successful refresh.
func (s *ExperimentsStore) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

// Find returns the experiment with id.
func (s *ExperimentsStore) Find(id string) (client.Experiment, bool) {
	if id == "" {
		return client.Experiment{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.list {
		if e.ID == id {
			return e, true
		}
	}
	return client.Experiment{}, false
}

// IsTrained reports whether any training experiment succeeded.
func (s *ExperimentsStore) IsTrained() bool {
	return models.IsTrained(s.Experiments())
}

// ReadyGames returns games with a successful training run, most recent first.
func (s *ExperimentsStore) ReadyGames() []string {
	return models.ReadyGames(s.Experiments())
}
