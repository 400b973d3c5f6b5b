package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/raphaelgruber/mensa/internal/models"
)

// Catalog loads the game list once and each game's draw count independently.
// A failing summary defaults the count to 0 and flags the game instead of
// aborting the load.
type Catalog struct {
	api    API
	logger *slog.Logger

	mu      sync.RWMutex
	names   []string
	games   map[string]models.Game
	listed  bool
	partial bool
}

// NewCatalog creates an empty catalog.
func NewCatalog(api API, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		api:    api,
		logger: logger,
		games:  make(map[string]models.Game),
	}
}

// Load fetches the game list (first call only) and all summaries.
func (c *Catalog) Load(ctx context.Context) ([]models.Game, error) {
	c.mu.RLock()
	listed := c.listed
	names := c.names
	c.mu.RUnlock()

	if !listed {
		var err error
		names, err = c.api.ListGames(ctx)
		if err != nil {
			return nil, fmt.Errorf("list games: %w", err)
		}
		c.mu.Lock()
		c.names = names
		c.listed = true
		c.mu.Unlock()
	}

	games := make([]models.Game, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func() {
			defer wg.Done()
			games[i] = c.fetch(ctx, name)
		}()
	}
	wg.Wait()

	partial := false
	c.mu.Lock()
	for _, g := range games {
		c.games[g.Name] = g
		partial = partial || g.SummaryFailed
	}
	c.partial = partial
	c.mu.Unlock()

	if partial {
		c.logger.Warn("some game summaries failed to load")
	}
	return games, nil
}

// Refresh re-fetches one game's summary.
func (c *Catalog) Refresh(ctx context.Context, game string) (models.Game, error) {
	g := c.fetch(ctx, game)

	c.mu.Lock()
	c.games[game] = g
	partial := false
	for _, v := range c.games {
		partial = partial || v.SummaryFailed
	}
	c.partial = partial
	c.mu.Unlock()

	if g.SummaryFailed {
		return g, fmt.Errorf("summary %s: %s", game, g.SummaryError)
	}
	return g, nil
}

func (c *Catalog) fetch(ctx context.Context, name string) models.Game {
	s, err := c.api.GameSummary(ctx, name)
	if err != nil {
		c.logger.Warn("failed to load game summary", "game", name, "error", err)
		return models.Game{Name: name, SummaryFailed: true, SummaryError: err.Error()}
	}
	return models.Game{Name: name, DrawCount: s.DrawCount}
}

// Names returns the game identifiers in server order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.names...)
}

// Games returns all loaded games in server order.
func (c *Catalog) Games() []models.Game {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]models.Game, 0, len(c.names))
	for _, n := range c.names {
		if g, ok := c.games[n]; ok {
			out = append(out, g)
		}
	}
	return out
}

// Game returns one loaded game.
func (c *Catalog) Game(name string) (models.Game, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	g, ok := c.games[name]
	return g, ok
}

// PartialFailure reports whether any summary failed on the last load.
func (c *Catalog) PartialFailure() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.partial
}
