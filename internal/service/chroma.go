package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/raphaelgruber/mensa/internal/client"
	"github.com/raphaelgruber/mensa/internal/events"
)

// ChromaMonitor tracks vector-store collection counts. Besides its regular
// poll it refreshes whenever a collection update is published.
type ChromaMonitor struct {
	api      API
	interval time.Duration
	updates  *events.Bus[events.CollectionUpdate]
	logger   *slog.Logger

	mu      sync.RWMutex
	latest  *client.ChromaCollections
	lastErr error
}

// NewChromaMonitor creates a monitor. updates may be nil.
func NewChromaMonitor(api API, interval time.Duration, updates *events.Bus[events.CollectionUpdate], logger *slog.Logger) *ChromaMonitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChromaMonitor{api: api, interval: interval, updates: updates, logger: logger}
}

// Refresh fetches the collection counts once.
func (m *ChromaMonitor) Refresh(ctx context.Context) (*client.ChromaCollections, error) {
	cc, err := m.api.ChromaCollections(ctx)
	if err != nil {
		err = fmt.Errorf("chroma collections: %w", err)
	}

	m.mu.Lock()
	if err == nil {
		m.latest = cc
	}
	m.lastErr = err
	m.mu.Unlock()
	return cc, err
}

// Latest returns the last successful result and the last error.
func (m *ChromaMonitor) Latest() (*client.ChromaCollections, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest, m.lastErr
}

// Run refreshes immediately, then on every tick and every collection update,
// until ctx is cancelled. onUpdate (optional) receives each result.
func (m *ChromaMonitor) Run(ctx context.Context, onUpdate func(*client.ChromaCollections, error)) {
	wake := make(chan struct{}, 1)
	if m.updates != nil {
		unsubscribe := m.updates.Subscribe(func(u events.CollectionUpdate) {
			m.logger.Debug("collection update, refreshing vector store status", "game", u.Game)
			select {
			case wake <- struct{}{}:
			default:
			}
		})
		defer unsubscribe()
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		cc, err := m.Refresh(ctx)
		if ctx.Err() != nil {
			return
		}
		if onUpdate != nil {
			onUpdate(cc, err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-wake:
		}
	}
}
