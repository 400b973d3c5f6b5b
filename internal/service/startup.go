package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/raphaelgruber/mensa/internal/models"
)

// StartupMonitor polls backend initialization and decides when the dashboard
// may be shown.
type StartupMonitor struct {
	api       API
	interval  time.Duration
	threshold int
	baseURL   string
	logger    *slog.Logger

	mu    sync.RWMutex
	state models.StartupState
}

// NewStartupMonitor creates a monitor. threshold is the number of consecutive
// transient failures tolerated before giving up.
func NewStartupMonitor(api API, interval time.Duration, threshold int, baseURL string, logger *slog.Logger) *StartupMonitor {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if threshold <= 0 {
		threshold = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StartupMonitor{
		api:       api,
		interval:  interval,
		threshold: threshold,
		baseURL:   baseURL,
		logger:    logger,
		state:     models.StartupState{Phase: models.PhaseLoading},
	}
}

// State returns the current state.
func (m *StartupMonitor) State() models.StartupState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Poll performs one fetch and folds the result into the state.
func (m *StartupMonitor) Poll(ctx context.Context) models.StartupState {
	snap, err := m.api.StartupStatus(ctx)

	m.mu.Lock()
	prev := m.state.Phase
	m.state = models.ReduceStartup(m.state, snap, err, m.threshold, m.baseURL)
	state := m.state
	m.mu.Unlock()

	if err != nil {
		m.logger.Debug("startup status poll failed", "error", err, "failures", state.ConsecutiveFailures)
	}
	if prev != state.Phase {
		m.logger.Info("startup phase changed", "from", prev, "to", state.Phase)
	}
	return state
}

// Run polls immediately and then every interval until the state is ready or
// failed, or ctx is cancelled. onUpdate (optional) sees every state.
func (m *StartupMonitor) Run(ctx context.Context, onUpdate func(models.StartupState)) (models.StartupState, error) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		state := m.Poll(ctx)
		if ctx.Err() != nil {
			return m.State(), ctx.Err()
		}
		if onUpdate != nil {
			onUpdate(state)
		}

		switch state.Phase {
		case models.PhaseReady:
			return state, nil
		case models.PhaseFailed:
			msg := "unknown error"
			if state.Report != nil {
				msg = state.Report.Original
			}
			return state, fmt.Errorf("%w: %s", ErrStartupFailed, msg)
		}

		select {
		case <-ctx.Done():
			return m.State(), ctx.Err()
		case <-ticker.C:
		}
	}
}

// Start requests backend initialization. Allowed only while the latest
// status is pending; never called automatically.
func (m *StartupMonitor) Start(ctx context.Context) error {
	if !m.State().CanInit() {
		return ErrNotPending
	}
	resp, err := m.api.StartupInit(ctx)
	if err != nil {
		return fmt.Errorf("start initialization: %w", err)
	}
	m.logger.Info("initialization requested", "status", resp.Status)
	return nil
}
