package models

import (
	"strings"

	"github.com/raphaelgruber/mensa/internal/client"
)

// StartupPhase gates the dashboard.
type StartupPhase string

const (
	PhaseLoading StartupPhase = "loading"
	PhaseReady   StartupPhase = "ready"
	PhaseFailed  StartupPhase = "failed"
)

// StartupState is the monitor's view of backend initialization.
type StartupState struct {
	Phase               StartupPhase
	Snapshot            *client.StartupStatus
	ConsecutiveFailures int
	LastError           error
	Report              *ErrorReport
}

// ReduceStartup folds one poll result (a snapshot or an error) into state.
//
// The loading to ready transition happens once; a ready state never reverts.
// Transient errors are tolerated until threshold consecutive failures, any
// successful snapshot resets the count, and non-transient errors fail at once.
func ReduceStartup(state StartupState, snap *client.StartupStatus, err error, threshold int, baseURL string) StartupState {
	if state.Phase == "" {
		state.Phase = PhaseLoading
	}
	if threshold <= 0 {
		threshold = 1
	}

	switch state.Phase {
	case PhaseReady:
		if err == nil && snap != nil {
			state.Snapshot = snap
		}
		return state
	case PhaseFailed:
		return state
	}

	if err != nil {
		state.LastError = err
		state.ConsecutiveFailures++
		if !client.IsTransient(err) || state.ConsecutiveFailures >= threshold {
			report := AnalyzeError(err, baseURL)
			state.Phase = PhaseFailed
			state.Report = &report
		}
		return state
	}

	state.ConsecutiveFailures = 0
	state.LastError = nil
	state.Snapshot = snap
	if snap == nil {
		return state
	}

	switch strings.ToLower(snap.Status) {
	case "completed", "ready":
		state.Phase = PhaseReady
		state.Report = nil
	case "failed":
		report := StartupFailureReport(snap, baseURL)
		state.Phase = PhaseFailed
		state.Report = &report
	}
	return state
}

// CanInit reports whether an explicit initialization may be requested:
// still loading and the latest server status is pending.
func (s StartupState) CanInit() bool {
	return s.Phase == PhaseLoading && s.Snapshot != nil && strings.EqualFold(s.Snapshot.Status, "pending")
}

// Percent returns overall initialization progress in [0, 1].
func (s StartupState) Percent() float64 {
	if s.Phase == PhaseReady {
		return 1
	}
	if s.Snapshot == nil || s.Snapshot.Total <= 0 {
		return 0
	}
	p := s.Snapshot.Progress / float64(s.Snapshot.Total)
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	}
	return p
}

// CurrentGamePercent returns row progress of the game being ingested, or -1
// when the server does not report it.
func (s StartupState) CurrentGamePercent() float64 {
	if s.Snapshot == nil || s.Snapshot.CurrentGameRowsTotal <= 0 {
		return -1
	}
	p := float64(s.Snapshot.CurrentGameRowsFetched) / float64(s.Snapshot.CurrentGameRowsTotal)
	if p > 1 {
		return 1
	}
	return p
}
