// Package models defines the workflow state and pure reducers for the
// ingestion, training, prediction and startup flows.
package models

import "strings"

// JobStatus is the lifecycle state shared by ingestion jobs and training runs.
type JobStatus string

const (
	StatusIdle      JobStatus = "idle"
	StatusPending   JobStatus = "pending"
	StatusActive    JobStatus = "active"
	StatusCompleted JobStatus = "completed"
	StatusError     JobStatus = "error"
)

// AllGames is the sentinel target for fan-out ingestion and prediction.
const AllGames = "all"

// Terminal reports whether the status is completed or error.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Running reports whether the status is pending or active.
func (s JobStatus) Running() bool {
	return s == StatusPending || s == StatusActive
}

// normalizeServerStatus maps the backend's loose status vocabulary onto
// JobStatus. Unknown values map to active; empty maps to "".
func normalizeServerStatus(s string) JobStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return ""
	case "completed", "complete", "done", "success", "ok":
		return StatusCompleted
	case "error", "failed", "failure":
		return StatusError
	case "idle", "pending", "queued", "started":
		return StatusPending
	default:
		return StatusActive
	}
}
