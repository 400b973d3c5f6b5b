package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/raphaelgruber/mensa/internal/client"
)

// IngestionJob tracks one ingestion request for one game.
type IngestionJob struct {
	ID          string
	Game        string
	Force       bool
	Status      JobStatus
	RowsFetched int
	TotalRows   int
	Added       *int // rows added, from the trigger response
	Total       *int // total rows stored, from the trigger response
	Error       string
	Confirmed   bool                   // completed from server state without a trigger
	SeenRunning bool                   // a non-terminal progress report arrived for this run
	Baseline    *client.IngestProgress // terminal report left over from the previous run
	StartedAt   time.Time
	CompletedAt *time.Time
}

// NewIngestionJob creates a pending job with a fresh id.
func NewIngestionJob(game string, force bool, now time.Time) IngestionJob {
	return IngestionJob{
		ID:        uuid.New().String()[:8],
		Game:      game,
		Force:     force,
		Status:    StatusPending,
		StartedAt: now,
	}
}

// ConfirmedIngestion records a game whose stored draws prove ingestion
// already happened.
func ConfirmedIngestion(game string, drawCount int, now time.Time) IngestionJob {
	job := NewIngestionJob(game, false, now)
	job.Status = StatusCompleted
	job.Confirmed = true
	job.RowsFetched = drawCount
	job.TotalRows = drawCount
	job.Total = &drawCount
	job.CompletedAt = &now
	return job
}

// Percent returns progress in [0, 1]. Completed jobs are always 1.
func (j IngestionJob) Percent() float64 {
	if j.Status == StatusCompleted {
		return 1
	}
	if j.TotalRows <= 0 {
		return 0
	}
	p := float64(j.RowsFetched) / float64(j.TotalRows)
	if p > 1 {
		return 1
	}
	return p
}

// ReduceIngestion applies a progress snapshot to a job. Terminal jobs are
// returned unchanged so late polls cannot reopen them. A terminal report is
// only trusted once this run has reported a non-terminal status, or when it
// differs from the first terminal report seen, which belongs to the previous
// run.
func ReduceIngestion(job IngestionJob, p client.IngestProgress, now time.Time) IngestionJob {
	if job.Status.Terminal() {
		return job
	}
	status := normalizeServerStatus(p.Status)
	if status.Terminal() && !job.SeenRunning {
		if job.Baseline == nil {
			baseline := p
			job.Baseline = &baseline
			return job
		}
		if sameProgress(*job.Baseline, p) {
			return job
		}
	}
	if status != "" && !status.Terminal() {
		job.SeenRunning = true
	}

	if p.RowsFetched > job.RowsFetched {
		job.RowsFetched = p.RowsFetched
	}
	if p.TotalRows > 0 {
		job.TotalRows = p.TotalRows
	}

	switch status {
	case StatusCompleted:
		job.Status = StatusCompleted
		if job.TotalRows > 0 {
			job.RowsFetched = job.TotalRows
		}
		job.CompletedAt = &now
	case StatusError:
		job.Status = StatusError
		job.Error = p.Error
		if job.Error == "" {
			job.Error = "ingestion failed"
		}
		job.CompletedAt = &now
	case StatusActive:
		job.Status = StatusActive
	case StatusPending, "":
		// no server-side activity yet
	}
	return job
}

// ReduceIngestResponse applies the trigger's outcome. A transport or API error
// fails the job; a terminal status in the response resolves it; otherwise the
// job stays running and is resolved by progress polling.
func ReduceIngestResponse(job IngestionJob, resp *client.IngestResponse, err error, now time.Time) IngestionJob {
	if job.Status.Terminal() {
		return job
	}

	if err != nil {
		job.Status = StatusError
		job.Error = err.Error()
		job.CompletedAt = &now
		return job
	}
	if resp == nil {
		return job
	}

	job.Added = resp.Added
	job.Total = resp.Total

	switch normalizeServerStatus(resp.Status) {
	case StatusCompleted:
		job.Status = StatusCompleted
		if resp.Total != nil {
			job.TotalRows = *resp.Total
			job.RowsFetched = *resp.Total
		}
		job.CompletedAt = &now
	case StatusError:
		job.Status = StatusError
		job.Error = firstNonEmpty(resp.Message, resp.Detail, "ingestion failed")
		job.CompletedAt = &now
	default:
		job.Status = StatusActive
	}
	return job
}

func sameProgress(a, b client.IngestProgress) bool {
	return normalizeServerStatus(a.Status) == normalizeServerStatus(b.Status) &&
		a.RowsFetched == b.RowsFetched &&
		a.TotalRows == b.TotalRows &&
		a.Error == b.Error
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
