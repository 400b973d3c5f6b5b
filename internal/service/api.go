// Package service coordinates the ingestion, training, prediction, startup
// and chat workflows against the backend API.
package service

import (
	"context"
	"errors"

	"github.com/raphaelgruber/mensa/internal/client"
)

// API is the subset of the backend used by the coordinators.
// *client.Client implements it.
type API interface {
	ListGames(ctx context.Context) ([]string, error)
	GameSummary(ctx context.Context, game string) (*client.GameSummary, error)
	Ingest(ctx context.Context, input client.IngestRequest) (*client.IngestResponse, error)
	IngestProgress(ctx context.Context, game string) (*client.IngestProgress, error)
	StartupStatus(ctx context.Context) (*client.StartupStatus, error)
	StartupInit(ctx context.Context) (*client.StartupInitResponse, error)
	Train(ctx context.Context, input client.TrainRequest) (*client.TrainResponse, error)
	Experiments(ctx context.Context) ([]client.Experiment, error)
	Predict(ctx context.Context, input client.PredictRequest) (*client.GamePrediction, error)
	Chat(ctx context.Context, input client.ChatRequest) (*client.ChatResponse, error)
	ChromaCollections(ctx context.Context) (*client.ChromaCollections, error)
	RAGSummary(ctx context.Context, game string) (*client.RAGSummary, error)
}

var _ API = (*client.Client)(nil)

// Sentinel errors returned by the coordinators.
var (
	ErrJobActive     = errors.New("a job for this game is already active")
	ErrNotPending    = errors.New("startup is not pending")
	ErrStartupFailed = errors.New("backend startup failed")
	ErrUnknownGame   = errors.New("unknown game")
)

// JobRecorder counts jobs reaching a terminal state (implemented by metrics.Collector).
type JobRecorder interface {
	RecordJob(kind, status string)
}
