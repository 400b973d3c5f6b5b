package service

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/raphaelgruber/mensa/internal/client"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeAPI is an in-memory backend. Hooks left nil fall back to defaults.
type fakeAPI struct {
	mu    sync.Mutex
	calls map[string]int

	games      []string
	draws      map[string]int
	summaryErr map[string]error

	ingest     func(req client.IngestRequest) (*client.IngestResponse, error)
	progress   func(game string) (*client.IngestProgress, error)
	startup    func(n int) (*client.StartupStatus, error)
	train      func(req client.TrainRequest) (*client.TrainResponse, error)
	predict    func(req client.PredictRequest) (*client.GamePrediction, error)
	chat       func(req client.ChatRequest) (*client.ChatResponse, error)
	chroma     func(n int) (*client.ChromaCollections, error)
	experiment []client.Experiment
}

func newFakeAPI(draws map[string]int, games ...string) *fakeAPI {
	if draws == nil {
		draws = map[string]int{}
	}
	return &fakeAPI{
		calls:      map[string]int{},
		games:      games,
		draws:      draws,
		summaryErr: map[string]error{},
	}
}

func (f *fakeAPI) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	return f.calls[op]
}

func (f *fakeAPI) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeAPI) SetDraws(game string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.draws[game] = n
}

func (f *fakeAPI) ListGames(ctx context.Context) ([]string, error) {
	f.count("games")
	return append([]string(nil), f.games...), nil
}

func (f *fakeAPI) GameSummary(ctx context.Context, game string) (*client.GameSummary, error) {
	f.count("summary")
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.summaryErr[game]; err != nil {
		return nil, err
	}
	return &client.GameSummary{Game: game, DrawCount: f.draws[game]}, nil
}

func (f *fakeAPI) Ingest(ctx context.Context, req client.IngestRequest) (*client.IngestResponse, error) {
	f.count("ingest")
	if f.ingest != nil {
		return f.ingest(req)
	}
	return &client.IngestResponse{Status: "completed"}, nil
}

func (f *fakeAPI) IngestProgress(ctx context.Context, game string) (*client.IngestProgress, error) {
	f.count("ingest_progress")
	if f.progress != nil {
		return f.progress(game)
	}
	return &client.IngestProgress{Status: "idle"}, nil
}

func (f *fakeAPI) StartupStatus(ctx context.Context) (*client.StartupStatus, error) {
	n := f.count("startup_status")
	if f.startup != nil {
		return f.startup(n)
	}
	return &client.StartupStatus{Status: "completed"}, nil
}

func (f *fakeAPI) StartupInit(ctx context.Context) (*client.StartupInitResponse, error) {
	f.count("startup_init")
	return &client.StartupInitResponse{Status: "started"}, nil
}

func (f *fakeAPI) Train(ctx context.Context, req client.TrainRequest) (*client.TrainResponse, error) {
	f.count("train")
	if f.train != nil {
		return f.train(req)
	}
	return &client.TrainResponse{Status: "COMPLETED", ExperimentID: "exp-1"}, nil
}

func (f *fakeAPI) Experiments(ctx context.Context) ([]client.Experiment, error) {
	f.count("experiments")
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]client.Experiment(nil), f.experiment...), nil
}

func (f *fakeAPI) Predict(ctx context.Context, req client.PredictRequest) (*client.GamePrediction, error) {
	f.count("predict")
	if f.predict != nil {
		return f.predict(req)
	}
	return &client.GamePrediction{PredictedNumbers: []int{1, 2, 3}}, nil
}

func (f *fakeAPI) Chat(ctx context.Context, req client.ChatRequest) (*client.ChatResponse, error) {
	f.count("chat")
	if f.chat != nil {
		return f.chat(req)
	}
	return &client.ChatResponse{Response: "ok"}, nil
}

func (f *fakeAPI) ChromaCollections(ctx context.Context) (*client.ChromaCollections, error) {
	n := f.count("chroma")
	if f.chroma != nil {
		return f.chroma(n)
	}
	return &client.ChromaCollections{Collections: []client.ChromaCollection{}}, nil
}

func (f *fakeAPI) RAGSummary(ctx context.Context, game string) (*client.RAGSummary, error) {
	f.count("rag_summary")
	return &client.RAGSummary{Game: game, Summary: "summary of " + game}, nil
}
