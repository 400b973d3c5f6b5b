package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/raphaelgruber/mensa/internal/client"
	"github.com/raphaelgruber/mensa/internal/events"
	"github.com/raphaelgruber/mensa/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	api         *fakeAPI
	catalog     *Catalog
	jobs        *JobManager
	ingest      *IngestCoordinator
	experiments *ExperimentsStore
	train       *TrainCoordinator
	collections *events.Bus[events.CollectionUpdate]

	mu      sync.Mutex
	updates []events.CollectionUpdate
}

func newHarness(t *testing.T, api *fakeAPI) *harness {
	t.Helper()
	logger := testLogger()
	h := &harness{api: api, collections: events.NewBus[events.CollectionUpdate]()}
	t.Cleanup(h.collections.Close)

	h.collections.Subscribe(func(u events.CollectionUpdate) {
		h.mu.Lock()
		h.updates = append(h.updates, u)
		h.mu.Unlock()
	})

	h.catalog = NewCatalog(api, logger)
	h.jobs = NewJobManager(nil, nil, logger)
	h.ingest = NewIngestCoordinator(api, h.catalog, h.jobs, h.collections, time.Millisecond, logger)
	h.experiments = NewExperimentsStore(api, time.Millisecond, logger)
	h.train = NewTrainCoordinator(api, h.catalog, h.ingest, h.experiments, nil, nil, time.Millisecond, logger)

	_, err := h.catalog.Load(context.Background())
	require.NoError(t, err)
	return h
}

func (h *harness) Updates() []events.CollectionUpdate {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]events.CollectionUpdate(nil), h.updates...)
}

// pick3 has no draws; ingesting 50 rows makes it trainable.
func TestIngestThenTrainBecomesAvailable(t *testing.T) {
	api := newFakeAPI(map[string]int{"pick3": 0}, "pick3")
	api.ingest = func(req client.IngestRequest) (*client.IngestResponse, error) {
		api.SetDraws(req.Game, 50)
		added, total := 50, 50
		return &client.IngestResponse{Status: "completed", Added: &added, Total: &total}, nil
	}
	h := newHarness(t, api)
	ctx := context.Background()

	require.Error(t, h.train.CanTrain("pick3"))

	job, err := h.ingest.Start(ctx, "pick3", IngestOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, job.Status)

	g, ok := h.catalog.Game("pick3")
	require.True(t, ok)
	assert.Equal(t, 50, g.DrawCount)
	assert.NoError(t, h.train.CanTrain("pick3"))

	updates := h.Updates()
	require.Len(t, updates, 1)
	assert.Equal(t, events.CollectionUpdate{Game: "pick3", RowsAdded: 50, TotalRows: 50}, updates[0])
}

func TestIngestFollowsProgressUntilCompleted(t *testing.T) {
	api := newFakeAPI(map[string]int{"pick3": 0}, "pick3")
	api.ingest = func(req client.IngestRequest) (*client.IngestResponse, error) {
		return &client.IngestResponse{Status: "started"}, nil
	}
	var polls sync.Mutex
	n := 0
	api.progress = func(game string) (*client.IngestProgress, error) {
		polls.Lock()
		defer polls.Unlock()
		n++
		switch {
		case n == 2:
			return nil, errors.New("temporary glitch")
		case n < 4:
			return &client.IngestProgress{Status: "active", RowsFetched: n * 10, TotalRows: 100}, nil
		}
		api.SetDraws(game, 100)
		return &client.IngestProgress{Status: "completed", RowsFetched: 100, TotalRows: 100}, nil
	}
	h := newHarness(t, api)

	job, err := h.ingest.Start(context.Background(), "pick3", IngestOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, job.Status)
	assert.Equal(t, 100, job.RowsFetched)
	assert.GreaterOrEqual(t, api.Calls("ingest_progress"), 4)
	assert.Equal(t, 1, api.Calls("ingest"), "trigger must not be retried")

	updates := h.Updates()
	require.Len(t, updates, 1)
	assert.Equal(t, 100, updates[0].RowsAdded)
}

func TestIngestForceWaitsOutPreviousRunSnapshot(t *testing.T) {
	api := newFakeAPI(map[string]int{"a": 50}, "a")

	var mu sync.Mutex
	var triggeredAt time.Time
	api.ingest = func(req client.IngestRequest) (*client.IngestResponse, error) {
		mu.Lock()
		defer mu.Unlock()
		triggeredAt = time.Now()
		return &client.IngestResponse{Status: "started"}, nil
	}
	api.progress = func(game string) (*client.IngestProgress, error) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case triggeredAt.IsZero() || time.Since(triggeredAt) < 50*time.Millisecond:
			return &client.IngestProgress{Status: "completed", RowsFetched: 50, TotalRows: 50}, nil
		case time.Since(triggeredAt) < 60*time.Millisecond:
			return &client.IngestProgress{Status: "active", RowsFetched: 20, TotalRows: 80}, nil
		}
		api.SetDraws(game, 80)
		return &client.IngestProgress{Status: "completed", RowsFetched: 80, TotalRows: 80}, nil
	}
	h := newHarness(t, api)

	job, err := h.ingest.Start(context.Background(), "a", IngestOptions{Force: true})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, job.Status)
	assert.Equal(t, 80, job.RowsFetched)
	assert.Equal(t, 80, job.TotalRows)

	updates := h.Updates()
	require.Len(t, updates, 1)
	assert.Equal(t, 80, updates[0].TotalRows)
	assert.Equal(t, 30, updates[0].RowsAdded)
}

func TestIngestTriggerFailureMarksError(t *testing.T) {
	api := newFakeAPI(nil, "pick3")
	api.ingest = func(req client.IngestRequest) (*client.IngestResponse, error) {
		return nil, &client.APIError{Method: "POST", Path: "/api/ingest", StatusCode: 500, Message: "boom"}
	}
	h := newHarness(t, api)

	job, err := h.ingest.Start(context.Background(), "pick3", IngestOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, job.Status)
	assert.Contains(t, job.Error, "boom")
	assert.Empty(t, h.Updates())
}

func TestIngestAlreadyPopulatedIsIdempotent(t *testing.T) {
	api := newFakeAPI(map[string]int{"pick3": 120}, "pick3")
	h := newHarness(t, api)

	job, err := h.ingest.Start(context.Background(), "pick3", IngestOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, job.Status)
	assert.True(t, job.Confirmed)
	assert.Equal(t, 0, api.Calls("ingest"))

	// force re-ingests
	job, err = h.ingest.Start(context.Background(), "pick3", IngestOptions{Force: true})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, job.Status)
	assert.Equal(t, 1, api.Calls("ingest"))
}

func TestIngestRejectsConcurrentJobForSameGame(t *testing.T) {
	api := newFakeAPI(nil, "pick3")
	release := make(chan struct{})
	entered := make(chan struct{})
	api.ingest = func(req client.IngestRequest) (*client.IngestResponse, error) {
		close(entered)
		<-release
		return &client.IngestResponse{Status: "completed"}, nil
	}
	h := newHarness(t, api)

	done := make(chan models.IngestionJob)
	go func() {
		job, _ := h.ingest.Start(context.Background(), "pick3", IngestOptions{})
		done <- job
	}()
	<-entered

	_, err := h.ingest.Start(context.Background(), "pick3", IngestOptions{})
	assert.ErrorIs(t, err, ErrJobActive)
	assert.True(t, IsJobActive(err))

	close(release)
	job := <-done
	assert.Equal(t, models.StatusCompleted, job.Status)
}

func TestIngestCancelledContextEndsJob(t *testing.T) {
	api := newFakeAPI(nil, "pick3")
	api.ingest = func(req client.IngestRequest) (*client.IngestResponse, error) {
		return &client.IngestResponse{Status: "started"}, nil
	}
	api.progress = func(game string) (*client.IngestProgress, error) {
		return &client.IngestProgress{Status: "active", RowsFetched: 1, TotalRows: 10}, nil
	}
	h := newHarness(t, api)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	job, err := h.ingest.Start(ctx, "pick3", IngestOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, job.Status)
	assert.True(t, job.Status.Terminal())
}

// K of N games failing: aggregate error, all jobs terminal, survivors updated.
func TestStartAllPartialFailure(t *testing.T) {
	for _, sequential := range []bool{false, true} {
		api := newFakeAPI(map[string]int{"a": 0, "b": 0, "c": 0}, "a", "b", "c")
		api.ingest = func(req client.IngestRequest) (*client.IngestResponse, error) {
			if req.Game == "b" {
				return nil, errors.New("source offline")
			}
			api.SetDraws(req.Game, 30)
			return &client.IngestResponse{Status: "completed"}, nil
		}
		h := newHarness(t, api)

		agg, err := h.ingest.StartAll(context.Background(), []string{"a", "b", "c"}, IngestOptions{Sequential: sequential})
		require.NoError(t, err)

		assert.Equal(t, models.StatusError, agg.Status)
		assert.Contains(t, agg.Message, "b: ")
		assert.Contains(t, agg.Message, "source offline")
		assert.NotContains(t, agg.Message, "a: ")
		require.Len(t, agg.Jobs, 3)
		for _, j := range agg.Jobs {
			assert.True(t, j.Status.Terminal(), j.Game)
		}

		for game, want := range map[string]int{"a": 30, "b": 0, "c": 30} {
			g, _ := h.catalog.Game(game)
			assert.Equal(t, want, g.DrawCount, game)
		}

		parent, ok := h.ingest.Job(models.AllGames)
		require.True(t, ok)
		assert.Equal(t, models.StatusError, parent.Status)
		assert.Equal(t, 3, parent.RowsFetched)
	}
}

func TestStartAllAllSucceed(t *testing.T) {
	api := newFakeAPI(nil, "a", "b")
	h := newHarness(t, api)

	agg, err := h.ingest.StartAll(context.Background(), []string{"a", "b"}, IngestOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, agg.Status)
	assert.Empty(t, agg.Message)
}

func TestReconcileConfirmsServerState(t *testing.T) {
	api := newFakeAPI(map[string]int{"a": 10, "b": 0}, "a", "b")
	h := newHarness(t, api)

	h.ingest.Reconcile(h.catalog.Games())

	a, ok := h.ingest.Job("a")
	require.True(t, ok)
	assert.Equal(t, models.StatusCompleted, a.Status)
	assert.True(t, a.Confirmed)

	_, ok = h.ingest.Job("b")
	assert.False(t, ok)
}

func TestJobManagerDropsStaleUpdates(t *testing.T) {
	var seen []models.IngestionJob
	bus := events.NewBus[models.IngestionJob]()
	bus.Subscribe(func(j models.IngestionJob) { seen = append(seen, j) })

	m := NewJobManager(bus, nil, testLogger())
	first, err := m.Begin("pick3", false)
	require.NoError(t, err)
	m.Apply("pick3", first.ID, func(j models.IngestionJob) models.IngestionJob {
		j.Status = models.StatusError
		return j
	})

	second, err := m.Begin("pick3", true)
	require.NoError(t, err)

	_, ok := m.Apply("pick3", first.ID, func(j models.IngestionJob) models.IngestionJob {
		j.Status = models.StatusCompleted
		return j
	})
	assert.False(t, ok)

	cur, _ := m.Get("pick3")
	assert.Equal(t, second.ID, cur.ID)
	assert.Equal(t, models.StatusPending, cur.Status)
	assert.Len(t, seen, 3)
}
