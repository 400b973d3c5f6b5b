// Package client provides a REST client for the lottery ML backend.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Recorder observes request outcomes (implemented by metrics.Collector).
type Recorder interface {
	RecordRequest(op string, duration time.Duration, err error)
}

// Options configures a Client.
type Options struct {
	Timeout       time.Duration // per-request timeout, default 10s
	RetryAttempts int           // total attempts for read-only GETs, default 3
	RetryBackoff  time.Duration // linear backoff unit, default 700ms
	Recorder      Recorder
}

// Client talks to the backend REST API.
// Read-only GETs retry transient failures; mutating POSTs are never retried.
type Client struct {
	rest     *resty.Client
	baseURL  string
	attempts int
	backoff  time.Duration
	recorder Recorder
}

// New creates a client for the given base URL.
func New(baseURL string, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 3
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 700 * time.Millisecond
	}

	rest := resty.New()
	rest.SetBaseURL(baseURL)
	rest.SetTimeout(opts.Timeout)
	rest.SetHeader("Accept", "application/json")

	return &Client{
		rest:     rest,
		baseURL:  baseURL,
		attempts: opts.RetryAttempts,
		backoff:  opts.RetryBackoff,
		recorder: opts.Recorder,
	}
}

// BaseURL returns the resolved API base.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// do executes one request and returns the body of a 2xx response.
func (c *Client) do(ctx context.Context, op, method, path string, query map[string]string, body any) ([]byte, error) {
	start := time.Now()

	req := c.rest.R().SetContext(ctx)
	if len(query) > 0 {
		req.SetQueryParams(query)
	}
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		err = fmt.Errorf("%s %s: %w", method, path, err)
		c.record(op, start, err)
		return nil, err
	}

	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		err := &APIError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode(),
			Message:    errorDetail(resp.Body()),
		}
		c.record(op, start, err)
		return nil, err
	}

	c.record(op, start, nil)
	return resp.Body(), nil
}

func (c *Client) record(op string, start time.Time, err error) {
	if c.recorder != nil {
		c.recorder.RecordRequest(op, time.Since(start), err)
	}
}

// get performs a read-only GET with bounded retry and linear backoff.
func (c *Client) get(ctx context.Context, op, path string, query map[string]string) ([]byte, error) {
	var body []byte
	err := c.withRetry(ctx, func() error {
		var err error
		body, err = c.do(ctx, op, http.MethodGet, path, query, nil)
		return err
	})
	return body, err
}

// post performs a mutating POST exactly once.
func (c *Client) post(ctx context.Context, op, path string, payload any) ([]byte, error) {
	return c.do(ctx, op, http.MethodPost, path, nil, payload)
}

// withRetry runs fn up to c.attempts times, sleeping attempt*backoff between
// transient failures. Non-transient errors return immediately.
func (c *Client) withRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil || !IsTransient(lastErr) || attempt == c.attempts {
			return lastErr
		}

		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(time.Duration(attempt) * c.backoff):
		}
	}
	return lastErr
}

// errorDetail extracts a readable message from an error body.
func errorDetail(body []byte) string {
	var payload struct {
		Detail  any    `json:"detail"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		switch {
		case payload.Message != "":
			return payload.Message
		case payload.Error != "":
			return payload.Error
		case payload.Detail != nil:
			if s, ok := payload.Detail.(string); ok {
				return s
			}
			b, _ := json.Marshal(payload.Detail)
			return string(b)
		}
	}
	return truncate(strings.TrimSpace(string(body)), 200)
}

// truncate shortens a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// appStatus is the common `status`/`message` envelope.
type appStatus struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Error   string `json:"error"`
	Detail  string `json:"detail"`
}

// appError returns an AppError when the payload reports status "error".
func appError(op string, body []byte) error {
	var s appStatus
	if err := json.Unmarshal(body, &s); err != nil {
		return nil
	}
	if !strings.EqualFold(s.Status, "error") {
		return nil
	}
	msg := s.Message
	if msg == "" {
		msg = s.Error
	}
	if msg == "" {
		msg = s.Detail
	}
	return &AppError{Op: op, Message: msg}
}

// =============================================================================
// GAMES
// =============================================================================

// ListGames returns the supported game identifiers.
func (c *Client) ListGames(ctx context.Context) ([]string, error) {
	body, err := c.get(ctx, "games", "/api/games", nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		Games *[]string `json:"games"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, schemaErr("games", "%v", err)
	}
	if result.Games == nil {
		return nil, schemaErr("games", `missing field "games"`)
	}
	return *result.Games, nil
}

// GameSummary returns the draw count for one game.
func (c *Client) GameSummary(ctx context.Context, game string) (*GameSummary, error) {
	body, err := c.get(ctx, "summary", "/api/games/"+url.PathEscape(game)+"/summary", nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		Game      string `json:"game"`
		DrawCount *int   `json:"draw_count"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, schemaErr("summary", "%v", err)
	}
	if result.DrawCount == nil {
		return nil, schemaErr("summary", `missing field "draw_count"`)
	}
	if *result.DrawCount < 0 {
		return nil, schemaErr("summary", "negative draw_count %d", *result.DrawCount)
	}
	if result.Game == "" {
		result.Game = game
	}
	return &GameSummary{Game: result.Game, DrawCount: *result.DrawCount}, nil
}

// =============================================================================
// INGESTION
// =============================================================================

// Ingest triggers ingestion for one game. Never retried.
// A `status: "error"` payload is returned as *AppError.
func (c *Client) Ingest(ctx context.Context, input IngestRequest) (*IngestResponse, error) {
	body, err := c.post(ctx, "ingest", "/api/ingest", input)
	if err != nil {
		return nil, err
	}
	if err := appError("ingest "+input.Game, body); err != nil {
		return nil, err
	}

	var result IngestResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, schemaErr("ingest", "%v", err)
	}
	if result.Status == "" {
		return nil, schemaErr("ingest", `missing field "status"`)
	}
	return &result, nil
}

// IngestProgress returns the current ingestion progress for one game.
func (c *Client) IngestProgress(ctx context.Context, game string) (*IngestProgress, error) {
	body, err := c.get(ctx, "ingest_progress", "/api/ingest_progress", map[string]string{"game": game})
	if err != nil {
		return nil, err
	}

	var result IngestProgress
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, schemaErr("ingest_progress", "%v", err)
	}
	if result.Status == "" {
		return nil, schemaErr("ingest_progress", `missing field "status"`)
	}
	return &result, nil
}

// =============================================================================
// STARTUP
// =============================================================================

// StartupStatus returns the global initialization snapshot.
func (c *Client) StartupStatus(ctx context.Context) (*StartupStatus, error) {
	body, err := c.get(ctx, "startup_status", "/api/startup_status", nil)
	if err != nil {
		return nil, err
	}

	var result StartupStatus
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, schemaErr("startup_status", "%v", err)
	}
	if result.Status == "" {
		return nil, schemaErr("startup_status", `missing field "status"`)
	}
	return &result, nil
}

// StartupInit explicitly starts the bulk initialization. Never retried.
func (c *Client) StartupInit(ctx context.Context) (*StartupInitResponse, error) {
	body, err := c.post(ctx, "startup_init", "/api/startup_init", map[string]any{})
	if err != nil {
		return nil, err
	}
	if err := appError("startup init", body); err != nil {
		return nil, err
	}

	var result StartupInitResponse
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &result); err != nil {
			return nil, schemaErr("startup_init", "%v", err)
		}
	}
	return &result, nil
}

// =============================================================================
// TRAINING
// =============================================================================

// Train runs training synchronously. Never retried.
func (c *Client) Train(ctx context.Context, input TrainRequest) (*TrainResponse, error) {
	body, err := c.post(ctx, "train", "/api/train", input)
	if err != nil {
		return nil, err
	}

	var result TrainResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, schemaErr("train", "%v", err)
	}
	if result.Status == "" {
		return nil, schemaErr("train", `missing field "status"`)
	}
	if !result.Succeeded() {
		msg := result.Error
		if msg == "" {
			msg = result.Message
		}
		if msg == "" {
			msg = "status " + result.Status
		}
		return &result, &AppError{Op: "train " + input.Game, Message: msg}
	}
	return &result, nil
}

// =============================================================================
// EXPERIMENTS
// =============================================================================

// Experiments lists experiment records. Accepts {"experiments": [...]} or a raw array.
func (c *Client) Experiments(ctx context.Context) ([]Experiment, error) {
	body, err := c.get(ctx, "experiments", "/api/experiments", nil)
	if err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []Experiment
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, schemaErr("experiments", "%v", err)
		}
		return list, nil
	}

	var result struct {
		Experiments *[]Experiment `json:"experiments"`
	}
	if err := json.Unmarshal(trimmed, &result); err != nil {
		return nil, schemaErr("experiments", "%v", err)
	}
	if result.Experiments == nil {
		return nil, schemaErr("experiments", `missing field "experiments"`)
	}
	return *result.Experiments, nil
}

// =============================================================================
// PREDICTIONS
// =============================================================================

// Predict requests a prediction for one game. Never retried.
// The response must follow {"prediction": {"<game>": {...}}}; a per-game
// `error` field is kept on the GamePrediction for the caller to normalize.
func (c *Client) Predict(ctx context.Context, input PredictRequest) (*GamePrediction, error) {
	body, err := c.post(ctx, "predict", "/api/predict", input)
	if err != nil {
		return nil, err
	}
	if err := appError("predict "+input.Game, body); err != nil {
		return nil, err
	}

	var envelope struct {
		Prediction map[string]json.RawMessage `json:"prediction"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, schemaErr("predict", `"prediction" must be an object keyed by game: %v`, err)
	}
	raw, ok := envelope.Prediction[input.Game]
	if !ok {
		return nil, schemaErr("predict", "no prediction for game %q", input.Game)
	}

	var pred GamePrediction
	if err := json.Unmarshal(raw, &pred); err != nil {
		return nil, schemaErr("predict", "%v", err)
	}
	if pred.Error == "" && len(pred.MainNumbers()) == 0 {
		return nil, schemaErr("predict", `missing field "predicted_numbers" for %q`, input.Game)
	}
	return &pred, nil
}

// =============================================================================
// CHAT
// =============================================================================

// Chat sends a message or tool invocation. Never retried.
func (c *Client) Chat(ctx context.Context, input ChatRequest) (*ChatResponse, error) {
	body, err := c.post(ctx, "chat", "/api/chat", input)
	if err != nil {
		return nil, err
	}

	var result ChatResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, schemaErr("chat", "%v", err)
	}
	return &result, nil
}

// RAGSummary returns an AI summary of one game's data.
func (c *Client) RAGSummary(ctx context.Context, game string) (*RAGSummary, error) {
	body, err := c.get(ctx, "rag_summary", "/api/rag/summary/"+url.PathEscape(game), nil)
	if err != nil {
		return nil, err
	}

	var result RAGSummary
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, schemaErr("rag_summary", "%v", err)
	}
	if result.Error {
		return nil, &AppError{Op: "summary " + game, Message: result.Summary}
	}
	return &result, nil
}

// =============================================================================
// VECTOR STORE
// =============================================================================

// ChromaCollections returns vector-store collection counts.
func (c *Client) ChromaCollections(ctx context.Context) (*ChromaCollections, error) {
	body, err := c.get(ctx, "chroma_collections", "/api/chroma/collections", nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		ChromaCollections
		Collections *[]ChromaCollection `json:"collections"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, schemaErr("chroma_collections", "%v", err)
	}
	if result.Collections == nil {
		if result.Error != "" {
			return nil, &AppError{Op: "chroma collections", Message: result.Error}
		}
		return nil, schemaErr("chroma_collections", `missing field "collections"`)
	}
	out := result.ChromaCollections
	out.Collections = *result.Collections
	return &out, nil
}

// =============================================================================
// RAW
// =============================================================================

// Raw sends an arbitrary request and returns the raw JSON body.
// body must already be valid JSON (or nil).
func (c *Client) Raw(ctx context.Context, method, path string, body json.RawMessage) (json.RawMessage, error) {
	method = strings.ToUpper(method)
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	var payload any
	if len(body) > 0 {
		payload = []byte(body)
	}

	if method == http.MethodGet {
		return c.get(ctx, "raw", path, nil)
	}
	return c.do(ctx, "raw", method, path, nil, payload)
}
