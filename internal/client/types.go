package client

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// GAMES
// =============================================================================

// GameSummary is the per-game draw count.
type GameSummary struct {
	Game      string `json:"game"`
	DrawCount int    `json:"draw_count"`
}

// =============================================================================
// INGESTION
// =============================================================================

// IngestRequest triggers ingestion for one game.
type IngestRequest struct {
	Game  string `json:"game"`
	Force bool   `json:"force,omitempty"`
}

// IngestResponse is the trigger response. Added/Total are optional.
type IngestResponse struct {
	Status  string `json:"status"`
	Added   *int   `json:"added,omitempty"`
	Total   *int   `json:"total,omitempty"`
	Message string `json:"message,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// IngestProgress is a progress snapshot for one game.
type IngestProgress struct {
	Status      string `json:"status"`
	RowsFetched int    `json:"rows_fetched"`
	TotalRows   int    `json:"total_rows"`
	Error       string `json:"error,omitempty"`
}

// =============================================================================
// STARTUP
// =============================================================================

// GameStartupStatus is one entry of the startup per-game map.
// The server sends either an object or a bare status string.
type GameStartupStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (g *GameStartupStatus) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		g.Status = s
		g.Error = ""
		return nil
	}
	var obj struct {
		Status string  `json:"status"`
		Error  *string `json:"error"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	g.Status = obj.Status
	if obj.Error != nil {
		g.Error = *obj.Error
	}
	return nil
}

// StartupStatus is the global initialization snapshot.
type StartupStatus struct {
	Status                 string                       `json:"status"`
	Progress               float64                      `json:"progress"`
	Total                  int                          `json:"total"`
	ElapsedS               float64                      `json:"elapsed_s"`
	CurrentGame            string                       `json:"current_game,omitempty"`
	CurrentTask            string                       `json:"current_task,omitempty"`
	CurrentGameRowsFetched int                          `json:"current_game_rows_fetched"`
	CurrentGameRowsTotal   int                          `json:"current_game_rows_total"`
	Games                  map[string]GameStartupStatus `json:"games"`
	AvailableGames         []string                     `json:"available_games,omitempty"`
}

// StartupInitResponse is the response to an explicit initialization request.
type StartupInitResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// =============================================================================
// TRAINING
// =============================================================================

// TrainRequest carries the game and hyperparameters.
type TrainRequest struct {
	Game        string  `json:"game"`
	TestSize    float64 `json:"testSize"`
	NEstimators int     `json:"nEstimators"`
	MaxDepth    int     `json:"maxDepth"`
	RandomState int     `json:"randomState"`
}

// TrainResponse is the synchronous training result.
type TrainResponse struct {
	Status       string   `json:"status"`
	ExperimentID string   `json:"experiment_id,omitempty"`
	Score        *float64 `json:"score,omitempty"`
	Error        string   `json:"error,omitempty"`
	Message      string   `json:"message,omitempty"`
}

// Succeeded reports whether the training status denotes success.
func (r *TrainResponse) Succeeded() bool {
	switch strings.ToLower(r.Status) {
	case "completed", "success":
		return true
	}
	return false
}

// =============================================================================
// EXPERIMENTS
// =============================================================================

// Experiment is a server-reported training or prediction record.
type Experiment struct {
	ID          string         `json:"experiment_id"`
	Game        string         `json:"game"`
	Type        string         `json:"type,omitempty"`
	Status      string         `json:"status,omitempty"`
	Score       *float64       `json:"score,omitempty"`
	Description string         `json:"description,omitempty"`
	Message     string         `json:"message,omitempty"`
	Error       string         `json:"error,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Params      map[string]any `json:"params,omitempty"`
}

// UnmarshalJSON accepts `id` or `experiment_id`, and RFC 3339 or epoch-second timestamps.
func (e *Experiment) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID           string          `json:"id"`
		ExperimentID string          `json:"experiment_id"`
		Game         string          `json:"game"`
		Type         string          `json:"type"`
		Status       string          `json:"status"`
		Score        *float64        `json:"score"`
		Description  string          `json:"description"`
		Message      string          `json:"message"`
		Error        string          `json:"error"`
		Timestamp    json.RawMessage `json:"timestamp"`
		Params       map[string]any  `json:"params"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*e = Experiment{
		ID:          raw.ExperimentID,
		Game:        raw.Game,
		Type:        raw.Type,
		Status:      raw.Status,
		Score:       raw.Score,
		Description: raw.Description,
		Message:     raw.Message,
		Error:       raw.Error,
		Params:      raw.Params,
	}
	if e.ID == "" {
		e.ID = raw.ID
	}

	ts, err := parseTimestamp(raw.Timestamp)
	if err != nil {
		return fmt.Errorf("experiment %s: %w", e.ID, err)
	}
	e.Timestamp = ts
	return nil
}

// Summary returns the first non-empty of description, message, and error.
func (e Experiment) Summary() string {
	for _, s := range []string{e.Description, e.Message, e.Error} {
		if s != "" {
			return s
		}
	}
	return ""
}

func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return time.Time{}, nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return time.Time{}, err
		}
		if str == "" {
			return time.Time{}, nil
		}
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05"} {
			if t, err := time.Parse(layout, str); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("invalid timestamp %q", str)
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %s", s)
	}
	return time.Unix(0, int64(secs*float64(time.Second))).UTC(), nil
}

// =============================================================================
// PREDICTIONS
// =============================================================================

// PredictRequest asks for a prediction over the recent K draws.
type PredictRequest struct {
	Game    string `json:"game"`
	RecentK int    `json:"recent_k"`
}

// FormattedPrediction carries display labels for main and bonus numbers.
type FormattedPrediction struct {
	MainNumbers  []int  `json:"main_numbers,omitempty"`
	BonusNumbers []int  `json:"bonus_numbers,omitempty"`
	MainLabel    string `json:"main_label,omitempty"`
	BonusLabel   string `json:"bonus_label,omitempty"`
}

// GamePrediction is the canonical per-game prediction payload.
type GamePrediction struct {
	PredictedNumbers      []int                `json:"predicted_numbers"`
	PredictedBonusNumbers []int                `json:"predicted_bonus_numbers,omitempty"`
	Formatted             *FormattedPrediction `json:"formatted_prediction,omitempty"`
	Sessions              [][]int              `json:"sessions,omitempty"`
	Error                 string               `json:"error,omitempty"`
}

// MainNumbers prefers the formatted main numbers when present.
func (p GamePrediction) MainNumbers() []int {
	if p.Formatted != nil && len(p.Formatted.MainNumbers) > 0 {
		return p.Formatted.MainNumbers
	}
	return p.PredictedNumbers
}

// BonusNumbers prefers the formatted bonus numbers when present.
func (p GamePrediction) BonusNumbers() []int {
	if p.Formatted != nil && len(p.Formatted.BonusNumbers) > 0 {
		return p.Formatted.BonusNumbers
	}
	return p.PredictedBonusNumbers
}

// Labels returns the main and bonus labels, with defaults.
func (p GamePrediction) Labels() (main, bonus string) {
	main, bonus = "Numbers", "Bonus"
	if p.Formatted != nil {
		if p.Formatted.MainLabel != "" {
			main = p.Formatted.MainLabel
		}
		if p.Formatted.BonusLabel != "" {
			bonus = p.Formatted.BonusLabel
		}
	}
	return main, bonus
}

// =============================================================================
// CHAT
// =============================================================================

// ToolCall is a structured tool invocation sent through the chat endpoint.
type ToolCall struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params,omitempty"`
}

// ChatRequest is the chat payload. Tool is set for tool invocations.
type ChatRequest struct {
	Text   string    `json:"text"`
	Game   string    `json:"game,omitempty"`
	UseRAG bool      `json:"use_rag"`
	Tool   *ToolCall `json:"tool,omitempty"`
}

// ChatSource is a retrieval citation.
type ChatSource struct {
	Game     string  `json:"game"`
	Content  string  `json:"content"`
	Distance float64 `json:"distance"`
}

// Score converts distance to a relevance score.
func (s ChatSource) Score() float64 {
	return 1 - s.Distance
}

// ChatResponse is the assistant reply.
type ChatResponse struct {
	Response     string          `json:"response"`
	Sources      []ChatSource    `json:"sources,omitempty"`
	ContextUsed  bool            `json:"context_used"`
	SourcesCount int             `json:"sources_count"`
	ToolName     string          `json:"tool_name,omitempty"`
	ToolResult   json.RawMessage `json:"tool_result,omitempty"`
}

// RAGSummary is an AI-generated summary of one game's data.
type RAGSummary struct {
	Game        string  `json:"game"`
	Summary     string  `json:"summary"`
	GeneratedAt float64 `json:"generated_at,omitempty"`
	Error       bool    `json:"error,omitempty"`
}

// =============================================================================
// VECTOR STORE
// =============================================================================

// ChromaCollection is one collection with its document count.
type ChromaCollection struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
	Error string `json:"error,omitempty"`
}

// ChromaCollections is the vector-store status payload.
type ChromaCollections struct {
	Status      string             `json:"status,omitempty"`
	Collections []ChromaCollection `json:"collections"`
	Meta        map[string]any     `json:"meta,omitempty"`
	Error       string             `json:"error,omitempty"`
}

// Err reports a store-level failure sent alongside a possibly partial
// collection list.
func (cc *ChromaCollections) Err() error {
	if cc == nil || (cc.Error == "" && !strings.EqualFold(cc.Status, "error")) {
		return nil
	}
	msg := cc.Error
	if msg == "" {
		msg = "vector store reported an error"
	}
	return &AppError{Op: "chroma collections", Message: msg}
}
