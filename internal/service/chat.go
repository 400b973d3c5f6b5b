package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/raphaelgruber/mensa/internal/client"
	"github.com/raphaelgruber/mensa/internal/models"
)

// ChatSession is an append-only conversation with the assistant, seeded
// with a greeting. Requests are never retried; failures become bot messages.
type ChatSession struct {
	ID string

	api    API
	logger *slog.Logger

	mu       sync.RWMutex
	game     string
	useRAG   bool
	messages []models.ChatMessage
}

// NewChatSession creates a session scoped to game (may be empty).
func NewChatSession(api API, game string, useRAG bool, logger *slog.Logger) *ChatSession {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatSession{
		ID:     uuid.New().String(),
		api:    api,
		logger: logger,
		game:   game,
		useRAG: useRAG,
		messages: []models.ChatMessage{{
			Sender: models.SenderBot,
			Text:   models.Greeting,
			At:     time.Now(),
		}},
	}
}

// SetGame changes the game scope for later requests.
func (s *ChatSession) SetGame(game string) {
	s.mu.Lock()
	s.game = game
	s.mu.Unlock()
}

// SetUseRAG toggles retrieval for later requests.
func (s *ChatSession) SetUseRAG(on bool) {
	s.mu.Lock()
	s.useRAG = on
	s.mu.Unlock()
}

// Messages returns a copy of the conversation.
func (s *ChatSession) Messages() []models.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.ChatMessage(nil), s.messages...)
}

// SendMessage appends the user message, asks the assistant and appends its
// reply (or an error reply). Returns the bot message.
func (s *ChatSession) SendMessage(ctx context.Context, text string) (models.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.ChatMessage{}, &client.ValidationError{Field: "text", Message: "message is empty"}
	}

	s.mu.Lock()
	s.messages = append(s.messages, models.ChatMessage{Sender: models.SenderUser, Text: text, At: time.Now()})
	req := client.ChatRequest{Text: text, Game: s.game, UseRAG: s.useRAG}
	s.mu.Unlock()

	return s.exchange(ctx, req), nil
}

// RunTool invokes a server-side tool and appends exactly one bot message
// carrying the tool name and result.
func (s *ChatSession) RunTool(ctx context.Context, name string, params map[string]any) (models.ChatMessage, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.ChatMessage{}, &client.ValidationError{Field: "tool", Message: "tool name is empty"}
	}

	s.mu.RLock()
	req := client.ChatRequest{
		Text:   fmt.Sprintf("/%s", name),
		Game:   s.game,
		UseRAG: s.useRAG,
		Tool:   &client.ToolCall{Name: name, Params: params},
	}
	s.mu.RUnlock()

	msg := s.exchange(ctx, req)
	return msg, nil
}

func (s *ChatSession) exchange(ctx context.Context, req client.ChatRequest) models.ChatMessage {
	resp, err := s.api.Chat(ctx, req)

	var msg models.ChatMessage
	if err != nil {
		s.logger.Warn("chat request failed", "session", s.ID, "error", err)
		msg = models.BotError(err, time.Now())
	} else {
		msg = models.BotReply(resp, time.Now())
		if req.Tool != nil && msg.ToolName == "" {
			msg.ToolName = req.Tool.Name
		}
	}

	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.mu.Unlock()
	return msg
}

// Summary fetches an AI summary of one game's stored data.
func Summary(ctx context.Context, api API, game string) (*client.RAGSummary, error) {
	if strings.TrimSpace(game) == "" {
		return nil, &client.ValidationError{Field: "game", Message: "game is required"}
	}
	s, err := api.RAGSummary(ctx, game)
	if err != nil {
		return nil, fmt.Errorf("summary %s: %w", game, err)
	}
	return s, nil
}
