package models

import (
	"encoding/json"
	"time"

	"github.com/raphaelgruber/mensa/internal/client"
)

// Sender identifies the author of a chat message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// Greeting seeds every chat session.
const Greeting = "Hello! I am your AI assistant powered by RAG (Retrieval-Augmented Generation). " +
	"I can answer questions about lottery games using real data from our database."

// FallbackReply is shown when the assistant returns an empty response.
const FallbackReply = "Sorry, I didn't understand that."

// ChatMessage is one entry of an append-only chat session.
type ChatMessage struct {
	Sender       Sender              `json:"sender"`
	Text         string              `json:"text"` // markdown
	Sources      []client.ChatSource `json:"sources,omitempty"`
	ContextUsed  bool                `json:"context_used,omitempty"`
	SourcesCount int                 `json:"sources_count,omitempty"`
	ToolName     string              `json:"tool_name,omitempty"`
	ToolResult   json.RawMessage     `json:"tool_result,omitempty"`
	IsError      bool                `json:"is_error,omitempty"`
	At           time.Time           `json:"at"`
}

// BotReply converts an assistant response into a bot message.
func BotReply(resp *client.ChatResponse, now time.Time) ChatMessage {
	text := resp.Response
	if text == "" && len(resp.ToolResult) == 0 {
		text = FallbackReply
	}
	return ChatMessage{
		Sender:       SenderBot,
		Text:         text,
		Sources:      resp.Sources,
		ContextUsed:  resp.ContextUsed,
		SourcesCount: resp.SourcesCount,
		ToolName:     resp.ToolName,
		ToolResult:   resp.ToolResult,
		At:           now,
	}
}

// BotError converts a failed request into a bot message.
func BotError(err error, now time.Time) ChatMessage {
	return ChatMessage{
		Sender:  SenderBot,
		Text:    "Error: " + err.Error(),
		IsError: true,
		At:      now,
	}
}
