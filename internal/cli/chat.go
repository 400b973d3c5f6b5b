package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"
	"github.com/raphaelgruber/mensa/internal/client"
	"github.com/raphaelgruber/mensa/internal/models"
	"github.com/raphaelgruber/mensa/internal/render"
	"github.com/raphaelgruber/mensa/internal/service"
	"github.com/spf13/cobra"
)

var (
	chatGame       string
	chatNoRAG      bool
	chatTool       string
	chatParams     string
	chatTranscript string
	chatSummary    string
)

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Chat with the RAG assistant",
	Long: `Ask the assistant about lottery data. Without a message an interactive
session starts; inside it, /game <name> changes the game scope, /rag on|off
toggles retrieval and /quit ends the session.

Examples:
  mensa chat "which powerball numbers are most frequent?" --game powerball
  mensa chat --tool list_files --params '{"path":"data"}'
  mensa chat --summary mega
  mensa chat --transcript session.html`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatGame, "game", "g", "", "limit the conversation to one game")
	chatCmd.Flags().BoolVar(&chatNoRAG, "no-rag", false, "answer without retrieval")
	chatCmd.Flags().StringVar(&chatTool, "tool", "", "invoke a server-side tool")
	chatCmd.Flags().StringVar(&chatParams, "params", "", "tool parameters as a JSON object")
	chatCmd.Flags().StringVar(&chatTranscript, "transcript", "", "write the session as HTML to this file")
	chatCmd.Flags().StringVar(&chatSummary, "summary", "", "print an AI summary of a game's data")
}

func runChat(cmd *cobra.Command, args []string) error {
	params, err := parseToolParams(chatParams)
	if err != nil {
		return err
	}

	ctx, cancel := commandContext()
	defer cancel()

	session := service.NewChatSession(apiClient, chatGame, !chatNoRAG, logger)
	defer func() {
		if chatTranscript != "" {
			if err := writeTranscript(chatTranscript, session.Messages()); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
			}
		}
	}()

	switch {
	case chatSummary != "":
		s, err := service.Summary(ctx, apiClient, chatSummary)
		if err != nil {
			return err
		}
		fmt.Println(defaultTheme.titleStyle().Render("Summary: " + s.Game))
		fmt.Println(render.Highlight(s.Summary, defaultTheme.bonusStyle()))
		return nil

	case chatTool != "":
		msg, err := session.RunTool(ctx, chatTool, params)
		if err != nil {
			return err
		}
		printMessage(msg)
		return messageErr(msg)

	case len(args) > 0:
		msg, err := session.SendMessage(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}
		printMessage(msg)
		return messageErr(msg)
	}

	if !isInteractive() {
		return errors.New("message argument required when not running in a terminal")
	}
	return chatLoop(ctx, session)
}

// chatLoop runs the interactive session until /quit, EOF or Ctrl+C.
func chatLoop(ctx context.Context, session *service.ChatSession) error {
	printMessage(session.Messages()[0])

	for ctx.Err() == nil {
		var input string
		err := survey.AskOne(&survey.Input{Message: "you>"}, &input)
		if errors.Is(err, terminal.InterruptErr) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}

		input = strings.TrimSpace(input)
		switch {
		case input == "":
			continue
		case input == "/quit" || input == "/exit":
			return nil
		case strings.HasPrefix(input, "/game"):
			game := strings.TrimSpace(strings.TrimPrefix(input, "/game"))
			session.SetGame(game)
			if game == "" {
				fmt.Println(defaultTheme.hintStyle().Render("game scope cleared"))
			} else {
				fmt.Println(defaultTheme.hintStyle().Render("game scope: " + game))
			}
			continue
		case strings.HasPrefix(input, "/rag"):
			on := strings.TrimSpace(strings.TrimPrefix(input, "/rag")) != "off"
			session.SetUseRAG(on)
			fmt.Println(defaultTheme.hintStyle().Render(fmt.Sprintf("retrieval: %t", on)))
			continue
		}

		msg, err := session.SendMessage(ctx, input)
		if err != nil {
			fmt.Println(defaultTheme.errorStyle().Render(err.Error()))
			continue
		}
		printMessage(msg)
	}
	return nil
}

func parseToolParams(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var params map[string]any
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return nil, &client.ValidationError{Field: "params", Message: fmt.Sprintf("tool params must be a JSON object: %v", err)}
	}
	return params, nil
}

func messageErr(msg models.ChatMessage) error {
	if msg.IsError {
		return errors.New(strings.TrimPrefix(msg.Text, "Error: "))
	}
	return nil
}

// printMessage displays a bot message with bonus terms highlighted.
func printMessage(msg models.ChatMessage) {
	t := defaultTheme
	if msg.IsError {
		fmt.Println(t.errorStyle().Render(msg.Text))
		return
	}

	if msg.ToolName != "" {
		fmt.Println(t.titleStyle().Render("tool: " + msg.ToolName))
	}
	if msg.Text != "" {
		fmt.Println(render.Highlight(msg.Text, t.bonusStyle()))
	}
	if len(msg.ToolResult) > 0 {
		var buf bytes.Buffer
		if err := json.Indent(&buf, msg.ToolResult, "", "  "); err != nil {
			buf.Reset()
			buf.Write(msg.ToolResult)
		}
		fmt.Println(buf.String())
	}

	if len(msg.Sources) > 0 {
		fmt.Println(t.hintStyle().Render(fmt.Sprintf("sources (%d):", len(msg.Sources))))
		for _, s := range msg.Sources {
			snippet := shorten(s.Content, 120)
			fmt.Printf("  [%s %.2f] %s\n", s.Game, s.Score(), render.Highlight(snippet, t.bonusStyle()))
		}
	}
	if render.HasBonusSignal(msg) {
		fmt.Println(t.bonusStyle().Render("◎ Bonus number included"))
	}
}

// shorten cuts s to at most n runes, marking the cut with "...".
func shorten(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func writeTranscript(path string, messages []models.ChatMessage) error {
	doc, err := render.TranscriptHTML("mensa chat transcript", messages)
	if err != nil {
		return fmt.Errorf("render transcript: %w", err)
	}
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}
	fmt.Printf("Transcript written to %s\n", path)
	return nil
}
