// Package render turns chat output into highlighted terminal text and HTML.
package render

import (
	"encoding/json"
	"html"
	"regexp"

	"github.com/charmbracelet/lipgloss"
	"github.com/raphaelgruber/mensa/internal/models"
)

var bonusPattern = regexp.MustCompile(`(?i)(\bbonus\b|mega\s*ball|power\s*ball|cash\s*ball)`)

const bonusSpan = `<span class="bonus-token">$1</span>`

// HasBonusTerms reports whether text mentions a bonus ball.
func HasBonusTerms(text string) bool {
	return bonusPattern.MatchString(text)
}

// HasBonusSignal reports whether a message indicates a bonus number: in its
// text, in a tool result carrying predicted_bonus_numbers, or in a source.
func HasBonusSignal(msg models.ChatMessage) bool {
	if HasBonusTerms(msg.Text) {
		return true
	}

	if len(msg.ToolResult) > 0 {
		var result struct {
			PredictedBonusNumbers []json.RawMessage `json:"predicted_bonus_numbers"`
		}
		if json.Unmarshal(msg.ToolResult, &result) == nil && len(result.PredictedBonusNumbers) > 0 {
			return true
		}
	}

	for _, s := range msg.Sources {
		if HasBonusTerms(s.Content) {
			return true
		}
	}
	return false
}

// BonusHTML escapes untrusted text and wraps bonus terms in a highlight span.
// Escaping happens first, so the only markup in the result is the span.
func BonusHTML(text string) string {
	return bonusPattern.ReplaceAllString(html.EscapeString(text), bonusSpan)
}

// Highlight renders bonus terms in text with style for terminal output.
func Highlight(text string, style lipgloss.Style) string {
	return bonusPattern.ReplaceAllStringFunc(text, func(m string) string {
		return style.Render(m)
	})
}
