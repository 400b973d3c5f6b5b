package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/raphaelgruber/mensa/internal/models"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// goldmark's default renderer omits raw HTML from the markdown source.
var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// Markdown converts one message body to HTML with bonus terms highlighted.
func Markdown(text string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(text), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return HighlightHTML(buf.String())
}

// HighlightHTML wraps bonus terms found in text nodes of an HTML fragment.
// Tags, attributes and code blocks are left untouched.
func HighlightHTML(fragment string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	body := doc.Find("body")
	highlightText(body)

	out, err := body.Html()
	if err != nil {
		return "", fmt.Errorf("serialize html: %w", err)
	}
	return out, nil
}

func highlightText(s *goquery.Selection) {
	s.Contents().Each(func(_ int, c *goquery.Selection) {
		switch goquery.NodeName(c) {
		case "#text":
			text := c.Text()
			if HasBonusTerms(text) {
				c.ReplaceWithHtml(BonusHTML(text))
			}
		case "code", "pre", "script", "style":
		default:
			highlightText(c)
		}
	})
}

// TranscriptHTML exports a chat session as a standalone HTML document.
func TranscriptHTML(title string, messages []models.ChatMessage) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n<title>%s</title>\n", html.EscapeString(title))
	b.WriteString("<style>.bonus-token{background:#ffe08a;font-weight:bold}.bonus-badge{color:#b8860b}.error{color:#c00}</style>\n")
	b.WriteString("</head>\n<body>\n")

	for _, msg := range messages {
		class := "message " + string(msg.Sender)
		if msg.IsError {
			class += " error"
		}
		fmt.Fprintf(&b, "<div class=%q>\n", class)
		fmt.Fprintf(&b, "<div class=\"meta\">%s · %s</div>\n", html.EscapeString(string(msg.Sender)), msg.At.Format("2006-01-02 15:04:05"))

		if msg.Text != "" {
			body, err := Markdown(msg.Text)
			if err != nil {
				return "", err
			}
			b.WriteString(body)
			b.WriteString("\n")
		}

		if msg.ToolName != "" {
			fmt.Fprintf(&b, "<div class=\"tool\">Tool: %s</div>\n", html.EscapeString(msg.ToolName))
		}
		if len(msg.ToolResult) > 0 {
			fmt.Fprintf(&b, "<pre><code>%s</code></pre>\n", html.EscapeString(indentJSON(msg.ToolResult)))
		}

		if len(msg.Sources) > 0 {
			b.WriteString("<ul class=\"sources\">\n")
			for _, s := range msg.Sources {
				fmt.Fprintf(&b, "<li><strong>%s</strong> (relevance %.2f): %s</li>\n",
					html.EscapeString(s.Game), s.Score(), BonusHTML(s.Content))
			}
			b.WriteString("</ul>\n")
		}

		if msg.Sender == models.SenderBot && HasBonusSignal(msg) {
			b.WriteString("<div class=\"bonus-badge\" role=\"status\">Bonus number included</div>\n")
		}
		b.WriteString("</div>\n")
	}

	b.WriteString("</body>\n</html>\n")
	return b.String(), nil
}

func indentJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}
