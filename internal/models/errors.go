package models

import (
	"errors"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"

	"github.com/raphaelgruber/mensa/internal/client"
)

// ErrorCategory classifies a failure for display.
type ErrorCategory string

const (
	CategoryConnection ErrorCategory = "CONNECTION_ERROR"
	CategoryServer     ErrorCategory = "SERVER_ERROR"
	CategoryUnknown    ErrorCategory = "UNKNOWN_ERROR"
)

// ErrorReport is a categorized failure with remediation suggestions.
type ErrorReport struct {
	Category    ErrorCategory
	Title       string
	Original    string
	Suggestions []string
}

var connectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)network error`),
	regexp.MustCompile(`(?i)connection refused`),
	regexp.MustCompile(`(?i)502 bad gateway`),
	regexp.MustCompile(`(?i)no such host`),
	regexp.MustCompile(`(?i)connection reset`),
}

// AnalyzeError categorizes err. baseURL is named in the connection suggestions.
func AnalyzeError(err error, baseURL string) ErrorReport {
	if err == nil {
		return ErrorReport{}
	}
	msg := err.Error()

	category := CategoryUnknown
	if client.IsTransient(err) {
		category = CategoryConnection
	} else {
		for _, re := range connectionPatterns {
			if re.MatchString(msg) {
				category = CategoryConnection
				break
			}
		}
	}

	var appErr *client.AppError
	if category == CategoryUnknown && errors.As(err, &appErr) {
		category = CategoryServer
	}

	return newReport(category, msg, baseURL)
}

// StartupFailureReport builds the report for a server-declared startup failure.
func StartupFailureReport(s *client.StartupStatus, baseURL string) ErrorReport {
	msg := "backend initialization failed"
	if s != nil {
		var failed []string
		for _, g := range slices.Sorted(maps.Keys(s.Games)) {
			if e := s.Games[g].Error; e != "" {
				failed = append(failed, fmt.Sprintf("%s: %s", g, e))
			}
		}
		if len(failed) > 0 {
			msg += " (" + strings.Join(failed, "; ") + ")"
		}
	}
	return newReport(CategoryServer, msg, baseURL)
}

func newReport(category ErrorCategory, msg, baseURL string) ErrorReport {
	if baseURL == "" {
		baseURL = "the configured API base"
	}

	r := ErrorReport{Category: category, Original: msg}
	switch category {
	case CategoryConnection:
		r.Title = "Connection Issue"
		r.Suggestions = []string{
			"Check if the backend service is running.",
			"Review the backend logs for startup errors.",
			fmt.Sprintf("Ensure the backend is accessible at %s.", baseURL),
			"Check for firewall rules blocking the connection.",
		}
	case CategoryServer:
		r.Title = "Backend Reported an Error"
		r.Suggestions = []string{
			"Review the backend logs for details.",
			"Retry the action once the backend has recovered.",
		}
	default:
		r.Title = "Unexpected Error"
		r.Suggestions = []string{
			"Re-run with --verbose or check the log file for details.",
			"Report this issue if it persists.",
		}
	}
	return r
}
