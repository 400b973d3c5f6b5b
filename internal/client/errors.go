package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrSchema marks a response whose shape violates the documented contract.
var ErrSchema = errors.New("unexpected response shape")

// APIError is returned for non-2xx HTTP responses.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s %s: HTTP %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// AppError is an application-level failure reported in an otherwise
// successful response (`"status": "error"`).
type AppError struct {
	Op      string
	Message string
}

func (e *AppError) Error() string {
	if e.Message == "" {
		return e.Op + " failed"
	}
	return e.Op + " failed: " + e.Message
}

// ValidationError is raised client-side before any request is sent.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// IsTransient reports whether err is a connection-level failure worth retrying
// on read paths: transport errors, timeouts, and 502/503/504 responses.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// IsValidation reports whether err is a client-side validation failure.
func IsValidation(err error) bool {
	var vErr *ValidationError
	return errors.As(err, &vErr)
}

func schemaErr(op, format string, args ...any) error {
	return fmt.Errorf("%s: %w: %s", op, ErrSchema, fmt.Sprintf(format, args...))
}
