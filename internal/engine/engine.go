// Package engine implements the recognition engine chain: a prioritized list
// of OCR backends tried in order until one yields non-empty text.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cleantext/ocr-pipeline/internal/models"
)

// Typed outcomes the presentation layer keys off. RateLimited gets a
// wait-and-retry affordance, PayloadTooLarge a distinct message; neither is a
// generic failure.
var (
	ErrRateLimited     = errors.New("rate limit exceeded")
	ErrPayloadTooLarge = errors.New("payload too large")
	ErrNotConfigured   = errors.New("engine not configured")
	ErrEmptyResult     = errors.New("engine returned empty text")
)

// Request is one image submitted for recognition. Prompt is output-format
// policy for the primary backend, not OCR logic. ForceFallback skips the
// primary backend entirely; it is how a caller retries after a failure.
type Request struct {
	Image         []byte
	MimeType      string
	Prompt        string
	ClientID      string
	ForceFallback bool
}

// Result is the text produced by whichever backend succeeded.
type Result struct {
	Text   string `json:"text"`
	Engine string `json:"engine"`
}

// Engine is one recognition backend. Implementations adapt the backend's raw
// response into plain text at this boundary; no untyped envelope escapes.
type Engine interface {
	Name() string
	Configured() bool
	Recognize(ctx context.Context, req Request) (string, error)
}

// EngineError is a single backend's failure, carrying which engine and why.
type EngineError struct {
	Engine string
	Reason string
	Err    error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("engine %s: %s", e.Engine, e.Reason)
}

func (e *EngineError) Unwrap() error { return e.Err }

// AllFailedError aggregates every attempt after the whole chain failed. It
// names each engine and its individual reason; nothing is swallowed.
type AllFailedError struct {
	Attempts []models.EngineAttempt
}

func (e *AllFailedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		detail := a.Detail
		if detail == "" {
			detail = string(a.Outcome)
		}
		parts = append(parts, fmt.Sprintf("%s: %s", a.Engine, detail))
	}
	if len(parts) == 0 {
		return "all recognition engines failed: no engine configured"
	}
	return "all recognition engines failed: " + strings.Join(parts, "; ")
}
