package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cleantext/ocr-pipeline/pkg/logger"
)

// WebhookEngine is the secondary backend: a plain OCR service (typically a
// hosted PaddleOCR instance) reached through a configured webhook URL.
type WebhookEngine struct {
	url        string
	httpClient *http.Client
	logger     logger.Logger
}

func NewWebhookEngine(url string, log logger.Logger) *WebhookEngine {
	return &WebhookEngine{
		url: url,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		logger: log,
	}
}

func (e *WebhookEngine) Name() string { return "paddle" }

func (e *WebhookEngine) Configured() bool { return e.url != "" }

// webhookResponse accepts the text under either of the two field names the
// service is known to use.
type webhookResponse struct {
	Text   string `json:"text"`
	Result string `json:"result"`
}

func (e *WebhookEngine) Recognize(ctx context.Context, req Request) (string, error) {
	if !e.Configured() {
		return "", &EngineError{Engine: e.Name(), Reason: "webhook_not_configured", Err: ErrNotConfigured}
	}

	payload, err := json.Marshal(map[string]string{
		"image": base64.StdEncoding.EncodeToString(req.Image),
	})
	if err != nil {
		return "", &EngineError{Engine: e.Name(), Reason: "marshal request", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(payload))
	if err != nil {
		return "", &EngineError{Engine: e.Name(), Reason: "create request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return "", &EngineError{Engine: e.Name(), Reason: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, visionErrorBodyLimit))
		reason := fmt.Sprintf("http_%d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
		return "", &EngineError{Engine: e.Name(), Reason: reason, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	var envelope webhookResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return "", &EngineError{Engine: e.Name(), Reason: "malformed response envelope", Err: err}
	}

	text := strings.TrimSpace(envelope.Text)
	if text == "" {
		text = strings.TrimSpace(envelope.Result)
	}
	if text == "" {
		return "", &EngineError{Engine: e.Name(), Reason: "empty_text", Err: ErrEmptyResult}
	}
	return text, nil
}
