package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/cleantext/ocr-pipeline/pkg/logger"
)

const visionErrorBodyLimit = 100

var (
	fenceOpen  = regexp.MustCompile("^```(?:markdown)?\\s+")
	fenceClose = regexp.MustCompile("\\s+```$")
)

// VisionEngine is the primary remote backend: a generative vision model
// reached over HTTP with an inline base64 image and an instruction prompt.
type VisionEngine struct {
	apiKey     string
	model      string
	endpoint   string
	httpClient *http.Client
	logger     logger.Logger
}

// NewVisionEngine builds the primary backend client. An empty apiKey leaves
// the engine unconfigured; the chain will skip it with that reason retained.
func NewVisionEngine(apiKey, model, endpoint string, log logger.Logger) *VisionEngine {
	return &VisionEngine{
		apiKey:   apiKey,
		model:    model,
		endpoint: strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		logger: log,
	}
}

func (e *VisionEngine) Name() string { return "gemini" }

func (e *VisionEngine) Configured() bool { return e.apiKey != "" }

type visionPart struct {
	Text       string           `json:"text,omitempty"`
	InlineData *visionImageData `json:"inline_data,omitempty"`
}

type visionImageData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type visionContent struct {
	Parts []visionPart `json:"parts"`
}

type visionRequest struct {
	Contents []visionContent `json:"contents"`
}

type visionResponse struct {
	Candidates []struct {
		Content struct {
			Parts []visionPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Recognize posts the image and prompt and extracts plain text from the
// model envelope. A non-2xx status, a transport error, a malformed envelope
// and an empty text all count as this backend's failure.
func (e *VisionEngine) Recognize(ctx context.Context, req Request) (string, error) {
	if !e.Configured() {
		return "", &EngineError{Engine: e.Name(), Reason: "api_key_not_configured", Err: ErrNotConfigured}
	}

	mime := req.MimeType
	if mime == "" {
		mime = "image/jpeg"
	}
	body := visionRequest{
		Contents: []visionContent{{
			Parts: []visionPart{
				{Text: req.Prompt},
				{InlineData: &visionImageData{
					MimeType: mime,
					Data:     base64.StdEncoding.EncodeToString(req.Image),
				}},
			},
		}},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", &EngineError{Engine: e.Name(), Reason: "marshal request", Err: err}
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", e.endpoint, e.model, e.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
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

	var envelope visionResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return "", &EngineError{Engine: e.Name(), Reason: "malformed response envelope", Err: err}
	}
	if envelope.Error != nil {
		reason := fmt.Sprintf("api_error_%d: %s", envelope.Error.Code, envelope.Error.Message)
		return "", &EngineError{Engine: e.Name(), Reason: reason, Err: fmt.Errorf("%s", envelope.Error.Message)}
	}

	text := ""
	for _, cand := range envelope.Candidates {
		for _, part := range cand.Content.Parts {
			if part.Text != "" {
				text = part.Text
				break
			}
		}
		if text != "" {
			break
		}
	}

	text = stripFences(strings.TrimSpace(text))
	if text == "" {
		return "", &EngineError{Engine: e.Name(), Reason: "empty_text", Err: ErrEmptyResult}
	}
	return text, nil
}

// stripFences removes a wrapping markdown code fence the model sometimes
// adds around its transcription.
func stripFences(text string) string {
	text = fenceOpen.ReplaceAllString(text, "")
	text = fenceClose.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}
