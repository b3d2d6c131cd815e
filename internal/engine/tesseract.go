package engine

import (
	"context"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/cleantext/ocr-pipeline/pkg/logger"
)

// TesseractEngine is the caller-side local fallback: a self-contained
// recognition engine requiring no network access. The orchestrator invokes it
// outside the chain's own boundary, when every remote backend has failed.
type TesseractEngine struct {
	langs  string
	logger logger.Logger
}

func NewTesseractEngine(langs string, log logger.Logger) *TesseractEngine {
	if langs == "" {
		langs = "eng"
	}
	return &TesseractEngine{langs: langs, logger: log}
}

func (e *TesseractEngine) Name() string { return "tesseract_local" }

func (e *TesseractEngine) Configured() bool { return true }

// Recognize runs local OCR. A fresh tesseract client per call keeps the
// engine safe for sequential reuse across pages.
func (e *TesseractEngine) Recognize(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &EngineError{Engine: e.Name(), Reason: err.Error(), Err: err}
	}

	image, err := preprocessForOCR(req.Image)
	if err != nil {
		e.logger.Warn("Preprocessing failed, using raw image", logger.Error(err))
		image = req.Image
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(strings.Split(e.langs, "+")...); err != nil {
		return "", &EngineError{Engine: e.Name(), Reason: "set language", Err: err}
	}
	if err := client.SetImageFromBytes(image); err != nil {
		return "", &EngineError{Engine: e.Name(), Reason: "set image", Err: err}
	}

	text, err := client.Text()
	if err != nil {
		return "", &EngineError{Engine: e.Name(), Reason: err.Error(), Err: err}
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", &EngineError{Engine: e.Name(), Reason: "empty_text", Err: ErrEmptyResult}
	}
	return text, nil
}
