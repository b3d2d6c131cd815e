package handlers

import (
	"github.com/cleantext/ocr-pipeline/internal/service/extract"
	"github.com/cleantext/ocr-pipeline/pkg/logger"
)

type Handlers struct {
	Extract *ExtractHandler
}

func NewHandlers(extractService extract.Service, log logger.Logger) *Handlers {
	return &Handlers{
		Extract: NewExtractHandler(extractService, log),
	}
}
