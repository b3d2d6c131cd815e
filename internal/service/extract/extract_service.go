package extract

import (
	"context"
	"mime/multipart"

	"github.com/cleantext/ocr-pipeline/internal/models"
	"github.com/cleantext/ocr-pipeline/pkg/queue"
)

// Service is the application surface for text extraction batches.
type Service interface {
	SubmitBatch(ctx context.Context, files []*multipart.FileHeader, clientID string, forceFallback bool) (*queue.BatchStatus, error)
	HandleBatch(ctx context.Context, task *queue.BatchTask) error
	Status(ctx context.Context, taskID string) (*queue.BatchStatus, error)
	Result(ctx context.Context, taskID string) (*models.ExtractionResult, error)
	Preview(ctx context.Context, files []*multipart.FileHeader) ([]models.DocumentPreview, error)
}
