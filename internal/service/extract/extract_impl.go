package extract

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/cleantext/ocr-pipeline/config"
	"github.com/cleantext/ocr-pipeline/internal/batch"
	"github.com/cleantext/ocr-pipeline/internal/engine"
	"github.com/cleantext/ocr-pipeline/internal/models"
	"github.com/cleantext/ocr-pipeline/internal/raster"
	"github.com/cleantext/ocr-pipeline/internal/ratelimit"
	"github.com/cleantext/ocr-pipeline/internal/utils/validator"
	"github.com/cleantext/ocr-pipeline/pkg/logger"
	"github.com/cleantext/ocr-pipeline/pkg/queue"
)

// ExtractService ties the orchestrator to the queue: submissions are
// enqueued with their document bytes inline, the worker hands them back
// through HandleBatch, and progress is readable until the record TTL runs
// out.
type ExtractService struct {
	queue        queue.Queue
	orchestrator *batch.Orchestrator
	logger       logger.Logger
}

func NewService(q queue.Queue, orch *batch.Orchestrator, log logger.Logger) Service {
	return &ExtractService{
		queue:        q,
		orchestrator: orch,
		logger:       log,
	}
}

// GetService wires the full pipeline from configuration.
func GetService(log logger.Logger) (Service, error) {
	pipeCfg := config.GetPipelineConfig()
	engCfg := config.GetEnginesConfig()
	redisCfg := config.GetRedisConfig()

	q, err := queue.NewAsynqQueue(queue.Config{
		RedisAddr: redisCfg.Addr,
		RedisDB:   redisCfg.DB,
		RecordTTL: pipeCfg.ResultTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize queue: %w", err)
	}

	limiter := ratelimit.New(pipeCfg.RateWindow, pipeCfg.RateCeiling)
	chain := engine.NewChain(
		[]engine.Engine{
			engine.NewVisionEngine(engCfg.VisionAPIKey, engCfg.VisionModel, engCfg.VisionEndpoint, log),
			engine.NewWebhookEngine(engCfg.WebhookURL, log),
		},
		limiter,
		engine.ChainConfig{
			MaxPayloadBytes: pipeCfg.MaxPayloadBytes,
			CallTimeout:     pipeCfg.EngineTimeout,
		},
		log,
	)

	orch := batch.NewOrchestrator(
		validator.NewDocumentValidator(validator.Config{MaxFileSize: pipeCfg.MaxFileSize}, log),
		raster.New(raster.Options{
			Scale:        pipeCfg.RasterScale,
			JPEGQuality:  pipeCfg.JPEGQuality,
			ThumbScale:   pipeCfg.ThumbnailScale,
			ThumbQuality: pipeCfg.ThumbQuality,
		}, log),
		chain,
		engine.NewTesseractEngine(engCfg.TesseractLangs, log),
		batch.Options{
			MaxPDFPages: pipeCfg.MaxPDFPages,
			Prompt:      engCfg.Prompt,
		},
		log,
	)

	return NewService(q, orch, log), nil
}

// SubmitBatch reads the uploads and queues one batch task. Validation
// happens on the worker side so a submission is cheap; only unreadable
// uploads are rejected here.
func (s *ExtractService) SubmitBatch(ctx context.Context, files []*multipart.FileHeader, clientID string, forceFallback bool) (*queue.BatchStatus, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("no files submitted")
	}

	docs := make([]queue.TaskDocument, len(files))
	g, _ := errgroup.WithContext(ctx)
	for i, header := range files {
		g.Go(func() error {
			f, err := header.Open()
			if err != nil {
				return fmt.Errorf("open %s: %w", header.Filename, err)
			}
			defer f.Close()

			data, err := io.ReadAll(f)
			if err != nil {
				return fmt.Errorf("read %s: %w", header.Filename, err)
			}
			docs[i] = queue.TaskDocument{Name: header.Filename, Data: data}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	task := &queue.BatchTask{
		ID:            uuid.New().String(),
		ClientID:      clientID,
		ForceFallback: forceFallback,
		Documents:     docs,
		CreatedAt:     time.Now(),
	}

	status := &queue.BatchStatus{
		TaskID:  task.ID,
		State:   models.BatchIdle,
		Status:  fmt.Sprintf("Queued %d file(s)", len(docs)),
		Percent: 0,
	}
	if err := s.queue.SaveStatus(ctx, status); err != nil {
		return nil, err
	}
	if err := s.queue.Enqueue(ctx, task); err != nil {
		return nil, err
	}

	s.logger.Info("Batch queued",
		logger.String("taskId", task.ID),
		logger.String("client", clientID),
		logger.Int("files", len(docs)),
		logger.Bool("forceFallback", forceFallback),
	)
	return status, nil
}

// HandleBatch runs one dequeued batch to a terminal state, mirroring every
// progress update into the status store.
func (s *ExtractService) HandleBatch(ctx context.Context, task *queue.BatchTask) error {
	uploads := make([]batch.Upload, len(task.Documents))
	for i, d := range task.Documents {
		uploads[i] = batch.Upload{Name: d.Name, Data: d.Data}
	}

	emit := func(u models.ProgressUpdate) {
		status := &queue.BatchStatus{
			TaskID:    task.ID,
			State:     u.State,
			Status:    u.Status,
			Document:  u.Document,
			Page:      u.Page,
			PageCount: u.PageCount,
			Percent:   u.Percent,
		}
		if err := s.queue.SaveStatus(ctx, status); err != nil {
			s.logger.Error("Failed to save batch status",
				logger.String("taskId", task.ID),
				logger.Error(err),
			)
		}
	}

	result, runErr := s.orchestrator.Run(ctx, batch.Request{
		Uploads:       uploads,
		ClientID:      task.ClientID,
		ForceFallback: task.ForceFallback,
	}, emit)

	// Partial entries are worth keeping even when the batch failed.
	if result != nil {
		if err := s.queue.SaveResult(ctx, task.ID, result); err != nil {
			s.logger.Error("Failed to save batch result",
				logger.String("taskId", task.ID),
				logger.Error(err),
			)
		}
	}

	if runErr != nil {
		status := &queue.BatchStatus{
			TaskID: task.ID,
			State:  models.BatchFailed,
			Status: "Batch failed",
			Error:  runErr.Error(),
		}
		if err := s.queue.SaveStatus(ctx, status); err != nil {
			s.logger.Error("Failed to save failure status",
				logger.String("taskId", task.ID),
				logger.Error(err),
			)
		}
		s.logger.Error("Batch failed",
			logger.String("taskId", task.ID),
			logger.Error(runErr),
		)
		return runErr
	}

	s.logger.Info("Batch complete",
		logger.String("taskId", task.ID),
		logger.Int("entries", len(result.Entries)),
		logger.Int("skipped", len(result.Skipped)),
	)
	return nil
}

func (s *ExtractService) Status(ctx context.Context, taskID string) (*queue.BatchStatus, error) {
	return s.queue.Status(ctx, taskID)
}

func (s *ExtractService) Result(ctx context.Context, taskID string) (*models.ExtractionResult, error) {
	return s.queue.Result(ctx, taskID)
}

// Preview validates the uploads and renders client previews without
// queueing anything.
func (s *ExtractService) Preview(ctx context.Context, files []*multipart.FileHeader) ([]models.DocumentPreview, error) {
	uploads := make([]batch.Upload, len(files))
	for i, header := range files {
		f, err := header.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", header.Filename, err)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", header.Filename, err)
		}
		uploads[i] = batch.Upload{Name: header.Filename, Data: data}
	}
	return s.orchestrator.Previews(ctx, uploads)
}
