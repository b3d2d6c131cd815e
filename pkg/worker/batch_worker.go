package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/cleantext/ocr-pipeline/internal/service/extract"
	"github.com/cleantext/ocr-pipeline/pkg/logger"
	"github.com/cleantext/ocr-pipeline/pkg/queue"
)

// BatchWorker consumes extraction batches from the queue. Batches are not
// retried on failure; the failure is recorded and the client decides.
type BatchWorker struct {
	BaseWorker
	service extract.Service
}

func NewBatchWorker(cfg *Config, svc extract.Service, log logger.Logger) (*BatchWorker, error) {
	server := asynq.NewServer(
		asynq.RedisClientOpt{Addr: cfg.RedisAddr, DB: cfg.RedisDB},
		asynq.Config{
			Concurrency: cfg.Concurrency,
		},
	)

	w := &BatchWorker{
		BaseWorker: BaseWorker{
			server:   server,
			mux:      asynq.NewServeMux(),
			logger:   log,
			stopChan: make(chan struct{}),
		},
		service: svc,
	}
	w.mux.HandleFunc(queue.TaskTypeBatchExtract, w.handleBatchExtract)
	return w, nil
}

func (w *BatchWorker) handleBatchExtract(ctx context.Context, t *asynq.Task) error {
	var task queue.BatchTask
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		w.logger.Error("Failed to unmarshal batch task", logger.Error(err))
		return fmt.Errorf("unmarshal batch task: %w", err)
	}
	if task.ID == "" || len(task.Documents) == 0 {
		return fmt.Errorf("invalid batch task: missing id or documents")
	}

	w.logger.Info("Processing batch",
		logger.String("taskId", task.ID),
		logger.Int("files", len(task.Documents)),
	)
	return w.service.HandleBatch(ctx, &task)
}

func (w *BatchWorker) Start(ctx context.Context) error {
	go func() {
		if err := w.server.Run(w.mux); err != nil {
			w.logger.Error("Worker server stopped", logger.Error(err))
		}
	}()

	go func() {
		select {
		case <-ctx.Done():
			w.Stop()
		case <-w.stopChan:
		}
	}()

	return nil
}
