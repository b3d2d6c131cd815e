package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/cleantext/ocr-pipeline/internal/models"
)

// TaskTypeBatchExtract is the asynq task type for one extraction batch.
const TaskTypeBatchExtract = "batch:extract"

// ErrNotFound is returned when no status or result exists for a task ID.
var ErrNotFound = errors.New("task not found")

// Queue hands batches to the worker and stores their transient progress and
// results. Nothing here outlives the configured TTL.
type Queue interface {
	Enqueue(ctx context.Context, task *BatchTask) error
	Status(ctx context.Context, taskID string) (*BatchStatus, error)
	SaveStatus(ctx context.Context, status *BatchStatus) error
	SaveResult(ctx context.Context, taskID string, result *models.ExtractionResult) error
	Result(ctx context.Context, taskID string) (*models.ExtractionResult, error)
	Close() error
}

// TaskDocument carries one uploaded file inside a task payload. Document
// bytes travel with the task; no object store holds a copy.
type TaskDocument struct {
	Name string `json:"name"`
	Data []byte `json:"data"`
}

// BatchTask is the payload of one queued batch.
type BatchTask struct {
	ID            string         `json:"id"`
	ClientID      string         `json:"clientId"`
	ForceFallback bool           `json:"forceFallback"`
	Documents     []TaskDocument `json:"documents"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// BatchStatus is the last reported progress of a batch.
type BatchStatus struct {
	TaskID    string            `json:"taskId"`
	State     models.BatchState `json:"state"`
	Status    string            `json:"status"`
	Document  string            `json:"document,omitempty"`
	Page      int               `json:"page,omitempty"`
	PageCount int               `json:"pageCount,omitempty"`
	Percent   int               `json:"percent"`
	Error     string            `json:"error,omitempty"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// Config tunes the queue connection.
type Config struct {
	RedisAddr      string
	RedisDB        int
	ProcessTimeout time.Duration
	RecordTTL      time.Duration
}

// AsynqQueue is the redis-backed Queue implementation.
type AsynqQueue struct {
	client *asynq.Client
	redis  *redis.Client
	cfg    Config
}

func NewAsynqQueue(cfg Config) (*AsynqQueue, error) {
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = "localhost:6379"
	}
	if cfg.ProcessTimeout <= 0 {
		cfg.ProcessTimeout = 10 * time.Minute
	}
	if cfg.RecordTTL <= 0 {
		cfg.RecordTTL = time.Hour
	}

	redisOpt := asynq.RedisClientOpt{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	}
	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})

	return &AsynqQueue{
		client: asynq.NewClient(redisOpt),
		redis:  redisClient,
		cfg:    cfg,
	}, nil
}

// Enqueue submits one batch. A batch is never retried by the queue; a
// failed batch is reported as failed, and the client decides whether to
// resubmit.
func (q *AsynqQueue) Enqueue(ctx context.Context, task *BatchTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}

	t := asynq.NewTask(TaskTypeBatchExtract, payload,
		asynq.TaskID(task.ID),
		asynq.MaxRetry(0),
		asynq.Timeout(q.cfg.ProcessTimeout),
	)
	if _, err := q.client.EnqueueContext(ctx, t); err != nil {
		return fmt.Errorf("enqueue task: %w", err)
	}
	return nil
}

func statusKey(taskID string) string { return "batch_status:" + taskID }
func resultKey(taskID string) string { return "batch_result:" + taskID }

func (q *AsynqQueue) Status(ctx context.Context, taskID string) (*BatchStatus, error) {
	data, err := q.redis.Get(ctx, statusKey(taskID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get status: %w", err)
	}

	var status BatchStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("unmarshal status: %w", err)
	}
	return &status, nil
}

func (q *AsynqQueue) SaveStatus(ctx context.Context, status *BatchStatus) error {
	status.UpdatedAt = time.Now()
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	if err := q.redis.Set(ctx, statusKey(status.TaskID), data, q.cfg.RecordTTL).Err(); err != nil {
		return fmt.Errorf("save status: %w", err)
	}
	return nil
}

func (q *AsynqQueue) SaveResult(ctx context.Context, taskID string, result *models.ExtractionResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := q.redis.Set(ctx, resultKey(taskID), data, q.cfg.RecordTTL).Err(); err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	return nil
}

func (q *AsynqQueue) Result(ctx context.Context, taskID string) (*models.ExtractionResult, error) {
	data, err := q.redis.Get(ctx, resultKey(taskID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get result: %w", err)
	}

	var result models.ExtractionResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("unmarshal result: %w", err)
	}
	return &result, nil
}

func (q *AsynqQueue) Close() error {
	if err := q.client.Close(); err != nil {
		return err
	}
	return q.redis.Close()
}
