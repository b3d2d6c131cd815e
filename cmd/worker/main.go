package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/cleantext/ocr-pipeline/config"
	"github.com/cleantext/ocr-pipeline/internal/service/extract"
	"github.com/cleantext/ocr-pipeline/pkg/logger"
	"github.com/cleantext/ocr-pipeline/pkg/worker"
)

func main() {
	log, err := logger.NewLogger(
		logger.WithLevel("info"),
		logger.WithEncoding("json"),
		logger.WithOutputPaths([]string{"stdout", "logs/worker.log"}),
	)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	extractService, err := extract.GetService(log)
	if err != nil {
		log.Error("Failed to build extraction service", logger.Error(err))
		os.Exit(1)
	}

	redisCfg := config.GetRedisConfig()
	batchWorker, err := worker.NewBatchWorker(&worker.Config{
		RedisAddr:   redisCfg.Addr,
		RedisDB:     redisCfg.DB,
		Concurrency: redisCfg.Concurrency,
	}, extractService, log)
	if err != nil {
		log.Error("Failed to create batch worker", logger.Error(err))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := batchWorker.Start(ctx); err != nil {
		log.Error("Failed to start worker", logger.Error(err))
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down worker...")
	batchWorker.Stop()
	log.Info("Worker stopped")
}
