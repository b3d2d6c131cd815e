package config

import (
	"os"
	"strconv"
	"sync"
)

var (
	redisOnce   sync.Once
	redisConfig *RedisConfig
)

// RedisConfig covers the queue broker and the transient status/result store.
type RedisConfig struct {
	Addr        string
	DB          int
	Concurrency int
}

// GetRedisConfig returns the process-wide redis configuration.
func GetRedisConfig() *RedisConfig {
	redisOnce.Do(func() {
		loadDotEnv()

		cfg := &RedisConfig{
			Addr:        os.Getenv("REDIS_ADDR"),
			Concurrency: 5,
		}
		if cfg.Addr == "" {
			cfg.Addr = "localhost:6379"
		}
		if v := os.Getenv("REDIS_DB"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				cfg.DB = n
			}
		}
		if v := os.Getenv("WORKER_CONCURRENCY"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				cfg.Concurrency = n
			}
		}

		redisConfig = cfg
	})
	return redisConfig
}
