package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cleantext/ocr-pipeline/internal/models"
	"github.com/cleantext/ocr-pipeline/internal/ratelimit"
	"github.com/cleantext/ocr-pipeline/pkg/logger"
)

// ChainConfig bounds the chain's remote-call boundary.
type ChainConfig struct {
	MaxPayloadBytes int64         // primary payload bound, rejected before transmission
	CallTimeout     time.Duration // per engine call; timeout counts as engine failure
}

// Chain submits one image to a prioritized sequence of backends and stops at
// the first non-empty, non-whitespace text. The only quality bar is
/// non-emptiness: garbled but non-empty output is accepted as-is. That is a
// known accuracy limitation, preserved deliberately.
type Chain struct {
	engines []Engine
	limiter *ratelimit.Limiter
	cfg     ChainConfig
	logger  logger.Logger
}

// NewChain builds a chain over engines in priority order. The first engine is
// the primary; ForceFallback requests skip it.
func NewChain(engines []Engine, limiter *ratelimit.Limiter, cfg ChainConfig, log logger.Logger) *Chain {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 45 * time.Second
	}
	return &Chain{
		engines: engines,
		limiter: limiter,
		cfg:     cfg,
		logger:  log,
	}
}

// Recognize walks the backends in order. The rate limiter is consulted
// before any backend is touched; a rejection short-circuits with
// ErrRateLimited and does not count toward the retained engine diagnostics.
// Oversized payloads are rejected with ErrPayloadTooLarge before any
// transmission. On total failure the returned *AllFailedError retains every
// attempt with its reason.
func (c *Chain) Recognize(ctx context.Context, req Request) (Result, []models.EngineAttempt, error) {
	if c.limiter != nil && !c.limiter.Allow(req.ClientID) {
		c.logger.Warn("Recognition rejected by rate limiter",
			logger.String("client", req.ClientID),
		)
		return Result{}, nil, ErrRateLimited
	}

	if c.cfg.MaxPayloadBytes > 0 && int64(len(req.Image)) > c.cfg.MaxPayloadBytes {
		return Result{}, nil, ErrPayloadTooLarge
	}

	attempts := make([]models.EngineAttempt, 0, len(c.engines))

	for i, eng := range c.engines {
		if i == 0 && req.ForceFallback {
			attempts = append(attempts, models.EngineAttempt{
				Engine:  eng.Name(),
				Outcome: models.OutcomeSkipped,
				Detail:  "forced_fallback",
			})
			continue
		}
		if !eng.Configured() {
			attempts = append(attempts, models.EngineAttempt{
				Engine:  eng.Name(),
				Outcome: models.OutcomeSkipped,
				Detail:  "not_configured",
			})
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
		start := time.Now()
		text, err := eng.Recognize(callCtx, req)
		latency := time.Since(start)
		cancel()

		if err != nil {
			attempts = append(attempts, classifyFailure(eng.Name(), latency, err))
			c.logger.Warn("Engine attempt failed",
				logger.String("engine", eng.Name()),
				logger.Duration("latency", latency),
				logger.Error(err),
			)
			continue
		}
		if strings.TrimSpace(text) == "" {
			attempts = append(attempts, models.EngineAttempt{
				Engine:  eng.Name(),
				Outcome: models.OutcomeEmpty,
				Latency: latency,
				Detail:  "empty_text",
			})
			continue
		}

		attempts = append(attempts, models.EngineAttempt{
			Engine:  eng.Name(),
			Outcome: models.OutcomeSuccess,
			Latency: latency,
		})
		return Result{Text: strings.TrimSpace(text), Engine: eng.Name()}, attempts, nil
	}

	return Result{}, attempts, &AllFailedError{Attempts: attempts}
}

func classifyFailure(name string, latency time.Duration, err error) models.EngineAttempt {
	attempt := models.EngineAttempt{
		Engine:  name,
		Outcome: models.OutcomeError,
		Latency: latency,
		Detail:  err.Error(),
	}

	var engErr *EngineError
	if errors.As(err, &engErr) {
		attempt.Detail = engErr.Reason
		if errors.Is(engErr.Err, ErrEmptyResult) {
			attempt.Outcome = models.OutcomeEmpty
		}
	}
	return attempt
}
