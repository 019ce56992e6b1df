package generator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/luiscore200/cotizador/internal/contract"
	"github.com/luiscore200/cotizador/internal/metrics"
)

// RetryConfig bounds the retry loop.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryConfig returns the retry bounds used when none are configured.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond}
}

// Invoker calls a Generator with bounded retries and turns its output into a
// contract.Response. It never returns an error to the caller.
type Invoker struct {
	gen    Generator
	cfg    RetryConfig
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewInvoker creates an Invoker around gen.
func NewInvoker(gen Generator, cfg RetryConfig, logger *slog.Logger) *Invoker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Invoker{
		gen:    gen,
		cfg:    cfg,
		logger: logger,
		sleep:  sleepContext,
	}
}

// Generate calls the generator, retrying transient failures after
// BaseDelay*attempt. Any other failure aborts immediately.
func (i *Invoker) Generate(ctx context.Context, pc PromptContext) (string, error) {
	for attempt := 1; ; attempt++ {
		start := time.Now()
		raw, err := i.gen.Generate(ctx, pc)
		if err == nil {
			metrics.RecordGeneratorAttempt(i.gen.Name(), "ok", time.Since(start))
			return raw, nil
		}

		transient := IsTransient(err)
		result := "permanent"
		if transient {
			result = "transient"
		}
		metrics.RecordGeneratorAttempt(i.gen.Name(), result, time.Since(start))

		if ctx.Err() != nil {
			return "", fmt.Errorf("generator call abandoned: %w", ctx.Err())
		}
		if !transient {
			return "", err
		}
		if attempt >= i.cfg.MaxAttempts {
			return "", fmt.Errorf("generator failed after %d attempts: %w", attempt, err)
		}

		delay := i.cfg.BaseDelay * time.Duration(attempt)
		i.logger.Debug("Generator call failed with transient error, retrying",
			"provider", i.gen.Name(),
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
		if err := i.sleep(ctx, delay); err != nil {
			return "", fmt.Errorf("generator retry abandoned: %w", err)
		}
	}
}

// Invoke runs Generate and parses the result. Failures, including exhausted
// retries, resolve to a response carrying the fallback message.
func (i *Invoker) Invoke(ctx context.Context, pc PromptContext, fallback string) contract.Response {
	raw, err := i.Generate(ctx, pc)
	if err != nil {
		i.logger.Warn("Generator call failed, using fallback message",
			"provider", i.gen.Name(),
			"transient", IsTransient(err),
			"error", err,
		)
		return contract.Fallback(fallback)
	}

	resp, violation := contract.Inspect(raw)
	if violation != nil {
		i.logger.Warn("Generator output violated response contract",
			"provider", i.gen.Name(),
			"reason", violation,
			"raw_length", len(raw),
		)
	}
	if strings.TrimSpace(resp.Message) == "" {
		return contract.Fallback(fallback)
	}
	return resp
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
