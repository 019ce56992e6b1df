package generator

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luiscore200/cotizador/internal/contract"
)

type scriptedGenerator struct {
	mu      sync.Mutex
	results []scriptedResult
	calls   int
}

type scriptedResult struct {
	raw string
	err error
}

func (g *scriptedGenerator) Name() string { return "scripted" }

func (g *scriptedGenerator) Generate(ctx context.Context, pc PromptContext) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	i := g.calls
	g.calls++
	if i >= len(g.results) {
		i = len(g.results) - 1
	}
	r := g.results[i]
	return r.raw, r.err
}

func transientErr() error {
	return &Error{Provider: "scripted", StatusCode: 503, Transient: true, Err: errors.New("unavailable")}
}

func permanentErr() error {
	return &Error{Provider: "scripted", StatusCode: 400, Err: errors.New("bad request")}
}

func newTestInvoker(gen Generator, cfg RetryConfig) (*Invoker, *[]time.Duration) {
	inv := NewInvoker(gen, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	var delays []time.Duration
	inv.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return ctx.Err()
	}
	return inv, &delays
}

const validRaw = "Perfecto.\n```json\n{\"data\":{\"address\":\"Calle 5\"},\"message\":\"Anotado\"}\n```"

func TestInvokerSucceedsFirstAttempt(t *testing.T) {
	gen := &scriptedGenerator{results: []scriptedResult{{raw: validRaw}}}
	inv, delays := newTestInvoker(gen, RetryConfig{MaxAttempts: 3, BaseDelay: time.Second})

	resp := inv.Invoke(context.Background(), PromptContext{}, "fallback")

	assert.Equal(t, contract.SourceContract, resp.Source)
	assert.Equal(t, "Anotado", resp.Message)
	assert.Equal(t, "Calle 5", resp.Data.Address)
	assert.Equal(t, 1, gen.calls)
	assert.Empty(t, *delays)
}

func TestInvokerRetriesTransientWithLinearDelay(t *testing.T) {
	gen := &scriptedGenerator{results: []scriptedResult{
		{err: transientErr()},
		{err: transientErr()},
		{raw: validRaw},
	}}
	inv, delays := newTestInvoker(gen, RetryConfig{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond})

	resp := inv.Invoke(context.Background(), PromptContext{}, "fallback")

	assert.Equal(t, contract.SourceContract, resp.Source)
	assert.Equal(t, 3, gen.calls)
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, *delays)
}

func TestInvokerPermanentFailureAbortsImmediately(t *testing.T) {
	gen := &scriptedGenerator{results: []scriptedResult{{err: permanentErr()}}}
	inv, delays := newTestInvoker(gen, RetryConfig{MaxAttempts: 3, BaseDelay: time.Second})

	resp := inv.Invoke(context.Background(), PromptContext{}, "fallback")

	assert.Equal(t, contract.SourceFallback, resp.Source)
	assert.Equal(t, "fallback", resp.Message)
	assert.True(t, resp.Data.IsEmpty())
	assert.Equal(t, 1, gen.calls)
	assert.Empty(t, *delays)
}

func TestInvokerExhaustionFallsBack(t *testing.T) {
	gen := &scriptedGenerator{results: []scriptedResult{{err: transientErr()}}}
	inv, delays := newTestInvoker(gen, RetryConfig{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond})

	_, err := inv.Generate(context.Background(), PromptContext{})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Equal(t, 3, gen.calls)
	assert.Len(t, *delays, 2)

	resp := inv.Invoke(context.Background(), PromptContext{}, "fallback")
	assert.Equal(t, "fallback", resp.Message)
}

func TestInvokerSingleAttempt(t *testing.T) {
	gen := &scriptedGenerator{results: []scriptedResult{{err: transientErr()}}}
	inv, delays := newTestInvoker(gen, RetryConfig{MaxAttempts: 0})

	_, err := inv.Generate(context.Background(), PromptContext{})
	require.Error(t, err)
	assert.Equal(t, 1, gen.calls)
	assert.Empty(t, *delays)
}

func TestInvokerStopsOnCancelledContext(t *testing.T) {
	gen := &scriptedGenerator{results: []scriptedResult{{err: transientErr()}}}
	inv, _ := newTestInvoker(gen, RetryConfig{MaxAttempts: 5, BaseDelay: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := inv.Generate(ctx, PromptContext{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, gen.calls)
}

func TestInvokerRawTextBecomesMessage(t *testing.T) {
	gen := &scriptedGenerator{results: []scriptedResult{{raw: "Claro, ¿qué material necesitas?"}}}
	inv, _ := newTestInvoker(gen, DefaultRetryConfig())

	resp := inv.Invoke(context.Background(), PromptContext{}, "fallback")

	assert.Equal(t, contract.SourceRawText, resp.Source)
	assert.Equal(t, "Claro, ¿qué material necesitas?", resp.Message)
	assert.True(t, resp.Data.IsEmpty())
}

func TestInvokerLogsContractViolationReason(t *testing.T) {
	var buf bytes.Buffer
	raw := "```json\n{\"data\": {}, \"message\": \"\"}\n```"
	gen := &scriptedGenerator{results: []scriptedResult{{raw: raw}}}
	inv := NewInvoker(gen, DefaultRetryConfig(), slog.New(slog.NewTextHandler(&buf, nil)))

	resp := inv.Invoke(context.Background(), PromptContext{}, "fallback")

	assert.Equal(t, contract.SourceRawText, resp.Source)
	assert.Equal(t, raw, resp.Message)
	assert.Contains(t, buf.String(), "violated response contract")
	assert.Contains(t, buf.String(), "contract message is empty")
}

func TestInvokerBlankOutputUsesFallback(t *testing.T) {
	gen := &scriptedGenerator{results: []scriptedResult{{raw: "   "}}}
	inv, _ := newTestInvoker(gen, DefaultRetryConfig())

	resp := inv.Invoke(context.Background(), PromptContext{}, "fallback")

	assert.Equal(t, contract.SourceFallback, resp.Source)
	assert.Equal(t, "fallback", resp.Message)
}

func TestSleepContext(t *testing.T) {
	require.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}
