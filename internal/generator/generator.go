// Package generator wraps the external completion service that drafts the
// assistant's replies.
package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/luiscore200/cotizador/internal/domain"
)

// ErrEmptyResponse is returned when the service answers without any text.
var ErrEmptyResponse = errors.New("generator returned no text")

// PromptContext is everything one generator call is allowed to see.
type PromptContext struct {
	Instructions   string
	Current        domain.StructuredContext
	LatestUserText string
}

// Render formats the collected data and the latest client text as the user
// part of the prompt. Instructions are delivered separately.
func (p PromptContext) Render() string {
	var b strings.Builder
	b.WriteString("Información actual del cliente:\n")
	fmt.Fprintf(&b, "Materiales: %s\n", p.Current.ItemsJSON())
	fmt.Fprintf(&b, "Dirección: %q\n", p.Current.Address)
	fmt.Fprintf(&b, "Método de pago: %q\n\n", p.Current.PaymentMethod)
	fmt.Fprintf(&b, "Mensaje del cliente: %q", p.LatestUserText)
	return b.String()
}

// Generator produces raw text for a prompt.
type Generator interface {
	Generate(ctx context.Context, pc PromptContext) (string, error)
	// Name identifies the provider in logs and metrics.
	Name() string
}

// Settings are the sampling parameters shared by all providers.
type Settings struct {
	Model           string
	Temperature     float32
	TopK            float32
	TopP            float32
	MaxOutputTokens int32
	RequestTimeout  time.Duration
}

// DefaultSettings mirrors the parameters the assistant was tuned with.
func DefaultSettings() Settings {
	return Settings{
		Temperature:     0.7,
		TopK:            40,
		TopP:            0.95,
		MaxOutputTokens: 1024,
		RequestTimeout:  30 * time.Second,
	}
}

// Error is a classified provider failure.
type Error struct {
	Provider   string
	StatusCode int
	// Transient marks rate-limit and unavailability failures worth retrying.
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s failure (status %d): %v", e.Provider, kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s failure: %v", e.Provider, kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a classified transient failure.
func IsTransient(err error) bool {
	var ge *Error
	return errors.As(err, &ge) && ge.Transient
}

func isTransientStatus(code int) bool {
	return code == 429 || code == 500 || code == 502 || code == 503 || code == 504
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
