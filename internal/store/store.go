// Package store archives finished quotations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/luiscore200/cotizador/internal/domain"
)

// ErrNotFound is returned when no quotation matches the lookup.
var ErrNotFound = errors.New("quotation not found")

// Repository persists quotation records. Sessions are never restored from it.
type Repository interface {
	// SaveQuotation inserts or replaces the record for q.SessionID.
	SaveQuotation(ctx context.Context, q domain.Quotation) error

	// GetQuotation returns the record for sessionID or ErrNotFound.
	GetQuotation(ctx context.Context, sessionID string) (*domain.Quotation, error)

	// ListQuotationsByClient returns the newest records for clientID first.
	ListQuotationsByClient(ctx context.Context, clientID string, limit int) ([]*domain.Quotation, error)

	// PruneQuotations deletes records closed before cutoff.
	PruneQuotations(ctx context.Context, cutoff time.Time) (int64, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
