package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/luiscore200/cotizador/internal/domain"
	"github.com/luiscore200/cotizador/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	writeMaxRetries = 3
	writeBaseDelay  = 50 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // serializes writers to keep SQLITE_BUSY rare
}

// NewSQLite opens (creating if needed) the archive at dbPath.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL lets API reads proceed while a teardown write is in progress.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS quotations (
		session_id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL DEFAULT '',
		items_json TEXT NOT NULL,
		address TEXT NOT NULL DEFAULT '',
		payment_method TEXT NOT NULL DEFAULT '',
		complete INTEGER NOT NULL DEFAULT 0,
		turns INTEGER NOT NULL DEFAULT 0,
		closed_reason TEXT NOT NULL DEFAULT '',
		started_at INTEGER NOT NULL,
		closed_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_quotations_client ON quotations(client_id, closed_at);
	CREATE INDEX IF NOT EXISTS idx_quotations_closed ON quotations(closed_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// SaveQuotation inserts or replaces a quotation record. Busy or locked
// errors are retried with exponential backoff.
func (s *SQLiteStore) SaveQuotation(ctx context.Context, q domain.Quotation) error {
	items := q.Context.Items
	if items == nil {
		items = []domain.Item{}
	}
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode items: %w", err)
	}

	query := `
	INSERT INTO quotations (
		session_id, client_id, items_json, address, payment_method,
		complete, turns, closed_reason, started_at, closed_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET
		items_json = excluded.items_json,
		address = excluded.address,
		payment_method = excluded.payment_method,
		complete = excluded.complete,
		turns = excluded.turns,
		closed_reason = excluded.closed_reason,
		closed_at = excluded.closed_at`

	return s.withRetry(ctx, "save quotation", func() error {
		_, err := s.db.ExecContext(ctx, query,
			q.SessionID, q.ClientID, string(itemsJSON),
			q.Context.Address, q.Context.PaymentMethod,
			q.Complete, q.Turns, q.ClosedReason,
			q.StartedAt.UnixMilli(), q.ClosedAt.UnixMilli(),
		)
		return err
	})
}

// GetQuotation retrieves the record for sessionID.
func (s *SQLiteStore) GetQuotation(ctx context.Context, sessionID string) (*domain.Quotation, error) {
	query := `
		SELECT session_id, client_id, items_json, address, payment_method,
		       complete, turns, closed_reason, started_at, closed_at
		FROM quotations WHERE session_id = ?`

	q, err := scanQuotation(s.db.QueryRowContext(ctx, query, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return q, nil
}

// ListQuotationsByClient returns up to limit records for clientID, newest first.
func (s *SQLiteStore) ListQuotationsByClient(ctx context.Context, clientID string, limit int) ([]*domain.Quotation, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT session_id, client_id, items_json, address, payment_method,
		       complete, turns, closed_reason, started_at, closed_at
		FROM quotations WHERE client_id = ?
		ORDER BY closed_at DESC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, clientID, limit)
	if err != nil {
		return nil, fmt.Errorf("query quotations: %w", err)
	}
	defer rows.Close()

	var out []*domain.Quotation
	for rows.Next() {
		q, err := scanQuotation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate quotations: %w", err)
	}
	return out, nil
}

// PruneQuotations deletes records closed before cutoff.
func (s *SQLiteStore) PruneQuotations(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := s.withRetry(ctx, "prune quotations", func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM quotations WHERE closed_at < ?`, cutoff.UnixMilli())
		if err != nil {
			return err
		}
		deleted, err = res.RowsAffected()
		return err
	})
	return deleted, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQuotation(row rowScanner) (*domain.Quotation, error) {
	var q domain.Quotation
	var itemsJSON string
	var startedAt, closedAt int64

	err := row.Scan(
		&q.SessionID, &q.ClientID, &itemsJSON,
		&q.Context.Address, &q.Context.PaymentMethod,
		&q.Complete, &q.Turns, &q.ClosedReason,
		&startedAt, &closedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan quotation row: %w", err)
	}
	if err := json.Unmarshal([]byte(itemsJSON), &q.Context.Items); err != nil {
		return nil, fmt.Errorf("decode items for %s: %w", q.SessionID, err)
	}
	q.StartedAt = time.UnixMilli(startedAt).UTC()
	q.ClosedAt = time.UnixMilli(closedAt).UTC()
	return &q, nil
}

// withRetry runs op under the write lock, retrying SQLite conflicts.
func (s *SQLiteStore) withRetry(ctx context.Context, what string, op func() error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var err error
	for i := 0; i < writeMaxRetries; i++ {
		if err = op(); err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) || i == writeMaxRetries-1 {
			break
		}

		delay := writeBaseDelay * time.Duration(1<<i) // 50ms, 100ms
		slog.Debug("SQLite write conflict, retrying", "op", what, "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", what, ctx.Err())
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%s: %w", what, err)
}
