// Package store is the PostgreSQL ledger adapter. Inserts are idempotent
// on correlation id; the unique index, not application logic, is what
// guarantees at most one row per submission across replicas.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/yourorg/payment-dispatch/internal/models"
)

const (
	minConns       = 5
	maxConns       = 25
	idleTimeout    = 30 * time.Second
	connectTimeout = 2 * time.Second
	queryTimeout   = 30 * time.Second
)

// ErrPersistence wraps any store failure surfaced to the dispatch path.
var ErrPersistence = errors.New("store: persistence failure")

const schema = `
CREATE TABLE IF NOT EXISTS payments (
    id              BIGSERIAL PRIMARY KEY,
    correlation_id  UUID NOT NULL UNIQUE,
    amount          DECIMAL(10,2) NOT NULL,
    processor_type  TEXT NOT NULL CHECK (processor_type IN ('default','fallback','simulated')),
    requested_at    TIMESTAMPTZ NOT NULL,
    processed_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    status          TEXT NOT NULL DEFAULT 'processed' CHECK (status IN ('processed','failed','pending')),
    error_message   TEXT,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_payments_correlation_id ON payments (correlation_id);
CREATE INDEX IF NOT EXISTS idx_payments_processor_type ON payments (processor_type);
CREATE INDEX IF NOT EXISTS idx_payments_requested_at   ON payments (requested_at);
CREATE INDEX IF NOT EXISTS idx_payments_processed_at   ON payments (processed_at);
`

// Store owns the connection pool to the payments ledger.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New connects, verifies the connection, and ensures the schema exists.
func New(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parse dsn: %w", err)
	}
	cfg.MinConns = minConns
	cfg.MaxConns = maxConns
	cfg.MaxConnIdleTime = idleTimeout
	cfg.ConnConfig.ConnectTimeout = connectTimeout

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: database unreachable: %w", err)
	}

	s := &Store{pool: pool, logger: logger}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// PutPayment inserts a processed payment. A correlation-id conflict is
// not an error: the original record wins and the call returns nil.
func (s *Store) PutPayment(ctx context.Context, rec models.PaymentRecord) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO payments (correlation_id, amount, processor_type, requested_at, status)
		VALUES ($1, $2, $3, $4, 'processed')
		ON CONFLICT (correlation_id) DO NOTHING`,
		rec.CorrelationID, decimal.NewFromFloat(rec.Amount).Round(2), string(rec.Processor), rec.RequestedAt)
	if err != nil {
		return fmt.Errorf("%w: insert payment: %v", ErrPersistence, err)
	}
	return nil
}

// GetSummary aggregates processed payments per processor over a closed
// interval; either bound may be nil. Processors without rows in the
// window come back zero-valued, so the response always carries both keys.
func (s *Store) GetSummary(ctx context.Context, from, to *time.Time) (models.SummaryResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `
		SELECT processor_type, COUNT(*), COALESCE(SUM(amount), 0)::text
		FROM payments
		WHERE status = 'processed'`
	args := []any{}
	if from != nil {
		args = append(args, *from)
		query += fmt.Sprintf(" AND requested_at >= $%d", len(args))
	}
	if to != nil {
		args = append(args, *to)
		query += fmt.Sprintf(" AND requested_at <= $%d", len(args))
	}
	query += " GROUP BY processor_type"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return models.SummaryResponse{}, fmt.Errorf("%w: summary query: %v", ErrPersistence, err)
	}
	defer rows.Close()

	var out models.SummaryResponse
	for rows.Next() {
		var processor string
		var count int64
		var total string
		if err := rows.Scan(&processor, &count, &total); err != nil {
			return models.SummaryResponse{}, fmt.Errorf("%w: summary scan: %v", ErrPersistence, err)
		}
		amount, err := decimal.NewFromString(total)
		if err != nil {
			return models.SummaryResponse{}, fmt.Errorf("%w: summary amount %q: %v", ErrPersistence, total, err)
		}
		summary := models.Summary{TotalRequests: count, TotalAmount: amount.InexactFloat64()}
		switch models.Processor(processor) {
		case models.ProcessorDefault:
			out.Default = summary
		case models.ProcessorFallback:
			out.Fallback = summary
		}
	}
	if err := rows.Err(); err != nil {
		return models.SummaryResponse{}, fmt.Errorf("%w: summary rows: %v", ErrPersistence, err)
	}
	return out, nil
}

// GetPayment fetches one ledger row; nil when absent.
func (s *Store) GetPayment(ctx context.Context, correlationID string) (*models.PaymentRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var rec models.PaymentRecord
	var amount string
	var errMsg *string
	err := s.pool.QueryRow(ctx, `
		SELECT correlation_id, amount::text, processor_type, requested_at, processed_at, status, error_message
		FROM payments WHERE correlation_id = $1`,
		correlationID).Scan(&rec.CorrelationID, &amount, &rec.Processor, &rec.RequestedAt, &rec.ProcessedAt, &rec.Status, &errMsg)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get payment: %v", ErrPersistence, err)
	}
	dec, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("%w: payment amount %q: %v", ErrPersistence, amount, err)
	}
	rec.Amount = dec.InexactFloat64()
	if errMsg != nil {
		rec.ErrorMessage = *errMsg
	}
	return &rec, nil
}

// HasPayment is the best-effort duplicate probe used by the pre-flight
// checks.
func (s *Store) HasPayment(ctx context.Context, correlationID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM payments WHERE correlation_id = $1)`,
		correlationID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%w: exists probe: %v", ErrPersistence, err)
	}
	return exists, nil
}

// Purge removes every ledger row. Admin/testing use only.
func (s *Store) Purge(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	if _, err := s.pool.Exec(ctx, `DELETE FROM payments`); err != nil {
		return fmt.Errorf("%w: purge: %v", ErrPersistence, err)
	}
	return nil
}

// PoolStats is the connection-pool snapshot exposed by /health/stats.
type PoolStats struct {
	TotalConns    int32 `json:"totalConns"`
	IdleConns     int32 `json:"idleConns"`
	AcquiredConns int32 `json:"acquiredConns"`
	MaxConns      int32 `json:"maxConns"`
	MinConns      int32 `json:"minConns"`
}

// Stats snapshots the pool.
func (s *Store) Stats() PoolStats {
	st := s.pool.Stat()
	return PoolStats{
		TotalConns:    st.TotalConns(),
		IdleConns:     st.IdleConns(),
		AcquiredConns: st.AcquiredConns(),
		MaxConns:      st.MaxConns(),
		MinConns:      minConns,
	}
}

// Ping checks connectivity for the liveness endpoints.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}
