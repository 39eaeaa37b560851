package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	jsoniter "github.com/json-iterator/go"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/spreadrun/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const schema = `
CREATE TABLE IF NOT EXISTS scan_results (
	scan_id            TEXT PRIMARY KEY,
	symbol             TEXT NOT NULL,
	scanned_at         TIMESTAMPTZ NOT NULL,
	spread_count       INTEGER NOT NULL,
	best_score         DOUBLE PRECISION NOT NULL,
	mean_score         DOUBLE PRECISION NOT NULL,
	total_contracts    INTEGER NOT NULL,
	filtered_contracts INTEGER NOT NULL,
	duration_ms        DOUBLE PRECISION NOT NULL,
	top_spread         JSONB
);
CREATE INDEX IF NOT EXISTS scan_results_symbol_ts ON scan_results (symbol, scanned_at DESC);`

// Config holds database connection settings
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	QueryTimeout    time.Duration
}

// PostgresRecorder writes scan results to the scan_results table
type PostgresRecorder struct {
	db      *sqlx.DB
	timeout time.Duration
}

// Open connects, verifies the connection and ensures the schema exists
func Open(ctx context.Context, cfg Config) (*PostgresRecorder, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required when enabled")
	}
	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	r := NewPostgresRecorder(db, cfg.QueryTimeout)
	if err := r.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

// NewPostgresRecorder wraps an existing connection
func NewPostgresRecorder(db *sqlx.DB, timeout time.Duration) *PostgresRecorder {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &PostgresRecorder{db: db, timeout: timeout}
}

// Migrate creates the table and index if missing
func (r *PostgresRecorder) Migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate scan_results: %w", err)
	}
	return nil
}

// Record upserts one scan result
func (r *PostgresRecorder) Record(ctx context.Context, result *models.ScanResult) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rec := recordFrom(result)
	var top []byte
	if rec.TopSpread != nil {
		var err error
		if top, err = json.Marshal(rec.TopSpread); err != nil {
			return fmt.Errorf("failed to marshal top spread: %w", err)
		}
	}

	query := `
		INSERT INTO scan_results
		(scan_id, symbol, scanned_at, spread_count, best_score, mean_score,
		 total_contracts, filtered_contracts, duration_ms, top_spread)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (scan_id) DO NOTHING`

	_, err := r.db.ExecContext(ctx, query,
		rec.ScanID, rec.Symbol, rec.ScannedAt, rec.SpreadCount, rec.BestScore, rec.MeanScore,
		rec.TotalContracts, rec.FilteredContracts, rec.DurationMS, top)
	if err != nil {
		return fmt.Errorf("failed to insert scan result: %w", err)
	}
	return nil
}

type recordRow struct {
	Record
	TopSpread []byte `db:"top_spread"`
}

// Recent returns the latest records for symbol, newest first
func (r *PostgresRecorder) Recent(ctx context.Context, symbol string, limit int) ([]Record, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT scan_id, symbol, scanned_at, spread_count, best_score, mean_score,
		       total_contracts, filtered_contracts, duration_ms, top_spread
		FROM scan_results
		WHERE symbol = $1
		ORDER BY scanned_at DESC
		LIMIT $2`

	var rows []recordRow
	if err := r.db.SelectContext(ctx, &rows, query, symbol, limit); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query scan history: %w", err)
	}

	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		rec := row.Record
		if len(row.TopSpread) > 0 {
			var s models.VerticalSpread
			if err := json.Unmarshal(row.TopSpread, &s); err != nil {
				return nil, fmt.Errorf("failed to decode top spread for %s: %w", rec.ScanID, err)
			}
			rec.TopSpread = &s
		}
		out = append(out, rec)
	}
	return out, nil
}

// ObserveResult records published results, logging failures
func (r *PostgresRecorder) ObserveResult(ctx context.Context, result *models.ScanResult) {
	if err := r.Record(ctx, result); err != nil {
		log.Error().Err(err).Str("symbol", result.Symbol).Str("scan_id", result.ScanID).Msg("Failed to record scan")
	}
}

// Ping checks connectivity
func (r *PostgresRecorder) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.db.PingContext(ctx)
}

func (r *PostgresRecorder) Enabled() bool { return true }

// Close releases the connection pool
func (r *PostgresRecorder) Close() error {
	return r.db.Close()
}
