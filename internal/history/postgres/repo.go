// Package postgres persists scan history in PostgreSQL.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	jsoniter "github.com/json-iterator/go"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/sawpanic/optionflow/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Schema creates the history table and its lookup index
const Schema = `
CREATE TABLE IF NOT EXISTS scan_history (
	id            BIGSERIAL PRIMARY KEY,
	run_id        UUID        NOT NULL,
	symbol        TEXT        NOT NULL,
	confidence    INTEGER     NOT NULL,
	sentiment     TEXT        NOT NULL,
	unusual_calls INTEGER     NOT NULL,
	unusual_puts  INTEGER     NOT NULL,
	strategies    INTEGER     NOT NULL,
	payload       JSONB       NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS scan_history_symbol_created_idx ON scan_history (symbol, created_at DESC);`

// Config holds database connection configuration
type Config struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	QueryTimeout    time.Duration `yaml:"query_timeout"`
	Migrate         bool          `yaml:"migrate"`
}

// DefaultConfig returns pool defaults. Without a DSN history stays in memory.
func DefaultConfig() Config {
	return Config{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		QueryTimeout:    5 * time.Second,
		Migrate:         true,
	}
}

// Connect opens and pings the database, applying the schema when configured
func Connect(ctx context.Context, cfg Config) (*sqlx.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if cfg.Migrate {
		if _, err := db.ExecContext(pingCtx, Schema); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return db, nil
}

// Repo reads and writes scan_history rows
type Repo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewRepo wraps an open connection
func NewRepo(db *sqlx.DB, timeout time.Duration) *Repo {
	if timeout <= 0 {
		timeout = DefaultConfig().QueryTimeout
	}
	return &Repo{db: db, timeout: timeout}
}

const insertEntry = `
	INSERT INTO scan_history
	(run_id, symbol, confidence, sentiment, unusual_calls, unusual_puts, strategies, payload, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

// Record inserts one row per result in a single transaction
func (r *Repo) Record(ctx context.Context, run *models.ScanRun) error {
	if run == nil || len(run.Results) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin history transaction: %w", err)
	}
	defer tx.Rollback()

	at := run.StartedAt.Add(run.Duration)
	for _, res := range run.Results {
		e := models.NewHistoryEntry(run.ID, res, at)
		payload, err := json.Marshal(e.Result)
		if err != nil {
			return fmt.Errorf("failed to marshal result for %s: %w", e.Symbol, err)
		}
		if _, err := tx.ExecContext(ctx, insertEntry,
			e.RunID, e.Symbol, e.Confidence, string(e.Sentiment),
			e.UnusualCalls, e.UnusualPuts, e.Strategies, payload, e.RecordedAt); err != nil {
			return fmt.Errorf("failed to insert history for %s: %w", e.Symbol, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit history: %w", err)
	}
	return nil
}

type row struct {
	models.HistoryEntry
	Payload []byte `db:"payload"`
}

const recentEntries = `
	SELECT run_id, symbol, confidence, sentiment, unusual_calls, unusual_puts, strategies, payload, created_at
	FROM scan_history
	WHERE symbol = $1
	ORDER BY created_at DESC`

// Recent returns up to limit entries for symbol, newest first. A
// non-positive limit returns every entry.
func (r *Repo) Recent(ctx context.Context, symbol string, limit int) ([]models.HistoryEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query, args := recentEntries, []interface{}{symbol}
	if limit > 0 {
		query += "\n\tLIMIT $2"
		args = append(args, limit)
	}

	var rows []row
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query history for %s: %w", symbol, err)
	}

	out := make([]models.HistoryEntry, 0, len(rows))
	for _, rw := range rows {
		e := rw.HistoryEntry
		if len(rw.Payload) > 0 {
			if err := json.Unmarshal(rw.Payload, &e.Result); err != nil {
				return nil, fmt.Errorf("failed to decode history payload for %s: %w", symbol, err)
			}
		}
		out = append(out, e)
	}
	return out, nil
}

// Ping checks connectivity under the query timeout
func (r *Repo) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.db.PingContext(ctx)
}

func (r *Repo) Close() error {
	return r.db.Close()
}
