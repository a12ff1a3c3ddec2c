// Package sqlite persists candles, alert decisions and analysis history in a
// single SQLite database (WAL mode).
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"signal-engine/internal/metrics"

	_ "github.com/mattn/go-sqlite3"
)

const defaultLookback = 300

// Config configures the SQLite store.
type Config struct {
	DBPath string // path to SQLite database file, e.g. "data/signals.db"
	// Lookback is how many recent candles FetchWindow returns per series.
	Lookback int
}

// Store is safe for concurrent use; writes serialise on the single
// connection.
type Store struct {
	db       *sql.DB
	lookback int
	prom     *metrics.Metrics
	log      *slog.Logger
}

// Open creates a new Store, initializing the database with WAL mode and schema.
func Open(cfg Config, prom *metrics.Metrics, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Set connection pool for single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	lookback := cfg.Lookback
	if lookback <= 0 {
		lookback = defaultLookback
	}
	log.Info("sqlite opened", "path", cfg.DBPath)
	return &Store{db: db, lookback: lookback, prom: prom, log: log}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS candles (
			symbol  TEXT    NOT NULL,
			tf      TEXT    NOT NULL,
			ts      INTEGER NOT NULL,
			open    REAL    NOT NULL,
			high    REAL    NOT NULL,
			low     REAL    NOT NULL,
			close   REAL    NOT NULL,
			volume  REAL    NOT NULL,
			PRIMARY KEY (symbol, tf, ts)
		);

		CREATE TABLE IF NOT EXISTS alert_decisions (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			alert_id   TEXT    NOT NULL,
			symbol     TEXT    NOT NULL,
			alert_type TEXT    NOT NULL,
			result     TEXT    NOT NULL,
			title      TEXT,
			message    TEXT,
			ts         INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_alert_decisions_symbol ON alert_decisions(symbol, ts);

		CREATE TABLE IF NOT EXISTS analysis_history (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol         TEXT    NOT NULL,
			overall_score  REAL    NOT NULL,
			recommendation TEXT    NOT NULL,
			confidence     REAL    NOT NULL,
			data           TEXT    NOT NULL,
			created_at     INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_analysis_history_symbol ON analysis_history(symbol, created_at);
	`)
	return err
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
