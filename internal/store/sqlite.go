package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/aaronlmathis/kaptn-insight/internal/schedule"
)

var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS metric_samples (
    scope                       TEXT    NOT NULL,
    member                      TEXT    NOT NULL,
    granularity                 TEXT    NOT NULL,
    ts                          INTEGER NOT NULL,
    cpu_usage_nano_cores        REAL,
    cpu_usage_core_nano_seconds REAL,
    memory_usage_bytes          REAL,
    memory_working_set_bytes    REAL,
    memory_rss_bytes            REAL,
    memory_page_faults          REAL,
    fs_used_bytes               REAL,
    fs_capacity_bytes           REAL,
    fs_inodes_used              REAL,
    fs_inodes                   REAL,
    network_rx_bytes            REAL,
    network_tx_bytes            REAL,
    network_rx_errors           REAL,
    network_tx_errors           REAL,
    PRIMARY KEY (scope, member, granularity, ts)
);
CREATE INDEX IF NOT EXISTS idx_metric_samples_granularity_ts ON metric_samples(granularity, ts);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS unit_prices (
    id                INTEGER PRIMARY KEY CHECK (id = 1),
    cpu_core_hour     REAL    NOT NULL,
    memory_gb_hour    REAL    NOT NULL,
    storage_gb_hour   REAL    NOT NULL,
    network_egress_gb REAL    NOT NULL,
    updated_at        INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS retention_settings (
    id                    INTEGER PRIMARY KEY CHECK (id = 1),
    minute_retention_days INTEGER NOT NULL,
    hour_retention_months INTEGER NOT NULL,
    day_retention_years   INTEGER NOT NULL,
    updated_at            INTEGER NOT NULL
);
`,
	},
}

// Store persists metric samples, unit prices and retention settings in
// SQLite.
type Store struct {
	db                *sqlx.DB
	logger            *zap.Logger
	retentionDefaults schedule.RetentionSettings
	now               func() time.Time
}

// Open opens (or creates) the database at path and applies pending
// migrations. Retention defaults are returned until settings are stored.
func Open(logger *zap.Logger, path string, retentionDefaults schedule.RetentionSettings) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory %s: %w", dir, err)
		}
	}

	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SQLite: %w", err)
	}
	// One writer avoids SQLITE_BUSY between the API and scheduled jobs.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{`PRAGMA journal_mode=WAL`, `PRAGMA busy_timeout=5000`} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s := &Store{
		db:                db,
		logger:            logger,
		retentionDefaults: retentionDefaults,
		now:               time.Now,
	}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	logger.Info("Opened sample store", zap.String("path", path))
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
        version    INTEGER PRIMARY KEY,
        applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    )`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		if err := s.db.Get(&count, `SELECT COUNT(*) FROM schema_versions WHERE version = ?`, m.version); err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := s.db.Beginx()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_versions(version) VALUES(?)`, m.version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}
		s.logger.Debug("Applied migration", zap.Int("version", m.version))
	}
	return nil
}
