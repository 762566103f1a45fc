// Package postgres provides a Postgres-backed run index.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/serp-archiver/internal/archive"
)

const defaultTable = "archiver_runs"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// RunStoreConfig controls the Postgres connection pool used for run rows.
type RunStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// RunStore writes one row per completed run.
type RunStore struct {
	pool  execCloser
	table string
}

// NewRunStore creates a Postgres-backed RunStore using the provided config.
func NewRunStore(ctx context.Context, cfg RunStoreConfig) (*RunStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &RunStore{pool: pool, table: table}, nil
}

// NewRunStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRunStoreWithPool(pool execCloser, table string) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &RunStore{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		return defaultTable, nil
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *RunStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// RecordRun inserts a run row. Replaying the same run ID is a no-op.
func (s *RunStore) RecordRun(ctx context.Context, summary archive.RunSummary) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("run store is not configured")
	}
	if summary.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	newDomains := summary.NewDomains
	if newDomains == nil {
		newDomains = []string{}
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	keyword,
	first_id,
	last_id,
	total_records,
	blocked,
	duplicates,
	fetch_failed,
	screenshots_success,
	screenshots_failed,
	screenshots_skipped,
	new_domains,
	report_uri,
	report_sha256,
	generated_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
)
ON CONFLICT (run_id) DO NOTHING`, s.table)

	args := []any{
		summary.RunID,
		summary.Keyword,
		summary.FirstID,
		summary.LastID,
		summary.TotalRecords,
		summary.Blocked,
		summary.Duplicates,
		summary.FetchFailed,
		summary.ScreenshotsOK,
		summary.ScreenshotsBad,
		summary.ScreenshotsNA,
		newDomains,
		summary.ReportURI,
		summary.ReportSHA256,
		summary.GeneratedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}
