// Package postgres archives completed search runs in Postgres.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/search-fetch/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Default table names.
const (
	DefaultRunsTable  = "search_runs"
	DefaultPagesTable = "search_pages"
)

// RunStoreConfig controls the Postgres connection pool used for run rows.
type RunStoreConfig struct {
	DSN             string
	RunsTable       string
	PagesTable      string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type txPool interface {
	Begin(context.Context) (pgx.Tx, error)
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// RunStore writes one row per run and one row per result page.
type RunStore struct {
	pool       txPool
	runsTable  string
	pagesTable string
}

// NewRunStore creates a Postgres-backed RunStore using the provided config.
func NewRunStore(ctx context.Context, cfg RunStoreConfig) (*RunStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("db.dsn is required")
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
	store, err := NewRunStoreWithPool(pool, cfg.RunsTable, cfg.PagesTable)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewRunStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRunStoreWithPool(pool txPool, runsTable, pagesTable string) (*RunStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	if runsTable == "" {
		runsTable = DefaultRunsTable
	}
	if pagesTable == "" {
		pagesTable = DefaultPagesTable
	}
	for _, table := range []string{runsTable, pagesTable} {
		if !validTableName.MatchString(table) {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
	}
	return &RunStore{pool: pool, runsTable: runsTable, pagesTable: pagesTable}, nil
}

// Close releases the underlying pool resources.
func (s *RunStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the run and page tables when they do not exist.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	run_id      TEXT PRIMARY KEY,
	query       TEXT NOT NULL,
	page_count  INTEGER NOT NULL,
	max_chars   INTEGER NOT NULL,
	attempted   INTEGER NOT NULL,
	succeeded   INTEGER NOT NULL,
	summary_uri TEXT,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS %[2]s (
	run_id       TEXT NOT NULL REFERENCES %[1]s (run_id) ON DELETE CASCADE,
	rank         INTEGER NOT NULL,
	url          TEXT NOT NULL,
	title        TEXT,
	snippet      TEXT,
	content_hash TEXT,
	content_uri  TEXT,
	html_uri     TEXT,
	PRIMARY KEY (run_id, rank)
)`, s.runsTable, s.pagesTable)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// SaveRun inserts the run row and its page rows in one transaction.
func (s *RunStore) SaveRun(ctx context.Context, run crawler.RunRecord) (err error) {
	if s == nil || s.pool == nil {
		return errors.New("run store is not configured")
	}
	if run.RunID == "" {
		return errors.New("run id is required")
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	runQuery := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	query,
	page_count,
	max_chars,
	attempted,
	succeeded,
	summary_uri,
	started_at,
	finished_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9
)`, s.runsTable)
	if _, err = tx.Exec(ctx, runQuery,
		run.RunID,
		run.Query,
		int64(run.PageCount),
		int64(run.MaxChars),
		run.Attempted,
		run.Succeeded,
		run.SummaryURI,
		run.StartedAt,
		run.FinishedAt,
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	pageQuery := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	rank,
	url,
	title,
	snippet,
	content_hash,
	content_uri,
	html_uri
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8
)`, s.pagesTable)
	for _, page := range run.Pages {
		if _, err = tx.Exec(ctx, pageQuery,
			run.RunID,
			page.Rank,
			page.Page.URL,
			page.Page.Title,
			page.Page.Snippet,
			page.ContentHash,
			page.ContentURI,
			page.HTMLURI,
		); err != nil {
			return fmt.Errorf("insert page %d: %w", page.Rank, err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
