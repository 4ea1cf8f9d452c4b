// Package postgres persists cost estimates in PostgreSQL via pgx.
package postgres

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrationLock is the advisory lock key held while the schema is applied, so
// two instances starting together do not race on the same files.
const migrationLock = 0x626f6f6b636f7374

// ClientConfig holds the pool settings for the estimate history database.
type ClientConfig struct {
	DSN      string
	MaxConns int
	MinConns int
}

// Client owns the pgx pool used by EstimateStore.
type Client struct {
	pool *pgxpool.Pool
}

// New parses cfg.DSN, opens the pool and pings it.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	poolCfg, err := pgxpool.ParseConfig(strings.TrimSpace(cfg.DSN))
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = int32(cfg.MinConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Client{pool: pool}, nil
}

// Pool returns the underlying connection pool.
func (c *Client) Pool() *pgxpool.Pool { return c.pool }

// Ping backs the health check.
func (c *Client) Ping(ctx context.Context) error { return c.pool.Ping(ctx) }

func (c *Client) Close() { c.pool.Close() }

// Migrate applies the embedded schema files that schema_migrations does not
// list yet, in file name order, all in one transaction.
func (c *Client) Migrate(ctx context.Context) error {
	names, err := migrationNames(migrationsFS)
	if err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}

	err = pgx.BeginFunc(ctx, c.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", int64(migrationLock)); err != nil {
			return fmt.Errorf("lock: %w", err)
		}
		if _, err := tx.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
			filename   TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
			return fmt.Errorf("tracker: %w", err)
		}

		for _, name := range names {
			tag, err := tx.Exec(ctx,
				"INSERT INTO schema_migrations (filename) VALUES ($1) ON CONFLICT DO NOTHING", name)
			if err != nil {
				return fmt.Errorf("record %s: %w", name, err)
			}
			if tag.RowsAffected() == 0 {
				continue
			}
			sql, err := fs.ReadFile(migrationsFS, path.Join("migrations", name))
			if err != nil {
				return fmt.Errorf("read %s: %w", name, err)
			}
			if _, err := tx.Exec(ctx, string(sql)); err != nil {
				return fmt.Errorf("apply %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// migrationNames lists the .sql files under migrations/. fs.ReadDir returns
// them sorted by name.
func migrationNames(fsys fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(fsys, "migrations")
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	return names, nil
}
