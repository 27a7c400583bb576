// Package db stores resource instances in Postgres via pgx: connection
// pooling, migrations and a generic table store.
package db

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

const logPrefix = "db:pool"

// PoolOptions tunes the connection pool. Zero values use the defaults.
type PoolOptions struct {
	MaxConns int32
	MinConns int32
}

// NewPool creates a new pgx connection pool from the given database URL and
// verifies connectivity.
func NewPool(ctx context.Context, databaseURL string, opts ...PoolOptions) (*pgxpool.Pool, error) {
	slog.Info(fmt.Sprintf("%s - Connecting to database", logPrefix))

	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to parse database URL: %w", logPrefix, err)
	}

	config.MaxConns = 20
	config.MinConns = 2
	for _, o := range opts {
		if o.MaxConns > 0 {
			config.MaxConns = o.MaxConns
		}
		if o.MinConns > 0 {
			config.MinConns = o.MinConns
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to create pool: %w", logPrefix, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s - failed to ping database: %w", logPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Database connection established", logPrefix))
	return pool, nil
}

// RunMigrations applies SQL migrations in order. Migrations must be idempotent
// (CREATE ... IF NOT EXISTS); every run applies all of them.
func RunMigrations(ctx context.Context, db Querier, migrations []string) error {
	slog.Info(fmt.Sprintf("%s - Running %d migrations", logPrefix, len(migrations)))

	for i, sql := range migrations {
		if _, err := db.Exec(ctx, sql); err != nil {
			return fmt.Errorf("%s - migration %d failed: %w", logPrefix, i+1, err)
		}
	}

	slog.Info(fmt.Sprintf("%s - Migrations complete", logPrefix))
	return nil
}

// Status reports which model tables exist.
type Status struct {
	Present []string
	Missing []string
}

// Applied reports whether every model table exists.
func (s Status) Applied() bool {
	return len(s.Missing) == 0
}

// MigrationStatus checks information_schema for each model's table.
func MigrationStatus(ctx context.Context, db Querier, models ...*Model) (Status, error) {
	const statusLogPrefix = "db:MigrationStatus"

	var st Status
	for _, m := range models {
		var exists bool
		err := db.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = $1)`,
			m.Table).Scan(&exists)
		if err != nil {
			return st, fmt.Errorf("%s - failed to check table %s: %w", statusLogPrefix, m.Table, err)
		}
		if exists {
			st.Present = append(st.Present, m.Table)
		} else {
			st.Missing = append(st.Missing, m.Table)
		}
	}
	return st, nil
}

// MigrationDown is not supported: migrations are forward-only. It writes a
// note to w and returns nil.
func MigrationDown(w io.Writer) error {
	_, err := fmt.Fprintln(w, "Migration down: not supported (migrations are forward-only). Use a database backup to roll back.")
	return err
}
