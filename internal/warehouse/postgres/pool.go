package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

// Open connects a pool and, when migrate is set, brings the run log schema
// up to date.
func Open(ctx context.Context, dsn string, migrate bool) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	if migrate {
		// db borrows connections from pool and owns none of its own.
		db := stdlib.OpenDBFromPool(pool)
		if err := RunMigrations(ctx, db); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migration error: %w", err)
		}
	}
	return pool, nil
}
