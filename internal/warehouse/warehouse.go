package warehouse

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvector "github.com/pgvector/pgvector-go/pgx"
)

// Warehouse wraps the Postgres connection pool backing the long-term
// document store.
type Warehouse struct {
	pool *pgxpool.Pool
}

// New connects to the warehouse and registers the pgvector types on every
// pooled connection.
func New(ctx context.Context, connString string) (*Warehouse, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	config.MaxConns = 10
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = time.Minute * 30
	config.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Warehouse{pool: pool}, nil
}

// Pool returns the underlying connection pool.
func (w *Warehouse) Pool() *pgxpool.Pool {
	return w.pool
}

// Close closes the connection pool.
func (w *Warehouse) Close() {
	w.pool.Close()
}
