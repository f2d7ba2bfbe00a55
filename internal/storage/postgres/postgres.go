// Package postgres holds the PostgreSQL-backed ledger replica and chain
// cursor stores.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultMaxConns = 4
	pingTimeout     = 10 * time.Second
)

// Pool is the connection pool shared by the document and progress stores.
type Pool struct {
	*pgxpool.Pool
}

// NewPool connects to dsn and pings the server. Unless the dsn sets
// pool_max_conns the pool is capped at defaultMaxConns; replica writes are
// already serialized by the ledger lock.
func NewPool(ctx context.Context, dsn string) (*Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if !strings.Contains(dsn, "pool_max_conns") {
		cfg.MaxConns = defaultMaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres %s: %w", cfg.ConnConfig.Host, err)
	}
	return &Pool{Pool: pool}, nil
}

func noRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
