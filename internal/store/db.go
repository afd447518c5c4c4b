// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authgate Contributors

// Package store owns the PostgreSQL connection pool and schema migrations.
package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// ConnectOptions tune Connect.
type ConnectOptions struct {
	// MaxConns caps the pool size. Zero keeps the pgxpool default.
	MaxConns int32
	// Attempts is how many times the initial ping is tried.
	Attempts uint64
	// Backoff is the first retry delay; later delays grow exponentially.
	Backoff time.Duration
}

// DefaultConnectOptions tolerate a database that starts a few seconds after
// the service.
var DefaultConnectOptions = ConnectOptions{Attempts: 5, Backoff: 500 * time.Millisecond}

// Connect opens a pool for databaseURL and waits until the database answers
// a ping.
func Connect(ctx context.Context, databaseURL string, opts ConnectOptions) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, oops.Code("DB_CONFIG_INVALID").Wrap(err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").Wrap(err)
	}

	if opts.Attempts == 0 {
		opts.Attempts = 1
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultConnectOptions.Backoff
	}
	backoff := retry.WithMaxRetries(opts.Attempts-1, retry.NewExponential(opts.Backoff))

	attempt := 0
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := pool.Ping(ctx); err != nil {
			slog.WarnContext(ctx, "database not ready", "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, oops.Code("DB_CONNECT_FAILED").With("attempts", attempt).Wrap(err)
	}
	return pool, nil
}

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadinessCheck adapts a Pinger to a readiness probe.
type ReadinessCheck struct {
	db      Pinger
	timeout time.Duration
}

// NewReadinessCheck reports ready while db answers a ping within timeout.
func NewReadinessCheck(db Pinger, timeout time.Duration) *ReadinessCheck {
	return &ReadinessCheck{db: db, timeout: timeout}
}

// IsReady pings the database.
func (r *ReadinessCheck) IsReady() bool {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	return r.db.Ping(ctx) == nil
}
