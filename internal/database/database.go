// StreamSentry - Media Server Session Lifecycle and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamsentry

// Package database is the PostgreSQL session store: typed access to
// sessions, servers, server users, rules, and violations, plus the
// serializable-transaction helper the lifecycle core runs inside.
//
// All session mutations are guarded by `stopped_at IS NULL`, which makes
// them row-level idempotent: an update racing a stop degrades to a no-op and
// reports wasUpdated=false instead of resurrecting a finished session.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tomtom215/streamsentry/internal/logging"
)

// Config holds connection settings.
type Config struct {
	// URL is a postgres connection string.
	URL string

	// MaxConns caps the pool size. Zero keeps the pgxpool default.
	MaxConns int32

	// ConnectTimeout bounds the initial connectivity probe.
	ConnectTimeout time.Duration
}

// DB wraps the connection pool.
type DB struct {
	pool *pgxpool.Pool
}

// New opens a pool and verifies connectivity.
func New(ctx context.Context, cfg Config) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	pingTimeout := cfg.ConnectTimeout
	if pingTimeout <= 0 {
		pingTimeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logging.Info().
		Str("component", "database").
		Int32("max_conns", poolCfg.MaxConns).
		Msg("connected to postgres")

	return &DB{pool: pool}, nil
}

// Close releases the pool.
func (d *DB) Close() {
	d.pool.Close()
}

// Ping verifies connectivity, for readiness probes.
func (d *DB) Ping(ctx context.Context) error {
	return d.pool.Ping(ctx)
}
