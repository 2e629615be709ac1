// StreamSentry - Media Server Session Lifecycle and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamsentry

// Package cache is the Redis projection layer: the active-session index, the
// dashboard stats entry, the distributed session-create lock, and the
// pub/sub bus the lifecycle events ride on.
//
// The cache is derived state. The database's stopped_at guard is the arbiter
// of session existence; every reader here tolerates stale or missing entries
// and the next poll tick re-converges them.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tomtom215/streamsentry/internal/logging"
)

// Key layout under the streamsentry: prefix. Not API-stable.
const (
	keyPrefix = "streamsentry:"

	keyActiveIDs     = keyPrefix + "sessions:active:ids"
	keyActivePayload = keyPrefix + "sessions:active:" // + session id
	keyDashboard     = keyPrefix + "stats:dashboard"
	keyCreateLock    = keyPrefix + "session:lock:" // + serverID:sessionKey
)

const (
	// activeSessionTTL bounds how long an orphaned payload survives if its
	// stop was never observed. Reads drop set members without a payload.
	activeSessionTTL = 4 * time.Hour

	// createLockTTL unblocks a crashed lock holder.
	createLockTTL = 5 * time.Second

	opTimeout = 5 * time.Second
)

// Sentinel errors callers test with errors.Is.
var (
	ErrCacheMiss       = errors.New("cache: miss")
	ErrLockNotAcquired = errors.New("cache: lock not acquired")
)

// Config holds Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Cache wraps the Redis client.
type Cache struct {
	client *redis.Client
}

// New connects and verifies with a ping.
func New(ctx context.Context, cfg Config) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connect: %w", err)
	}

	logging.Info().
		Str("component", "cache").
		Str("addr", cfg.Addr).
		Int("db", cfg.DB).
		Msg("connected to redis")

	return &Cache{client: client}, nil
}

// NewFromClient wraps an existing client. Tests hand in a miniredis-backed one.
func NewFromClient(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// Close releases the connection pool.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Ping verifies connectivity, for readiness probes.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
