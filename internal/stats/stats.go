// StreamSentry - Media Server Session Lifecycle and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamsentry

// Package stats refreshes the cached dashboard aggregates on a timer and
// runs the trust-score maintenance job. Both read the database and write
// derived state only; they never touch session rows.
package stats

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/tomtom215/streamsentry/internal/cache"
	"github.com/tomtom215/streamsentry/internal/database"
	"github.com/tomtom215/streamsentry/internal/logging"
)

// DefaultRefreshInterval is the aggregator cadence when config leaves it
// unset.
const DefaultRefreshInterval = 60 * time.Second

// dashboardTTL outlives two refresh cycles so a slow refresh never leaves
// readers empty-handed.
const dashboardTTL = 3 * time.Minute

// Config tunes the aggregator.
type Config struct {
	Enabled         bool
	RefreshInterval time.Duration

	// Trust maintenance. Zero points disables the job.
	TrustRecoveryPointsPerDay int
	TrustQuietDays            int
}

// Aggregator periodically recomputes dashboard statistics into the cache.
type Aggregator struct {
	db    *database.DB
	cache *cache.Cache
	cfg   Config

	running atomic.Bool
}

// NewAggregator wires the aggregator.
func NewAggregator(db *database.DB, c *cache.Cache, cfg Config) *Aggregator {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = DefaultRefreshInterval
	}
	if cfg.TrustQuietDays <= 0 {
		cfg.TrustQuietDays = 7
	}
	return &Aggregator{db: db, cache: c, cfg: cfg}
}

// Serve runs the refresh loop until ctx is canceled. A second concurrent
// Serve is refused so a supervisor restart cannot double the ticker.
// Implements suture.Service.
func (a *Aggregator) Serve(ctx context.Context) error {
	if !a.cfg.Enabled {
		<-ctx.Done()
		return ctx.Err()
	}
	if !a.running.CompareAndSwap(false, true) {
		logging.Warn().
			Str("component", "stats").
			Msg("aggregator already running")
		<-ctx.Done()
		return ctx.Err()
	}
	defer a.running.Store(false)

	a.Refresh(ctx)

	ticker := time.NewTicker(a.cfg.RefreshInterval)
	defer ticker.Stop()

	// Trust recovery runs daily, offset from startup.
	trust := time.NewTicker(24 * time.Hour)
	defer trust.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.Refresh(ctx)
		case <-trust.C:
			a.recoverTrust(ctx)
		}
	}
}

func (a *Aggregator) String() string { return "stats.Aggregator" }

// Refresh recomputes the dashboard aggregates and writes them to the cache.
func (a *Aggregator) Refresh(ctx context.Context) {
	start := time.Now()
	stats, err := a.db.ComputeDashboardStats(ctx)
	if err != nil {
		logging.Error().
			Str("component", "stats").
			Err(err).
			Msg("failed to compute dashboard stats")
		return
	}
	if err := a.cache.SetDashboardStats(ctx, stats, dashboardTTL); err != nil {
		logging.Error().
			Str("component", "stats").
			Err(err).
			Msg("failed to cache dashboard stats")
		return
	}
	logging.Debug().
		Str("component", "stats").
		Int("active_sessions", stats.ActiveSessions).
		Dur("elapsed", time.Since(start)).
		Msg("dashboard stats refreshed")
}

// recoverTrust restores trust points to users with a quiet violation
// history.
func (a *Aggregator) recoverTrust(ctx context.Context) {
	if a.cfg.TrustRecoveryPointsPerDay <= 0 {
		return
	}
	updated, err := a.db.RecoverTrustScores(ctx, a.cfg.TrustRecoveryPointsPerDay, a.cfg.TrustQuietDays)
	if err != nil {
		logging.Error().
			Str("component", "stats").
			Err(err).
			Msg("trust recovery failed")
		return
	}
	if updated > 0 {
		logging.Info().
			Str("component", "stats").
			Int64("users", updated).
			Int("points", a.cfg.TrustRecoveryPointsPerDay).
			Msg("trust scores recovered")
	}
}
