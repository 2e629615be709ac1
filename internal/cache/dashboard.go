// StreamSentry - Media Server Session Lifecycle and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamsentry

package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/tomtom215/streamsentry/internal/models"
)

// DashboardStats reads the cached aggregate, or ErrCacheMiss when the
// aggregator has not filled it (or a lifecycle write invalidated it).
func (c *Cache) DashboardStats(ctx context.Context) (*models.DashboardStats, error) {
	raw, err := c.client.Get(ctx, keyDashboard).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("read dashboard stats: %w", err)
	}
	var stats models.DashboardStats
	if err := json.Unmarshal(raw, &stats); err != nil {
		return nil, fmt.Errorf("decode dashboard stats: %w", err)
	}
	return &stats, nil
}

// SetDashboardStats stores the recomputed aggregate.
func (c *Cache) SetDashboardStats(ctx context.Context, stats *models.DashboardStats, ttl time.Duration) error {
	raw, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("encode dashboard stats: %w", err)
	}
	if err := c.client.Set(ctx, keyDashboard, raw, ttl).Err(); err != nil {
		return fmt.Errorf("write dashboard stats: %w", err)
	}
	return nil
}

// InvalidateDashboardStats drops the cached aggregate; the next aggregator
// run or on-demand recompute refills it.
func (c *Cache) InvalidateDashboardStats(ctx context.Context) error {
	if err := c.client.Del(ctx, keyDashboard).Err(); err != nil {
		return fmt.Errorf("invalidate dashboard stats: %w", err)
	}
	return nil
}
