// StreamSentry - Media Server Session Lifecycle and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamsentry

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/streamsentry/internal/models"
)

// ComputeDashboardStats recomputes the dashboard aggregates from the session
// and violation tables. The aggregator calls this on a timer; nothing on the
// live path waits for it.
func (d *DB) ComputeDashboardStats(ctx context.Context) (*models.DashboardStats, error) {
	stats := &models.DashboardStats{
		GeneratedAt:       time.Now().UTC(),
		ActiveByServer:    map[string]int{},
		ActiveByState:     map[string]int{},
		ActiveByMediaType: map[string]int{},
		ViolationsBySev7d: map[string]int{},
	}

	rows, err := d.pool.Query(ctx, `
		SELECT server_id, state, media_type, is_transcode, count(*)
		FROM sessions
		WHERE stopped_at IS NULL
		GROUP BY server_id, state, media_type, is_transcode`)
	if err != nil {
		return nil, fmt.Errorf("active counts: %w", err)
	}
	for rows.Next() {
		var serverID, state, mediaType string
		var transcode bool
		var n int
		if err := rows.Scan(&serverID, &state, &mediaType, &transcode, &n); err != nil {
			rows.Close()
			return nil, err
		}
		stats.ActiveSessions += n
		stats.ActiveByServer[serverID] += n
		stats.ActiveByState[state] += n
		stats.ActiveByMediaType[mediaType] += n
		if transcode {
			stats.TranscodeCount += n
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = d.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(duration_ms), 0), COUNT(*), COUNT(*) FILTER (WHERE short_session)
		FROM sessions
		WHERE stopped_at >= now() - interval '24 hours'`).
		Scan(&stats.WatchTimeMs24h, &stats.SessionCount24h, &stats.ShortSessions24h)
	if err != nil {
		return nil, fmt.Errorf("24h totals: %w", err)
	}

	userRows, err := d.pool.Query(ctx, `
		SELECT s.server_user_id, su.username, COUNT(*), COALESCE(SUM(s.duration_ms), 0)
		FROM sessions s
		JOIN server_users su ON su.id = s.server_user_id
		WHERE s.stopped_at >= now() - interval '24 hours' AND NOT s.short_session
		GROUP BY s.server_user_id, su.username
		ORDER BY COALESCE(SUM(s.duration_ms), 0) DESC
		LIMIT 10`)
	if err != nil {
		return nil, fmt.Errorf("top users: %w", err)
	}
	for userRows.Next() {
		var ua models.UserActivity
		if err := userRows.Scan(&ua.ServerUserID, &ua.Username, &ua.Sessions, &ua.WatchTimeMs); err != nil {
			userRows.Close()
			return nil, err
		}
		stats.TopUsers24h = append(stats.TopUsers24h, ua)
	}
	userRows.Close()
	if err := userRows.Err(); err != nil {
		return nil, err
	}

	sevRows, err := d.pool.Query(ctx, `
		SELECT severity, COUNT(*)
		FROM violations
		WHERE created_at >= now() - interval '7 days'
		GROUP BY severity`)
	if err != nil {
		return nil, fmt.Errorf("violation counts: %w", err)
	}
	for sevRows.Next() {
		var sev string
		var n int
		if err := sevRows.Scan(&sev, &n); err != nil {
			sevRows.Close()
			return nil, err
		}
		stats.ViolationsBySev7d[sev] = n
	}
	sevRows.Close()
	if err := sevRows.Err(); err != nil {
		return nil, err
	}

	return stats, nil
}
