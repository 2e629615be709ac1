// StreamSentry - Media Server Session Lifecycle and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamsentry

package models

import "time"

// DashboardStats is the cached aggregate the dashboard endpoint serves.
// The aggregator recomputes it on a timer; live mutations only invalidate it.
type DashboardStats struct {
	GeneratedAt time.Time `json:"generated_at"`

	ActiveSessions    int            `json:"active_sessions"`
	ActiveByServer    map[string]int `json:"active_by_server,omitempty"`
	ActiveByState     map[string]int `json:"active_by_state,omitempty"`
	ActiveByMediaType map[string]int `json:"active_by_media_type,omitempty"`
	TranscodeCount    int            `json:"transcode_count"`

	WatchTimeMs24h    int64          `json:"watch_time_ms_24h"`
	SessionCount24h   int            `json:"session_count_24h"`
	ShortSessions24h  int            `json:"short_sessions_24h"`
	TopUsers24h       []UserActivity `json:"top_users_24h,omitempty"`
	ViolationsBySev7d map[string]int `json:"violations_by_severity_7d,omitempty"`
}

// UserActivity is one row of the dashboard's most-active-users table.
type UserActivity struct {
	ServerUserID string `json:"server_user_id"`
	Username     string `json:"username"`
	Sessions     int    `json:"sessions"`
	WatchTimeMs  int64  `json:"watch_time_ms"`
}
