// StreamSentry - Media Server Session Lifecycle and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamsentry

package database

import (
	"context"
	"fmt"

	"github.com/tomtom215/streamsentry/internal/logging"
)

// migrations run in order at startup. Every statement is idempotent so a
// restart against an initialized database is a no-op.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS servers (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		variant     TEXT NOT NULL,
		url         TEXT NOT NULL,
		token       TEXT NOT NULL DEFAULT '',
		machine_id  TEXT,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS users (
		id           TEXT PRIMARY KEY,
		display_name TEXT NOT NULL DEFAULT '',
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS server_users (
		id          TEXT PRIMARY KEY,
		server_id   TEXT NOT NULL REFERENCES servers(id),
		user_id     TEXT NOT NULL REFERENCES users(id),
		external_id TEXT NOT NULL,
		username    TEXT NOT NULL DEFAULT '',
		thumb       TEXT,
		trust_score INT NOT NULL DEFAULT 100 CHECK (trust_score >= 0 AND trust_score <= 100),
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (server_id, external_id)
	)`,

	`CREATE TABLE IF NOT EXISTS rules (
		id             TEXT PRIMARY KEY,
		name           TEXT NOT NULL UNIQUE,
		type           TEXT NOT NULL,
		parameters     JSONB,
		is_active      BOOLEAN NOT NULL DEFAULT TRUE,
		server_user_id TEXT REFERENCES server_users(id),
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS sessions (
		id                 TEXT PRIMARY KEY,
		server_id          TEXT NOT NULL REFERENCES servers(id),
		server_user_id     TEXT NOT NULL REFERENCES server_users(id),
		session_key        TEXT NOT NULL,
		rating_key         TEXT,
		state              TEXT NOT NULL,
		media_title        TEXT NOT NULL DEFAULT '',
		media_type         TEXT NOT NULL DEFAULT 'unknown',
		show_title         TEXT,
		season_number      INT,
		episode_number     INT,
		year               INT,
		artwork_path       TEXT,
		started_at         TIMESTAMPTZ NOT NULL,
		last_seen_at       TIMESTAMPTZ NOT NULL,
		stopped_at         TIMESTAMPTZ,
		paused_duration_ms BIGINT NOT NULL DEFAULT 0,
		last_paused_at     TIMESTAMPTZ,
		duration_ms        BIGINT,
		progress_ms        BIGINT NOT NULL DEFAULT 0,
		total_duration_ms  BIGINT NOT NULL DEFAULT 0,
		watched            BOOLEAN NOT NULL DEFAULT FALSE,
		short_session      BOOLEAN NOT NULL DEFAULT FALSE,
		force_stopped      BOOLEAN NOT NULL DEFAULT FALSE,
		reference_id       TEXT,
		ip_address         TEXT NOT NULL DEFAULT '',
		geo_city           TEXT,
		geo_region         TEXT,
		geo_country        TEXT,
		geo_country_code   TEXT,
		geo_latitude       DOUBLE PRECISION,
		geo_longitude      DOUBLE PRECISION,
		player_name        TEXT NOT NULL DEFAULT '',
		device             TEXT NOT NULL DEFAULT '',
		device_id          TEXT,
		product            TEXT,
		platform           TEXT NOT NULL DEFAULT '',
		quality            TEXT NOT NULL DEFAULT '',
		is_transcode       BOOLEAN NOT NULL DEFAULT FALSE,
		video_decision     TEXT,
		audio_decision     TEXT,
		bitrate_kbps       INT,
		created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	// At most one live session per (server, session key).
	`CREATE UNIQUE INDEX IF NOT EXISTS sessions_live_key_uniq
		ON sessions (server_id, session_key) WHERE stopped_at IS NULL`,

	`CREATE INDEX IF NOT EXISTS sessions_live_by_server
		ON sessions (server_id) WHERE stopped_at IS NULL`,

	`CREATE INDEX IF NOT EXISTS sessions_user_content
		ON sessions (server_user_id, rating_key, stopped_at)`,

	`CREATE INDEX IF NOT EXISTS sessions_user_recent
		ON sessions (server_user_id, last_seen_at)`,

	`CREATE INDEX IF NOT EXISTS sessions_started_at
		ON sessions (started_at)`,

	`CREATE TABLE IF NOT EXISTS violations (
		id              TEXT PRIMARY KEY,
		rule_id         TEXT NOT NULL REFERENCES rules(id),
		rule_type       TEXT NOT NULL,
		server_user_id  TEXT NOT NULL REFERENCES server_users(id),
		session_id      TEXT NOT NULL REFERENCES sessions(id),
		severity        TEXT NOT NULL,
		data            JSONB,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		acknowledged_at TIMESTAMPTZ,
		UNIQUE (server_user_id, rule_type, session_id)
	)`,

	`CREATE INDEX IF NOT EXISTS violations_dedup_window
		ON violations (server_user_id, rule_type, created_at)`,

	`CREATE INDEX IF NOT EXISTS violations_created_at
		ON violations (created_at, id)`,
}

// Migrate bootstraps the schema.
func (d *DB) Migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := d.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	logging.Info().
		Str("component", "database").
		Int("statements", len(migrations)).
		Msg("schema ready")
	return nil
}
