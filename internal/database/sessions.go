// StreamSentry - Media Server Session Lifecycle and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamsentry

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/tomtom215/streamsentry/internal/models"
)

// querier is the intersection of pgxpool.Pool and pgx.Tx the session
// queries run on, so every read works both standalone and inside a
// lifecycle transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const sessionColumns = `
	id, server_id, server_user_id, session_key, rating_key, state,
	media_title, media_type, show_title, season_number, episode_number, year, artwork_path,
	started_at, last_seen_at, stopped_at, paused_duration_ms, last_paused_at, duration_ms,
	progress_ms, total_duration_ms, watched, short_session, force_stopped, reference_id,
	ip_address, geo_city, geo_region, geo_country, geo_country_code, geo_latitude, geo_longitude,
	player_name, device, device_id, product, platform, quality, is_transcode,
	video_decision, audio_decision, bitrate_kbps, created_at, updated_at`

func scanSession(row pgx.Row) (*models.Session, error) {
	var s models.Session
	err := row.Scan(
		&s.ID, &s.ServerID, &s.ServerUserID, &s.SessionKey, &s.RatingKey, &s.State,
		&s.MediaTitle, &s.MediaType, &s.ShowTitle, &s.SeasonNumber, &s.EpisodeNumber, &s.Year, &s.ArtworkPath,
		&s.StartedAt, &s.LastSeenAt, &s.StoppedAt, &s.PausedDurationMs, &s.LastPausedAt, &s.DurationMs,
		&s.ProgressMs, &s.TotalDurationMs, &s.Watched, &s.ShortSession, &s.ForceStopped, &s.ReferenceID,
		&s.IPAddress, &s.GeoCity, &s.GeoRegion, &s.GeoCountry, &s.GeoCountryCode, &s.GeoLatitude, &s.GeoLongitude,
		&s.PlayerName, &s.Device, &s.DeviceID, &s.Product, &s.Platform, &s.Quality, &s.IsTranscode,
		&s.VideoDecision, &s.AudioDecision, &s.BitrateKbps, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, noRows(err)
	}
	return &s, nil
}

func collectSessions(rows pgx.Rows) ([]models.Session, error) {
	defer rows.Close()
	var out []models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// InsertSessionTx persists a fully constructed session row. The caller (the
// lifecycle core) owns id and timestamp generation; the partial unique index
// on (server_id, session_key) enforces at-most-one-live underneath.
func (d *DB) InsertSessionTx(ctx context.Context, tx pgx.Tx, s *models.Session) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,
			$21,$22,$23,$24,$25,$26,$27,$28,$29,$30,$31,$32,$33,$34,$35,$36,$37,$38,$39,
			$40,$41,$42,$43,$44)`,
		s.ID, s.ServerID, s.ServerUserID, s.SessionKey, s.RatingKey, s.State,
		s.MediaTitle, s.MediaType, s.ShowTitle, s.SeasonNumber, s.EpisodeNumber, s.Year, s.ArtworkPath,
		s.StartedAt, s.LastSeenAt, s.StoppedAt, s.PausedDurationMs, s.LastPausedAt, s.DurationMs,
		s.ProgressMs, s.TotalDurationMs, s.Watched, s.ShortSession, s.ForceStopped, s.ReferenceID,
		s.IPAddress, s.GeoCity, s.GeoRegion, s.GeoCountry, s.GeoCountryCode, s.GeoLatitude, s.GeoLongitude,
		s.PlayerName, s.Device, s.DeviceID, s.Product, s.Platform, s.Quality, s.IsTranscode,
		s.VideoDecision, s.AudioDecision, s.BitrateKbps, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// FindLiveByKey returns the live session for (server, session key), or
// ErrNotFound. The partial unique index guarantees at most one.
func (d *DB) FindLiveByKey(ctx context.Context, serverID, sessionKey string) (*models.Session, error) {
	return scanSession(d.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE server_id = $1 AND session_key = $2 AND stopped_at IS NULL`,
		serverID, sessionKey))
}

// FindAllLiveByKey returns every live session for (server, session key).
// Normally zero or one; more means duplicates needing cleanup, and the push
// stop path closes them all.
func (d *DB) FindAllLiveByKey(ctx context.Context, serverID, sessionKey string) ([]models.Session, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE server_id = $1 AND session_key = $2 AND stopped_at IS NULL
		ORDER BY started_at`,
		serverID, sessionKey)
	if err != nil {
		return nil, err
	}
	return collectSessions(rows)
}

// FindSessionByID returns one session row regardless of state.
func (d *DB) FindSessionByID(ctx context.Context, id string) (*models.Session, error) {
	return scanSession(d.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id))
}

// FindLiveByContent returns the most recent live session playing ratingKey
// for the user, or ErrNotFound. The quality-change check reads this.
func (d *DB) FindLiveByContent(ctx context.Context, serverUserID, ratingKey string) (*models.Session, error) {
	return scanSession(d.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE server_user_id = $1 AND rating_key = $2 AND stopped_at IS NULL
		ORDER BY started_at DESC
		LIMIT 1`,
		serverUserID, ratingKey))
}

// RecentFinishedByContent returns the most recent finished session of this
// user for ratingKey stopped at or after since, or ErrNotFound. The resume
// check reads this.
func (d *DB) RecentFinishedByContent(ctx context.Context, serverUserID, ratingKey string, since time.Time) (*models.Session, error) {
	return scanSession(d.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE server_user_id = $1 AND rating_key = $2
			AND stopped_at IS NOT NULL AND stopped_at >= $3
		ORDER BY stopped_at DESC
		LIMIT 1`,
		serverUserID, ratingKey, since))
}

// ListLiveSessions returns every live session across servers.
func (d *DB) ListLiveSessions(ctx context.Context) ([]models.Session, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE stopped_at IS NULL
		ORDER BY started_at`)
	if err != nil {
		return nil, err
	}
	return collectSessions(rows)
}

// LiveSessionsByServer returns the live sessions of one server.
func (d *DB) LiveSessionsByServer(ctx context.Context, serverID string) ([]models.Session, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE server_id = $1 AND stopped_at IS NULL
		ORDER BY started_at`,
		serverID)
	if err != nil {
		return nil, err
	}
	return collectSessions(rows)
}

// BatchRecentSessionsByUsers loads each user's sessions seen within the
// window, live ones included, grouped by user. Rule evaluation consumes
// this as its history input.
func (d *DB) BatchRecentSessionsByUsers(ctx context.Context, serverUserIDs []string, windowDays int) (map[string][]models.Session, error) {
	if len(serverUserIDs) == 0 {
		return map[string][]models.Session{}, nil
	}
	since := time.Now().UTC().AddDate(0, 0, -windowDays)

	rows, err := d.pool.Query(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE server_user_id = ANY($1) AND last_seen_at >= $2
		ORDER BY last_seen_at DESC`,
		serverUserIDs, since)
	if err != nil {
		return nil, err
	}
	sessions, err := collectSessions(rows)
	if err != nil {
		return nil, err
	}

	grouped := make(map[string][]models.Session, len(serverUserIDs))
	for _, s := range sessions {
		grouped[s.ServerUserID] = append(grouped[s.ServerUserID], s)
	}
	return grouped, nil
}

// SessionUpdate is the patch UpdateLiveByIDTx applies. Values are final:
// the lifecycle core has already run the pause arithmetic and the watched
// latch, the store only writes (and re-asserts the latch in SQL).
type SessionUpdate struct {
	State            models.SessionState
	Quality          string
	BitrateKbps      *int
	ProgressMs       int64
	TotalDurationMs  int64
	PausedDurationMs int64
	LastPausedAt     *time.Time
	Watched          bool
	LastSeenAt       time.Time
	IPAddress        string
}

// UpdateLiveByIDTx applies the patch iff the row is still live. A false
// return means a concurrent stop won; the caller must not broadcast.
func (d *DB) UpdateLiveByIDTx(ctx context.Context, tx pgx.Tx, id string, u SessionUpdate) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE sessions SET
			state = $2,
			quality = $3,
			bitrate_kbps = $4,
			progress_ms = $5,
			total_duration_ms = $6,
			paused_duration_ms = $7,
			last_paused_at = $8,
			watched = (watched OR $9),
			last_seen_at = $10,
			ip_address = COALESCE(NULLIF($11, ''), ip_address),
			updated_at = now()
		WHERE id = $1 AND stopped_at IS NULL`,
		id, u.State, u.Quality, u.BitrateKbps, u.ProgressMs, u.TotalDurationMs,
		u.PausedDurationMs, u.LastPausedAt, u.Watched, u.LastSeenAt, u.IPAddress,
	)
	if err != nil {
		return false, fmt.Errorf("update live session: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// UpdateProgressTx is the cheap push-progress path: progress and the
// watched latch only, no state or pause bookkeeping.
func (d *DB) UpdateProgressTx(ctx context.Context, tx pgx.Tx, id string, progressMs int64, watched bool, seenAt time.Time) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE sessions SET
			progress_ms = $2,
			watched = (watched OR $3),
			last_seen_at = $4,
			updated_at = now()
		WHERE id = $1 AND stopped_at IS NULL`,
		id, progressMs, watched, seenAt,
	)
	if err != nil {
		return false, fmt.Errorf("update progress: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// SessionStop is the terminal patch StopLiveTx applies.
type SessionStop struct {
	StoppedAt        time.Time
	DurationMs       int64
	PausedDurationMs int64
	Watched          bool
	ShortSession     bool
	ForceStopped     bool
}

// StopLiveTx stops the row iff still live: terminal state, stop timestamp,
// final durations, cleared pause stamp. A false return means another
// observer already stopped it.
func (d *DB) StopLiveTx(ctx context.Context, tx pgx.Tx, id string, stop SessionStop) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE sessions SET
			state = 'stopped',
			stopped_at = $2,
			duration_ms = $3,
			last_paused_at = NULL,
			paused_duration_ms = $4,
			watched = (watched OR $5),
			short_session = $6,
			force_stopped = (force_stopped OR $7),
			updated_at = now()
		WHERE id = $1 AND stopped_at IS NULL`,
		id, stop.StoppedAt, stop.DurationMs, stop.PausedDurationMs,
		stop.Watched, stop.ShortSession, stop.ForceStopped,
	)
	if err != nil {
		return false, fmt.Errorf("stop live session: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
