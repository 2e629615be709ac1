// StreamSentry - Media Server Session Lifecycle and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamsentry

package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tomtom215/streamsentry/internal/models"
)

const serverUserColumns = `id, server_id, user_id, external_id, username, thumb, trust_score, created_at, updated_at`

func scanServerUser(row pgx.Row) (*models.ServerUser, error) {
	var u models.ServerUser
	err := row.Scan(&u.ID, &u.ServerID, &u.UserID, &u.ExternalID, &u.Username,
		&u.Thumb, &u.TrustScore, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, noRows(err)
	}
	return &u, nil
}

// ServerUsersByServer loads every user of one server, keyed by external id.
// The poller consults this map before touching any observed session.
func (d *DB) ServerUsersByServer(ctx context.Context, serverID string) (map[string]models.ServerUser, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT `+serverUserColumns+` FROM server_users WHERE server_id = $1`,
		serverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]models.ServerUser)
	for rows.Next() {
		u, err := scanServerUser(rows)
		if err != nil {
			return nil, err
		}
		out[u.ExternalID] = *u
	}
	return out, rows.Err()
}

// FindServerUserByID returns one server user, or ErrNotFound.
func (d *DB) FindServerUserByID(ctx context.Context, id string) (*models.ServerUser, error) {
	return scanServerUser(d.pool.QueryRow(ctx, `
		SELECT `+serverUserColumns+` FROM server_users WHERE id = $1`, id))
}

// errEnsureRaceLost marks a create that found (server_id, external_id)
// already claimed by a concurrent ensure.
var errEnsureRaceLost = errors.New("server user already exists")

// EnsureServerUsers inserts the observed users that are missing for this
// server, refreshes username and thumb on the known ones, and returns the
// full refreshed map. Identity rows are created only together with a winning
// server_users insert; losing a race with a concurrent poller leaves no row
// behind.
func (d *DB) EnsureServerUsers(ctx context.Context, serverID string, observed []models.ObservedUser) (map[string]models.ServerUser, error) {
	existing, err := d.ServerUsersByServer(ctx, serverID)
	if err != nil {
		return nil, err
	}

	dirty := false
	for _, o := range observed {
		cur, known := existing[o.ExternalID]
		if !known {
			err := d.createServerUser(ctx, serverID, o)
			if err != nil && !errors.Is(err, errEnsureRaceLost) {
				return nil, err
			}
			dirty = true
			continue
		}
		if cur.Username != o.Username || (o.Thumb != "" && (cur.Thumb == nil || *cur.Thumb != o.Thumb)) {
			if _, err := d.pool.Exec(ctx, `
				UPDATE server_users SET
					username = $3,
					thumb = COALESCE(NULLIF($4, ''), thumb),
					updated_at = now()
				WHERE server_id = $1 AND external_id = $2`,
				serverID, o.ExternalID, o.Username, o.Thumb); err != nil {
				return nil, fmt.Errorf("refresh server user: %w", err)
			}
			dirty = true
		}
	}

	if !dirty {
		return existing, nil
	}
	return d.ServerUsersByServer(ctx, serverID)
}

// createServerUser inserts the identity and server_users rows in one
// transaction. ON CONFLICT DO NOTHING plus rollback guarantees the identity
// row exists only while its server_users row does.
func (d *DB) createServerUser(ctx context.Context, serverID string, o models.ObservedUser) error {
	return pgx.BeginFunc(ctx, d.pool, func(tx pgx.Tx) error {
		userID := uuid.NewString()
		if _, err := tx.Exec(ctx, `
			INSERT INTO users (id, display_name) VALUES ($1, $2)`,
			userID, o.Username); err != nil {
			return fmt.Errorf("insert user: %w", err)
		}
		tag, err := tx.Exec(ctx, `
			INSERT INTO server_users (id, server_id, user_id, external_id, username, thumb)
			VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
			ON CONFLICT (server_id, external_id) DO NOTHING`,
			uuid.NewString(), serverID, userID, o.ExternalID, o.Username, o.Thumb)
		if err != nil {
			return fmt.Errorf("insert server user: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return errEnsureRaceLost
		}
		return nil
	})
}

// DecrementTrustScoreTx lowers a user's trust score by penalty, floored at
// zero, and returns the new score. Runs inside the violation transaction so
// the insert and the penalty commit together.
func DecrementTrustScoreTx(ctx context.Context, tx pgx.Tx, serverUserID string, penalty int) (int, error) {
	var score int
	err := tx.QueryRow(ctx, `
		UPDATE server_users SET
			trust_score = GREATEST(trust_score - $2, 0),
			updated_at = now()
		WHERE id = $1
		RETURNING trust_score`,
		serverUserID, penalty).Scan(&score)
	if err != nil {
		return 0, fmt.Errorf("decrement trust score: %w", noRows(err))
	}
	return score, nil
}

// RecoverTrustScores raises the trust score of users with no violation in the
// last quietDays by points, capped at 100, and reports how many rows moved.
// Maintenance path; a plain statement is enough.
func (d *DB) RecoverTrustScores(ctx context.Context, points, quietDays int) (int64, error) {
	tag, err := d.pool.Exec(ctx, `
		UPDATE server_users SET
			trust_score = LEAST(trust_score + $1, 100),
			updated_at = now()
		WHERE trust_score < 100
			AND NOT EXISTS (
				SELECT 1 FROM violations v
				WHERE v.server_user_id = server_users.id
					AND v.created_at > now() - make_interval(days => $2)
			)`,
		points, quietDays)
	if err != nil {
		return 0, fmt.Errorf("recover trust scores: %w", err)
	}
	return tag.RowsAffected(), nil
}
