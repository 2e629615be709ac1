// StreamSentry - Media Server Session Lifecycle and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamsentry

package database

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tomtom215/streamsentry/internal/models"
)

const violationColumns = `id, rule_id, rule_type, server_user_id, session_id,
	severity, data, created_at, acknowledged_at`

func scanViolation(row pgx.Row) (*models.Violation, error) {
	var v models.Violation
	err := row.Scan(&v.ID, &v.RuleID, &v.RuleType, &v.ServerUserID, &v.SessionID,
		&v.Severity, &v.Data, &v.CreatedAt, &v.AcknowledgedAt)
	if err != nil {
		return nil, noRows(err)
	}
	return &v, nil
}

// InsertViolationTx inserts one violation; the unique
// (server_user_id, rule_type, session_id) triple absorbs concurrent
// duplicates via ON CONFLICT DO NOTHING. Returns false when nothing was
// inserted.
func InsertViolationTx(ctx context.Context, tx pgx.Tx, v *models.Violation) (bool, error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO violations (id, rule_id, rule_type, server_user_id, session_id, severity, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (server_user_id, rule_type, session_id) DO NOTHING`,
		v.ID, v.RuleID, v.RuleType, v.ServerUserID, v.SessionID, v.Severity, v.Data, v.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert violation: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// UnacknowledgedViolationsInWindowTx reads the dedup window: unacknowledged
// violations of one rule type for one user created at or after since. Runs on
// the lifecycle transaction so SERIALIZABLE covers the read.
func UnacknowledgedViolationsInWindowTx(ctx context.Context, tx pgx.Tx, serverUserID string, ruleType models.RuleType, since time.Time) ([]models.Violation, error) {
	rows, err := tx.Query(ctx, `
		SELECT `+violationColumns+` FROM violations
		WHERE server_user_id = $1 AND rule_type = $2
			AND acknowledged_at IS NULL AND created_at >= $3`,
		serverUserID, ruleType, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Violation
	for rows.Next() {
		v, err := scanViolation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

// ViolationDetailByID joins one violation with the user, server, and rule
// display fields the broadcast payload carries.
func (d *DB) ViolationDetailByID(ctx context.Context, id string) (*models.ViolationDetail, error) {
	var v models.ViolationDetail
	err := d.pool.QueryRow(ctx, `
		SELECT v.id, v.rule_id, v.rule_type, v.server_user_id, v.session_id,
			v.severity, v.data, v.created_at, v.acknowledged_at,
			su.username, srv.id, srv.name, r.name, COALESCE(s.media_title, '')
		FROM violations v
		JOIN server_users su ON su.id = v.server_user_id
		JOIN servers srv ON srv.id = su.server_id
		JOIN rules r ON r.id = v.rule_id
		LEFT JOIN sessions s ON s.id = v.session_id
		WHERE v.id = $1`,
		id).Scan(
		&v.ID, &v.RuleID, &v.RuleType, &v.ServerUserID, &v.SessionID,
		&v.Severity, &v.Data, &v.CreatedAt, &v.AcknowledgedAt,
		&v.Username, &v.ServerID, &v.ServerName, &v.RuleName, &v.MediaTitle,
	)
	if err != nil {
		return nil, noRows(err)
	}
	return &v, nil
}

// AcknowledgeViolation stamps acknowledged_at, once. False means the row was
// missing or already acknowledged.
func (d *DB) AcknowledgeViolation(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := d.pool.Exec(ctx, `
		UPDATE violations SET acknowledged_at = $2
		WHERE id = $1 AND acknowledged_at IS NULL`,
		id, at)
	if err != nil {
		return false, fmt.Errorf("acknowledge violation: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ViolationPage is one page of the cursor-paginated violation listing.
type ViolationPage struct {
	Violations []models.Violation `json:"violations"`
	NextCursor string             `json:"next_cursor,omitempty"`
}

// ListViolations returns violations newest first, keyset-paginated on
// (created_at, id). An empty cursor starts at the newest row; the returned
// cursor is empty on the last page.
func (d *DB) ListViolations(ctx context.Context, cursor string, limit int) (*ViolationPage, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var (
		rows pgx.Rows
		err  error
	)
	if cursor == "" {
		rows, err = d.pool.Query(ctx, `
			SELECT `+violationColumns+` FROM violations
			ORDER BY created_at DESC, id DESC
			LIMIT $1`, limit+1)
	} else {
		createdAt, id, derr := decodeCursor(cursor)
		if derr != nil {
			return nil, derr
		}
		rows, err = d.pool.Query(ctx, `
			SELECT `+violationColumns+` FROM violations
			WHERE (created_at, id) < ($1, $2)
			ORDER BY created_at DESC, id DESC
			LIMIT $3`, createdAt, id, limit+1)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var page ViolationPage
	for rows.Next() {
		v, err := scanViolation(rows)
		if err != nil {
			return nil, err
		}
		page.Violations = append(page.Violations, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(page.Violations) > limit {
		page.Violations = page.Violations[:limit]
		last := page.Violations[limit-1]
		page.NextCursor = encodeCursor(last.CreatedAt, last.ID)
	}
	return &page, nil
}

func encodeCursor(createdAt time.Time, id string) string {
	raw := createdAt.UTC().Format(time.RFC3339Nano) + "|" + id
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(cursor string) (time.Time, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	createdStr, id, ok := strings.Cut(string(raw), "|")
	if !ok {
		return time.Time{}, "", ErrInvalidCursor
	}
	createdAt, err := time.Parse(time.RFC3339Nano, createdStr)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	return createdAt, id, nil
}
