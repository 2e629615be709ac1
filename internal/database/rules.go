// StreamSentry - Media Server Session Lifecycle and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamsentry

package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/tomtom215/streamsentry/internal/models"
)

const ruleColumns = `id, name, type, parameters, is_active, server_user_id, created_at, updated_at`

func scanRule(row pgx.Row) (*models.Rule, error) {
	var r models.Rule
	err := row.Scan(&r.ID, &r.Name, &r.Type, &r.Parameters, &r.IsActive,
		&r.ServerUserID, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, noRows(err)
	}
	return &r, nil
}

// ActiveRules returns every active rule, global ones first. The poller loads
// this once per tick and hands the slice to the rule engine.
func (d *DB) ActiveRules(ctx context.Context) ([]models.Rule, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT `+ruleColumns+` FROM rules
		WHERE is_active
		ORDER BY server_user_id NULLS FIRST, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// UpsertRule inserts or updates a rule by name.
func (d *DB) UpsertRule(ctx context.Context, r *models.Rule) error {
	_, err := d.pool.Exec(ctx, `
		INSERT INTO rules (id, name, type, parameters, is_active, server_user_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (name) DO UPDATE SET
			type = EXCLUDED.type,
			parameters = EXCLUDED.parameters,
			is_active = EXCLUDED.is_active,
			server_user_id = EXCLUDED.server_user_id,
			updated_at = now()`,
		r.ID, r.Name, r.Type, r.Parameters, r.IsActive, r.ServerUserID,
	)
	if err != nil {
		return fmt.Errorf("upsert rule: %w", err)
	}
	return nil
}

// FindRuleByID returns one rule, or ErrNotFound.
func (d *DB) FindRuleByID(ctx context.Context, id string) (*models.Rule, error) {
	return scanRule(d.pool.QueryRow(ctx, `
		SELECT `+ruleColumns+` FROM rules WHERE id = $1`, id))
}
