// StreamSentry - Media Server Session Lifecycle and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamsentry

package database

import (
	"context"
	"fmt"

	"github.com/tomtom215/streamsentry/internal/models"
)

const serverColumns = `id, name, variant, url, token, machine_id, created_at, updated_at`

// UpsertServer inserts or refreshes one monitored server row. Servers come
// from configuration, so the id is stable and the row follows the config.
func (d *DB) UpsertServer(ctx context.Context, s *models.Server) error {
	_, err := d.pool.Exec(ctx, `
		INSERT INTO servers (id, name, variant, url, token, machine_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			variant = EXCLUDED.variant,
			url = EXCLUDED.url,
			token = EXCLUDED.token,
			machine_id = COALESCE(EXCLUDED.machine_id, servers.machine_id),
			updated_at = now()`,
		s.ID, s.Name, s.Variant, s.URL, s.Token, s.MachineID,
	)
	if err != nil {
		return fmt.Errorf("upsert server: %w", err)
	}
	return nil
}

// ListServers returns every monitored server.
func (d *DB) ListServers(ctx context.Context) ([]models.Server, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT `+serverColumns+` FROM servers ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Server
	for rows.Next() {
		var s models.Server
		if err := rows.Scan(&s.ID, &s.Name, &s.Variant, &s.URL, &s.Token, &s.MachineID, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// FindServerByID returns one server row, or ErrNotFound.
func (d *DB) FindServerByID(ctx context.Context, id string) (*models.Server, error) {
	var s models.Server
	err := d.pool.QueryRow(ctx, `
		SELECT `+serverColumns+` FROM servers WHERE id = $1`, id).
		Scan(&s.ID, &s.Name, &s.Variant, &s.URL, &s.Token, &s.MachineID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, noRows(err)
	}
	return &s, nil
}
