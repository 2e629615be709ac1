// StreamSentry - Media Server Session Lifecycle and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamsentry

package cache

import (
	"context"
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/tomtom215/streamsentry/internal/logging"
	"github.com/tomtom215/streamsentry/internal/models"
)

// ActiveSessions returns every live session projection. The ID set is read
// first, then each payload; set members without a payload (expired TTL) are
// dropped from the set on the way through.
func (c *Cache) ActiveSessions(ctx context.Context) ([]models.ActiveSession, error) {
	ids, err := c.client.SMembers(ctx, keyActiveIDs).Result()
	if err != nil {
		return nil, fmt.Errorf("read active ids: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	out := make([]models.ActiveSession, 0, len(ids))
	var stale []string
	for _, id := range ids {
		raw, err := c.client.Get(ctx, keyActivePayload+id).Bytes()
		if errors.Is(err, redis.Nil) {
			stale = append(stale, id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read session payload %s: %w", id, err)
		}
		var s models.ActiveSession
		if err := json.Unmarshal(raw, &s); err != nil {
			logging.Warn().
				Str("component", "cache").
				Str("session_id", id).
				Err(err).
				Msg("dropping undecodable session payload")
			stale = append(stale, id)
			continue
		}
		out = append(out, s)
	}

	if len(stale) > 0 {
		members := make([]any, len(stale))
		for i, id := range stale {
			members[i] = id
		}
		if err := c.client.SRem(ctx, keyActiveIDs, members...).Err(); err != nil {
			logging.Warn().
				Str("component", "cache").
				Err(err).
				Msg("failed to prune stale active ids")
		}
	}
	return out, nil
}

// ActiveSessionKeys returns the live (serverID, sessionKey) pairs currently
// projected, keyed serverID -> sessionKey -> sessionID. The poller diffs its
// observation against this map.
func (c *Cache) ActiveSessionKeys(ctx context.Context) (map[string]map[string]string, error) {
	sessions, err := c.ActiveSessions(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]map[string]string)
	for _, s := range sessions {
		byKey := out[s.ServerID]
		if byKey == nil {
			byKey = make(map[string]string)
			out[s.ServerID] = byKey
		}
		byKey[s.SessionKey] = s.ID
	}
	return out, nil
}

// AddActiveSession projects one live session: SADD id, SETEX payload, and
// dashboard invalidation, in one pipeline. Never read-modify-write.
func (c *Cache) AddActiveSession(ctx context.Context, s *models.ActiveSession) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", s.ID, err)
	}

	pipe := c.client.Pipeline()
	pipe.SAdd(ctx, keyActiveIDs, s.ID)
	pipe.Set(ctx, keyActivePayload+s.ID, payload, activeSessionTTL)
	pipe.Del(ctx, keyDashboard)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("add active session %s: %w", s.ID, err)
	}
	return nil
}

// RemoveActiveSession evicts one stopped session: SREM id, DEL payload, and
// dashboard invalidation, in one pipeline.
func (c *Cache) RemoveActiveSession(ctx context.Context, id string) error {
	pipe := c.client.Pipeline()
	pipe.SRem(ctx, keyActiveIDs, id)
	pipe.Del(ctx, keyActivePayload+id)
	pipe.Del(ctx, keyDashboard)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("remove active session %s: %w", id, err)
	}
	return nil
}

// SyncActiveSessions applies a poll tick's deltas in a single pipeline:
// added and updated projections written, stopped ids evicted, dashboard
// invalidated once.
func (c *Cache) SyncActiveSessions(ctx context.Context, added, updated []models.ActiveSession, stoppedIDs []string) error {
	if len(added) == 0 && len(updated) == 0 && len(stoppedIDs) == 0 {
		return nil
	}

	pipe := c.client.Pipeline()
	for i := range added {
		payload, err := json.Marshal(&added[i])
		if err != nil {
			return fmt.Errorf("encode session %s: %w", added[i].ID, err)
		}
		pipe.SAdd(ctx, keyActiveIDs, added[i].ID)
		pipe.Set(ctx, keyActivePayload+added[i].ID, payload, activeSessionTTL)
	}
	for i := range updated {
		payload, err := json.Marshal(&updated[i])
		if err != nil {
			return fmt.Errorf("encode session %s: %w", updated[i].ID, err)
		}
		pipe.SAdd(ctx, keyActiveIDs, updated[i].ID)
		pipe.Set(ctx, keyActivePayload+updated[i].ID, payload, activeSessionTTL)
	}
	for _, id := range stoppedIDs {
		pipe.SRem(ctx, keyActiveIDs, id)
		pipe.Del(ctx, keyActivePayload+id)
	}
	pipe.Del(ctx, keyDashboard)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("sync active sessions: %w", err)
	}
	return nil
}
