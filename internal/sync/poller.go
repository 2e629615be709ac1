// StreamSentry - Media Server Session Lifecycle and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamsentry

package sync

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/tomtom215/streamsentry/internal/cache"
	"github.com/tomtom215/streamsentry/internal/database"
	"github.com/tomtom215/streamsentry/internal/lifecycle"
	"github.com/tomtom215/streamsentry/internal/logging"
	"github.com/tomtom215/streamsentry/internal/mapper"
	"github.com/tomtom215/streamsentry/internal/metrics"
	"github.com/tomtom215/streamsentry/internal/models"
)

// PollServer runs one snapshot poll of one server: fetch, map, ensure users,
// diff against the cached live set, drive the lifecycle core, stop the
// absentees. Any step that fails for one session logs and moves on; an
// adapter failure aborts the whole tick for this server.
func (m *Manager) PollServer(ctx context.Context, serverID string, rules []models.Rule) {
	server, ok := m.servers[serverID]
	if !ok {
		return
	}
	adapter, ok := m.adapters[serverID]
	if !ok {
		return
	}

	start := time.Now()
	defer func() {
		metrics.PollDuration.WithLabelValues(server.Name).Observe(time.Since(start).Seconds())
	}()

	observed, err := adapter.GetSessions(ctx)
	if err != nil {
		metrics.PollTicks.WithLabelValues(server.Name, "adapter_error").Inc()
		logging.Warn().
			Str("component", "poller").
			Str("server", server.Name).
			Err(err).
			Msg("session fetch failed; skipping tick")
		return
	}

	now := time.Now().UTC()
	processed := make([]models.ProcessedSession, len(observed))
	for i := range observed {
		processed[i] = mapper.Process(observed[i])
	}

	users, err := m.db.EnsureServerUsers(ctx, server.ID, observedUsers(observed))
	if err != nil {
		metrics.PollTicks.WithLabelValues(server.Name, "process_error").Inc()
		logging.Error().
			Str("component", "poller").
			Str("server", server.Name).
			Err(err).
			Msg("failed to ensure server users; skipping tick")
		return
	}

	allCached, err := m.cache.ActiveSessionKeys(ctx)
	if err != nil {
		metrics.PollTicks.WithLabelValues(server.Name, "process_error").Inc()
		logging.Error().
			Str("component", "poller").
			Str("server", server.Name).
			Err(err).
			Msg("failed to read cached live set; skipping tick")
		return
	}
	cached := allCached[server.ID]

	// History for rule input, loaded once for all users starting a session
	// this tick.
	recentByUser := m.loadRecentForNewSessions(ctx, processed, cached, users)

	failed := false
	for i := range processed {
		p := &processed[i]
		user, ok := users[p.ExternalUserID]
		if !ok {
			logging.Warn().
				Str("component", "poller").
				Str("server", server.Name).
				Str("external_user_id", p.ExternalUserID).
				Msg("observation for unknown user dropped")
			continue
		}

		var err error
		if _, known := cached[p.SessionKey]; !known {
			err = m.createObserved(ctx, server, user, *p, rules, recentByUser[user.ID], now)
		} else {
			err = m.updateObserved(ctx, server, user, *p, rules, recentByUser[user.ID], now)
		}
		if err != nil {
			failed = true
			logging.Error().
				Str("component", "poller").
				Str("server", server.Name).
				Str("session_key", p.SessionKey).
				Err(err).
				Msg("failed to process observation")
		}
	}

	m.stopAbsent(ctx, server, cached, processed, now)

	outcome := "ok"
	if failed {
		outcome = "process_error"
	}
	metrics.PollTicks.WithLabelValues(server.Name, outcome).Inc()
}

// createObserved starts a session for an unknown key under the distributed
// create-lock. Lock contention means another observer is creating the same
// session right now; skipping is correct, the next tick observes the result.
func (m *Manager) createObserved(ctx context.Context, server models.Server, user models.ServerUser, p models.ProcessedSession, rules []models.Rule, recent []models.Session, now time.Time) error {
	err := m.cache.WithSessionCreateLock(ctx, server.ID, p.SessionKey, func(ctx context.Context) error {
		// The cache can lag the DB; re-check under the lock so a stale
		// live set never double-creates.
		if existing, err := m.db.FindLiveByKey(ctx, server.ID, p.SessionKey); err == nil {
			in := lifecycle.UpdateInput{
				Existing:   existing,
				Processed:  p,
				NewState:   p.State,
				Server:     server,
				ServerUser: user,
				Now:        now,
			}
			_, _, err := m.core.UpdateExistingSession(ctx, in)
			return err
		} else if !errors.Is(err, database.ErrNotFound) {
			return err
		}

		_, err := m.core.CreateSessionWithRules(ctx, lifecycle.CreateInput{
			Processed:  p,
			Server:     server,
			ServerUser: user,
			Rules:      rules,
			Recent:     recent,
			Now:        now,
			Origin:     "poll",
		})
		return err
	})
	if errors.Is(err, cache.ErrLockNotAcquired) {
		metrics.CreateLockContention.Inc()
		logging.Debug().
			Str("component", "poller").
			Str("server", server.Name).
			Str("session_key", p.SessionKey).
			Msg("create lock held elsewhere; skipping")
		return nil
	}
	return err
}

// updateObserved applies an observation to a session the cache says is live.
// A rating-key switch under the same key is a media change.
func (m *Manager) updateObserved(ctx context.Context, server models.Server, user models.ServerUser, p models.ProcessedSession, rules []models.Rule, recent []models.Session, now time.Time) error {
	existing, err := m.db.FindLiveByKey(ctx, server.ID, p.SessionKey)
	if errors.Is(err, database.ErrNotFound) {
		// Cache said live, DB says not: the row was stopped since the cache
		// read. Treat as a fresh start.
		return m.createObserved(ctx, server, user, p, rules, recent, now)
	}
	if err != nil {
		return err
	}

	if isMediaChange(existing, p) {
		_, err := m.core.HandleMediaChange(ctx, existing, lifecycle.CreateInput{
			Processed:  p,
			Server:     server,
			ServerUser: user,
			Rules:      rules,
			Recent:     recent,
			Now:        now,
			Origin:     "poll",
		})
		return err
	}

	_, _, err = m.core.UpdateExistingSession(ctx, lifecycle.UpdateInput{
		Existing:   existing,
		Processed:  p,
		NewState:   p.State,
		Server:     server,
		ServerUser: user,
		Now:        now,
	})
	return err
}

// stopAbsent stops every cached live session of this server that the
// snapshot no longer contains.
func (m *Manager) stopAbsent(ctx context.Context, server models.Server, cached map[string]string, processed []models.ProcessedSession, now time.Time) {
	// Entries whose row is already stopped or gone converge in one batched
	// eviction pipeline after the loop.
	var stale []string

	for _, sessionID := range absentSessionIDs(cached, processed) {
		session, err := m.db.FindSessionByID(ctx, sessionID)
		if errors.Is(err, database.ErrNotFound) {
			stale = append(stale, sessionID)
			continue
		}
		if err != nil {
			logging.Error().
				Str("component", "poller").
				Str("server", server.Name).
				Str("session_id", sessionID).
				Err(err).
				Msg("failed to load absent session")
			continue
		}
		if session.StoppedAt != nil {
			// Already stopped by another observer; the cache entry is stale.
			stale = append(stale, sessionID)
			continue
		}

		if _, err := m.core.StopSessionAtomic(ctx, session, now, lifecycle.StopOptions{Kind: "observed"}); err != nil {
			logging.Error().
				Str("component", "poller").
				Str("server", server.Name).
				Str("session_id", sessionID).
				Err(err).
				Msg("failed to stop absent session")
		}
	}

	if err := m.cache.SyncActiveSessions(ctx, nil, nil, stale); err != nil {
		logging.Warn().
			Str("component", "poller").
			Str("server", server.Name).
			Int("stale", len(stale)).
			Err(err).
			Msg("failed to evict stale cache entries")
	}
}

// loadRecentForNewSessions batch-loads rule-input history for every user
// about to start a session this tick. Best effort: rules that need history
// see an empty slice when the load fails.
func (m *Manager) loadRecentForNewSessions(ctx context.Context, processed []models.ProcessedSession, cached map[string]string, users map[string]models.ServerUser) map[string][]models.Session {
	idSet := make(map[string]struct{})
	for i := range processed {
		if _, known := cached[processed[i].SessionKey]; known {
			continue
		}
		if u, ok := users[processed[i].ExternalUserID]; ok {
			idSet[u.ID] = struct{}{}
		}
	}
	if len(idSet) == 0 {
		return nil
	}
	ids := make([]string, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	recent, err := m.db.BatchRecentSessionsByUsers(ctx, ids, recentWindowDays)
	if err != nil {
		logging.Warn().
			Str("component", "poller").
			Err(err).
			Msg("failed to load recent sessions for rule input")
		return nil
	}
	return recent
}

// observedUsers extracts the distinct users appearing in a snapshot.
func observedUsers(observed []models.ObservedSession) []models.ObservedUser {
	seen := make(map[string]struct{}, len(observed))
	out := make([]models.ObservedUser, 0, len(observed))
	for i := range observed {
		o := &observed[i]
		if o.ExternalUserID == "" {
			continue
		}
		if _, dup := seen[o.ExternalUserID]; dup {
			continue
		}
		seen[o.ExternalUserID] = struct{}{}
		out = append(out, models.ObservedUser{
			ExternalID: o.ExternalUserID,
			Username:   o.Username,
			Thumb:      o.UserThumb,
		})
	}
	return out
}

// absentSessionIDs returns the cached session IDs whose keys the snapshot no
// longer reports, in deterministic order.
func absentSessionIDs(cached map[string]string, processed []models.ProcessedSession) []string {
	if len(cached) == 0 {
		return nil
	}
	observedKeys := make(map[string]struct{}, len(processed))
	for i := range processed {
		observedKeys[processed[i].SessionKey] = struct{}{}
	}

	var ids []string
	for key, id := range cached {
		if _, ok := observedKeys[key]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// isMediaChange reports whether an observation switched content under the
// same session key. A missing rating key on either side is inconclusive and
// never triggers a change.
func isMediaChange(existing *models.Session, p models.ProcessedSession) bool {
	if existing.RatingKey == nil || p.RatingKey == nil {
		return false
	}
	return *existing.RatingKey != *p.RatingKey
}
