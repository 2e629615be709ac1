// StreamSentry - Media Server Session Lifecycle and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamsentry

package sync

import (
	"context"
	"errors"
	"time"

	"github.com/tomtom215/streamsentry/internal/cache"
	"github.com/tomtom215/streamsentry/internal/database"
	"github.com/tomtom215/streamsentry/internal/lifecycle"
	"github.com/tomtom215/streamsentry/internal/logging"
	"github.com/tomtom215/streamsentry/internal/mapper"
	"github.com/tomtom215/streamsentry/internal/mediaserver"
	"github.com/tomtom215/streamsentry/internal/metrics"
	"github.com/tomtom215/streamsentry/internal/models"
)

// PushProcessor converges push notifications onto the lifecycle core. Push
// is a latency optimization: anything it cannot apply cleanly degrades to a
// reconciliation poll instead of guessing.
type PushProcessor struct {
	db    *database.DB
	cache *cache.Cache
	core  *lifecycle.Core

	servers  map[string]models.Server
	adapters map[string]mediaserver.Client
	events   <-chan models.PushEvent
}

// NewPushProcessor wires a processor over the shared push event channel.
func NewPushProcessor(db *database.DB, c *cache.Cache, core *lifecycle.Core, servers []models.Server, adapters map[string]mediaserver.Client, events <-chan models.PushEvent) *PushProcessor {
	byID := make(map[string]models.Server, len(servers))
	for _, s := range servers {
		byID[s.ID] = s
	}
	return &PushProcessor{
		db:       db,
		cache:    c,
		core:     core,
		servers:  byID,
		adapters: adapters,
		events:   events,
	}
}

// Serve drains the event channel until ctx is canceled. Implements
// suture.Service.
func (p *PushProcessor) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-p.events:
			if !ok {
				return ctx.Err()
			}
			p.Handle(ctx, ev)
		}
	}
}

func (p *PushProcessor) String() string { return "sync.PushProcessor" }

// Handle applies one push event.
func (p *PushProcessor) Handle(ctx context.Context, ev models.PushEvent) {
	server, ok := p.servers[ev.ServerID]
	if !ok {
		metrics.PushEvents.WithLabelValues(string(ev.Kind), "dropped").Inc()
		return
	}

	now := ev.ReceivedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var err error
	switch ev.Kind {
	case models.PushPlaying:
		err = p.handlePlaying(ctx, server, ev, now)
	case models.PushPaused:
		err = p.handlePaused(ctx, server, ev, now)
	case models.PushStopped:
		err = p.handleStopped(ctx, server, ev, now)
	case models.PushProgress:
		err = p.handleProgress(ctx, server, ev, now)
	default:
		metrics.PushEvents.WithLabelValues(string(ev.Kind), "dropped").Inc()
		return
	}

	if err != nil {
		metrics.PushEvents.WithLabelValues(string(ev.Kind), "error").Inc()
		logging.Error().
			Str("component", "push").
			Str("server", server.Name).
			Str("session_key", ev.SessionKey).
			Str("kind", string(ev.Kind)).
			Err(err).
			Msg("failed to apply push event")
		return
	}
	metrics.PushEvents.WithLabelValues(string(ev.Kind), "applied").Inc()
}

// handlePlaying needs the full observation, so it snapshots the server and
// picks this session key out. Snapshot absence is a gap: the notification
// raced the session's end or the adapter lagged; reconciliation decides.
func (p *PushProcessor) handlePlaying(ctx context.Context, server models.Server, ev models.PushEvent, now time.Time) error {
	adapter, ok := p.adapters[server.ID]
	if !ok {
		return errors.New("no adapter for server")
	}
	observed, err := adapter.GetSessions(ctx)
	if err != nil {
		return err
	}

	obs := findObserved(observed, ev.SessionKey)
	if obs == nil {
		p.emitReconciliation(ctx, server.ID, "playing notification without snapshot")
		return nil
	}
	processed := mapper.Process(*obs)

	users, err := p.db.EnsureServerUsers(ctx, server.ID, []models.ObservedUser{{
		ExternalID: obs.ExternalUserID,
		Username:   obs.Username,
		Thumb:      obs.UserThumb,
	}})
	if err != nil {
		return err
	}
	user, ok := users[obs.ExternalUserID]
	if !ok {
		return errors.New("server user missing after ensure")
	}

	existing, err := p.db.FindLiveByKey(ctx, server.ID, ev.SessionKey)
	switch {
	case err == nil:
		if isMediaChange(existing, processed) {
			// The switch creates a new session, and creation is where rules
			// run; load the same inputs the cold create path loads.
			rules, err := p.db.ActiveRules(ctx)
			if err != nil {
				return err
			}
			recentByUser, err := p.db.BatchRecentSessionsByUsers(ctx, []string{user.ID}, recentWindowDays)
			if err != nil {
				return err
			}
			_, err = p.core.HandleMediaChange(ctx, existing, p.createInput(processed, server, user, rules, recentByUser[user.ID], now))
			return err
		}
		_, _, err = p.core.UpdateExistingSession(ctx, lifecycle.UpdateInput{
			Existing:   existing,
			Processed:  processed,
			NewState:   models.StatePlaying,
			Server:     server,
			ServerUser: user,
			Now:        now,
		})
		return err
	case errors.Is(err, database.ErrNotFound):
		return p.createFromPush(ctx, server, user, processed, now)
	default:
		return err
	}
}

func (p *PushProcessor) createFromPush(ctx context.Context, server models.Server, user models.ServerUser, processed models.ProcessedSession, now time.Time) error {
	rules, err := p.db.ActiveRules(ctx)
	if err != nil {
		return err
	}
	recentByUser, err := p.db.BatchRecentSessionsByUsers(ctx, []string{user.ID}, recentWindowDays)
	if err != nil {
		return err
	}

	err = p.cache.WithSessionCreateLock(ctx, server.ID, processed.SessionKey, func(ctx context.Context) error {
		if existing, err := p.db.FindLiveByKey(ctx, server.ID, processed.SessionKey); err == nil {
			_, _, err := p.core.UpdateExistingSession(ctx, lifecycle.UpdateInput{
				Existing:   existing,
				Processed:  processed,
				NewState:   models.StatePlaying,
				Server:     server,
				ServerUser: user,
				Now:        now,
			})
			return err
		} else if !errors.Is(err, database.ErrNotFound) {
			return err
		}

		_, err := p.core.CreateSessionWithRules(ctx, p.createInput(processed, server, user, rules, recentByUser[user.ID], now))
		return err
	})
	if errors.Is(err, cache.ErrLockNotAcquired) {
		metrics.CreateLockContention.Inc()
		return nil
	}
	return err
}

func (p *PushProcessor) createInput(processed models.ProcessedSession, server models.Server, user models.ServerUser, rules []models.Rule, recent []models.Session, now time.Time) lifecycle.CreateInput {
	return lifecycle.CreateInput{
		Processed:  processed,
		Server:     server,
		ServerUser: user,
		Rules:      rules,
		Recent:     recent,
		Now:        now,
		Origin:     "push",
	}
}

// handlePaused flips a known live session to paused. The pause needs no
// snapshot: everything but state and progress stays as last observed.
func (p *PushProcessor) handlePaused(ctx context.Context, server models.Server, ev models.PushEvent, now time.Time) error {
	existing, err := p.db.FindLiveByKey(ctx, server.ID, ev.SessionKey)
	if errors.Is(err, database.ErrNotFound) {
		logging.Warn().
			Str("component", "push").
			Str("server", server.Name).
			Str("session_key", ev.SessionKey).
			Msg("pause for unknown session")
		p.emitReconciliation(ctx, server.ID, "pause for unknown session")
		return nil
	}
	if err != nil {
		return err
	}

	user, err := p.db.FindServerUserByID(ctx, existing.ServerUserID)
	if err != nil {
		return err
	}

	_, _, err = p.core.UpdateExistingSession(ctx, lifecycle.UpdateInput{
		Existing:   existing,
		Processed:  carryForward(existing, ev),
		NewState:   models.StatePaused,
		Server:     server,
		ServerUser: *user,
		Now:        now,
	})
	return err
}

// handleStopped stops every live row under the key. Normally that is one
// row; more means duplicate cleanup and each stop is individually idempotent.
func (p *PushProcessor) handleStopped(ctx context.Context, server models.Server, ev models.PushEvent, now time.Time) error {
	live, err := p.db.FindAllLiveByKey(ctx, server.ID, ev.SessionKey)
	if err != nil {
		return err
	}
	if len(live) == 0 {
		// Poll already converged, or the session never existed here.
		return nil
	}
	for i := range live {
		if _, err := p.core.StopSessionAtomic(ctx, &live[i], now, lifecycle.StopOptions{Kind: "observed"}); err != nil {
			return err
		}
	}
	return nil
}

// handleProgress is the cheap path: progress plus the watched latch, nothing
// else.
func (p *PushProcessor) handleProgress(ctx context.Context, server models.Server, ev models.PushEvent, now time.Time) error {
	if ev.ProgressMs == nil {
		return nil
	}
	existing, err := p.db.FindLiveByKey(ctx, server.ID, ev.SessionKey)
	if errors.Is(err, database.ErrNotFound) {
		p.emitReconciliation(ctx, server.ID, "progress for unknown session")
		return nil
	}
	if err != nil {
		return err
	}

	user, err := p.db.FindServerUserByID(ctx, existing.ServerUserID)
	if err != nil {
		return err
	}

	_, err = p.core.UpdateProgress(ctx, existing, *user, server, *ev.ProgressMs, now)
	return err
}

func (p *PushProcessor) emitReconciliation(ctx context.Context, serverID, reason string) {
	metrics.ReconciliationsTriggered.Inc()
	ev := models.ReconciliationEvent{ServerID: serverID, Reason: reason}
	if err := p.cache.Publish(ctx, models.TopicReconciliationNeeded, &ev); err != nil {
		logging.Warn().
			Str("component", "push").
			Str("server_id", serverID).
			Err(err).
			Msg("failed to request reconciliation")
	}
}

// carryForward builds update input for a push event that carries no
// snapshot: all descriptive fields keep their last observed values.
func carryForward(existing *models.Session, ev models.PushEvent) models.ProcessedSession {
	progress := existing.ProgressMs
	if ev.ProgressMs != nil {
		progress = *ev.ProgressMs
	}
	return models.ProcessedSession{
		SessionKey:      existing.SessionKey,
		RatingKey:       existing.RatingKey,
		Quality:         existing.Quality,
		BitrateKbps:     existing.BitrateKbps,
		ProgressMs:      progress,
		TotalDurationMs: existing.TotalDurationMs,
		IPAddress:       existing.IPAddress,
	}
}

// findObserved picks one session out of a snapshot by key.
func findObserved(observed []models.ObservedSession, sessionKey string) *models.ObservedSession {
	for i := range observed {
		if observed[i].SessionKey == sessionKey {
			return &observed[i]
		}
	}
	return nil
}
