// StreamSentry - Media Server Session Lifecycle and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamsentry

package lifecycle

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tomtom215/streamsentry/internal/database"
	"github.com/tomtom215/streamsentry/internal/logging"
	"github.com/tomtom215/streamsentry/internal/metrics"
	"github.com/tomtom215/streamsentry/internal/models"
	"github.com/tomtom215/streamsentry/internal/tracker"
)

// UpdateInput carries one live-session update.
type UpdateInput struct {
	Existing   *models.Session
	Processed  models.ProcessedSession
	NewState   models.SessionState
	Server     models.Server
	ServerUser models.ServerUser
	Now        time.Time
}

// UpdateExistingSession applies a new observation to a live session: pause
// accounting, the watched latch, progress, and quality. The stopped_at guard
// makes it idempotent against a concurrent stop; when the stop won, the
// existing row comes back unmodified and nothing is broadcast.
func (c *Core) UpdateExistingSession(ctx context.Context, in UpdateInput) (*models.Session, bool, error) {
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	existing := in.Existing

	// Jellyfin reports when the pause actually started; prefer that stamp
	// over our observation time when entering paused.
	pauseRef := now
	if in.NewState == models.StatePaused && in.Processed.LastPausedDate != nil {
		pauseRef = *in.Processed.LastPausedDate
	}
	lastPausedAt, pausedDurationMs := tracker.AccumulatePause(
		existing.State, in.NewState, existing.LastPausedAt, existing.PausedDurationMs, pauseRef)

	watched := existing.Watched ||
		tracker.WatchCompletion(in.Processed.ProgressMs, in.Processed.TotalDurationMs)

	update := database.SessionUpdate{
		State:            in.NewState,
		Quality:          in.Processed.Quality,
		BitrateKbps:      in.Processed.BitrateKbps,
		ProgressMs:       in.Processed.ProgressMs,
		TotalDurationMs:  in.Processed.TotalDurationMs,
		PausedDurationMs: pausedDurationMs,
		LastPausedAt:     lastPausedAt,
		Watched:          watched,
		LastSeenAt:       now,
		IPAddress:        in.Processed.IPAddress,
	}

	var applied bool
	err := c.db.WithSerializableTx(ctx, func(tx pgx.Tx) error {
		var err error
		applied, err = c.db.UpdateLiveByIDTx(ctx, tx, existing.ID, update)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	if !applied {
		metrics.StopRaces.Inc()
		return existing, false, nil
	}
	metrics.SessionsUpdated.Inc()

	updated := *existing
	updated.State = in.NewState
	updated.Quality = in.Processed.Quality
	updated.BitrateKbps = in.Processed.BitrateKbps
	updated.ProgressMs = in.Processed.ProgressMs
	updated.TotalDurationMs = in.Processed.TotalDurationMs
	updated.PausedDurationMs = pausedDurationMs
	updated.LastPausedAt = lastPausedAt
	updated.Watched = watched
	updated.LastSeenAt = now
	updated.UpdatedAt = now
	if in.Processed.IPAddress != "" {
		updated.IPAddress = in.Processed.IPAddress
	}

	projection := Project(&updated, &in.ServerUser, &in.Server)
	if err := c.cache.AddActiveSession(ctx, &projection); err != nil {
		logging.Error().
			Str("component", "lifecycle").
			Str("session_id", updated.ID).
			Err(err).
			Msg("failed to project updated session")
	}
	if err := c.cache.Publish(ctx, models.TopicSessionUpdated, &projection); err != nil {
		logging.Error().
			Str("component", "lifecycle").
			Str("session_id", updated.ID).
			Err(err).
			Msg("failed to publish session update")
	}

	return &updated, true, nil
}

// UpdateProgress is the cheap push-progress path: progress and the watched
// latch only. session:updated is published only when watched transitions
// false to true, so idle progress events stay off the bus.
func (c *Core) UpdateProgress(ctx context.Context, existing *models.Session, serverUser models.ServerUser, server models.Server, progressMs int64, now time.Time) (bool, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	watched := existing.Watched ||
		tracker.WatchCompletion(progressMs, existing.TotalDurationMs)

	var applied bool
	err := c.db.WithSerializableTx(ctx, func(tx pgx.Tx) error {
		var err error
		applied, err = c.db.UpdateProgressTx(ctx, tx, existing.ID, progressMs, watched, now)
		return err
	})
	if err != nil {
		return false, err
	}
	if !applied {
		metrics.StopRaces.Inc()
		return false, nil
	}

	updated := *existing
	updated.ProgressMs = progressMs
	updated.Watched = watched
	updated.LastSeenAt = now

	projection := Project(&updated, &serverUser, &server)
	if err := c.cache.AddActiveSession(ctx, &projection); err != nil {
		logging.Error().
			Str("component", "lifecycle").
			Str("session_id", updated.ID).
			Err(err).
			Msg("failed to project progress update")
	}

	if watched && !existing.Watched {
		if err := c.cache.Publish(ctx, models.TopicSessionUpdated, &projection); err != nil {
			logging.Error().
				Str("component", "lifecycle").
				Str("session_id", updated.ID).
				Err(err).
				Msg("failed to publish watched transition")
		}
	}
	return true, nil
}
