// StreamSentry - Media Server Session Lifecycle and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamsentry

package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tomtom215/streamsentry/internal/database"
	"github.com/tomtom215/streamsentry/internal/logging"
	"github.com/tomtom215/streamsentry/internal/metrics"
	"github.com/tomtom215/streamsentry/internal/models"
	"github.com/tomtom215/streamsentry/internal/tracker"
)

// StopOptions tunes one stop.
type StopOptions struct {
	// ForceStopped marks an administrative termination.
	ForceStopped bool

	// PreserveWatched keeps the session's current watched flag instead of
	// re-running the completion check. The quality-change path sets this:
	// the old leg's progress will be finished by the new leg.
	PreserveWatched bool

	// Kind labels metrics: observed, quality_change, media_change, forced.
	Kind string
}

// StopResult is one stop's outcome. WasUpdated=false means another observer
// already stopped the row; the caller must treat the stop as already done.
type StopResult struct {
	WasUpdated   bool
	DurationMs   int64
	Watched      bool
	ShortSession bool
}

// StopSessionAtomic terminates a live session: closes the pause accounting,
// computes the effective duration, applies the watched latch, and updates
// the row iff still live. Cache eviction and the session:stopped broadcast
// happen only when this call actually performed the stop.
func (c *Core) StopSessionAtomic(ctx context.Context, session *models.Session, stoppedAt time.Time, opts StopOptions) (*StopResult, error) {
	if stoppedAt.IsZero() {
		stoppedAt = time.Now().UTC()
	}

	durationMs, finalPausedMs := tracker.StopDuration(
		session.StartedAt, session.LastPausedAt, session.PausedDurationMs, stoppedAt)

	watched := session.Watched
	if !opts.PreserveWatched {
		watched = watched || tracker.WatchCompletion(session.ProgressMs, session.TotalDurationMs)
	}
	shortSession := !tracker.ShouldRecord(durationMs)

	stop := database.SessionStop{
		StoppedAt:        stoppedAt,
		DurationMs:       durationMs,
		PausedDurationMs: finalPausedMs,
		Watched:          watched,
		ShortSession:     shortSession,
		ForceStopped:     opts.ForceStopped,
	}

	var applied bool
	err := c.db.WithSerializableTx(ctx, func(tx pgx.Tx) error {
		var err error
		applied, err = c.db.StopLiveTx(ctx, tx, session.ID, stop)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("stop session %s: %w", session.ID, err)
	}
	if !applied {
		metrics.StopRaces.Inc()
		return &StopResult{WasUpdated: false}, nil
	}

	kind := opts.Kind
	if kind == "" {
		kind = "observed"
	}
	metrics.SessionsStopped.WithLabelValues(kind).Inc()

	if err := c.cache.RemoveActiveSession(ctx, session.ID); err != nil {
		logging.Error().
			Str("component", "lifecycle").
			Str("session_id", session.ID).
			Err(err).
			Msg("failed to evict stopped session")
	}
	event := models.SessionStoppedEvent{SessionID: session.ID, StoppedAt: stoppedAt}
	if err := c.cache.Publish(ctx, models.TopicSessionStopped, &event); err != nil {
		logging.Error().
			Str("component", "lifecycle").
			Str("session_id", session.ID).
			Err(err).
			Msg("failed to publish session stop")
	}

	logging.Info().
		Str("component", "lifecycle").
		Str("session_id", session.ID).
		Str("kind", kind).
		Int64("duration_ms", durationMs).
		Int64("paused_ms", finalPausedMs).
		Bool("watched", watched).
		Bool("short_session", shortSession).
		Msg("session stopped")

	return &StopResult{
		WasUpdated:   true,
		DurationMs:   durationMs,
		Watched:      watched,
		ShortSession: shortSession,
	}, nil
}

// MediaChangeResult reports a media change: the stopped old session and the
// created new one.
type MediaChangeResult struct {
	Stopped *StopResult
	Created *CreateResult
}

// HandleMediaChange handles the same session key switching content: the old
// session stops honestly (its watched flag may still complete) and a fresh
// session starts for the new content with no continuity link. Returns nil
// when the stop lost to a concurrent observer; the winner handles the rest.
func (c *Core) HandleMediaChange(ctx context.Context, existing *models.Session, in CreateInput) (*MediaChangeResult, error) {
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	stopRes, err := c.StopSessionAtomic(ctx, existing, now, StopOptions{Kind: "media_change"})
	if err != nil {
		return nil, fmt.Errorf("stop for media change: %w", err)
	}
	if !stopRes.WasUpdated {
		return nil, nil
	}

	created, err := c.CreateSessionWithRules(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("create after media change: %w", err)
	}

	logging.Info().
		Str("component", "lifecycle").
		Str("old_session_id", existing.ID).
		Str("new_session_id", created.Session.ID).
		Str("session_key", existing.SessionKey).
		Msg("media change")

	return &MediaChangeResult{Stopped: stopRes, Created: created}, nil
}
