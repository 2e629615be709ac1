// StreamSentry - Media Server Session Lifecycle and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamsentry

// Package lifecycle is the session lifecycle core: the only place sessions
// are created, updated, and stopped during normal operation. Both observers
// (poller and push processor) drive it; it coordinates the state tracker,
// the rule engine, and the violation recorder inside one SERIALIZABLE
// transaction per event, then projects to the cache and broadcasts strictly
// after commit.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tomtom215/streamsentry/internal/cache"
	"github.com/tomtom215/streamsentry/internal/database"
	"github.com/tomtom215/streamsentry/internal/detection"
	"github.com/tomtom215/streamsentry/internal/logging"
	"github.com/tomtom215/streamsentry/internal/metrics"
	"github.com/tomtom215/streamsentry/internal/models"
	"github.com/tomtom215/streamsentry/internal/tracker"
	"github.com/tomtom215/streamsentry/internal/violations"
)

// resumeWindow is how far back the resume check searches for an unfinished
// session of the same content.
const resumeWindow = 24 * time.Hour

// Core owns session mutation. All DB writes go through serializable
// transactions; cache writes and publishes happen only after commit.
type Core struct {
	db       *database.DB
	cache    *cache.Cache
	engine   *detection.Engine
	recorder *violations.Recorder
}

// New wires the core.
func New(db *database.DB, c *cache.Cache, engine *detection.Engine, recorder *violations.Recorder) *Core {
	return &Core{db: db, cache: c, engine: engine, recorder: recorder}
}

// CreateInput carries everything a session creation needs. The caller holds
// the distributed create-lock for (Server.ID, Processed.SessionKey).
type CreateInput struct {
	Processed  models.ProcessedSession
	Server     models.Server
	ServerUser models.ServerUser
	Rules      []models.Rule
	Recent     []models.Session
	Now        time.Time

	// Origin labels metrics: "poll" or "push".
	Origin string
}

// QualityChange reports the old session a quality switch stopped.
type QualityChange struct {
	StoppedSessionID string
	DurationMs       int64
}

// CreateResult is what a creation produced.
type CreateResult struct {
	Session       *models.Session
	Violations    []*violations.InsertResult
	QualityChange *QualityChange
}

// CreateSessionWithRules creates a session, evaluates policy rules against
// it, and records non-duplicate violations, all in one transaction. The
// quality-change and resume checks run before the transaction; both are
// idempotent reads plus an idempotent stop.
func (c *Core) CreateSessionWithRules(ctx context.Context, in CreateInput) (*CreateResult, error) {
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var (
		referenceID   *string
		qualityChange *QualityChange
	)

	if in.Processed.RatingKey != nil {
		ratingKey := *in.Processed.RatingKey

		// Quality change: same user still live on the same content under
		// another session key. Stop the old leg, preserving its watched
		// flag — the new leg continues the same viewing.
		existing, err := c.db.FindLiveByContent(ctx, in.ServerUser.ID, ratingKey)
		switch {
		case err == nil:
			stopRes, err := c.StopSessionAtomic(ctx, existing, now, StopOptions{PreserveWatched: true, Kind: "quality_change"})
			if err != nil {
				return nil, fmt.Errorf("stop for quality change: %w", err)
			}
			if stopRes.WasUpdated {
				root := existing.ChainRoot()
				referenceID = &root
				qualityChange = &QualityChange{StoppedSessionID: existing.ID, DurationMs: stopRes.DurationMs}
			}
		case !errors.Is(err, database.ErrNotFound):
			return nil, fmt.Errorf("quality change check: %w", err)
		}

		// Resume: recently finished, unfinished viewing of the same content
		// whose progress is at or behind this observation.
		if referenceID == nil {
			prev, err := c.db.RecentFinishedByContent(ctx, in.ServerUser.ID, ratingKey, now.Add(-resumeWindow))
			switch {
			case err == nil:
				if !prev.Watched && prev.ProgressMs <= in.Processed.ProgressMs {
					root := prev.ChainRoot()
					referenceID = &root
				}
			case !errors.Is(err, database.ErrNotFound):
				return nil, fmt.Errorf("resume check: %w", err)
			}
		}
	}

	session := c.buildSession(in, referenceID, now)

	var violationResults []*violations.InsertResult
	err := c.db.WithSerializableTx(ctx, func(tx pgx.Tx) error {
		violationResults = violationResults[:0] // retry-safe

		if err := c.db.InsertSessionTx(ctx, tx, session); err != nil {
			return err
		}

		for _, result := range c.engine.Evaluate(session, in.Rules, in.Recent) {
			if !result.Violated {
				continue
			}
			dup, err := c.recorder.IsDuplicateInTx(ctx, tx,
				in.ServerUser.ID, result.Rule.Type, session.ID, result.Data.RelatedSessionIDs)
			if err != nil {
				return err
			}
			if dup {
				metrics.ViolationsDeduplicated.WithLabelValues(string(result.Rule.Type)).Inc()
				continue
			}
			inserted, err := c.recorder.CreateInTx(ctx, tx, result.Rule, in.ServerUser.ID, session.ID, result)
			if err != nil {
				return err
			}
			if inserted != nil {
				violationResults = append(violationResults, inserted)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	origin := in.Origin
	if origin == "" {
		origin = "poll"
	}
	metrics.SessionsStarted.WithLabelValues(origin).Inc()
	for _, res := range violationResults {
		metrics.ViolationsRecorded.WithLabelValues(
			string(res.Violation.RuleType), string(res.Violation.Severity)).Inc()
	}

	// Post-commit: project and broadcast. Failures here never unwind the
	// committed rows; the next poll tick re-converges the cache.
	projection := Project(session, &in.ServerUser, &in.Server)
	if err := c.cache.AddActiveSession(ctx, &projection); err != nil {
		logging.Error().
			Str("component", "lifecycle").
			Str("session_id", session.ID).
			Err(err).
			Msg("failed to project created session")
	}
	if err := c.cache.Publish(ctx, models.TopicSessionStarted, &projection); err != nil {
		logging.Error().
			Str("component", "lifecycle").
			Str("session_id", session.ID).
			Err(err).
			Msg("failed to publish session start")
	}
	c.recorder.Broadcast(ctx, violationResults)

	logging.Info().
		Str("component", "lifecycle").
		Str("session_id", session.ID).
		Str("server", in.Server.Name).
		Str("user", in.ServerUser.Username).
		Str("media", session.MediaTitle).
		Str("quality", session.Quality).
		Bool("resumed", referenceID != nil && qualityChange == nil).
		Bool("quality_change", qualityChange != nil).
		Int("violations", len(violationResults)).
		Msg("session started")

	return &CreateResult{
		Session:       session,
		Violations:    violationResults,
		QualityChange: qualityChange,
	}, nil
}

func (c *Core) buildSession(in CreateInput, referenceID *string, now time.Time) *models.Session {
	p := in.Processed

	s := &models.Session{
		ID:           uuid.NewString(),
		ServerID:     in.Server.ID,
		ServerUserID: in.ServerUser.ID,
		SessionKey:   p.SessionKey,
		RatingKey:    p.RatingKey,
		State:        p.State,

		MediaTitle:    p.MediaTitle,
		MediaType:     p.MediaType,
		ShowTitle:     p.ShowTitle,
		SeasonNumber:  p.SeasonNumber,
		EpisodeNumber: p.EpisodeNumber,
		Year:          p.Year,
		ArtworkPath:   p.ArtworkPath,

		StartedAt:  now,
		LastSeenAt: now,

		ProgressMs:      p.ProgressMs,
		TotalDurationMs: p.TotalDurationMs,
		Watched:         tracker.WatchCompletion(p.ProgressMs, p.TotalDurationMs),
		ReferenceID:     referenceID,

		IPAddress:     p.IPAddress,
		PlayerName:    p.PlayerName,
		Device:        p.Device,
		DeviceID:      p.DeviceID,
		Product:       p.Product,
		Platform:      p.Platform,
		Quality:       p.Quality,
		IsTranscode:   p.IsTranscode,
		VideoDecision: p.VideoDecision,
		AudioDecision: p.AudioDecision,
		BitrateKbps:   p.BitrateKbps,

		CreatedAt: now,
		UpdatedAt: now,
	}

	if p.Geo.City != "" {
		s.GeoCity = &p.Geo.City
	}
	if p.Geo.Region != "" {
		s.GeoRegion = &p.Geo.Region
	}
	if p.Geo.Country != "" {
		s.GeoCountry = &p.Geo.Country
	}
	if p.Geo.CountryCode != "" {
		s.GeoCountryCode = &p.Geo.CountryCode
	}
	if p.Geo.HasCoordinates() {
		lat, lon := p.Geo.Latitude, p.Geo.Longitude
		s.GeoLatitude, s.GeoLongitude = &lat, &lon
	}

	// A session born paused starts its pause clock immediately. Jellyfin
	// reports the actual pause start; that stamp wins when present.
	if s.State == models.StatePaused {
		stamp := now
		if p.LastPausedDate != nil {
			stamp = *p.LastPausedDate
		}
		s.LastPausedAt = &stamp
	}

	return s
}

// Project builds the cache/bus projection of one session.
func Project(s *models.Session, serverUser *models.ServerUser, server *models.Server) models.ActiveSession {
	thumb := ""
	if serverUser.Thumb != nil {
		thumb = *serverUser.Thumb
	}
	return models.ActiveSession{
		Session:    *s,
		Username:   serverUser.Username,
		UserThumb:  thumb,
		ServerName: server.Name,
	}
}
