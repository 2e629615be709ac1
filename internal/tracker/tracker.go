// StreamSentry - Media Server Session Lifecycle and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamsentry

// Package tracker holds the pure timing arithmetic of the session lifecycle:
// pause accumulation, stop-duration calculation, the watch-completion
// threshold, and the engagement cutoff. Everything here is deterministic and
// I/O free; the lifecycle core supplies the clock.
package tracker

import (
	"time"

	"github.com/tomtom215/streamsentry/internal/models"
)

const (
	// WatchedThreshold is the progress fraction at which a session counts
	// as watched.
	WatchedThreshold = 0.80

	// MinRecordedDurationMs is the engagement cutoff: stops shorter than
	// this are flagged shortSession and excluded from analytics.
	MinRecordedDurationMs int64 = 120_000
)

// AccumulatePause advances the pause bookkeeping for a state transition
// observed at now. Completed pause phases fold into the running total; an
// open pause is marked by lastPausedAt.
//
//	playing -> paused   stamp lastPausedAt
//	paused  -> playing  fold (now - lastPausedAt) into the total, clear stamp
//	same    -> same     passthrough (an open pause keeps its original stamp)
func AccumulatePause(prev, next models.SessionState, lastPausedAt *time.Time, pausedDurationMs int64, now time.Time) (*time.Time, int64) {
	switch {
	case prev == models.StatePlaying && next == models.StatePaused:
		stamp := now
		return &stamp, pausedDurationMs

	case prev == models.StatePaused && next == models.StatePlaying:
		if lastPausedAt != nil {
			if delta := now.Sub(*lastPausedAt).Milliseconds(); delta > 0 {
				pausedDurationMs += delta
			}
		}
		return nil, pausedDurationMs

	default:
		return lastPausedAt, pausedDurationMs
	}
}

// StopDuration closes the pause bookkeeping at stoppedAt and returns the
// effective play duration. A pause still open at stop time is folded into
// the final pause total first; the duration is wall time minus pauses,
// never negative.
func StopDuration(startedAt time.Time, lastPausedAt *time.Time, pausedDurationMs int64, stoppedAt time.Time) (durationMs, finalPausedDurationMs int64) {
	finalPausedDurationMs = pausedDurationMs
	if lastPausedAt != nil {
		if delta := stoppedAt.Sub(*lastPausedAt).Milliseconds(); delta > 0 {
			finalPausedDurationMs += delta
		}
	}

	durationMs = stoppedAt.Sub(startedAt).Milliseconds() - finalPausedDurationMs
	if durationMs < 0 {
		durationMs = 0
	}
	return durationMs, finalPausedDurationMs
}

// WatchCompletion reports whether progress crossed the watched threshold.
// Sessions without a known total never complete.
func WatchCompletion(progressMs, totalDurationMs int64) bool {
	if totalDurationMs <= 0 {
		return false
	}
	return float64(progressMs)/float64(totalDurationMs) >= WatchedThreshold
}

// ShouldRecord reports whether a stop of the given duration counts as
// engagement for downstream analytics.
func ShouldRecord(durationMs int64) bool {
	return durationMs >= MinRecordedDurationMs
}
