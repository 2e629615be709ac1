// StreamSentry - Media Server Session Lifecycle and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamsentry

package tracker

import (
	"testing"
	"time"

	"github.com/tomtom215/streamsentry/internal/models"
)

var t0 = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func at(ms int64) time.Time {
	return t0.Add(time.Duration(ms) * time.Millisecond)
}

func TestAccumulatePause(t *testing.T) {
	t.Parallel()

	pausedAt := at(60_000)

	tests := []struct {
		name       string
		prev, next models.SessionState
		lastPaused *time.Time
		pausedMs   int64
		now        time.Time
		wantStamp  *time.Time
		wantMs     int64
	}{
		{
			name: "playing to paused stamps now",
			prev: models.StatePlaying, next: models.StatePaused,
			now:       at(60_000),
			wantStamp: &pausedAt,
			wantMs:    0,
		},
		{
			name: "paused to playing folds the phase",
			prev: models.StatePaused, next: models.StatePlaying,
			lastPaused: &pausedAt,
			now:        at(120_000),
			wantStamp:  nil,
			wantMs:     60_000,
		},
		{
			name: "paused to playing accumulates onto prior total",
			prev: models.StatePaused, next: models.StatePlaying,
			lastPaused: &pausedAt,
			pausedMs:   15_000,
			now:        at(120_000),
			wantStamp:  nil,
			wantMs:     75_000,
		},
		{
			name: "playing to playing passes through",
			prev: models.StatePlaying, next: models.StatePlaying,
			pausedMs: 5_000,
			now:      at(90_000),
			wantMs:   5_000,
		},
		{
			name: "paused to paused keeps the original stamp",
			prev: models.StatePaused, next: models.StatePaused,
			lastPaused: &pausedAt,
			now:        at(90_000),
			wantStamp:  &pausedAt,
			wantMs:     0,
		},
		{
			name: "paused to playing without stamp stays consistent",
			prev: models.StatePaused, next: models.StatePlaying,
			pausedMs:  30_000,
			now:       at(90_000),
			wantStamp: nil,
			wantMs:    30_000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			gotStamp, gotMs := AccumulatePause(tt.prev, tt.next, tt.lastPaused, tt.pausedMs, tt.now)

			if (gotStamp == nil) != (tt.wantStamp == nil) {
				t.Fatalf("stamp = %v, want %v", gotStamp, tt.wantStamp)
			}
			if gotStamp != nil && !gotStamp.Equal(*tt.wantStamp) {
				t.Errorf("stamp = %v, want %v", gotStamp, tt.wantStamp)
			}
			if gotMs != tt.wantMs {
				t.Errorf("pausedDurationMs = %d, want %d", gotMs, tt.wantMs)
			}
		})
	}
}

// Mirrors the pause/resume accounting scenario: play at 0, pause at 60s,
// play at 120s, stop at 240s.
func TestPauseAccountingEndToEnd(t *testing.T) {
	t.Parallel()

	stamp, total := AccumulatePause(models.StatePlaying, models.StatePaused, nil, 0, at(60_000))
	if stamp == nil || total != 0 {
		t.Fatalf("after pause: stamp=%v total=%d", stamp, total)
	}

	stamp, total = AccumulatePause(models.StatePaused, models.StatePlaying, stamp, total, at(120_000))
	if stamp != nil || total != 60_000 {
		t.Fatalf("after resume: stamp=%v total=%d", stamp, total)
	}

	durationMs, finalPaused := StopDuration(at(0), stamp, total, at(240_000))
	if finalPaused != 60_000 {
		t.Errorf("finalPausedDurationMs = %d, want 60000", finalPaused)
	}
	if durationMs != 180_000 {
		t.Errorf("durationMs = %d, want 180000", durationMs)
	}
}

func TestStopDuration(t *testing.T) {
	t.Parallel()

	pausedAt := at(200_000)

	tests := []struct {
		name        string
		startedAt   time.Time
		lastPaused  *time.Time
		pausedMs    int64
		stoppedAt   time.Time
		wantDur     int64
		wantPaused  int64
	}{
		{
			name:      "no pauses",
			startedAt: at(0), stoppedAt: at(300_000),
			wantDur: 300_000, wantPaused: 0,
		},
		{
			name:      "closed pauses subtract",
			startedAt: at(0), pausedMs: 45_000, stoppedAt: at(300_000),
			wantDur: 255_000, wantPaused: 45_000,
		},
		{
			name:      "open pause closes at stop",
			startedAt: at(0), lastPaused: &pausedAt, pausedMs: 10_000, stoppedAt: at(260_000),
			wantDur: 190_000, wantPaused: 70_000,
		},
		{
			name:      "duration floors at zero",
			startedAt: at(0), pausedMs: 500_000, stoppedAt: at(300_000),
			wantDur: 0, wantPaused: 500_000,
		},
		{
			name:      "stop before open pause stamp adds nothing",
			startedAt: at(0), lastPaused: &pausedAt, stoppedAt: at(150_000),
			wantDur: 150_000, wantPaused: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			gotDur, gotPaused := StopDuration(tt.startedAt, tt.lastPaused, tt.pausedMs, tt.stoppedAt)
			if gotDur != tt.wantDur {
				t.Errorf("durationMs = %d, want %d", gotDur, tt.wantDur)
			}
			if gotPaused != tt.wantPaused {
				t.Errorf("finalPausedDurationMs = %d, want %d", gotPaused, tt.wantPaused)
			}
		})
	}
}

func TestWatchCompletion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		progress int64
		total    int64
		want     bool
	}{
		{"exactly at threshold", 4_800_000, 6_000_000, true},
		{"above threshold", 5_900_000, 6_000_000, true},
		{"just below threshold", 4_799_999, 6_000_000, false},
		{"five percent", 300_000, 6_000_000, false},
		{"zero total never completes", 300_000, 0, false},
		{"negative total never completes", 300_000, -1, false},
		{"overshoot counts", 6_100_000, 6_000_000, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := WatchCompletion(tt.progress, tt.total); got != tt.want {
				t.Errorf("WatchCompletion(%d, %d) = %v, want %v", tt.progress, tt.total, got, tt.want)
			}
		})
	}
}

func TestShouldRecord(t *testing.T) {
	t.Parallel()

	tests := []struct {
		durationMs int64
		want       bool
	}{
		{0, false},
		{119_999, false},
		{120_000, true},
		{300_000, true},
	}

	for _, tt := range tests {
		if got := ShouldRecord(tt.durationMs); got != tt.want {
			t.Errorf("ShouldRecord(%d) = %v, want %v", tt.durationMs, got, tt.want)
		}
	}
}
