// StreamSentry - Media Server Session Lifecycle and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamsentry

//go:build integration

package lifecycle_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/tomtom215/streamsentry/internal/cache"
	"github.com/tomtom215/streamsentry/internal/database"
	"github.com/tomtom215/streamsentry/internal/detection"
	"github.com/tomtom215/streamsentry/internal/lifecycle"
	"github.com/tomtom215/streamsentry/internal/models"
	"github.com/tomtom215/streamsentry/internal/notify"
	"github.com/tomtom215/streamsentry/internal/testinfra"
	"github.com/tomtom215/streamsentry/internal/violations"
)

var base = time.Date(2026, 8, 1, 20, 0, 0, 0, time.UTC)

type env struct {
	db    *database.DB
	cache *cache.Cache
	core  *lifecycle.Core

	server models.Server
	user   models.ServerUser
}

func setup(t *testing.T) *env {
	t.Helper()
	testinfra.SkipIfNoDocker(t)

	ctx := context.Background()
	pg := testinfra.StartPostgres(ctx, t)
	rd := testinfra.StartRedis(ctx, t)

	db, err := database.New(ctx, database.Config{URL: pg.DSN})
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	t.Cleanup(db.Close)
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	c, err := cache.New(ctx, cache.Config{Addr: rd.Addr})
	if err != nil {
		t.Fatalf("connect redis: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	recorder := violations.NewRecorder(db, c, notify.Disabled{})
	core := lifecycle.New(db, c, detection.NewEngine(), recorder)

	server := models.Server{
		ID:      "11111111-1111-1111-1111-111111111111",
		Name:    "den",
		Variant: models.VariantPlex,
		URL:     "http://localhost:32400",
		Token:   "token",
	}
	if err := db.UpsertServer(ctx, &server); err != nil {
		t.Fatalf("upsert server: %v", err)
	}

	users, err := db.EnsureServerUsers(ctx, server.ID, []models.ObservedUser{
		{ExternalID: "ext-alice", Username: "alice"},
	})
	if err != nil {
		t.Fatalf("ensure users: %v", err)
	}
	user, ok := users["ext-alice"]
	if !ok {
		t.Fatal("seeded user missing")
	}

	return &env{db: db, cache: c, core: core, server: server, user: user}
}

func (e *env) input(sessionKey, ratingKey string, progressMs, totalMs int64, at time.Time) lifecycle.CreateInput {
	rk := ratingKey
	return lifecycle.CreateInput{
		Processed: models.ProcessedSession{
			SessionKey:      sessionKey,
			ExternalUserID:  e.user.ExternalID,
			Username:        e.user.Username,
			RatingKey:       &rk,
			MediaTitle:      "Example Movie",
			MediaType:       models.MediaMovie,
			State:           models.StatePlaying,
			ProgressMs:      progressMs,
			TotalDurationMs: totalMs,
			IPAddress:       "192.168.1.20",
			Quality:         "1080p",
		},
		Server:     e.server,
		ServerUser: e.user,
		Now:        at,
	}
}

func (e *env) mustCreate(t *testing.T, in lifecycle.CreateInput) *lifecycle.CreateResult {
	t.Helper()
	res, err := e.core.CreateSessionWithRules(context.Background(), in)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return res
}

func (e *env) violationCount(t *testing.T) int {
	t.Helper()
	page, err := e.db.ListViolations(context.Background(), "", 200)
	if err != nil {
		t.Fatalf("list violations: %v", err)
	}
	return len(page.Violations)
}

func (e *env) trustScore(t *testing.T) int {
	t.Helper()
	u, err := e.db.FindServerUserByID(context.Background(), e.user.ID)
	if err != nil {
		t.Fatalf("find server user: %v", err)
	}
	return u.TrustScore
}

func TestCreateAndStopHappyPath(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	res := e.mustCreate(t, e.input("S1", "R1", 0, 6_000_000, base))
	if res.Session.StoppedAt != nil {
		t.Fatal("new session must be live")
	}

	stop, err := e.core.StopSessionAtomic(ctx, res.Session, base.Add(300*time.Second), lifecycle.StopOptions{Kind: "observed"})
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !stop.WasUpdated {
		t.Fatal("stop must win on a live session")
	}
	if stop.DurationMs != 300_000 {
		t.Errorf("durationMs = %d, want 300000", stop.DurationMs)
	}
	if stop.Watched {
		t.Error("5 percent progress must not be watched")
	}
	if stop.ShortSession {
		t.Error("300s is not a short session")
	}

	row, err := e.db.FindSessionByID(ctx, res.Session.ID)
	if err != nil {
		t.Fatalf("reload session: %v", err)
	}
	if row.StoppedAt == nil || !row.StoppedAt.Equal(base.Add(300*time.Second)) {
		t.Errorf("stoppedAt = %v", row.StoppedAt)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	res := e.mustCreate(t, e.input("S1", "R1", 0, 6_000_000, base))

	first, err := e.core.StopSessionAtomic(ctx, res.Session, base.Add(time.Minute), lifecycle.StopOptions{Kind: "observed"})
	if err != nil || !first.WasUpdated {
		t.Fatalf("first stop: updated=%v err=%v", first.WasUpdated, err)
	}

	second, err := e.core.StopSessionAtomic(ctx, res.Session, base.Add(2*time.Minute), lifecycle.StopOptions{Kind: "observed"})
	if err != nil {
		t.Fatalf("second stop: %v", err)
	}
	if second.WasUpdated {
		t.Error("second stop must lose the race")
	}

	row, err := e.db.FindSessionByID(ctx, res.Session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !row.StoppedAt.Equal(base.Add(time.Minute)) {
		t.Errorf("stoppedAt = %v, first stop must stand", row.StoppedAt)
	}
}

func TestPauseResumeAccounting(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	res := e.mustCreate(t, e.input("S1", "R1", 0, 6_000_000, base))

	in := e.input("S1", "R1", 60_000, 6_000_000, base.Add(60*time.Second))
	in.Processed.State = models.StatePaused
	paused, updated, err := e.core.UpdateExistingSession(ctx, lifecycle.UpdateInput{
		Existing:   res.Session,
		Processed:  in.Processed,
		NewState:   models.StatePaused,
		Server:     e.server,
		ServerUser: e.user,
		Now:        base.Add(60 * time.Second),
	})
	if err != nil || !updated {
		t.Fatalf("pause: updated=%v err=%v", updated, err)
	}
	if paused.LastPausedAt == nil {
		t.Fatal("paused session must carry a pause stamp")
	}

	resumeIn := e.input("S1", "R1", 60_000, 6_000_000, base.Add(120*time.Second))
	resumed, updated, err := e.core.UpdateExistingSession(ctx, lifecycle.UpdateInput{
		Existing:   paused,
		Processed:  resumeIn.Processed,
		NewState:   models.StatePlaying,
		Server:     e.server,
		ServerUser: e.user,
		Now:        base.Add(120 * time.Second),
	})
	if err != nil || !updated {
		t.Fatalf("resume: updated=%v err=%v", updated, err)
	}
	if resumed.PausedDurationMs != 60_000 {
		t.Errorf("pausedDurationMs = %d, want 60000", resumed.PausedDurationMs)
	}
	if resumed.LastPausedAt != nil {
		t.Error("resumed session must clear the pause stamp")
	}

	stop, err := e.core.StopSessionAtomic(ctx, resumed, base.Add(240*time.Second), lifecycle.StopOptions{Kind: "observed"})
	if err != nil || !stop.WasUpdated {
		t.Fatalf("stop: updated=%v err=%v", stop.WasUpdated, err)
	}
	if stop.DurationMs != 180_000 {
		t.Errorf("durationMs = %d, want 180000 (240s wall minus 60s paused)", stop.DurationMs)
	}
}

func TestQualityChangeContinuity(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	a := e.mustCreate(t, e.input("K1", "R1", 0, 6_000_000, base))

	b := e.mustCreate(t, e.input("K2", "R1", 30_000, 6_000_000, base.Add(30*time.Second)))
	if b.QualityChange == nil {
		t.Fatal("same content under a new key must be a quality change")
	}
	if b.QualityChange.StoppedSessionID != a.Session.ID {
		t.Errorf("stopped %s, want %s", b.QualityChange.StoppedSessionID, a.Session.ID)
	}
	if b.Session.ReferenceID == nil || *b.Session.ReferenceID != a.Session.ID {
		t.Errorf("referenceId = %v, want chain root %s", b.Session.ReferenceID, a.Session.ID)
	}

	row, err := e.db.FindSessionByID(ctx, a.Session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if row.StoppedAt == nil {
		t.Error("old leg must be stopped")
	}
}

func TestMediaChange(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	a := e.mustCreate(t, e.input("K", "R1", 0, 6_000_000, base))

	res, err := e.core.HandleMediaChange(ctx, a.Session, e.input("K", "R2", 0, 3_000_000, base.Add(50*time.Second)))
	if err != nil {
		t.Fatalf("media change: %v", err)
	}
	if res == nil {
		t.Fatal("media change must win on a live session")
	}
	if !res.Stopped.WasUpdated {
		t.Error("old session must be stopped")
	}
	created := res.Created.Session
	if created.SessionKey != "K" {
		t.Errorf("sessionKey = %s, want K", created.SessionKey)
	}
	if created.ReferenceID != nil {
		t.Error("media change must not link a continuity chain")
	}

	row, err := e.db.FindSessionByID(ctx, a.Session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if row.StoppedAt == nil {
		t.Error("old session row must be stopped")
	}
}

func TestConcurrentStreamsViolationOnce(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	params, _ := json.Marshal(map[string]any{"max_streams": 1})
	rule := models.Rule{
		ID:         "22222222-2222-2222-2222-222222222222",
		Name:       "one stream",
		Type:       models.RuleConcurrentStreams,
		Parameters: params,
		IsActive:   true,
	}
	if err := e.db.UpsertRule(ctx, &rule); err != nil {
		t.Fatalf("upsert rule: %v", err)
	}
	rules := []models.Rule{rule}

	in1 := e.input("S1", "R1", 0, 6_000_000, base)
	in1.Rules = rules
	first := e.mustCreate(t, in1)
	if e.violationCount(t) != 0 {
		t.Fatal("single stream must not violate")
	}

	recent, err := e.db.BatchRecentSessionsByUsers(ctx, []string{e.user.ID}, 2)
	if err != nil {
		t.Fatal(err)
	}

	in2 := e.input("S2", "R2", 0, 6_000_000, base)
	in2.Rules = rules
	in2.Recent = recent[e.user.ID]
	second := e.mustCreate(t, in2)
	if len(second.Violations) != 1 {
		t.Fatalf("violations = %d, want 1", len(second.Violations))
	}
	if got := e.violationCount(t); got != 1 {
		t.Fatalf("violation rows = %d, want 1", got)
	}
	if got := e.trustScore(t); got != 90 {
		t.Errorf("trustScore = %d, want 90 (warning penalty)", got)
	}

	// A third overlapping stream re-detects the same situation; dedup
	// absorbs it while the first violation is unacknowledged.
	recent, err = e.db.BatchRecentSessionsByUsers(ctx, []string{e.user.ID}, 2)
	if err != nil {
		t.Fatal(err)
	}
	in3 := e.input("S3", "R3", 0, 6_000_000, base.Add(time.Second))
	in3.Rules = rules
	in3.Recent = recent[e.user.ID]
	third := e.mustCreate(t, in3)
	if len(third.Violations) != 0 {
		t.Errorf("overlapping re-detection recorded %d violations, want 0", len(third.Violations))
	}
	if got := e.violationCount(t); got != 1 {
		t.Errorf("violation rows = %d, want still 1", got)
	}

	_ = first
}

// Parallel creates all observing the same overlap must collapse onto one
// violation row and one trust decrement; the transaction-scoped advisory
// lock is what serializes them.
func TestParallelEvaluationsRecordOneViolation(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	params, _ := json.Marshal(map[string]any{"max_streams": 1})
	rule := models.Rule{
		ID:         "44444444-4444-4444-4444-444444444444",
		Name:       "one stream",
		Type:       models.RuleConcurrentStreams,
		Parameters: params,
		IsActive:   true,
	}
	if err := e.db.UpsertRule(ctx, &rule); err != nil {
		t.Fatalf("upsert rule: %v", err)
	}
	rules := []models.Rule{rule}

	// One stream already running; every contender sees it as overlap.
	e.mustCreate(t, e.input("S0", "R0", 0, 6_000_000, base))

	recent, err := e.db.BatchRecentSessionsByUsers(ctx, []string{e.user.ID}, 2)
	if err != nil {
		t.Fatal(err)
	}

	const contenders = 6
	errs := make(chan error, contenders)
	var wg sync.WaitGroup
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			in := e.input(fmt.Sprintf("S%d", i+1), fmt.Sprintf("R%d", i+1), 0, 6_000_000, base.Add(time.Duration(i)*time.Millisecond))
			in.Rules = rules
			in.Recent = recent[e.user.ID]
			if _, err := e.core.CreateSessionWithRules(ctx, in); err != nil {
				errs <- fmt.Errorf("contender %d: %w", i, err)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("create under contention: %v", err)
	}

	if got := e.violationCount(t); got != 1 {
		t.Fatalf("violation rows = %d, want exactly 1", got)
	}
	if got := e.trustScore(t); got != 90 {
		t.Errorf("trustScore = %d, want 90 (one warning penalty)", got)
	}
}

func TestImpossibleTravelViolation(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	rule := models.Rule{
		ID:         "33333333-3333-3333-3333-333333333333",
		Name:       "no teleporting",
		Type:       models.RuleImpossibleTravel,
		Parameters: json.RawMessage(`{"max_speed_kmh": 500}`),
		IsActive:   true,
	}
	if err := e.db.UpsertRule(ctx, &rule); err != nil {
		t.Fatalf("upsert rule: %v", err)
	}

	sf := e.input("SF", "R1", 0, 6_000_000, base.Add(-time.Hour))
	sf.Processed.Geo = models.GeoLocation{
		City: "San Francisco", CountryCode: "US",
		Latitude: 37.77, Longitude: -122.42,
	}
	a := e.mustCreate(t, sf)
	if _, err := e.core.StopSessionAtomic(ctx, a.Session, base, lifecycle.StopOptions{Kind: "observed"}); err != nil {
		t.Fatalf("stop: %v", err)
	}

	recent, err := e.db.BatchRecentSessionsByUsers(ctx, []string{e.user.ID}, 2)
	if err != nil {
		t.Fatal(err)
	}

	ny := e.input("NY", "R2", 0, 6_000_000, base.Add(300*time.Second))
	ny.Processed.Geo = models.GeoLocation{
		City: "New York", CountryCode: "US",
		Latitude: 40.71, Longitude: -74.00,
	}
	ny.Rules = []models.Rule{rule}
	ny.Recent = recent[e.user.ID]

	res := e.mustCreate(t, ny)
	if len(res.Violations) != 1 {
		t.Fatalf("violations = %d, want 1", len(res.Violations))
	}
	v := res.Violations[0].Violation
	if v.Severity != models.SeverityHigh {
		t.Errorf("severity = %s, want high (~49560 km/h against a 500 limit)", v.Severity)
	}
	if got := e.trustScore(t); got != 80 {
		t.Errorf("trustScore = %d, want 80 (high penalty)", got)
	}
}

func TestAtMostOneLivePerKey(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	a := e.mustCreate(t, e.input("K1", "R1", 0, 6_000_000, base))
	b := e.mustCreate(t, e.input("K2", "R1", 10_000, 6_000_000, base.Add(10*time.Second)))

	live, err := e.db.LiveSessionsByServer(ctx, e.server.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(live) != 1 {
		t.Fatalf("live sessions = %d, want 1 (quality change stops the old leg)", len(live))
	}
	if live[0].ID != b.Session.ID {
		t.Errorf("live session = %s, want %s", live[0].ID, b.Session.ID)
	}
	_ = a
}
