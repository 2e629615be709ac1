// StreamSentry - Media Server Session Lifecycle and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamsentry

package models

import (
	"testing"
	"time"

	json "github.com/goccy/go-json"
)

func TestSessionStateValid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state SessionState
		valid bool
		live  bool
	}{
		{StatePlaying, true, true},
		{StatePaused, true, true},
		{StateStopped, true, false},
		{SessionState("buffering"), false, false},
		{SessionState(""), false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			t.Parallel()
			if got := tt.state.Valid(); got != tt.valid {
				t.Errorf("Valid() = %v, want %v", got, tt.valid)
			}
			if got := tt.state.Live(); got != tt.live {
				t.Errorf("Live() = %v, want %v", got, tt.live)
			}
		})
	}
}

func TestNormalizeMediaType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw  string
		want MediaType
	}{
		{"movie", MediaMovie},
		{"Movie", MediaMovie},
		{"episode", MediaEpisode},
		{"Episode", MediaEpisode},
		{"track", MediaTrack},
		{"Audio", MediaTrack},
		{"TvChannel", MediaLive},
		{"clip", MediaLive},
		{"Photo", MediaPhoto},
		{"hologram", MediaUnknown},
		{"", MediaUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			t.Parallel()
			if got := NormalizeMediaType(tt.raw); got != tt.want {
				t.Errorf("NormalizeMediaType(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestSeverityTrustPenalty(t *testing.T) {
	t.Parallel()

	if got := SeverityHigh.TrustPenalty(); got != 20 {
		t.Errorf("high penalty = %d, want 20", got)
	}
	if got := SeverityWarning.TrustPenalty(); got != 10 {
		t.Errorf("warning penalty = %d, want 10", got)
	}
	if got := SeverityLow.TrustPenalty(); got != 5 {
		t.Errorf("low penalty = %d, want 5", got)
	}
}

func TestDefaultSeverity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		rule RuleType
		want Severity
	}{
		{RuleGeoRestriction, SeverityHigh},
		{RuleImpossibleTravel, SeverityHigh},
		{RuleConcurrentStreams, SeverityWarning},
		{RuleSimultaneousLocations, SeverityWarning},
		{RuleDeviceVelocity, SeverityLow},
	}

	for _, tt := range tests {
		t.Run(string(tt.rule), func(t *testing.T) {
			t.Parallel()
			if got := DefaultSeverity(tt.rule); got != tt.want {
				t.Errorf("DefaultSeverity(%v) = %v, want %v", tt.rule, got, tt.want)
			}
		})
	}
}

func TestRuleTypeMultiSession(t *testing.T) {
	t.Parallel()

	multi := map[RuleType]bool{
		RuleConcurrentStreams:     true,
		RuleSimultaneousLocations: true,
		RuleImpossibleTravel:      false,
		RuleDeviceVelocity:        false,
		RuleGeoRestriction:        false,
	}
	for rt, want := range multi {
		if got := rt.MultiSession(); got != want {
			t.Errorf("%v.MultiSession() = %v, want %v", rt, got, want)
		}
	}
}

func TestRuleAppliesTo(t *testing.T) {
	t.Parallel()

	global := Rule{ID: "r1", Type: RuleConcurrentStreams}
	if !global.AppliesTo("su-1") {
		t.Error("global rule should apply to any user")
	}

	target := "su-1"
	scoped := Rule{ID: "r2", Type: RuleConcurrentStreams, ServerUserID: &target}
	if !scoped.AppliesTo("su-1") {
		t.Error("scoped rule should apply to its user")
	}
	if scoped.AppliesTo("su-2") {
		t.Error("scoped rule should not apply to another user")
	}
}

func TestSessionChainRoot(t *testing.T) {
	t.Parallel()

	root := Session{ID: "a"}
	if got := root.ChainRoot(); got != "a" {
		t.Errorf("root ChainRoot = %q, want a", got)
	}

	ref := "a"
	follower := Session{ID: "b", ReferenceID: &ref}
	if got := follower.ChainRoot(); got != "a" {
		t.Errorf("follower ChainRoot = %q, want a", got)
	}
}

func TestSessionHasCoordinates(t *testing.T) {
	t.Parallel()

	lat, lon := 37.77, -122.42
	s := Session{GeoLatitude: &lat, GeoLongitude: &lon}
	if !s.HasCoordinates() {
		t.Error("expected coordinates to be usable")
	}

	zero := 0.0
	origin := Session{GeoLatitude: &zero, GeoLongitude: &zero}
	if origin.HasCoordinates() {
		t.Error("0,0 must be treated as unknown")
	}

	var none Session
	if none.HasCoordinates() {
		t.Error("nil coordinates must be unknown")
	}
}

func TestViolationRelatedSessionIDs(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(ViolationData{
		Summary:           "3 concurrent streams",
		RelatedSessionIDs: []string{"s1", "s2", "s3"},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	v := Violation{Data: data}
	got := v.RelatedSessionIDs()
	if len(got) != 3 || got[0] != "s1" || got[2] != "s3" {
		t.Errorf("RelatedSessionIDs = %v, want [s1 s2 s3]", got)
	}

	empty := Violation{}
	if ids := empty.RelatedSessionIDs(); ids != nil {
		t.Errorf("expected nil for empty data, got %v", ids)
	}

	malformed := Violation{Data: []byte("{not json")}
	if ids := malformed.RelatedSessionIDs(); ids != nil {
		t.Errorf("expected nil for malformed data, got %v", ids)
	}
}

func TestSessionLive(t *testing.T) {
	t.Parallel()

	s := Session{State: StatePlaying}
	if !s.Live() {
		t.Error("session without stoppedAt must be live")
	}

	now := time.Now()
	s.StoppedAt = &now
	if s.Live() {
		t.Error("session with stoppedAt must not be live")
	}
}
