// StreamSentry - Media Server Session Lifecycle and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamsentry

package mediaserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tomtom215/streamsentry/internal/models"
)

func testServer(t *testing.T, variant models.ServerVariant, url string) models.Server {
	t.Helper()
	return models.Server{
		ID:      "srv-test",
		Name:    "test",
		Variant: variant,
		URL:     url,
		Token:   "secret-token",
	}
}

func TestLocalResolver(t *testing.T) {
	r := LocalResolver{}
	cases := []struct {
		ip   string
		city string
	}{
		{"127.0.0.1", "Local Network"},
		{"192.168.1.50", "Local Network"},
		{"10.0.0.9", "Local Network"},
		{"203.0.113.7", ""},
		{"not-an-ip", ""},
		{"", ""},
	}
	for _, c := range cases {
		got := r.Resolve(context.Background(), c.ip)
		if got.City != c.city {
			t.Errorf("Resolve(%q).City = %q, want %q", c.ip, got.City, c.city)
		}
		if got.HasCoordinates() {
			t.Errorf("Resolve(%q) must not carry coordinates", c.ip)
		}
	}
}

func TestNewClientVariants(t *testing.T) {
	for _, v := range []models.ServerVariant{models.VariantPlex, models.VariantJellyfin, models.VariantEmby} {
		c, err := NewClient(testServer(t, v, "http://localhost:1"), nil)
		if err != nil {
			t.Fatalf("NewClient(%s): %v", v, err)
		}
		if c.Variant() != v {
			t.Errorf("variant = %s, want %s", c.Variant(), v)
		}
	}
	if _, err := NewClient(models.Server{Variant: "kodi"}, nil); err == nil {
		t.Error("unknown variant must be rejected")
	}
}

const plexSessionsBody = `{
  "MediaContainer": {
    "Metadata": [
      {
        "sessionKey": "42",
        "ratingKey": "1001",
        "title": "Example Movie",
        "type": "movie",
        "year": 2024,
        "thumb": "/library/metadata/1001/thumb",
        "duration": 6000000,
        "viewOffset": 1500000,
        "User": {"id": "7", "title": "alice", "thumb": "/users/7/thumb"},
        "Player": {
          "address": "203.0.113.7",
          "device": "Apple TV",
          "machineIdentifier": "dev-1",
          "platform": "tvOS",
          "product": "Plex for Apple TV",
          "state": "paused",
          "title": "Living Room"
        },
        "Media": [{"videoResolution": "1080", "bitrate": 8000, "width": 1920, "height": 1080}],
        "TranscodeSession": {"videoDecision": "transcode", "audioDecision": "copy"}
      }
    ]
  }
}`

func TestPlexGetSessions(t *testing.T) {
	var gotToken, gotPath string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Plex-Token")
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(plexSessionsBody))
	}))
	defer ts.Close()

	c := NewPlexClient(testServer(t, models.VariantPlex, ts.URL), LocalResolver{})
	sessions, err := c.GetSessions(context.Background())
	if err != nil {
		t.Fatalf("GetSessions: %v", err)
	}
	if gotToken != "secret-token" {
		t.Errorf("token header = %q", gotToken)
	}
	if gotPath != "/status/sessions" {
		t.Errorf("path = %q", gotPath)
	}
	if len(sessions) != 1 {
		t.Fatalf("got %d sessions", len(sessions))
	}

	s := sessions[0]
	if s.SessionKey != "42" || s.ExternalUserID != "7" || s.Username != "alice" {
		t.Errorf("identity wrong: %+v", s)
	}
	if s.State != models.StatePaused {
		t.Errorf("state = %s, want paused", s.State)
	}
	if s.ProgressMs != 1_500_000 || s.TotalDurationMs != 6_000_000 {
		t.Errorf("progress %d/%d", s.ProgressMs, s.TotalDurationMs)
	}
	if s.Resolution != "1080" || s.BitrateKbps != 8000 {
		t.Errorf("quality inputs wrong: %+v", s)
	}
	if !s.IsTranscode || s.VideoDecision != "transcode" || s.AudioDecision != "copy" {
		t.Errorf("transcode mapping wrong: %+v", s)
	}
	if s.Geo.City != "" {
		t.Errorf("public IP must stay unresolved, got %q", s.Geo.City)
	}
}

const jellyfinSessionsBody = `[
  {
    "Id": "jf-sess-1",
    "UserId": "u-1",
    "UserName": "bob",
    "RemoteEndPoint": "192.168.1.50",
    "DeviceName": "Chrome",
    "DeviceId": "dev-2",
    "Client": "Jellyfin Web",
    "LastPausedDate": "2026-08-01T20:05:00Z",
    "NowPlayingItem": {
      "Id": "item-1",
      "Name": "Pilot",
      "Type": "Episode",
      "SeriesName": "Example Show",
      "SeriesId": "series-1",
      "ParentIndexNumber": 1,
      "IndexNumber": 3,
      "RunTimeTicks": 36000000000,
      "ImageTags": {"Primary": "abc"}
    },
    "PlayState": {"PositionTicks": 9000000000, "IsPaused": true, "PlayMethod": "Transcode"},
    "TranscodingInfo": {"Width": 1280, "Height": 720, "Bitrate": 4000000, "IsVideoDirect": false, "IsAudioDirect": true}
  },
  {
    "Id": "jf-idle",
    "UserId": "u-2",
    "UserName": "carol"
  }
]`

func TestJellyfinGetSessions(t *testing.T) {
	var gotToken, gotPath string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Emby-Token")
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(jellyfinSessionsBody))
	}))
	defer ts.Close()

	c := NewJellyfinClient(testServer(t, models.VariantJellyfin, ts.URL), LocalResolver{})
	sessions, err := c.GetSessions(context.Background())
	if err != nil {
		t.Fatalf("GetSessions: %v", err)
	}
	if gotToken != "secret-token" {
		t.Errorf("token header = %q", gotToken)
	}
	if gotPath != "/Sessions" {
		t.Errorf("path = %q", gotPath)
	}
	if len(sessions) != 1 {
		t.Fatalf("idle session must be skipped, got %d", len(sessions))
	}

	s := sessions[0]
	if s.SessionKey != "jf-sess-1" || s.Username != "bob" {
		t.Errorf("identity wrong: %+v", s)
	}
	// Ticks are 100ns units: 9e9 ticks = 900,000 ms.
	if s.ProgressMs != 900_000 {
		t.Errorf("progressMs = %d, want 900000", s.ProgressMs)
	}
	if s.TotalDurationMs != 3_600_000 {
		t.Errorf("totalDurationMs = %d, want 3600000", s.TotalDurationMs)
	}
	if s.State != models.StatePaused {
		t.Errorf("state = %s, want paused", s.State)
	}
	if s.LastPausedDate == nil {
		t.Error("LastPausedDate must be carried through")
	}
	if s.ShowTitle != "Example Show" || s.SeasonNumber != 1 || s.EpisodeNumber != 3 {
		t.Errorf("episode mapping wrong: %+v", s)
	}
	if !s.IsTranscode || s.VideoDecision != "transcode" || s.AudioDecision != "directplay" {
		t.Errorf("transcode mapping wrong: %+v", s)
	}
	if s.Width != 1280 || s.Height != 720 || s.BitrateKbps != 4000 {
		t.Errorf("quality inputs wrong: %+v", s)
	}
	if s.Geo.City != "Local Network" {
		t.Errorf("private IP must resolve to Local Network, got %q", s.Geo.City)
	}
}

func TestEmbyPathsAndAuth(t *testing.T) {
	var paths []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Emby-Token") != "secret-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		paths = append(paths, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/emby/Sessions":
			_, _ = w.Write([]byte(`[]`))
		case "/emby/Users":
			_, _ = w.Write([]byte(`[{"Id": "u-9", "Name": "dave", "PrimaryImageTag": "t"}]`))
		default:
			_, _ = w.Write([]byte(`{}`))
		}
	}))
	defer ts.Close()

	c := NewEmbyClient(testServer(t, models.VariantEmby, ts.URL), LocalResolver{})
	ctx := context.Background()

	if _, err := c.GetSessions(ctx); err != nil {
		t.Fatalf("GetSessions: %v", err)
	}
	users, err := c.GetUsers(ctx)
	if err != nil {
		t.Fatalf("GetUsers: %v", err)
	}
	if len(users) != 1 || users[0].ExternalID != "u-9" || users[0].Thumb != "/Users/u-9/Images/Primary" {
		t.Errorf("users mapping wrong: %+v", users)
	}
	if err := c.TestConnection(ctx); err != nil {
		t.Fatalf("TestConnection: %v", err)
	}

	want := []string{"/emby/Sessions", "/emby/Users", "/emby/System/Info/Public"}
	if len(paths) != len(want) {
		t.Fatalf("paths = %v", paths)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("path[%d] = %q, want %q", i, paths[i], want[i])
		}
	}
}

func TestGetJSONNonOKStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	c := NewPlexClient(testServer(t, models.VariantPlex, ts.URL), LocalResolver{})
	if _, err := c.GetSessions(context.Background()); err == nil {
		t.Fatal("non-200 must surface as an error")
	}
}

func TestMapPlexPushState(t *testing.T) {
	cases := []struct {
		state string
		kind  models.PushEventKind
		ok    bool
	}{
		{"playing", models.PushPlaying, true},
		{"paused", models.PushPaused, true},
		{"stopped", models.PushStopped, true},
		{"buffering", models.PushProgress, true},
		{"error", "", false},
	}
	for _, c := range cases {
		kind, ok := mapPlexPushState(c.state)
		if ok != c.ok || kind != c.kind {
			t.Errorf("mapPlexPushState(%q) = %q,%v", c.state, kind, ok)
		}
	}
}
