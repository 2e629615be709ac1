// StreamSentry - Media Server Session Lifecycle and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamsentry

package mapper

import (
	"testing"

	"github.com/tomtom215/streamsentry/internal/models"
)

func TestQuality(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		obs  models.ObservedSession
		want string
	}{
		{"plex 4k token", models.ObservedSession{Resolution: "4k"}, "4K"},
		{"plex 2160 token", models.ObservedSession{Resolution: "2160"}, "4K"},
		{"plex 1080 token", models.ObservedSession{Resolution: "1080"}, "1080p"},
		{"suffixed token", models.ObservedSession{Resolution: "1080p"}, "1080p"},
		{"sd token", models.ObservedSession{Resolution: "sd"}, "SD"},
		{"uhd width", models.ObservedSession{Width: 3840, Height: 2160}, "4K"},
		{"widescreen height decided by width", models.ObservedSession{Width: 1920, Height: 804}, "1080p"},
		{"anamorphic height decided by width", models.ObservedSession{Width: 1920, Height: 1040}, "1080p"},
		{"720p width", models.ObservedSession{Width: 1280, Height: 720}, "720p"},
		{"sd width", models.ObservedSession{Width: 720, Height: 576}, "SD"},
		{"height only", models.ObservedSession{Height: 1080}, "1080p"},
		{"short height only", models.ObservedSession{Height: 576}, "576p"},
		{"bitrate fallback", models.ObservedSession{BitrateKbps: 8000}, "8Mbps"},
		{"bitrate rounds", models.ObservedSession{BitrateKbps: 7650}, "8Mbps"},
		{"bitrate floors at 1", models.ObservedSession{BitrateKbps: 300}, "1Mbps"},
		{"transcoding fallback", models.ObservedSession{IsTranscode: true}, "Transcoding"},
		{"direct fallback", models.ObservedSession{}, "Direct"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Quality(tt.obs); got != tt.want {
				t.Errorf("Quality() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNormalizePlatform(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"AndroidTv", "Android TV"},
		{"android", "Android"},
		{"Tizen", "Samsung TV"},
		{"samsung", "Samsung TV"},
		{"webOS", "LG TV"},
		{"tvOS", "Apple TV"},
		{"osx", "macOS"},
		{"Chrome", "Chrome"},
		{"Safari", "Safari"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			if got := NormalizePlatform(tt.in); got != tt.want {
				t.Errorf("NormalizePlatform(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeDevice(t *testing.T) {
	t.Parallel()

	if got := NormalizeDevice("SHIELD Android TV"); got != "NVIDIA Shield" {
		t.Errorf("NormalizeDevice(shield) = %q", got)
	}
	if got := NormalizeDevice("FireTV"); got != "Fire TV" {
		t.Errorf("NormalizeDevice(firetv) = %q", got)
	}
	if got := NormalizeDevice("Odd Custom Box"); got != "Odd Custom Box" {
		t.Errorf("unknown devices must pass through, got %q", got)
	}
}

func TestProcessArtworkSelection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		obs  models.ObservedSession
		want string
	}{
		{
			name: "episode prefers show thumb",
			obs: models.ObservedSession{
				MediaType: "episode", Thumb: "/ep.jpg", ShowThumb: "/show.jpg",
			},
			want: "/show.jpg",
		},
		{
			name: "episode falls back to item thumb",
			obs:  models.ObservedSession{MediaType: "episode", Thumb: "/ep.jpg"},
			want: "/ep.jpg",
		},
		{
			name: "live prefers channel thumb",
			obs: models.ObservedSession{
				MediaType: "live", Thumb: "/item.jpg", ChannelThumb: "/chan.jpg",
			},
			want: "/chan.jpg",
		},
		{
			name: "track prefers track art",
			obs: models.ObservedSession{
				MediaType: "track", Thumb: "/item.jpg", TrackArt: "/art.jpg",
			},
			want: "/art.jpg",
		},
		{
			name: "movie uses item thumb",
			obs:  models.ObservedSession{MediaType: "movie", Thumb: "/movie.jpg"},
			want: "/movie.jpg",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := Process(tt.obs)
			if p.ArtworkPath == nil {
				t.Fatal("expected artwork path")
			}
			if *p.ArtworkPath != tt.want {
				t.Errorf("ArtworkPath = %q, want %q", *p.ArtworkPath, tt.want)
			}
		})
	}
}

func TestProcessFields(t *testing.T) {
	t.Parallel()

	obs := models.ObservedSession{
		SessionKey:      "key-1",
		ExternalUserID:  "42",
		Username:        "alice",
		RatingKey:       "r100",
		MediaTitle:      "The Expanse",
		MediaType:       "episode",
		ShowTitle:       "The Expanse",
		SeasonNumber:    2,
		EpisodeNumber:   5,
		Year:            2017,
		IPAddress:       "203.0.113.7",
		PlayerName:      "Living Room",
		Device:          "AndroidTV",
		Platform:        "androidtv",
		Resolution:      "1080",
		BitrateKbps:     12000,
		VideoDecision:   "direct play",
		State:           models.StatePaused,
		ProgressMs:      120_000,
		TotalDurationMs: 2_700_000,
	}

	p := Process(obs)

	if p.RatingKey == nil || *p.RatingKey != "r100" {
		t.Errorf("RatingKey = %v, want r100", p.RatingKey)
	}
	if p.MediaType != models.MediaEpisode {
		t.Errorf("MediaType = %v, want episode", p.MediaType)
	}
	if p.Quality != "1080p" {
		t.Errorf("Quality = %q, want 1080p", p.Quality)
	}
	if p.Device != "Android TV" || p.Platform != "Android TV" {
		t.Errorf("Device/Platform = %q/%q, want Android TV", p.Device, p.Platform)
	}
	if p.State != models.StatePaused {
		t.Errorf("State = %v, want paused", p.State)
	}
	if p.SeasonNumber == nil || *p.SeasonNumber != 2 {
		t.Errorf("SeasonNumber = %v, want 2", p.SeasonNumber)
	}
	if p.Product != nil {
		t.Errorf("empty product must map to nil, got %v", p.Product)
	}
}

func TestProcessDefaultsInvalidState(t *testing.T) {
	t.Parallel()

	p := Process(models.ObservedSession{State: models.SessionState("buffering")})
	if p.State != models.StatePlaying {
		t.Errorf("invalid state must default to playing, got %v", p.State)
	}

	p = Process(models.ObservedSession{State: models.StateStopped})
	if p.State != models.StatePlaying {
		t.Errorf("stopped is never observed; must default to playing, got %v", p.State)
	}
}
