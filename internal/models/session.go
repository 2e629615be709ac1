// StreamSentry - Media Server Session Lifecycle and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamsentry

// Package models defines the domain entities shared across StreamSentry:
// sessions and their lifecycle states, monitored servers and their users,
// policy rules, violations, and the event payloads published on the bus.
package models

import "time"

// SessionState is the lifecycle state of a session.
type SessionState string

const (
	StatePlaying SessionState = "playing"
	StatePaused  SessionState = "paused"
	StateStopped SessionState = "stopped"
)

// Valid reports whether s is one of the three lifecycle states.
func (s SessionState) Valid() bool {
	switch s {
	case StatePlaying, StatePaused, StateStopped:
		return true
	}
	return false
}

// Live reports whether the state denotes an ongoing session.
func (s SessionState) Live() bool {
	return s == StatePlaying || s == StatePaused
}

// MediaType classifies what a session is playing.
type MediaType string

const (
	MediaMovie   MediaType = "movie"
	MediaEpisode MediaType = "episode"
	MediaTrack   MediaType = "track"
	MediaLive    MediaType = "live"
	MediaPhoto   MediaType = "photo"
	MediaUnknown MediaType = "unknown"
)

// NormalizeMediaType maps adapter-reported media kinds onto the canonical set.
func NormalizeMediaType(raw string) MediaType {
	switch raw {
	case "movie", "Movie":
		return MediaMovie
	case "episode", "Episode":
		return MediaEpisode
	case "track", "Audio", "audio":
		return MediaTrack
	case "live", "TvChannel", "LiveTv", "clip":
		return MediaLive
	case "photo", "Photo":
		return MediaPhoto
	default:
		return MediaUnknown
	}
}

// Session is one observed playback by a user on a server. Rows are written
// only by the lifecycle core; a session is live while StoppedAt is nil.
//
// Invariants maintained by the lifecycle core and the store guards:
//   - StoppedAt == nil iff State is playing or paused, and then DurationMs == nil.
//   - State == paused implies LastPausedAt != nil; playing implies it is nil.
//   - PausedDurationMs never decreases while live.
//   - At most one live session per (ServerID, SessionKey).
//   - Watched latches: once true it never reverts.
type Session struct {
	ID           string `json:"id"`
	ServerID     string `json:"server_id"`
	ServerUserID string `json:"server_user_id"`

	// SessionKey is the adapter's per-server playback identifier; unique
	// among live sessions on one server.
	SessionKey string `json:"session_key"`

	// RatingKey identifies the media item; stable across quality changes.
	RatingKey *string `json:"rating_key,omitempty"`

	State SessionState `json:"state"`

	// Media metadata.
	MediaTitle    string    `json:"media_title"`
	MediaType     MediaType `json:"media_type"`
	ShowTitle     *string   `json:"show_title,omitempty"`
	SeasonNumber  *int      `json:"season_number,omitempty"`
	EpisodeNumber *int      `json:"episode_number,omitempty"`
	Year          *int      `json:"year,omitempty"`
	ArtworkPath   *string   `json:"artwork_path,omitempty"`

	// Timing. PausedDurationMs accumulates completed pause phases;
	// LastPausedAt marks the start of the current pause, if any.
	StartedAt        time.Time  `json:"started_at"`
	LastSeenAt       time.Time  `json:"last_seen_at"`
	StoppedAt        *time.Time `json:"stopped_at,omitempty"`
	PausedDurationMs int64      `json:"paused_duration_ms"`
	LastPausedAt     *time.Time `json:"last_paused_at,omitempty"`
	DurationMs       *int64     `json:"duration_ms,omitempty"`

	// Progress.
	ProgressMs      int64 `json:"progress_ms"`
	TotalDurationMs int64 `json:"total_duration_ms"`
	Watched         bool  `json:"watched"`
	ShortSession    bool  `json:"short_session"`
	ForceStopped    bool  `json:"force_stopped"`

	// ReferenceID points at the root of a continuity chain (resume or
	// quality change). Roots carry nil; followers point at the root, never
	// at an intermediate link.
	ReferenceID *string `json:"reference_id,omitempty"`

	// Observation fingerprint.
	IPAddress      string   `json:"ip_address"`
	GeoCity        *string  `json:"geo_city,omitempty"`
	GeoRegion      *string  `json:"geo_region,omitempty"`
	GeoCountry     *string  `json:"geo_country,omitempty"`
	GeoCountryCode *string  `json:"geo_country_code,omitempty"`
	GeoLatitude    *float64 `json:"geo_latitude,omitempty"`
	GeoLongitude   *float64 `json:"geo_longitude,omitempty"`

	PlayerName    string  `json:"player_name"`
	Device        string  `json:"device"`
	DeviceID      *string `json:"device_id,omitempty"`
	Product       *string `json:"product,omitempty"`
	Platform      string  `json:"platform"`
	Quality       string  `json:"quality"`
	IsTranscode   bool    `json:"is_transcode"`
	VideoDecision *string `json:"video_decision,omitempty"`
	AudioDecision *string `json:"audio_decision,omitempty"`
	BitrateKbps   *int    `json:"bitrate_kbps,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Live reports whether the session has not been stopped.
func (s *Session) Live() bool {
	return s.StoppedAt == nil
}

// ChainRoot returns the id of the continuity chain this session belongs to:
// its ReferenceID when set, otherwise its own id.
func (s *Session) ChainRoot() string {
	if s.ReferenceID != nil {
		return *s.ReferenceID
	}
	return s.ID
}

// HasCoordinates reports whether the session carries usable geo coordinates.
// Zero/zero is treated as unknown (unresolved lookups report the origin).
func (s *Session) HasCoordinates() bool {
	if s.GeoLatitude == nil || s.GeoLongitude == nil {
		return false
	}
	return !coordsUnknown(*s.GeoLatitude, *s.GeoLongitude)
}

const coordEpsilon = 1e-7

func coordsUnknown(lat, lon float64) bool {
	return lat > -coordEpsilon && lat < coordEpsilon &&
		lon > -coordEpsilon && lon < coordEpsilon
}
