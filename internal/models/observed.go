// StreamSentry - Media Server Session Lifecycle and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamsentry

package models

import "time"

// ObservedSession is the unified shape adapters produce for one active
// playback, prior to normalization. Field values are adapter-reported and
// unvalidated; the mapper turns this into a ProcessedSession.
type ObservedSession struct {
	SessionKey     string
	ExternalUserID string
	Username       string
	UserThumb      string

	// RatingKey is the adapter's media identity ("" when unknown).
	RatingKey  string
	MediaTitle string
	MediaType  string

	ShowTitle     string
	SeasonNumber  int
	EpisodeNumber int
	Year          int

	// Artwork candidates; the mapper picks per media type.
	Thumb        string
	ShowThumb    string
	ChannelThumb string
	TrackArt     string

	IPAddress string
	Geo       GeoLocation

	PlayerName string
	DeviceID   string
	Device     string
	Product    string
	Platform   string

	// Quality inputs. Resolution is the server's own token when it has one
	// (plex reports "1080", "4k", "sd"); Width/Height are raw dimensions
	// (jellyfin and emby report those instead).
	Resolution    string
	Width         int
	Height        int
	BitrateKbps   int
	VideoDecision string
	AudioDecision string
	IsTranscode   bool

	// State is playing or paused; adapters never report stopped (absence
	// from the next observation is the stop signal).
	State SessionState

	ProgressMs      int64
	TotalDurationMs int64

	// LastPausedDate is reported by jellyfin only; when present it is
	// preferred over the observation time for pause accounting.
	LastPausedDate *time.Time
}

// GeoLocation is adapter-resolved geolocation for an observation. String
// fields are consumed verbatim; unresolved lookups leave coordinates at 0,0
// which HasCoordinates treats as unknown.
type GeoLocation struct {
	City        string  `json:"city,omitempty"`
	Region      string  `json:"region,omitempty"`
	Country     string  `json:"country,omitempty"`
	CountryCode string  `json:"country_code,omitempty"`
	Latitude    float64 `json:"latitude,omitempty"`
	Longitude   float64 `json:"longitude,omitempty"`
}

// HasCoordinates reports whether the location carries usable coordinates.
func (g GeoLocation) HasCoordinates() bool {
	return !coordsUnknown(g.Latitude, g.Longitude)
}

// ProcessedSession is the canonical, normalized form of one observation:
// quality/device/platform strings resolved, artwork chosen, media type
// mapped. It is the only shape the lifecycle core accepts.
type ProcessedSession struct {
	SessionKey     string
	ExternalUserID string
	Username       string
	UserThumb      string

	RatingKey     *string
	MediaTitle    string
	MediaType     MediaType
	ShowTitle     *string
	SeasonNumber  *int
	EpisodeNumber *int
	Year          *int
	ArtworkPath   *string

	IPAddress string
	Geo       GeoLocation

	PlayerName    string
	DeviceID      *string
	Device        string
	Product       *string
	Platform      string
	Quality       string
	IsTranscode   bool
	VideoDecision *string
	AudioDecision *string
	BitrateKbps   *int

	State           SessionState
	ProgressMs      int64
	TotalDurationMs int64
	LastPausedDate  *time.Time
}

// ObservedUser is an account row as reported by an adapter's user listing.
type ObservedUser struct {
	ExternalID string
	Username   string
	Thumb      string
}
