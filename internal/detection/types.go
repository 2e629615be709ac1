// StreamSentry - Media Server Session Lifecycle and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamsentry

// Package detection is the pure rule engine: given a freshly written session,
// the active rules, and the user's recent session history, it emits rule
// results. It never touches storage; the lifecycle core records violations
// from the results inside its transaction.
package detection

import (
	"math"

	json "github.com/goccy/go-json"

	"github.com/tomtom215/streamsentry/internal/models"
)

// RuleResult is one rule's verdict on one session. Rule is the rule that
// produced the result; violation recording trusts it directly and never
// re-scans the active rule list.
type RuleResult struct {
	Rule     *models.Rule
	Violated bool
	Severity models.Severity
	Data     models.ViolationData
}

// EarthRadiusKm is the haversine sphere radius.
const EarthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance between two coordinates.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const degToRad = math.Pi / 180.0

	dLat := (lat2 - lat1) * degToRad
	dLon := (lon2 - lon1) * degToRad

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*degToRad)*math.Cos(lat2*degToRad)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	return EarthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// ImpossibleTravelParams configures the impossible_travel detector.
type ImpossibleTravelParams struct {
	// MaxSpeedKmh is the fastest plausible travel speed.
	MaxSpeedKmh float64 `json:"max_speed_kmh" validate:"gte=0"`

	// WindowHours bounds how far back the previous session is searched.
	WindowHours int `json:"window_hours" validate:"gte=0"`

	// Severity overrides the excess-proportional grading when set.
	Severity models.Severity `json:"severity,omitempty" validate:"omitempty,oneof=low warning high"`
}

// DefaultImpossibleTravelParams returns the stock configuration.
func DefaultImpossibleTravelParams() ImpossibleTravelParams {
	return ImpossibleTravelParams{MaxSpeedKmh: 500, WindowHours: 24}
}

// SimultaneousLocationsParams configures the simultaneous_locations detector.
type SimultaneousLocationsParams struct {
	// MinDistanceKm is the pairwise distance at which two live sessions
	// count as distinct locations.
	MinDistanceKm float64 `json:"min_distance_km" validate:"gte=0"`

	Severity models.Severity `json:"severity,omitempty" validate:"omitempty,oneof=low warning high"`
}

// DefaultSimultaneousLocationsParams returns the stock configuration.
func DefaultSimultaneousLocationsParams() SimultaneousLocationsParams {
	return SimultaneousLocationsParams{MinDistanceKm: 50}
}

// DeviceVelocityParams configures the device_velocity detector.
type DeviceVelocityParams struct {
	// WindowHours is the IP-counting window.
	WindowHours int `json:"window_hours" validate:"gte=0"`

	// MaxIPs is the distinct-IP count above which the rule violates.
	MaxIPs int `json:"max_ips" validate:"gte=0"`

	Severity models.Severity `json:"severity,omitempty" validate:"omitempty,oneof=low warning high"`
}

// DefaultDeviceVelocityParams returns the stock configuration.
func DefaultDeviceVelocityParams() DeviceVelocityParams {
	return DeviceVelocityParams{WindowHours: 24, MaxIPs: 3}
}

// ConcurrentStreamsParams configures the concurrent_streams detector.
type ConcurrentStreamsParams struct {
	// MaxStreams is the live-session count above which the rule violates.
	MaxStreams int `json:"max_streams" validate:"gte=0"`

	Severity models.Severity `json:"severity,omitempty" validate:"omitempty,oneof=low warning high"`
}

// DefaultConcurrentStreamsParams returns the stock configuration.
func DefaultConcurrentStreamsParams() ConcurrentStreamsParams {
	return ConcurrentStreamsParams{MaxStreams: 2}
}

// GeoRestrictionParams configures the geo_restriction detector.
type GeoRestrictionParams struct {
	// BlockedCountries are ISO country codes streaming is forbidden from.
	BlockedCountries []string `json:"blocked_countries" validate:"dive,len=2"`

	Severity models.Severity `json:"severity,omitempty" validate:"omitempty,oneof=low warning high"`
}

// decodeParams unmarshals rule parameters over the provided defaults.
func decodeParams(raw json.RawMessage, into any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, into)
}

// severityOr returns the override when set, otherwise the fallback.
func severityOr(override, fallback models.Severity) models.Severity {
	if override.Valid() {
		return override
	}
	return fallback
}
