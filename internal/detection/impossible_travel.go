// StreamSentry - Media Server Session Lifecycle and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamsentry

package detection

import (
	"fmt"
	"time"

	"github.com/tomtom215/streamsentry/internal/models"
)

// impossibleTravelDetector flags a session whose distance from the user's
// previous session would require implausible travel speed.
type impossibleTravelDetector struct{}

func (d *impossibleTravelDetector) Type() models.RuleType {
	return models.RuleImpossibleTravel
}

func (d *impossibleTravelDetector) Check(in Input, rule *models.Rule) (*RuleResult, error) {
	params := DefaultImpossibleTravelParams()
	if err := decodeParams(rule.Parameters, &params); err != nil {
		return nil, fmt.Errorf("impossible_travel params: %w", err)
	}
	if params.MaxSpeedKmh <= 0 {
		params.MaxSpeedKmh = DefaultImpossibleTravelParams().MaxSpeedKmh
	}
	if params.WindowHours <= 0 {
		params.WindowHours = DefaultImpossibleTravelParams().WindowHours
	}

	session := in.Session
	if !session.HasCoordinates() {
		return okResult(rule), nil
	}

	prev := previousLocatedSession(in, time.Duration(params.WindowHours)*time.Hour)
	if prev == nil {
		return okResult(rule), nil
	}

	distanceKm := HaversineKm(
		*prev.GeoLatitude, *prev.GeoLongitude,
		*session.GeoLatitude, *session.GeoLongitude)

	elapsed := session.StartedAt.Sub(sessionEndTime(prev))
	if elapsed <= 0 {
		// Overlapping sessions are simultaneous_locations territory.
		return okResult(rule), nil
	}

	speedKmh := distanceKm / elapsed.Hours()
	if speedKmh <= params.MaxSpeedKmh {
		return okResult(rule), nil
	}

	ratio := speedKmh / params.MaxSpeedKmh
	severity := models.SeverityLow
	switch {
	case ratio > 4:
		severity = models.SeverityHigh
	case ratio > 2:
		severity = models.SeverityWarning
	}

	return &RuleResult{
		Rule:     rule,
		Violated: true,
		Severity: severityOr(params.Severity, severity),
		Data: models.ViolationData{
			Summary: fmt.Sprintf("travel of %.0f km in %s requires %.0f km/h (limit %.0f)",
				distanceKm, elapsed.Round(time.Second), speedKmh, params.MaxSpeedKmh),
			// Payload context for the UI; single-session dedup keys on the
			// triggering session alone, never on this list.
			RelatedSessionIDs: []string{prev.ID},
			Metrics: map[string]float64{
				"distance_km":   distanceKm,
				"speed_kmh":     speedKmh,
				"max_speed_kmh": params.MaxSpeedKmh,
				"elapsed_ms":    float64(elapsed.Milliseconds()),
			},
			Labels: map[string]string{
				"from": geoLabel(prev),
				"to":   geoLabel(session),
			},
		},
	}, nil
}

// previousLocatedSession finds the user's most recent other session with
// usable coordinates that ended within the window before this one started.
func previousLocatedSession(in Input, window time.Duration) *models.Session {
	cutoff := in.Session.StartedAt.Add(-window)

	var best *models.Session
	var bestEnd time.Time
	for i := range in.Recent {
		s := &in.Recent[i]
		if s.ID == in.Session.ID || !s.HasCoordinates() {
			continue
		}
		end := sessionEndTime(s)
		if end.Before(cutoff) || end.After(in.Session.StartedAt) {
			continue
		}
		if best == nil || end.After(bestEnd) {
			best, bestEnd = s, end
		}
	}
	return best
}

// sessionEndTime is when a session was last known at its location: the stop
// time for finished sessions, the last observation for live ones.
func sessionEndTime(s *models.Session) time.Time {
	if s.StoppedAt != nil {
		return *s.StoppedAt
	}
	return s.LastSeenAt
}

func geoLabel(s *models.Session) string {
	city, country := "", ""
	if s.GeoCity != nil {
		city = *s.GeoCity
	}
	if s.GeoCountry != nil {
		country = *s.GeoCountry
	}
	switch {
	case city != "" && country != "":
		return city + ", " + country
	case country != "":
		return country
	case city != "":
		return city
	}
	return fmt.Sprintf("%.2f,%.2f", ptrFloat(s.GeoLatitude), ptrFloat(s.GeoLongitude))
}

func ptrFloat(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
