// StreamSentry - Media Server Session Lifecycle and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamsentry

package detection

import (
	"fmt"

	"github.com/tomtom215/streamsentry/internal/models"
)

// simultaneousLocationsDetector flags a user with live sessions far enough
// apart that one person cannot plausibly be at both.
type simultaneousLocationsDetector struct{}

func (d *simultaneousLocationsDetector) Type() models.RuleType {
	return models.RuleSimultaneousLocations
}

func (d *simultaneousLocationsDetector) Check(in Input, rule *models.Rule) (*RuleResult, error) {
	params := DefaultSimultaneousLocationsParams()
	if err := decodeParams(rule.Parameters, &params); err != nil {
		return nil, fmt.Errorf("simultaneous_locations params: %w", err)
	}
	if params.MinDistanceKm <= 0 {
		params.MinDistanceKm = DefaultSimultaneousLocationsParams().MinDistanceKm
	}

	located := make([]*models.Session, 0, 4)
	if in.Session.HasCoordinates() {
		located = append(located, in.Session)
	}
	others := liveOthers(in)
	for i := range others {
		if others[i].HasCoordinates() {
			located = append(located, &others[i])
		}
	}
	if len(located) < 2 {
		return okResult(rule), nil
	}

	var maxKm float64
	for i := 0; i < len(located); i++ {
		for j := i + 1; j < len(located); j++ {
			km := HaversineKm(
				*located[i].GeoLatitude, *located[i].GeoLongitude,
				*located[j].GeoLatitude, *located[j].GeoLongitude)
			if km > maxKm {
				maxKm = km
			}
		}
	}
	if maxKm < params.MinDistanceKm {
		return okResult(rule), nil
	}

	related := make([]string, len(located))
	for i, s := range located {
		related[i] = s.ID
	}

	return &RuleResult{
		Rule:     rule,
		Violated: true,
		Severity: severityOr(params.Severity, models.DefaultSeverity(rule.Type)),
		Data: models.ViolationData{
			Summary: fmt.Sprintf("%d live sessions up to %.0f km apart (limit %.0f)",
				len(located), maxKm, params.MinDistanceKm),
			RelatedSessionIDs: related,
			Metrics: map[string]float64{
				"max_distance_km": maxKm,
				"min_distance_km": params.MinDistanceKm,
				"live_sessions":   float64(len(located)),
			},
		},
	}, nil
}
