// StreamSentry - Media Server Session Lifecycle and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamsentry

package detection

import (
	"fmt"
	"strings"

	"github.com/tomtom215/streamsentry/internal/models"
)

// geoRestrictionDetector blocks streaming from configured countries.
type geoRestrictionDetector struct{}

func (d *geoRestrictionDetector) Type() models.RuleType {
	return models.RuleGeoRestriction
}

func (d *geoRestrictionDetector) Check(in Input, rule *models.Rule) (*RuleResult, error) {
	var params GeoRestrictionParams
	if err := decodeParams(rule.Parameters, &params); err != nil {
		return nil, fmt.Errorf("geo_restriction params: %w", err)
	}
	if len(params.BlockedCountries) == 0 {
		return okResult(rule), nil
	}

	session := in.Session
	if session.GeoCountryCode == nil || *session.GeoCountryCode == "" {
		return okResult(rule), nil
	}
	code := strings.ToUpper(*session.GeoCountryCode)

	for _, blocked := range params.BlockedCountries {
		if strings.ToUpper(blocked) != code {
			continue
		}
		return &RuleResult{
			Rule:     rule,
			Violated: true,
			Severity: severityOr(params.Severity, models.DefaultSeverity(rule.Type)),
			Data: models.ViolationData{
				Summary: fmt.Sprintf("stream from blocked country %s", code),
				Labels: map[string]string{
					"country_code": code,
					"location":     geoLabel(session),
				},
			},
		}, nil
	}
	return okResult(rule), nil
}
