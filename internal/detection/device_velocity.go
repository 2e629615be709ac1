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

// deviceVelocityDetector flags a user hopping across too many distinct IPs
// within the window, a shared-account tell.
type deviceVelocityDetector struct{}

func (d *deviceVelocityDetector) Type() models.RuleType {
	return models.RuleDeviceVelocity
}

func (d *deviceVelocityDetector) Check(in Input, rule *models.Rule) (*RuleResult, error) {
	params := DefaultDeviceVelocityParams()
	if err := decodeParams(rule.Parameters, &params); err != nil {
		return nil, fmt.Errorf("device_velocity params: %w", err)
	}
	if params.WindowHours <= 0 {
		params.WindowHours = DefaultDeviceVelocityParams().WindowHours
	}
	if params.MaxIPs <= 0 {
		params.MaxIPs = DefaultDeviceVelocityParams().MaxIPs
	}

	cutoff := in.Now.Add(-time.Duration(params.WindowHours) * time.Hour)

	ips := make(map[string]struct{})
	if in.Session.IPAddress != "" {
		ips[in.Session.IPAddress] = struct{}{}
	}
	for i := range in.Recent {
		s := &in.Recent[i]
		if s.ID == in.Session.ID || s.IPAddress == "" {
			continue
		}
		if s.LastSeenAt.Before(cutoff) {
			continue
		}
		ips[s.IPAddress] = struct{}{}
	}

	if len(ips) <= params.MaxIPs {
		return okResult(rule), nil
	}

	return &RuleResult{
		Rule:     rule,
		Violated: true,
		Severity: severityOr(params.Severity, models.DefaultSeverity(rule.Type)),
		Data: models.ViolationData{
			Summary: fmt.Sprintf("%d distinct IPs within %dh (limit %d)",
				len(ips), params.WindowHours, params.MaxIPs),
			Metrics: map[string]float64{
				"distinct_ips": float64(len(ips)),
				"max_ips":      float64(params.MaxIPs),
				"window_hours": float64(params.WindowHours),
			},
		},
	}, nil
}
