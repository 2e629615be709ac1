// StreamSentry - Media Server Session Lifecycle and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamsentry

package detection

import (
	"fmt"

	"github.com/tomtom215/streamsentry/internal/models"
)

// concurrentStreamsDetector enforces the per-user live-session cap.
type concurrentStreamsDetector struct{}

func (d *concurrentStreamsDetector) Type() models.RuleType {
	return models.RuleConcurrentStreams
}

func (d *concurrentStreamsDetector) Check(in Input, rule *models.Rule) (*RuleResult, error) {
	params := DefaultConcurrentStreamsParams()
	if err := decodeParams(rule.Parameters, &params); err != nil {
		return nil, fmt.Errorf("concurrent_streams params: %w", err)
	}
	if params.MaxStreams <= 0 {
		params.MaxStreams = DefaultConcurrentStreamsParams().MaxStreams
	}

	others := liveOthers(in)
	count := len(others) + 1 // this session included
	if count <= params.MaxStreams {
		return okResult(rule), nil
	}

	related := make([]string, 0, count)
	related = append(related, in.Session.ID)
	for i := range others {
		related = append(related, others[i].ID)
	}

	return &RuleResult{
		Rule:     rule,
		Violated: true,
		Severity: severityOr(params.Severity, models.DefaultSeverity(rule.Type)),
		Data: models.ViolationData{
			Summary: fmt.Sprintf("%d concurrent streams (limit %d)",
				count, params.MaxStreams),
			RelatedSessionIDs: related,
			Metrics: map[string]float64{
				"live_sessions": float64(count),
				"max_streams":   float64(params.MaxStreams),
			},
		},
	}, nil
}
