// StreamSentry - Media Server Session Lifecycle and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamsentry

package models

import (
	"time"

	json "github.com/goccy/go-json"
)

// Violation records one rule breach by a server user. RuleType is
// denormalized from the rule so the dedup window query never joins.
// The (ServerUserID, RuleType, SessionID) triple is unique in storage;
// concurrent inserts of the same triple collapse via ON CONFLICT DO NOTHING.
type Violation struct {
	ID             string          `json:"id"`
	RuleID         string          `json:"rule_id"`
	RuleType       RuleType        `json:"rule_type"`
	ServerUserID   string          `json:"server_user_id"`
	SessionID      string          `json:"session_id"`
	Severity       Severity        `json:"severity"`
	Data           json.RawMessage `json:"data,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	AcknowledgedAt *time.Time      `json:"acknowledged_at,omitempty"`
}

// ViolationData is the structured content of Violation.Data. Multi-session
// rules fill RelatedSessionIDs with every live session involved; dedup
// overlap checks read it back.
type ViolationData struct {
	Summary           string             `json:"summary,omitempty"`
	RelatedSessionIDs []string           `json:"related_session_ids,omitempty"`
	Metrics           map[string]float64 `json:"metrics,omitempty"`
	Labels            map[string]string  `json:"labels,omitempty"`
}

// RelatedSessionIDs decodes the related session set from a violation's data
// payload. A violation without data, or with malformed data, relates to no
// sessions beyond its own.
func (v *Violation) RelatedSessionIDs() []string {
	if len(v.Data) == 0 {
		return nil
	}
	var d ViolationData
	if err := json.Unmarshal(v.Data, &d); err != nil {
		return nil
	}
	return d.RelatedSessionIDs
}

// ViolationDetail joins a violation with the display fields broadcast and
// API consumers need.
type ViolationDetail struct {
	Violation

	Username   string `json:"username"`
	ServerID   string `json:"server_id"`
	ServerName string `json:"server_name"`
	RuleName   string `json:"rule_name"`
	MediaTitle string `json:"media_title,omitempty"`
}
