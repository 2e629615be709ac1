// StreamSentry - Media Server Session Lifecycle and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamsentry

package models

import (
	"time"

	json "github.com/goccy/go-json"
)

// RuleType names a policy rule implementation.
type RuleType string

const (
	RuleImpossibleTravel       RuleType = "impossible_travel"
	RuleSimultaneousLocations  RuleType = "simultaneous_locations"
	RuleDeviceVelocity         RuleType = "device_velocity"
	RuleConcurrentStreams      RuleType = "concurrent_streams"
	RuleGeoRestriction         RuleType = "geo_restriction"
)

// Valid reports whether t names a known rule type.
func (t RuleType) Valid() bool {
	switch t {
	case RuleImpossibleTravel, RuleSimultaneousLocations, RuleDeviceVelocity,
		RuleConcurrentStreams, RuleGeoRestriction:
		return true
	}
	return false
}

// MultiSession reports whether violations of this type relate several live
// sessions. Multi-session types need the advisory-lock dedup path: two
// concurrent evaluations can otherwise both see an empty window and insert
// twice under different triggering sessions.
func (t RuleType) MultiSession() bool {
	return t == RuleConcurrentStreams || t == RuleSimultaneousLocations
}

// Severity grades a violation.
type Severity string

const (
	SeverityLow     Severity = "low"
	SeverityWarning Severity = "warning"
	SeverityHigh    Severity = "high"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	return s == SeverityLow || s == SeverityWarning || s == SeverityHigh
}

// TrustPenalty is the score decrement recording a violation of this
// severity applies, before flooring at 0.
func (s Severity) TrustPenalty() int {
	switch s {
	case SeverityHigh:
		return 20
	case SeverityWarning:
		return 10
	case SeverityLow:
		return 5
	}
	return 0
}

// DefaultSeverity is the grade used when a rule's parameters do not
// override it.
func DefaultSeverity(t RuleType) Severity {
	switch t {
	case RuleGeoRestriction, RuleImpossibleTravel:
		return SeverityHigh
	case RuleConcurrentStreams, RuleSimultaneousLocations:
		return SeverityWarning
	case RuleDeviceVelocity:
		return SeverityLow
	}
	return SeverityWarning
}

// Rule is a configured policy rule. ServerUserID scopes the rule to one
// user; nil means global.
type Rule struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Type         RuleType        `json:"type"`
	Parameters   json.RawMessage `json:"parameters,omitempty"`
	IsActive     bool            `json:"is_active"`
	ServerUserID *string         `json:"server_user_id,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// AppliesTo reports whether the rule addresses the given server user:
// global rules apply to everyone, scoped rules to their user only.
func (r *Rule) AppliesTo(serverUserID string) bool {
	return r.ServerUserID == nil || *r.ServerUserID == serverUserID
}
