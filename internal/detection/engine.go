// StreamSentry - Media Server Session Lifecycle and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamsentry

package detection

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/tomtom215/streamsentry/internal/logging"
	"github.com/tomtom215/streamsentry/internal/models"
)

// Input is what one evaluation sees: the session just written, and the
// user's recent history (live sessions included) loaded before the
// transaction began.
type Input struct {
	Session *models.Session
	Recent  []models.Session
	Now     time.Time
}

// Detector evaluates one rule type.
type Detector interface {
	Type() models.RuleType
	Check(in Input, rule *models.Rule) (*RuleResult, error)
}

// Engine dispatches active rules to their detectors.
type Engine struct {
	detectors map[models.RuleType]Detector
	validate  *validator.Validate
}

// NewEngine builds an engine with all five detectors registered.
func NewEngine() *Engine {
	e := &Engine{
		detectors: make(map[models.RuleType]Detector),
		validate:  validator.New(),
	}
	for _, d := range []Detector{
		&impossibleTravelDetector{},
		&simultaneousLocationsDetector{},
		&deviceVelocityDetector{},
		&concurrentStreamsDetector{},
		&geoRestrictionDetector{},
	} {
		e.detectors[d.Type()] = d
	}
	return e
}

// Evaluate applies every rule that addresses the session's user and returns
// one result per applied rule. Pure with respect to storage: verdicts come
// only from the inputs. Detector failures are logged and skipped; one broken
// rule must not block the others or the enclosing transaction.
func (e *Engine) Evaluate(session *models.Session, rules []models.Rule, recent []models.Session) []RuleResult {
	in := Input{Session: session, Recent: recent, Now: session.StartedAt}

	var results []RuleResult
	for i := range rules {
		rule := &rules[i]
		if !rule.IsActive || !rule.AppliesTo(session.ServerUserID) {
			continue
		}
		detector, ok := e.detectors[rule.Type]
		if !ok {
			logging.Warn().
				Str("component", "detection").
				Str("rule", rule.Name).
				Str("type", string(rule.Type)).
				Msg("no detector for rule type")
			continue
		}

		result, err := detector.Check(in, rule)
		if err != nil {
			logging.Warn().
				Str("component", "detection").
				Str("rule", rule.Name).
				Err(err).
				Msg("detector failed; skipping rule")
			continue
		}
		if result != nil {
			results = append(results, *result)
		}
	}
	return results
}

// ValidateParams checks a rule's parameters against its type's schema.
// Called when rules are loaded or upserted, not per evaluation.
func (e *Engine) ValidateParams(rule *models.Rule) error {
	var params any
	switch rule.Type {
	case models.RuleImpossibleTravel:
		p := DefaultImpossibleTravelParams()
		if err := decodeParams(rule.Parameters, &p); err != nil {
			return err
		}
		params = p
	case models.RuleSimultaneousLocations:
		p := DefaultSimultaneousLocationsParams()
		if err := decodeParams(rule.Parameters, &p); err != nil {
			return err
		}
		params = p
	case models.RuleDeviceVelocity:
		p := DefaultDeviceVelocityParams()
		if err := decodeParams(rule.Parameters, &p); err != nil {
			return err
		}
		params = p
	case models.RuleConcurrentStreams:
		p := DefaultConcurrentStreamsParams()
		if err := decodeParams(rule.Parameters, &p); err != nil {
			return err
		}
		params = p
	case models.RuleGeoRestriction:
		var p GeoRestrictionParams
		if err := decodeParams(rule.Parameters, &p); err != nil {
			return err
		}
		params = p
	default:
		return nil
	}
	return e.validate.Struct(params)
}

// liveOthers returns the user's live sessions from the history, excluding
// the session under evaluation.
func liveOthers(in Input) []models.Session {
	var out []models.Session
	for _, s := range in.Recent {
		if s.ID == in.Session.ID || !s.Live() {
			continue
		}
		out = append(out, s)
	}
	return out
}

func okResult(rule *models.Rule) *RuleResult {
	return &RuleResult{Rule: rule, Violated: false}
}
