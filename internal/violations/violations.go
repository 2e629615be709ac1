// StreamSentry - Media Server Session Lifecycle and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamsentry

// Package violations records rule breaches: deduplicated insert plus trust
// penalty inside the lifecycle transaction, and post-commit broadcast plus
// notification enqueue.
//
// Exactly-once recording rests on three layers working together. The unique
// (serverUserID, ruleType, sessionID) constraint collapses same-session
// races. SERIALIZABLE isolation keeps the dedup window read consistent. The
// transaction-scoped advisory lock covers the remaining hole for
// multi-session rules, where two transactions triggered by different
// sessions would otherwise both read an empty window and both insert.
package violations

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tomtom215/streamsentry/internal/database"
	"github.com/tomtom215/streamsentry/internal/detection"
	"github.com/tomtom215/streamsentry/internal/logging"
	"github.com/tomtom215/streamsentry/internal/models"
)

// DedupWindow is how far back same-type violations suppress new ones.
const DedupWindow = 5 * time.Minute

// Publisher is the post-commit event sink (the cache bus).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// Enqueuer hands violations to the durable notification queue.
type Enqueuer interface {
	EnqueueViolation(ctx context.Context, detail *models.ViolationDetail) error
}

// InsertResult is one recorded violation and the trust score it left behind.
type InsertResult struct {
	Violation  models.Violation
	TrustScore int
}

// Recorder writes violations and broadcasts them after commit.
type Recorder struct {
	db       *database.DB
	bus      Publisher
	enqueuer Enqueuer
}

// NewRecorder wires the recorder. enqueuer may be nil when the notification
// queue is disabled.
func NewRecorder(db *database.DB, bus Publisher, enqueuer Enqueuer) *Recorder {
	return &Recorder{db: db, bus: bus, enqueuer: enqueuer}
}

// CreateInTx inserts one violation and applies the trust penalty, all on the
// caller's transaction. Returns nil when the unique constraint absorbed the
// insert (a concurrent transaction won); the penalty is then not applied
// either.
func (r *Recorder) CreateInTx(ctx context.Context, tx pgx.Tx, rule *models.Rule, serverUserID, sessionID string, result detection.RuleResult) (*InsertResult, error) {
	severity := result.Severity
	if !severity.Valid() {
		severity = models.DefaultSeverity(rule.Type)
	}

	data, err := json.Marshal(result.Data)
	if err != nil {
		return nil, fmt.Errorf("encode violation data: %w", err)
	}

	v := models.Violation{
		ID:           uuid.NewString(),
		RuleID:       rule.ID,
		RuleType:     rule.Type,
		ServerUserID: serverUserID,
		SessionID:    sessionID,
		Severity:     severity,
		Data:         data,
		CreatedAt:    time.Now().UTC(),
	}

	inserted, err := database.InsertViolationTx(ctx, tx, &v)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return nil, nil
	}

	score, err := database.DecrementTrustScoreTx(ctx, tx, serverUserID, severity.TrustPenalty())
	if err != nil {
		return nil, err
	}

	return &InsertResult{Violation: v, TrustScore: score}, nil
}

// IsDuplicateInTx reports whether an equivalent violation already exists in
// the dedup window. For multi-session rule types it first takes the advisory
// lock for (serverUserID, ruleType), serializing concurrent evaluations for
// this user until their transactions end.
func (r *Recorder) IsDuplicateInTx(ctx context.Context, tx pgx.Tx, serverUserID string, ruleType models.RuleType, sessionID string, relatedIDs []string) (bool, error) {
	if ruleType.MultiSession() {
		if err := database.AdvisoryLockTx(ctx, tx, database.AdvisoryKey(serverUserID, string(ruleType))); err != nil {
			return false, err
		}
	}

	since := time.Now().UTC().Add(-DedupWindow)
	window, err := database.UnacknowledgedViolationsInWindowTx(ctx, tx, serverUserID, ruleType, since)
	if err != nil {
		return false, err
	}
	if len(window) == 0 {
		return false, nil
	}

	if !ruleType.MultiSession() {
		for i := range window {
			if window[i].SessionID == sessionID {
				return true, nil
			}
		}
		return false, nil
	}

	ours := make(map[string]struct{}, len(relatedIDs)+1)
	ours[sessionID] = struct{}{}
	for _, id := range relatedIDs {
		ours[id] = struct{}{}
	}
	for i := range window {
		existing := &window[i]
		if _, ok := ours[existing.SessionID]; ok {
			return true, nil
		}
		for _, id := range existing.RelatedSessionIDs() {
			if _, ok := ours[id]; ok {
				return true, nil
			}
		}
	}
	return false, nil
}

// Broadcast publishes violation:new and enqueues a notification for each
// recorded result. Strictly post-commit; failures are logged, never rolled
// back — the rows are already authoritative.
func (r *Recorder) Broadcast(ctx context.Context, results []*InsertResult) {
	for _, res := range results {
		if res == nil {
			continue
		}
		detail, err := r.db.ViolationDetailByID(ctx, res.Violation.ID)
		if err != nil {
			logging.Error().
				Str("component", "violations").
				Str("violation_id", res.Violation.ID).
				Err(err).
				Msg("failed to load violation detail for broadcast")
			continue
		}

		if err := r.bus.Publish(ctx, models.TopicViolationNew, detail); err != nil {
			logging.Error().
				Str("component", "violations").
				Str("violation_id", res.Violation.ID).
				Err(err).
				Msg("failed to publish violation")
		}

		if r.enqueuer != nil {
			if err := r.enqueuer.EnqueueViolation(ctx, detail); err != nil {
				logging.Error().
					Str("component", "violations").
					Str("violation_id", res.Violation.ID).
					Err(err).
					Msg("failed to enqueue violation notification")
			}
		}

		logging.Info().
			Str("component", "violations").
			Str("violation_id", res.Violation.ID).
			Str("rule_type", string(res.Violation.RuleType)).
			Str("severity", string(res.Violation.Severity)).
			Str("server_user_id", res.Violation.ServerUserID).
			Int("trust_score", res.TrustScore).
			Msg("violation recorded")
	}
}
