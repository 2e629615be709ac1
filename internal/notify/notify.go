// StreamSentry - Media Server Session Lifecycle and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamsentry

// Package notify enqueues violation notifications onto a durable NATS
// JetStream subject through Watermill. Delivery to sinks (email, webhooks)
// is a downstream consumer's job; this package only guarantees the message
// is on the stream.
package notify

import (
	"context"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	json "github.com/goccy/go-json"
	natsgo "github.com/nats-io/nats.go"

	"github.com/tomtom215/streamsentry/internal/logging"
	"github.com/tomtom215/streamsentry/internal/models"
)

// SubjectViolations is the JetStream subject violation notifications land on.
const SubjectViolations = "violations.new"

// Queue publishes violation notifications through a Watermill publisher.
// The message UUID is the violation ID, which doubles as the Nats-Msg-Id so
// the broker's duplicate window absorbs redelivered enqueues.
type Queue struct {
	publisher message.Publisher

	mu     sync.Mutex
	closed bool
}

// NewQueue wraps any Watermill publisher. Production wiring passes the NATS
// publisher from NewNATSPublisher; tests pass a gochannel pubsub.
func NewQueue(publisher message.Publisher) *Queue {
	return &Queue{publisher: publisher}
}

// EnqueueViolation implements violations.Enqueuer.
func (q *Queue) EnqueueViolation(ctx context.Context, detail *models.ViolationDetail) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return fmt.Errorf("notification queue closed")
	}
	q.mu.Unlock()

	payload, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("encode violation %s: %w", detail.ID, err)
	}

	msg := message.NewMessage(detail.ID, payload)
	msg.Metadata.Set(natsgo.MsgIdHdr, detail.ID)
	msg.SetContext(ctx)

	if err := q.publisher.Publish(SubjectViolations, msg); err != nil {
		return fmt.Errorf("enqueue violation %s: %w", detail.ID, err)
	}

	logging.Debug().
		Str("component", "notify").
		Str("violation_id", detail.ID).
		Str("rule_type", string(detail.RuleType)).
		Msg("violation notification enqueued")
	return nil
}

// Close stops accepting new messages and closes the underlying publisher.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	return q.publisher.Close()
}

// Disabled is the enqueuer used when notifications are turned off.
type Disabled struct{}

// EnqueueViolation implements violations.Enqueuer as a no-op.
func (Disabled) EnqueueViolation(context.Context, *models.ViolationDetail) error { return nil }
