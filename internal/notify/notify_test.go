// StreamSentry - Media Server Session Lifecycle and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamsentry

package notify

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	json "github.com/goccy/go-json"
	natsgo "github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/streamsentry/internal/models"
)

func testDetail() *models.ViolationDetail {
	return &models.ViolationDetail{
		Violation: models.Violation{
			ID:       "viol-1",
			RuleType: models.RuleConcurrentStreams,
			Severity: models.SeverityWarning,
		},
		Username:   "alice",
		ServerName: "den",
		RuleName:   "stream cap",
	}
}

func TestEnqueueViolation(t *testing.T) {
	pubsub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	messages, err := pubsub.Subscribe(ctx, SubjectViolations)
	require.NoError(t, err)

	q := NewQueue(pubsub)
	require.NoError(t, q.EnqueueViolation(ctx, testDetail()))

	select {
	case msg := <-messages:
		msg.Ack()
		assert.Equal(t, "viol-1", msg.UUID, "message uuid should be the violation id")
		assert.Equal(t, "viol-1", msg.Metadata.Get(natsgo.MsgIdHdr), "Nats-Msg-Id should be the violation id")

		var detail models.ViolationDetail
		require.NoError(t, json.Unmarshal(msg.Payload, &detail))
		assert.Equal(t, "alice", detail.Username)
		assert.Equal(t, models.RuleConcurrentStreams, detail.RuleType)
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
	}
}

func TestEnqueueAfterClose(t *testing.T) {
	pubsub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	q := NewQueue(pubsub)
	require.NoError(t, q.Close())

	assert.Error(t, q.EnqueueViolation(context.Background(), testDetail()),
		"enqueue after close must fail")

	// Close is idempotent.
	assert.NoError(t, q.Close())
}

func TestDisabledEnqueuer(t *testing.T) {
	assert.NoError(t, (Disabled{}).EnqueueViolation(context.Background(), testDetail()))
}
