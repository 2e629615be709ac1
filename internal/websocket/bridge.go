// StreamSentry - Media Server Session Lifecycle and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamsentry

package websocket

import (
	"context"

	json "github.com/goccy/go-json"

	"github.com/tomtom215/streamsentry/internal/cache"
	"github.com/tomtom215/streamsentry/internal/logging"
	"github.com/tomtom215/streamsentry/internal/models"
)

// Bridge subscribes to the public bus topics and forwards every delivery to
// the hub. Payloads pass through untouched; the bus already carries the
// subscriber-facing projections.
type Bridge struct {
	cache *cache.Cache
	hub   *Hub
}

// NewBridge wires a bridge.
func NewBridge(c *cache.Cache, hub *Hub) *Bridge {
	return &Bridge{cache: c, hub: hub}
}

// Serve pumps bus messages into the hub until ctx is canceled. Implements
// suture.Service.
func (b *Bridge) Serve(ctx context.Context) error {
	messages, err := b.cache.Subscribe(ctx, models.PublicTopics()...)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return ctx.Err()
			}
			messageType, known := messageTypeFor(msg.Topic)
			if !known {
				logging.Warn().
					Str("component", "websocket").
					Str("topic", msg.Topic).
					Msg("delivery on unexpected topic dropped")
				continue
			}
			b.hub.Broadcast(Message{
				Type: messageType,
				Data: json.RawMessage(msg.Payload),
			})
		}
	}
}

func (b *Bridge) String() string { return "websocket.Bridge" }

// messageTypeFor maps a bus topic onto the subscriber frame type.
func messageTypeFor(topic string) (string, bool) {
	switch topic {
	case models.TopicSessionStarted:
		return MessageTypeSessionStarted, true
	case models.TopicSessionUpdated:
		return MessageTypeSessionUpdated, true
	case models.TopicSessionStopped:
		return MessageTypeSessionStopped, true
	case models.TopicViolationNew:
		return MessageTypeViolation, true
	}
	return "", false
}
