// StreamSentry - Media Server Session Lifecycle and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamsentry

package cache

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/tomtom215/streamsentry/internal/logging"
)

// Message is one pub/sub delivery.
type Message struct {
	Topic   string
	Payload []byte
}

// Publish encodes payload as JSON and publishes it on topic. Fire and
// forget: a delivery nobody receives is fine, the cache and DB stay
// authoritative.
func (c *Cache) Publish(ctx context.Context, topic string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", topic, err)
	}
	if err := c.client.Publish(ctx, topic, raw).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe opens a subscription on the given topics and returns the
// delivery channel. The channel closes when ctx is cancelled.
func (c *Cache) Subscribe(ctx context.Context, topics ...string) (<-chan Message, error) {
	sub := c.client.Subscribe(ctx, topics...)

	// Force the SUBSCRIBE handshake so a broken connection surfaces here
	// instead of as a silent dead channel.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %v: %w", topics, err)
	}

	out := make(chan Message, 64)
	go func() {
		defer close(out)
		defer func() { _ = sub.Close() }()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- Message{Topic: msg.Channel, Payload: []byte(msg.Payload)}:
				default:
					logging.Warn().
						Str("component", "cache").
						Str("topic", msg.Channel).
						Msg("subscriber lagging; dropping message")
				}
			}
		}
	}()
	return out, nil
}
