// StreamSentry - Media Server Session Lifecycle and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamsentry

package websocket

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tomtom215/streamsentry/internal/models"
)

func newTestClient(hub *Hub) *Client {
	return &Client{
		id:   clientIDCounter.Add(1),
		hub:  hub,
		send: make(chan Message, 4),
	}
}

func TestHubRegisterBroadcastUnregister(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.Serve(ctx) }()

	c1 := newTestClient(hub)
	c2 := newTestClient(hub)
	hub.Register <- c1
	hub.Register <- c2

	waitFor(t, func() bool { return hub.ClientCount() == 2 })

	hub.Broadcast(Message{Type: MessageTypeSessionStarted})
	for _, c := range []*Client{c1, c2} {
		select {
		case msg := <-c.send:
			if msg.Type != MessageTypeSessionStarted {
				t.Errorf("type = %q", msg.Type)
			}
		case <-time.After(time.Second):
			t.Fatal("client did not receive broadcast")
		}
	}

	hub.Unregister <- c1
	waitFor(t, func() bool { return hub.ClientCount() == 1 })
	if _, open := <-c1.send; open {
		t.Error("unregistered client's queue must be closed")
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("hub did not stop")
	}
	if hub.ClientCount() != 0 {
		t.Error("shutdown must close every client")
	}
}

func TestBroadcastDropsSlowClient(t *testing.T) {
	hub := NewHub()
	slow := newTestClient(hub)
	slow.send = make(chan Message) // unbuffered and never drained
	hub.clients[slow] = true

	hub.broadcastToClients(Message{Type: MessageTypeSessionUpdated})

	if hub.ClientCount() != 0 {
		t.Error("client with a full queue must be dropped")
	}
	if _, open := <-slow.send; open {
		t.Error("dropped client's queue must be closed")
	}
}

func TestMessageTypeFor(t *testing.T) {
	cases := []struct {
		topic string
		want  string
		known bool
	}{
		{models.TopicSessionStarted, MessageTypeSessionStarted, true},
		{models.TopicSessionUpdated, MessageTypeSessionUpdated, true},
		{models.TopicSessionStopped, MessageTypeSessionStopped, true},
		{models.TopicViolationNew, MessageTypeViolation, true},
		{models.TopicReconciliationNeeded, "", false},
		{"garbage", "", false},
	}
	for _, c := range cases {
		got, known := messageTypeFor(c.topic)
		if got != c.want || known != c.known {
			t.Errorf("messageTypeFor(%q) = %q,%v", c.topic, got, known)
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached")
}
