// StreamSentry - Media Server Session Lifecycle and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamsentry

// Package websocket fans session and violation events out to browser
// subscribers. The hub owns the client set; the bridge feeds it from the
// cache pub/sub bus. Subscribers are read-mostly: the only client-to-server
// message is the application-level ping.
package websocket

import (
	"context"
	"sort"
	"sync"

	"github.com/tomtom215/streamsentry/internal/logging"
)

// Message types sent to subscribers.
const (
	MessageTypeSessionStarted = "session_started"
	MessageTypeSessionUpdated = "session_updated"
	MessageTypeSessionStopped = "session_stopped"
	MessageTypeViolation      = "violation"
	MessageTypePing           = "ping"
	MessageTypePong           = "pong"
)

// Message is one frame on the subscriber socket.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Hub maintains the active client set and broadcasts messages to it.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex
}

// NewHub builds an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Message, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
	}
}

// Serve runs the hub loop until ctx is canceled, then closes every client.
// Lifecycle events take priority over broadcasts so the client set is
// settled before a message fans out. Implements suture.Service.
func (h *Hub) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return ctx.Err()
		default:
		}

		select {
		case client := <-h.Register:
			h.add(client)
			continue
		case client := <-h.Unregister:
			h.remove(client)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.shutdown()
			return ctx.Err()
		case client := <-h.Register:
			h.add(client)
		case client := <-h.Unregister:
			h.remove(client)
		case message := <-h.broadcast:
			h.broadcastToClients(message)
		}
	}
}

func (h *Hub) String() string { return "websocket.Hub" }

// Broadcast queues a message for every connected client. Dropping under
// backpressure is acceptable: subscribers re-read /api/v1/sessions/active
// on reconnect.
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		logging.Warn().
			Str("component", "websocket").
			Str("type", msg.Type).
			Msg("hub broadcast queue full; dropping message")
	}
}

// ClientCount returns the current subscriber count.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) add(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()
	logging.Info().
		Str("component", "websocket").
		Int("clients", count).
		Msg("subscriber connected")
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	count := len(h.clients)
	h.mu.Unlock()
	logging.Info().
		Str("component", "websocket").
		Int("clients", count).
		Msg("subscriber disconnected")
}

// broadcastToClients delivers to clients in id order; a client whose queue
// is full is dropped, its socket torn down by its own write pump.
func (h *Hub) broadcastToClients(message Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })

	var toRemove []*Client
	for _, client := range clients {
		select {
		case client.send <- message:
		default:
			toRemove = append(toRemove, client)
		}
	}
	for _, client := range toRemove {
		close(client.send)
		delete(h.clients, client)
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	logging.Info().
		Str("component", "websocket").
		Msg("hub stopped")
}
