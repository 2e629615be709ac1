// StreamSentry - Media Server Session Lifecycle and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamsentry

package models

import "time"

// Bus topics. Session and violation topics are public (forwarded to
// websocket subscribers); the reconciliation topic is internal to the
// observers.
const (
	TopicSessionStarted       = "session:started"
	TopicSessionUpdated       = "session:updated"
	TopicSessionStopped       = "session:stopped"
	TopicViolationNew         = "violation:new"
	TopicReconciliationNeeded = "reconciliation:needed"
)

// PublicTopics are the topics bridged to downstream websocket subscribers.
func PublicTopics() []string {
	return []string{
		TopicSessionStarted,
		TopicSessionUpdated,
		TopicSessionStopped,
		TopicViolationNew,
	}
}

// ActiveSession is the cache and bus projection of a live session: the
// session row joined with the display fields subscribers render.
type ActiveSession struct {
	Session

	Username   string `json:"username"`
	UserThumb  string `json:"user_thumb,omitempty"`
	ServerName string `json:"server_name"`
}

// SessionStoppedEvent is the payload on TopicSessionStopped. Only the id is
// carried; subscribers holding the cached projection evict by id.
type SessionStoppedEvent struct {
	SessionID string    `json:"session_id"`
	StoppedAt time.Time `json:"stopped_at"`
}

// ReconciliationEvent asks the poller for a one-shot poll of one server.
type ReconciliationEvent struct {
	ServerID string `json:"server_id"`
	Reason   string `json:"reason,omitempty"`
}

// PushEventKind is the notification kind a server push stream emits.
type PushEventKind string

const (
	PushPlaying  PushEventKind = "playing"
	PushPaused   PushEventKind = "paused"
	PushStopped  PushEventKind = "stopped"
	PushProgress PushEventKind = "progress"
)

// PushEvent is one server-push notification, already mapped from the
// variant-specific wire format by the stream client.
type PushEvent struct {
	ServerID   string        `json:"server_id"`
	Kind       PushEventKind `json:"kind"`
	SessionKey string        `json:"session_key"`
	RatingKey  *string       `json:"rating_key,omitempty"`
	ProgressMs *int64        `json:"progress_ms,omitempty"`
	ReceivedAt time.Time     `json:"received_at"`
}
