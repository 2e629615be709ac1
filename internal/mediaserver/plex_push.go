// StreamSentry - Media Server Session Lifecycle and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamsentry

package mediaserver

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/streamsentry/internal/logging"
	"github.com/tomtom215/streamsentry/internal/metrics"
	"github.com/tomtom215/streamsentry/internal/models"
)

const (
	pushHandshakeTimeout = 10 * time.Second
	pushReadDeadline     = 60 * time.Second
	pushPingInterval     = 30 * time.Second
	pushMaxReconnect     = 32 * time.Second
)

// PlexPushStream consumes the plex notification websocket and converts
// playback state notifications into PushEvents. Push is a latency
// optimization over polling; the stream reconnects forever with backoff and
// drops anything it cannot parse.
type PlexPushStream struct {
	server models.Server
	events chan<- models.PushEvent

	connMu sync.RWMutex
	conn   *websocket.Conn
}

// NewPlexPushStream builds a stream that delivers mapped events to events.
// The channel is owned by the caller and never closed by the stream.
func NewPlexPushStream(server models.Server, events chan<- models.PushEvent) *PlexPushStream {
	return &PlexPushStream{server: server, events: events}
}

// Serve connects and pumps notifications until ctx is canceled. Reconnection
// uses exponential backoff from 1s capped at 32s, reset on any successful
// read.
func (p *PlexPushStream) Serve(ctx context.Context) error {
	delay := time.Second
	for {
		if err := p.connect(ctx); err != nil {
			logging.Warn().
				Str("component", "plex_push").
				Str("server", p.server.Name).
				Dur("retry_in", delay).
				Err(err).
				Msg("push stream connect failed")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = min(delay*2, pushMaxReconnect)
			continue
		}
		delay = time.Second

		pingDone := make(chan struct{})
		go p.pingLoop(ctx, pingDone)
		err := p.readLoop(ctx)
		close(pingDone)
		p.closeConn()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		logging.Warn().
			Str("component", "plex_push").
			Str("server", p.server.Name).
			Err(err).
			Msg("push stream disconnected")
	}
}

func (p *PlexPushStream) String() string {
	return "mediaserver.PlexPushStream(" + p.server.Name + ")"
}

func (p *PlexPushStream) connect(ctx context.Context) error {
	wsURL, err := p.streamURL()
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{
		HandshakeTimeout:  pushHandshakeTimeout,
		EnableCompression: true,
	}
	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if resp != nil {
		defer func() { _ = resp.Body.Close() }()
	}
	if err != nil {
		if resp != nil {
			return fmt.Errorf("push dial (http %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("push dial: %w", err)
	}

	p.connMu.Lock()
	p.conn = conn
	p.connMu.Unlock()

	logging.Info().
		Str("component", "plex_push").
		Str("server", p.server.Name).
		Msg("push stream connected")
	return nil
}

// streamURL maps the configured http(s) base to ws(s) and appends the token.
func (p *PlexPushStream) streamURL() (string, error) {
	base, err := url.Parse(p.server.URL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	scheme := "ws"
	if base.Scheme == "https" {
		scheme = "wss"
	}
	u := url.URL{Scheme: scheme, Host: base.Host, Path: "/:/websockets/notifications"}
	q := u.Query()
	q.Set("X-Plex-Token", p.server.Token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (p *PlexPushStream) readLoop(ctx context.Context) error {
	for {
		p.connMu.RLock()
		conn := p.conn
		p.connMu.RUnlock()
		if conn == nil {
			return fmt.Errorf("push stream not connected")
		}

		_ = conn.SetReadDeadline(time.Now().Add(pushReadDeadline))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		p.handleMessage(ctx, message)
	}
}

func (p *PlexPushStream) pingLoop(ctx context.Context, done <-chan struct{}) {
	ticker := time.NewTicker(pushPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			p.connMu.RLock()
			conn := p.conn
			p.connMu.RUnlock()
			if conn == nil {
				return
			}
			deadline := time.Now().Add(pushHandshakeTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

// Plex wraps every notification in a NotificationContainer; only the
// "playing" type carries playback state.
type plexNotificationWrapper struct {
	NotificationContainer struct {
		Type                         string `json:"type"`
		PlaySessionStateNotification []struct {
			SessionKey string `json:"sessionKey"`
			RatingKey  string `json:"ratingKey"`
			State      string `json:"state"`
			ViewOffset int64  `json:"viewOffset"`
		} `json:"PlaySessionStateNotification"`
	} `json:"NotificationContainer"`
}

func (p *PlexPushStream) handleMessage(ctx context.Context, data []byte) {
	var wrapper plexNotificationWrapper
	if err := json.Unmarshal(data, &wrapper); err != nil {
		logging.Debug().
			Str("component", "plex_push").
			Err(err).
			Msg("unparseable push notification dropped")
		return
	}
	container := wrapper.NotificationContainer
	if container.Type != "playing" {
		return
	}

	for _, n := range container.PlaySessionStateNotification {
		kind, ok := mapPlexPushState(n.State)
		if !ok {
			continue
		}
		ev := models.PushEvent{
			ServerID:   p.server.ID,
			Kind:       kind,
			SessionKey: n.SessionKey,
			ReceivedAt: time.Now().UTC(),
		}
		if n.RatingKey != "" {
			rk := n.RatingKey
			ev.RatingKey = &rk
		}
		if n.ViewOffset > 0 || kind == models.PushProgress {
			offset := n.ViewOffset
			ev.ProgressMs = &offset
		}

		metrics.PushEvents.WithLabelValues(string(kind), "received").Inc()
		select {
		case p.events <- ev:
		case <-ctx.Done():
			return
		}
	}
}

// mapPlexPushState folds plex player states onto push kinds. Buffering is a
// progress report, not a state transition.
func mapPlexPushState(state string) (models.PushEventKind, bool) {
	switch state {
	case "playing":
		return models.PushPlaying, true
	case "paused":
		return models.PushPaused, true
	case "stopped":
		return models.PushStopped, true
	case "buffering":
		return models.PushProgress, true
	}
	return "", false
}

func (p *PlexPushStream) closeConn() {
	p.connMu.Lock()
	defer p.connMu.Unlock()
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}
