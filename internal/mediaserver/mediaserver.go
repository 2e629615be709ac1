// StreamSentry - Media Server Session Lifecycle and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamsentry

// Package mediaserver holds the per-variant adapters for plex, jellyfin,
// and emby: session/user/library listing over HTTP behind a circuit breaker
// and a rate limiter, plus the plex websocket push stream. Adapters produce
// the unified ObservedSession shape and know nothing about the lifecycle.
package mediaserver

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/tomtom215/streamsentry/internal/models"
)

// Client is the adapter surface the observers consume.
type Client interface {
	Variant() models.ServerVariant
	GetSessions(ctx context.Context) ([]models.ObservedSession, error)
	GetUsers(ctx context.Context) ([]models.ObservedUser, error)
	GetLibraries(ctx context.Context) ([]Library, error)
	TestConnection(ctx context.Context) error
}

// Library is one media library on a server.
type Library struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// GeoResolver turns a client IP into a location. Resolution is adapter
// territory; the core consumes the strings verbatim.
type GeoResolver interface {
	Resolve(ctx context.Context, ip string) models.GeoLocation
}

// LocalResolver is the stock resolver: private and loopback addresses map to
// "Local Network" with unknown coordinates, everything else stays
// unresolved. Deployments with a GeoIP database plug their own resolver in.
type LocalResolver struct{}

// Resolve implements GeoResolver.
func (LocalResolver) Resolve(_ context.Context, ip string) models.GeoLocation {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return models.GeoLocation{}
	}
	if parsed.IsLoopback() || parsed.IsPrivate() || parsed.IsLinkLocalUnicast() {
		return models.GeoLocation{City: "Local Network"}
	}
	return models.GeoLocation{}
}

// NewClient builds the adapter for a configured server.
func NewClient(server models.Server, resolver GeoResolver) (Client, error) {
	if resolver == nil {
		resolver = LocalResolver{}
	}
	switch server.Variant {
	case models.VariantPlex:
		return NewPlexClient(server, resolver), nil
	case models.VariantJellyfin:
		return NewJellyfinClient(server, resolver), nil
	case models.VariantEmby:
		return NewEmbyClient(server, resolver), nil
	}
	return nil, fmt.Errorf("unsupported server variant %q", server.Variant)
}
