// StreamSentry - Media Server Session Lifecycle and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamsentry

package mediaserver

import (
	"context"
	"fmt"

	"github.com/tomtom215/streamsentry/internal/models"
)

// EmbyClient talks to one emby server. Emby's session wire shape matches
// jellyfin's closely enough to share the mapping; only the path prefix and
// platform label differ.
type EmbyClient struct {
	http     *httpClient
	server   models.Server
	resolver GeoResolver
}

// NewEmbyClient builds an emby adapter.
func NewEmbyClient(server models.Server, resolver GeoResolver) *EmbyClient {
	return &EmbyClient{
		http:     newHTTPClient(server, "X-Emby-Token"),
		server:   server,
		resolver: resolver,
	}
}

// Variant implements Client.
func (c *EmbyClient) Variant() models.ServerVariant { return models.VariantEmby }

// GetSessions implements Client.
func (c *EmbyClient) GetSessions(ctx context.Context) ([]models.ObservedSession, error) {
	var sessions []jellyfinSession
	if err := c.http.getJSON(ctx, "sessions", "/emby/Sessions", nil, &sessions); err != nil {
		return nil, fmt.Errorf("emby sessions: %w", err)
	}
	return mapEmbyFamilySessions(ctx, sessions, "emby", c.resolver), nil
}

// GetUsers implements Client.
func (c *EmbyClient) GetUsers(ctx context.Context) ([]models.ObservedUser, error) {
	var users []embyFamilyUser
	if err := c.http.getJSON(ctx, "users", "/emby/Users", nil, &users); err != nil {
		return nil, fmt.Errorf("emby users: %w", err)
	}
	return mapEmbyFamilyUsers(users), nil
}

// GetLibraries implements Client.
func (c *EmbyClient) GetLibraries(ctx context.Context) ([]Library, error) {
	var resp embyFamilyLibrariesResponse
	if err := c.http.getJSON(ctx, "libraries", "/emby/Library/MediaFolders", nil, &resp); err != nil {
		return nil, fmt.Errorf("emby libraries: %w", err)
	}
	out := make([]Library, 0, len(resp.Items))
	for _, i := range resp.Items {
		out = append(out, Library{ID: i.ID, Name: i.Name, Type: i.CollectionType})
	}
	return out, nil
}

// TestConnection implements Client.
func (c *EmbyClient) TestConnection(ctx context.Context) error {
	if err := c.http.getJSON(ctx, "system", "/emby/System/Info/Public", nil, nil); err != nil {
		return fmt.Errorf("emby connectivity: %w", err)
	}
	return nil
}
