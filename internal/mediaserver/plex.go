// StreamSentry - Media Server Session Lifecycle and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamsentry

package mediaserver

import (
	"context"
	"fmt"
	"strconv"

	"github.com/tomtom215/streamsentry/internal/models"
)

// PlexClient talks to one plex server.
type PlexClient struct {
	http     *httpClient
	server   models.Server
	resolver GeoResolver
}

// NewPlexClient builds a plex adapter. Auth rides the X-Plex-Token header.
func NewPlexClient(server models.Server, resolver GeoResolver) *PlexClient {
	return &PlexClient{
		http:     newHTTPClient(server, "X-Plex-Token"),
		server:   server,
		resolver: resolver,
	}
}

// Variant implements Client.
func (c *PlexClient) Variant() models.ServerVariant { return models.VariantPlex }

// Wire shapes for /status/sessions with Accept: application/json. Only the
// fields the mapper consumes are declared.
type plexSessionsResponse struct {
	MediaContainer struct {
		Metadata []plexSessionMetadata `json:"Metadata"`
	} `json:"MediaContainer"`
}

type plexSessionMetadata struct {
	SessionKey       string `json:"sessionKey"`
	RatingKey        string `json:"ratingKey"`
	Title            string `json:"title"`
	Type             string `json:"type"`
	GrandparentTitle string `json:"grandparentTitle"`
	ParentIndex      int    `json:"parentIndex"`
	Index            int    `json:"index"`
	Year             int    `json:"year"`
	Thumb            string `json:"thumb"`
	GrandparentThumb string `json:"grandparentThumb"`
	ParentThumb      string `json:"parentThumb"`
	Live             int    `json:"live"`
	Duration         int64  `json:"duration"`
	ViewOffset       int64  `json:"viewOffset"`

	User struct {
		ID    string `json:"id"`
		Title string `json:"title"`
		Thumb string `json:"thumb"`
	} `json:"User"`

	Player struct {
		Address  string `json:"address"`
		Device   string `json:"device"`
		Machine  string `json:"machineIdentifier"`
		Platform string `json:"platform"`
		Product  string `json:"product"`
		State    string `json:"state"`
		Title    string `json:"title"`
	} `json:"Player"`

	Media []struct {
		VideoResolution string `json:"videoResolution"`
		Bitrate         int    `json:"bitrate"`
		Width           int    `json:"width"`
		Height          int    `json:"height"`
	} `json:"Media"`

	TranscodeSession *struct {
		VideoDecision string `json:"videoDecision"`
		AudioDecision string `json:"audioDecision"`
	} `json:"TranscodeSession"`
}

// GetSessions implements Client.
func (c *PlexClient) GetSessions(ctx context.Context) ([]models.ObservedSession, error) {
	var resp plexSessionsResponse
	if err := c.http.getJSON(ctx, "sessions", "/status/sessions", nil, &resp); err != nil {
		return nil, fmt.Errorf("plex sessions: %w", err)
	}

	out := make([]models.ObservedSession, 0, len(resp.MediaContainer.Metadata))
	for _, m := range resp.MediaContainer.Metadata {
		obs := models.ObservedSession{
			SessionKey:     m.SessionKey,
			ExternalUserID: m.User.ID,
			Username:       m.User.Title,
			UserThumb:      m.User.Thumb,

			RatingKey:  m.RatingKey,
			MediaTitle: m.Title,
			MediaType:  m.Type,

			ShowTitle:     m.GrandparentTitle,
			SeasonNumber:  m.ParentIndex,
			EpisodeNumber: m.Index,
			Year:          m.Year,

			Thumb:        m.Thumb,
			ShowThumb:    m.GrandparentThumb,
			ChannelThumb: m.ParentThumb,

			IPAddress: m.Player.Address,

			PlayerName: m.Player.Title,
			DeviceID:   m.Player.Machine,
			Device:     m.Player.Device,
			Product:    m.Player.Product,
			Platform:   m.Player.Platform,

			State: plexState(m.Player.State),

			ProgressMs:      m.ViewOffset,
			TotalDurationMs: m.Duration,
		}
		if m.Live == 1 {
			obs.MediaType = "live"
		}
		if len(m.Media) > 0 {
			obs.Resolution = m.Media[0].VideoResolution
			obs.BitrateKbps = m.Media[0].Bitrate
			obs.Width = m.Media[0].Width
			obs.Height = m.Media[0].Height
		}
		if m.TranscodeSession != nil {
			obs.IsTranscode = true
			obs.VideoDecision = m.TranscodeSession.VideoDecision
			obs.AudioDecision = m.TranscodeSession.AudioDecision
		}
		obs.Geo = c.resolver.Resolve(ctx, obs.IPAddress)
		out = append(out, obs)
	}
	return out, nil
}

func plexState(state string) models.SessionState {
	if state == "paused" {
		return models.StatePaused
	}
	return models.StatePlaying
}

type plexAccountsResponse struct {
	MediaContainer struct {
		Account []struct {
			ID    int    `json:"id"`
			Name  string `json:"name"`
			Thumb string `json:"thumb"`
		} `json:"Account"`
	} `json:"MediaContainer"`
}

// GetUsers implements Client.
func (c *PlexClient) GetUsers(ctx context.Context) ([]models.ObservedUser, error) {
	var resp plexAccountsResponse
	if err := c.http.getJSON(ctx, "users", "/accounts", nil, &resp); err != nil {
		return nil, fmt.Errorf("plex accounts: %w", err)
	}
	out := make([]models.ObservedUser, 0, len(resp.MediaContainer.Account))
	for _, a := range resp.MediaContainer.Account {
		out = append(out, models.ObservedUser{
			ExternalID: strconv.Itoa(a.ID),
			Username:   a.Name,
			Thumb:      a.Thumb,
		})
	}
	return out, nil
}

type plexLibrariesResponse struct {
	MediaContainer struct {
		Directory []struct {
			Key   string `json:"key"`
			Title string `json:"title"`
			Type  string `json:"type"`
		} `json:"Directory"`
	} `json:"MediaContainer"`
}

// GetLibraries implements Client.
func (c *PlexClient) GetLibraries(ctx context.Context) ([]Library, error) {
	var resp plexLibrariesResponse
	if err := c.http.getJSON(ctx, "libraries", "/library/sections", nil, &resp); err != nil {
		return nil, fmt.Errorf("plex libraries: %w", err)
	}
	out := make([]Library, 0, len(resp.MediaContainer.Directory))
	for _, d := range resp.MediaContainer.Directory {
		out = append(out, Library{ID: d.Key, Name: d.Title, Type: d.Type})
	}
	return out, nil
}

// TestConnection implements Client.
func (c *PlexClient) TestConnection(ctx context.Context) error {
	if err := c.http.getJSON(ctx, "identity", "/identity", nil, nil); err != nil {
		return fmt.Errorf("plex connectivity: %w", err)
	}
	return nil
}
