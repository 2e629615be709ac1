// StreamSentry - Media Server Session Lifecycle and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamsentry

package mediaserver

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/streamsentry/internal/models"
)

// ticksPerMs converts jellyfin/emby 100ns ticks to milliseconds.
const ticksPerMs = 10_000

// JellyfinClient talks to one jellyfin server.
type JellyfinClient struct {
	http     *httpClient
	server   models.Server
	resolver GeoResolver
}

// NewJellyfinClient builds a jellyfin adapter. Auth rides X-Emby-Token,
// which jellyfin kept for emby compatibility.
func NewJellyfinClient(server models.Server, resolver GeoResolver) *JellyfinClient {
	return &JellyfinClient{
		http:     newHTTPClient(server, "X-Emby-Token"),
		server:   server,
		resolver: resolver,
	}
}

// Variant implements Client.
func (c *JellyfinClient) Variant() models.ServerVariant { return models.VariantJellyfin }

// jellyfinSession is the subset of /Sessions the mapper consumes. Emby's
// session shape is close enough that the emby client reuses it.
type jellyfinSession struct {
	ID             string     `json:"Id"`
	UserID         string     `json:"UserId"`
	UserName       string     `json:"UserName"`
	RemoteEndPoint string     `json:"RemoteEndPoint"`
	DeviceName     string     `json:"DeviceName"`
	DeviceID       string     `json:"DeviceId"`
	Client         string     `json:"Client"`
	LastPausedDate *time.Time `json:"LastPausedDate"`

	NowPlayingItem *struct {
		ID                string `json:"Id"`
		Name              string `json:"Name"`
		Type              string `json:"Type"`
		SeriesName        string `json:"SeriesName"`
		ParentIndexNumber int    `json:"ParentIndexNumber"`
		IndexNumber       int    `json:"IndexNumber"`
		ProductionYear    int    `json:"ProductionYear"`
		RunTimeTicks      int64  `json:"RunTimeTicks"`
		SeriesID          string `json:"SeriesId"`

		ImageTags struct {
			Primary string `json:"Primary"`
		} `json:"ImageTags"`
		SeriesPrimaryImageTag string `json:"SeriesPrimaryImageTag"`
	} `json:"NowPlayingItem"`

	PlayState *struct {
		PositionTicks int64  `json:"PositionTicks"`
		IsPaused      bool   `json:"IsPaused"`
		PlayMethod    string `json:"PlayMethod"`
	} `json:"PlayState"`

	TranscodingInfo *struct {
		Width         int    `json:"Width"`
		Height        int    `json:"Height"`
		Bitrate       int    `json:"Bitrate"`
		IsVideoDirect bool   `json:"IsVideoDirect"`
		IsAudioDirect bool   `json:"IsAudioDirect"`
		Container     string `json:"Container"`
	} `json:"TranscodingInfo"`
}

// GetSessions implements Client.
func (c *JellyfinClient) GetSessions(ctx context.Context) ([]models.ObservedSession, error) {
	var sessions []jellyfinSession
	if err := c.http.getJSON(ctx, "sessions", "/Sessions", nil, &sessions); err != nil {
		return nil, fmt.Errorf("jellyfin sessions: %w", err)
	}
	return c.mapSessions(ctx, sessions, "jellyfin"), nil
}

func (c *JellyfinClient) mapSessions(ctx context.Context, sessions []jellyfinSession, platform string) []models.ObservedSession {
	return mapEmbyFamilySessions(ctx, sessions, platform, c.resolver)
}

// mapEmbyFamilySessions maps the shared jellyfin/emby session shape.
// Sessions without a playing item are idle connections and are skipped.
func mapEmbyFamilySessions(ctx context.Context, sessions []jellyfinSession, platform string, resolver GeoResolver) []models.ObservedSession {
	out := make([]models.ObservedSession, 0, len(sessions))
	for _, s := range sessions {
		if s.NowPlayingItem == nil || s.PlayState == nil {
			continue
		}
		item := s.NowPlayingItem

		obs := models.ObservedSession{
			SessionKey:     s.ID,
			ExternalUserID: s.UserID,
			Username:       s.UserName,

			RatingKey:  item.ID,
			MediaTitle: item.Name,
			MediaType:  item.Type,

			ShowTitle:     item.SeriesName,
			SeasonNumber:  item.ParentIndexNumber,
			EpisodeNumber: item.IndexNumber,
			Year:          item.ProductionYear,

			IPAddress: s.RemoteEndPoint,

			PlayerName: s.Client,
			DeviceID:   s.DeviceID,
			Device:     s.DeviceName,
			Platform:   platform,

			ProgressMs:      s.PlayState.PositionTicks / ticksPerMs,
			TotalDurationMs: item.RunTimeTicks / ticksPerMs,

			LastPausedDate: s.LastPausedDate,
		}

		if item.ImageTags.Primary != "" {
			obs.Thumb = "/Items/" + item.ID + "/Images/Primary"
		}
		if item.SeriesPrimaryImageTag != "" && item.SeriesID != "" {
			obs.ShowThumb = "/Items/" + item.SeriesID + "/Images/Primary"
		}

		if s.PlayState.IsPaused {
			obs.State = models.StatePaused
		} else {
			obs.State = models.StatePlaying
		}

		if ti := s.TranscodingInfo; ti != nil {
			obs.Width = ti.Width
			obs.Height = ti.Height
			obs.BitrateKbps = ti.Bitrate / 1000
			obs.IsTranscode = !ti.IsVideoDirect
			if ti.IsVideoDirect {
				obs.VideoDecision = "directplay"
			} else {
				obs.VideoDecision = "transcode"
			}
			if ti.IsAudioDirect {
				obs.AudioDecision = "directplay"
			} else {
				obs.AudioDecision = "transcode"
			}
		} else if s.PlayState.PlayMethod == "Transcode" {
			obs.IsTranscode = true
		}

		obs.Geo = resolver.Resolve(ctx, obs.IPAddress)
		out = append(out, obs)
	}
	return out
}

type embyFamilyUser struct {
	ID              string `json:"Id"`
	Name            string `json:"Name"`
	PrimaryImageTag string `json:"PrimaryImageTag"`
}

func mapEmbyFamilyUsers(users []embyFamilyUser) []models.ObservedUser {
	out := make([]models.ObservedUser, 0, len(users))
	for _, u := range users {
		thumb := ""
		if u.PrimaryImageTag != "" {
			thumb = "/Users/" + u.ID + "/Images/Primary"
		}
		out = append(out, models.ObservedUser{ExternalID: u.ID, Username: u.Name, Thumb: thumb})
	}
	return out
}

// GetUsers implements Client.
func (c *JellyfinClient) GetUsers(ctx context.Context) ([]models.ObservedUser, error) {
	var users []embyFamilyUser
	if err := c.http.getJSON(ctx, "users", "/Users", nil, &users); err != nil {
		return nil, fmt.Errorf("jellyfin users: %w", err)
	}
	return mapEmbyFamilyUsers(users), nil
}

type embyFamilyLibrariesResponse struct {
	Items []struct {
		ID             string `json:"Id"`
		Name           string `json:"Name"`
		CollectionType string `json:"CollectionType"`
	} `json:"Items"`
}

// GetLibraries implements Client.
func (c *JellyfinClient) GetLibraries(ctx context.Context) ([]Library, error) {
	var resp embyFamilyLibrariesResponse
	if err := c.http.getJSON(ctx, "libraries", "/Library/MediaFolders", nil, &resp); err != nil {
		return nil, fmt.Errorf("jellyfin libraries: %w", err)
	}
	out := make([]Library, 0, len(resp.Items))
	for _, i := range resp.Items {
		out = append(out, Library{ID: i.ID, Name: i.Name, Type: i.CollectionType})
	}
	return out, nil
}

// TestConnection implements Client.
func (c *JellyfinClient) TestConnection(ctx context.Context) error {
	if err := c.http.getJSON(ctx, "system", "/System/Info/Public", nil, nil); err != nil {
		return fmt.Errorf("jellyfin connectivity: %w", err)
	}
	return nil
}
