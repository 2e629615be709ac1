// StreamSentry - Media Server Session Lifecycle and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamsentry

// Package mapper normalizes adapter observations into the canonical
// ProcessedSession shape: quality strings, device and platform names, and
// artwork selection. The lifecycle core consumes only mapper output.
package mapper

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/tomtom215/streamsentry/internal/models"
)

// resolutionNames maps server-reported resolution tokens onto display names.
var resolutionNames = map[string]string{
	"4k":   "4K",
	"2160": "4K",
	"1080": "1080p",
	"720":  "720p",
	"576":  "576p",
	"480":  "480p",
	"sd":   "SD",
}

// platformNames canonicalizes the platform strings the server families
// report. Unlisted values pass through unchanged.
var platformNames = map[string]string{
	"androidtv":  "Android TV",
	"android tv": "Android TV",
	"android":    "Android",
	"tizen":      "Samsung TV",
	"samsung":    "Samsung TV",
	"webos":      "LG TV",
	"roku":       "Roku",
	"tvos":       "Apple TV",
	"apple tv":   "Apple TV",
	"ios":        "iOS",
	"osx":        "macOS",
	"macos":      "macOS",
	"windows":    "Windows",
	"linux":      "Linux",
	"xbox":       "Xbox",
	"playstation": "PlayStation",
	"kodi":       "Kodi",
	"web":        "Web",
}

// deviceNames canonicalizes device strings the same way.
var deviceNames = map[string]string{
	"androidtv":   "Android TV",
	"firetv":      "Fire TV",
	"fire tv":     "Fire TV",
	"appletv":     "Apple TV",
	"samsung":     "Samsung TV",
	"tizen":       "Samsung TV",
	"shield":      "NVIDIA Shield",
	"shield android tv": "NVIDIA Shield",
	"chromecast":  "Chromecast",
}

// Process normalizes one observation. It never fails: unknown inputs
// degrade to passthrough or generic values.
func Process(obs models.ObservedSession) models.ProcessedSession {
	state := obs.State
	if !state.Valid() || state == models.StateStopped {
		state = models.StatePlaying
	}

	p := models.ProcessedSession{
		SessionKey:     obs.SessionKey,
		ExternalUserID: obs.ExternalUserID,
		Username:       obs.Username,
		UserThumb:      obs.UserThumb,

		RatingKey:     optStr(obs.RatingKey),
		MediaTitle:    obs.MediaTitle,
		MediaType:     models.NormalizeMediaType(obs.MediaType),
		ShowTitle:     optStr(obs.ShowTitle),
		SeasonNumber:  optInt(obs.SeasonNumber),
		EpisodeNumber: optInt(obs.EpisodeNumber),
		Year:          optInt(obs.Year),

		IPAddress: obs.IPAddress,
		Geo:       obs.Geo,

		PlayerName:    obs.PlayerName,
		DeviceID:      optStr(obs.DeviceID),
		Device:        NormalizeDevice(obs.Device),
		Product:       optStr(obs.Product),
		Platform:      NormalizePlatform(obs.Platform),
		Quality:       Quality(obs),
		IsTranscode:   obs.IsTranscode,
		VideoDecision: optStr(obs.VideoDecision),
		AudioDecision: optStr(obs.AudioDecision),
		BitrateKbps:   optInt(obs.BitrateKbps),

		State:           state,
		ProgressMs:      obs.ProgressMs,
		TotalDurationMs: obs.TotalDurationMs,
		LastPausedDate:  obs.LastPausedDate,
	}

	p.ArtworkPath = optStr(artworkFor(p.MediaType, obs))
	return p
}

// Quality derives the display quality string, by preference: the server's
// resolution token, then raw dimensions, then bitrate, then the transcode
// decision alone.
func Quality(obs models.ObservedSession) string {
	if name := normalizeResolution(obs.Resolution); name != "" {
		return name
	}
	if name := resolutionFromDimensions(obs.Width, obs.Height); name != "" {
		return name
	}
	if obs.BitrateKbps > 0 {
		mbps := int(math.Round(float64(obs.BitrateKbps) / 1000.0))
		if mbps < 1 {
			mbps = 1
		}
		return fmt.Sprintf("%dMbps", mbps)
	}
	if obs.IsTranscode {
		return "Transcoding"
	}
	return "Direct"
}

func normalizeResolution(token string) string {
	token = strings.ToLower(strings.TrimSpace(token))
	if token == "" {
		return ""
	}
	if name, ok := resolutionNames[token]; ok {
		return name
	}
	// Tokens like "1080p" or "4K" arrive with suffixes on some servers.
	trimmed := strings.TrimSuffix(token, "p")
	if name, ok := resolutionNames[trimmed]; ok {
		return name
	}
	if n, err := strconv.Atoi(trimmed); err == nil {
		return resolutionFromDimensions(0, n)
	}
	return ""
}

// resolutionFromDimensions buckets raw dimensions. Width decides when it is
// known: anamorphic and widescreen sources report heights (804, 816, 1040)
// that would land a 1920-wide stream in the wrong bucket.
func resolutionFromDimensions(width, height int) string {
	larger := width
	if height > larger {
		larger = height
	}
	if larger <= 0 {
		return ""
	}

	if width > 0 {
		switch {
		case width >= 3000:
			return "4K"
		case width >= 1800:
			return "1080p"
		case width >= 1200:
			return "720p"
		default:
			return "SD"
		}
	}

	switch {
	case height >= 2000:
		return "4K"
	case height >= 1000:
		return "1080p"
	case height >= 700:
		return "720p"
	case height >= 570:
		return "576p"
	case height >= 470:
		return "480p"
	default:
		return "SD"
	}
}

// NormalizePlatform canonicalizes a platform string.
func NormalizePlatform(platform string) string {
	if name, ok := platformNames[strings.ToLower(strings.TrimSpace(platform))]; ok {
		return name
	}
	return platform
}

// NormalizeDevice canonicalizes a device string.
func NormalizeDevice(device string) string {
	if name, ok := deviceNames[strings.ToLower(strings.TrimSpace(device))]; ok {
		return name
	}
	return device
}

// artworkFor picks the artwork path for the media type: episodes show their
// show's poster, live TV the channel logo, music the track art.
func artworkFor(mediaType models.MediaType, obs models.ObservedSession) string {
	switch mediaType {
	case models.MediaEpisode:
		if obs.ShowThumb != "" {
			return obs.ShowThumb
		}
	case models.MediaLive:
		if obs.ChannelThumb != "" {
			return obs.ChannelThumb
		}
	case models.MediaTrack:
		if obs.TrackArt != "" {
			return obs.TrackArt
		}
	}
	return obs.Thumb
}

func optStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optInt(n int) *int {
	if n == 0 {
		return nil
	}
	return &n
}
