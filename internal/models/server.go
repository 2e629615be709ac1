// StreamSentry - Media Server Session Lifecycle and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamsentry

package models

import "time"

// ServerVariant is the media server family a server belongs to.
type ServerVariant string

const (
	VariantPlex     ServerVariant = "plex"
	VariantJellyfin ServerVariant = "jellyfin"
	VariantEmby     ServerVariant = "emby"
)

// Valid reports whether v names a supported server family.
func (v ServerVariant) Valid() bool {
	switch v {
	case VariantPlex, VariantJellyfin, VariantEmby:
		return true
	}
	return false
}

// Server is one monitored media server instance.
type Server struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Variant   ServerVariant `json:"variant"`
	URL       string        `json:"url"`
	Token     string        `json:"-"`
	MachineID *string       `json:"machine_id,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// User is the owning identity a ServerUser maps onto. One person may appear
// on several servers under distinct external ids.
type User struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}

// TrustScoreDefault is the score a new server user starts with.
const TrustScoreDefault = 100

// ServerUser is a user identity as seen by one server. Unique per
// (ServerID, ExternalID). TrustScore stays within [0,100]: violations
// decrement it, maintenance may restore it.
type ServerUser struct {
	ID         string    `json:"id"`
	ServerID   string    `json:"server_id"`
	UserID     string    `json:"user_id"`
	ExternalID string    `json:"external_id"`
	Username   string    `json:"username"`
	Thumb      *string   `json:"thumb,omitempty"`
	TrustScore int       `json:"trust_score"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
