// StreamSentry - Media Server Session Lifecycle and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamsentry

package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/streamsentry/internal/database"
	"github.com/tomtom215/streamsentry/internal/logging"
	"github.com/tomtom215/streamsentry/internal/models"
	"github.com/tomtom215/streamsentry/internal/websocket"
)

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz reports ready only when both backing stores answer.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	checks := map[string]string{"database": "ok", "cache": "ok"}
	status := http.StatusOK

	if err := s.store.Ping(ctx); err != nil {
		checks["database"] = err.Error()
		status = http.StatusServiceUnavailable
	}
	if err := s.cache.Ping(ctx); err != nil {
		checks["cache"] = err.Error()
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, checks)
}

type activeSessionsResponse struct {
	Sessions []models.ActiveSession `json:"sessions"`
	Count    int                    `json:"count"`
}

func (s *Server) handleActiveSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.cache.ActiveSessions(r.Context())
	if err != nil {
		logging.Error().
			Str("component", "api").
			Err(err).
			Msg("failed to read active sessions")
		writeError(w, http.StatusInternalServerError, "failed to read active sessions")
		return
	}
	if sessions == nil {
		sessions = []models.ActiveSession{}
	}
	writeJSON(w, http.StatusOK, activeSessionsResponse{Sessions: sessions, Count: len(sessions)})
}

func (s *Server) handleListViolations(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	page, err := s.store.ListViolations(r.Context(), r.URL.Query().Get("cursor"), limit)
	if err != nil {
		if errors.Is(err, database.ErrInvalidCursor) {
			writeError(w, http.StatusBadRequest, "invalid cursor")
			return
		}
		logging.Error().
			Str("component", "api").
			Err(err).
			Msg("failed to list violations")
		writeError(w, http.StatusInternalServerError, "failed to list violations")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleViolationDetail(w http.ResponseWriter, r *http.Request) {
	detail, err := s.store.ViolationDetailByID(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, "violation not found")
		return
	}
	if err != nil {
		logging.Error().
			Str("component", "api").
			Err(err).
			Msg("failed to load violation")
		writeError(w, http.StatusInternalServerError, "failed to load violation")
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// handleAcknowledgeViolation is idempotent: acknowledging twice returns the
// same 200 as the first time.
func (s *Server) handleAcknowledgeViolation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	updated, err := s.store.AcknowledgeViolation(r.Context(), id, time.Now().UTC())
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, "violation not found")
		return
	}
	if err != nil {
		logging.Error().
			Str("component", "api").
			Err(err).
			Msg("failed to acknowledge violation")
		writeError(w, http.StatusInternalServerError, "failed to acknowledge violation")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"acknowledged":         true,
		"already_acknowledged": !updated,
	})
}

type trustResponse struct {
	ServerUserID string `json:"server_user_id"`
	Username     string `json:"username"`
	TrustScore   int    `json:"trust_score"`
}

func (s *Server) handleTrustScore(w http.ResponseWriter, r *http.Request) {
	user, err := s.store.FindServerUserByID(r.Context(), chi.URLParam(r, "serverUserID"))
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, "server user not found")
		return
	}
	if err != nil {
		logging.Error().
			Str("component", "api").
			Err(err).
			Msg("failed to load server user")
		writeError(w, http.StatusInternalServerError, "failed to load server user")
		return
	}
	writeJSON(w, http.StatusOK, trustResponse{
		ServerUserID: user.ID,
		Username:     user.Username,
		TrustScore:   user.TrustScore,
	})
}

// handleDashboard serves the cached aggregates, falling back to a direct
// computation when the cache entry is cold.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	stats, err := s.cache.DashboardStats(r.Context())
	if err == nil {
		writeJSON(w, http.StatusOK, stats)
		return
	}

	stats, err = s.store.ComputeDashboardStats(r.Context())
	if err != nil {
		logging.Error().
			Str("component", "api").
			Err(err).
			Msg("failed to compute dashboard stats")
		writeError(w, http.StatusInternalServerError, "failed to compute dashboard stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWS(s.hub, w, r)
}
