// StreamSentry - Media Server Session Lifecycle and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamsentry

// Package api is the read-only ops surface: health, metrics, live session
// and violation projections, and the websocket event feed. It owns no
// state; everything it serves comes from the database, the cache, or the
// hub.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/streamsentry/internal/database"
	"github.com/tomtom215/streamsentry/internal/models"
	"github.com/tomtom215/streamsentry/internal/websocket"
)

// Store is the database surface the API reads. *database.DB satisfies it.
type Store interface {
	Ping(ctx context.Context) error
	ListViolations(ctx context.Context, cursor string, limit int) (*database.ViolationPage, error)
	ViolationDetailByID(ctx context.Context, id string) (*models.ViolationDetail, error)
	AcknowledgeViolation(ctx context.Context, id string, at time.Time) (bool, error)
	FindServerUserByID(ctx context.Context, id string) (*models.ServerUser, error)
	ComputeDashboardStats(ctx context.Context) (*models.DashboardStats, error)
}

// Projections is the cache surface the API reads. *cache.Cache satisfies it.
type Projections interface {
	Ping(ctx context.Context) error
	ActiveSessions(ctx context.Context) ([]models.ActiveSession, error)
	DashboardStats(ctx context.Context) (*models.DashboardStats, error)
}

// Config tunes the listener.
type Config struct {
	Host         string
	Port         int
	CORSOrigins  []string
	RateLimitRPM int
}

// Server is the ops API.
type Server struct {
	store Store
	cache Projections
	hub   *websocket.Hub
	cfg   Config
}

// NewServer wires the API.
func NewServer(store Store, cache Projections, hub *websocket.Hub, cfg Config) *Server {
	if cfg.RateLimitRPM <= 0 {
		cfg.RateLimitRPM = 100
	}
	return &Server{store: store, cache: cache, hub: hub, cfg: cfg}
}

// Router assembles the chi router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httprate.LimitByIP(s.cfg.RateLimitRPM, time.Minute))

		r.Get("/sessions/active", s.handleActiveSessions)
		r.Get("/violations", s.handleListViolations)
		r.Get("/violations/{id}", s.handleViolationDetail)
		r.Post("/violations/{id}/ack", s.handleAcknowledgeViolation)
		r.Get("/trust/{serverUserID}", s.handleTrustScore)
		r.Get("/stats/dashboard", s.handleDashboard)
		r.Get("/events/ws", s.handleEvents)
	})

	return r
}

// HTTPServer builds the net/http server for supervision.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
