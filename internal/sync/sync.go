// StreamSentry - Media Server Session Lifecycle and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamsentry

// Package sync holds the two observers that drive the lifecycle core: the
// poller (periodic full-snapshot diff per server) and the push processor
// (server-push notifications). Both are convergent against the same core;
// neither owns session state.
package sync

import (
	"context"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/tomtom215/streamsentry/internal/cache"
	"github.com/tomtom215/streamsentry/internal/database"
	"github.com/tomtom215/streamsentry/internal/lifecycle"
	"github.com/tomtom215/streamsentry/internal/logging"
	"github.com/tomtom215/streamsentry/internal/mediaserver"
	"github.com/tomtom215/streamsentry/internal/models"
)

const (
	// DefaultPollInterval is the snapshot cadence when config leaves it unset.
	DefaultPollInterval = 60 * time.Second

	// recentWindowDays bounds the rule-input history loaded for new sessions.
	// The widest detection window is 24h; two days covers it with slack.
	recentWindowDays = 2

	// reconciliationInterval rate-limits one-shot polls per server.
	reconciliationInterval = 10 * time.Second
)

// Config tunes the manager.
type Config struct {
	PollInterval time.Duration
}

// Manager runs the poll loop for every configured server and services
// reconciliation requests from the push processor.
type Manager struct {
	db    *database.DB
	cache *cache.Cache
	core  *lifecycle.Core
	cfg   Config

	servers  map[string]models.Server
	adapters map[string]mediaserver.Client

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
}

// NewManager wires a manager over the given servers and their adapters,
// keyed by server ID.
func NewManager(db *database.DB, c *cache.Cache, core *lifecycle.Core, servers []models.Server, adapters map[string]mediaserver.Client, cfg Config) *Manager {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	byID := make(map[string]models.Server, len(servers))
	for _, s := range servers {
		byID[s.ID] = s
	}
	return &Manager{
		db:       db,
		cache:    c,
		core:     core,
		cfg:      cfg,
		servers:  byID,
		adapters: adapters,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Serve runs until ctx is canceled: an immediate poll, then the ticker loop,
// with reconciliation requests interleaved. Implements suture.Service.
func (m *Manager) Serve(ctx context.Context) error {
	recon, err := m.cache.Subscribe(ctx, models.TopicReconciliationNeeded)
	if err != nil {
		return err
	}

	m.PollAll(ctx)

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.PollAll(ctx)
		case msg, ok := <-recon:
			if !ok {
				return ctx.Err()
			}
			m.handleReconciliation(ctx, msg)
		}
	}
}

func (m *Manager) String() string { return "sync.Manager" }

// PollAll polls every server in parallel and joins before returning.
func (m *Manager) PollAll(ctx context.Context) {
	rules, err := m.db.ActiveRules(ctx)
	if err != nil {
		logging.Error().
			Str("component", "poller").
			Err(err).
			Msg("failed to load active rules; skipping tick")
		return
	}

	var wg sync.WaitGroup
	for id := range m.servers {
		wg.Add(1)
		go func(serverID string) {
			defer wg.Done()
			m.PollServer(ctx, serverID, rules)
		}(id)
	}
	wg.Wait()
}

// handleReconciliation services a reconciliation:needed message: a one-shot
// poll of the named server, rate-limited per server.
func (m *Manager) handleReconciliation(ctx context.Context, msg cache.Message) {
	var ev models.ReconciliationEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		logging.Warn().
			Str("component", "poller").
			Err(err).
			Msg("undecodable reconciliation request dropped")
		return
	}
	if _, ok := m.servers[ev.ServerID]; !ok {
		return
	}
	if !m.reconciliationLimiter(ev.ServerID).Allow() {
		logging.Debug().
			Str("component", "poller").
			Str("server_id", ev.ServerID).
			Msg("reconciliation throttled")
		return
	}

	logging.Info().
		Str("component", "poller").
		Str("server_id", ev.ServerID).
		Str("reason", ev.Reason).
		Msg("reconciliation poll")

	rules, err := m.db.ActiveRules(ctx)
	if err != nil {
		logging.Error().
			Str("component", "poller").
			Err(err).
			Msg("failed to load active rules for reconciliation")
		return
	}
	m.PollServer(ctx, ev.ServerID, rules)
}

func (m *Manager) reconciliationLimiter(serverID string) *rate.Limiter {
	m.limiterMu.Lock()
	defer m.limiterMu.Unlock()
	l, ok := m.limiters[serverID]
	if !ok {
		l = rate.NewLimiter(rate.Every(reconciliationInterval), 1)
		m.limiters[serverID] = l
	}
	return l
}
