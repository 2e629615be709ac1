// StreamSentry - Media Server Session Lifecycle and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamsentry

// Package supervisor builds the suture tree the runtime runs under. Two
// layers isolate failures: a crash-looping observer never takes the API
// down, and vice versa.
package supervisor

import (
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/tomtom215/streamsentry/internal/logging"
)

// Config tunes restart behavior for every supervisor in the tree.
type Config struct {
	FailureThreshold float64
	FailureDecay     float64
	FailureBackoff   time.Duration
	ShutdownTimeout  time.Duration
}

// DefaultConfig mirrors suture's own defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5.0,
		FailureDecay:     30.0,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Tree is the two-layer supervision tree: observers (poller, push streams,
// push processor, aggregator, bridge, hub) and api (HTTP server).
type Tree struct {
	root      *suture.Supervisor
	observers *suture.Supervisor
	api       *suture.Supervisor
}

// NewTree builds the tree. Supervisor events log through the slog bridge
// onto zerolog.
func NewTree(cfg Config) *Tree {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5.0
	}
	if cfg.FailureDecay == 0 {
		cfg.FailureDecay = 30.0
	}
	if cfg.FailureBackoff == 0 {
		cfg.FailureBackoff = 15 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	handler := &sutureslog.Handler{Logger: logging.NewSlogLogger()}
	rootSpec := suture.Spec{
		EventHook:        handler.MustHook(),
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	}
	childSpec := suture.Spec{
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	}

	root := suture.New("streamsentry", rootSpec)
	observers := suture.New("observers", childSpec)
	api := suture.New("api", childSpec)
	root.Add(observers)
	root.Add(api)

	return &Tree{root: root, observers: observers, api: api}
}

// Root returns the root supervisor to run with ServeBackground.
func (t *Tree) Root() *suture.Supervisor { return t.root }

// AddObserver supervises a service in the observers layer.
func (t *Tree) AddObserver(s suture.Service) suture.ServiceToken {
	return t.observers.Add(s)
}

// AddAPI supervises a service in the api layer.
func (t *Tree) AddAPI(s suture.Service) suture.ServiceToken {
	return t.api.Add(s)
}
