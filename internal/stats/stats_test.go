// StreamSentry - Media Server Session Lifecycle and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamsentry

package stats

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNewAggregatorDefaults(t *testing.T) {
	a := NewAggregator(nil, nil, Config{Enabled: true})
	if a.cfg.RefreshInterval != DefaultRefreshInterval {
		t.Errorf("refresh interval = %v, want %v", a.cfg.RefreshInterval, DefaultRefreshInterval)
	}
	if a.cfg.TrustQuietDays != 7 {
		t.Errorf("quiet days = %d, want 7", a.cfg.TrustQuietDays)
	}
}

func TestServeDisabledBlocksUntilCancel(t *testing.T) {
	a := NewAggregator(nil, nil, Config{Enabled: false})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()

	select {
	case err := <-done:
		t.Fatalf("disabled aggregator returned early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestServeRefusesDoubleStart(t *testing.T) {
	a := NewAggregator(nil, nil, Config{Enabled: true})
	a.running.Store(true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()

	// The second instance parks without touching the database (db is nil; a
	// refresh attempt would panic).
	select {
	case err := <-done:
		t.Fatalf("second Serve returned early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	if !a.running.Load() {
		t.Error("parked second instance must not clear the running flag")
	}
}
