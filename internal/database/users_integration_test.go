// StreamSentry - Media Server Session Lifecycle and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamsentry

//go:build integration

package database

import (
	"context"
	"testing"

	"github.com/tomtom215/streamsentry/internal/models"
	"github.com/tomtom215/streamsentry/internal/testinfra"
)

func setupDB(t *testing.T) *DB {
	t.Helper()
	testinfra.SkipIfNoDocker(t)

	ctx := context.Background()
	pg := testinfra.StartPostgres(ctx, t)

	db, err := New(ctx, Config{URL: pg.DSN})
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	t.Cleanup(db.Close)
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func (d *DB) identityCount(ctx context.Context, t *testing.T) int {
	t.Helper()
	var n int
	if err := d.pool.QueryRow(ctx, `SELECT count(*) FROM users`).Scan(&n); err != nil {
		t.Fatalf("count users: %v", err)
	}
	return n
}

// The poller re-ensures every observed user each tick; known users must be
// refreshed in place, never given a second identity row.
func TestEnsureServerUsersKeepsOneIdentityPerUser(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	server := models.Server{
		ID:      "77777777-7777-7777-7777-777777777777",
		Name:    "den",
		Variant: models.VariantPlex,
		URL:     "http://localhost:32400",
		Token:   "token",
	}
	if err := db.UpsertServer(ctx, &server); err != nil {
		t.Fatalf("upsert server: %v", err)
	}

	observed := []models.ObservedUser{{ExternalID: "ext-7", Username: "alice"}}
	first, err := db.EnsureServerUsers(ctx, server.ID, observed)
	if err != nil {
		t.Fatalf("first ensure: %v", err)
	}
	alice, ok := first["ext-7"]
	if !ok {
		t.Fatal("ensured user missing from map")
	}

	for i := 0; i < 3; i++ {
		if _, err := db.EnsureServerUsers(ctx, server.ID, observed); err != nil {
			t.Fatalf("re-ensure %d: %v", i, err)
		}
	}
	if n := db.identityCount(ctx, t); n != 1 {
		t.Fatalf("identity rows = %d after repeated ensures, want 1", n)
	}

	// A rename and new avatar refresh the existing rows.
	renamed, err := db.EnsureServerUsers(ctx, server.ID, []models.ObservedUser{
		{ExternalID: "ext-7", Username: "alicia", Thumb: "/avatar"},
	})
	if err != nil {
		t.Fatalf("refresh ensure: %v", err)
	}
	got, ok := renamed["ext-7"]
	if !ok {
		t.Fatal("refreshed user missing from map")
	}
	if got.ID != alice.ID || got.UserID != alice.UserID {
		t.Errorf("ensure must reuse rows: got (%s,%s), want (%s,%s)",
			got.ID, got.UserID, alice.ID, alice.UserID)
	}
	if got.Username != "alicia" {
		t.Errorf("username = %s, want alicia", got.Username)
	}
	if got.Thumb == nil || *got.Thumb != "/avatar" {
		t.Errorf("thumb = %v, want /avatar", got.Thumb)
	}
	if n := db.identityCount(ctx, t); n != 1 {
		t.Errorf("identity rows = %d after refresh, want 1", n)
	}
}

// Two pollers observing the same new user at once must converge on one pair
// of rows; the loser's identity insert rolls back with its transaction.
func TestEnsureServerUsersConcurrentFirstObservation(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	server := models.Server{
		ID:      "88888888-8888-8888-8888-888888888888",
		Name:    "den",
		Variant: models.VariantPlex,
		URL:     "http://localhost:32400",
		Token:   "token",
	}
	if err := db.UpsertServer(ctx, &server); err != nil {
		t.Fatalf("upsert server: %v", err)
	}

	observed := []models.ObservedUser{{ExternalID: "ext-9", Username: "bob"}}

	const ensurers = 8
	done := make(chan error, ensurers)
	for i := 0; i < ensurers; i++ {
		go func() {
			_, err := db.EnsureServerUsers(ctx, server.ID, observed)
			done <- err
		}()
	}
	for i := 0; i < ensurers; i++ {
		if err := <-done; err != nil {
			t.Fatalf("concurrent ensure: %v", err)
		}
	}

	if n := db.identityCount(ctx, t); n != 1 {
		t.Errorf("identity rows = %d, want 1", n)
	}
	var serverUsers int
	if err := db.pool.QueryRow(ctx, `SELECT count(*) FROM server_users`).Scan(&serverUsers); err != nil {
		t.Fatalf("count server_users: %v", err)
	}
	if serverUsers != 1 {
		t.Errorf("server_users rows = %d, want 1", serverUsers)
	}
}
