// StreamSentry - Media Server Session Lifecycle and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamsentry

// Package main is the StreamSentry server entry point.
//
// StreamSentry watches sessions on Plex, Jellyfin, and Emby servers,
// maintains an exactly-once session lifecycle in PostgreSQL, evaluates
// policy rules against live activity, and broadcasts session and violation
// events to websocket subscribers.
//
// # Startup order
//
//  1. Configuration: koanf layers (defaults, YAML file, STREAMSENTRY_ env)
//  2. Logging: zerolog, level and format from configuration
//  3. PostgreSQL: pgx pool plus embedded migrations
//  4. Redis: active-session projection, pub/sub bus, create locks
//  5. NATS (optional): durable violation notification queue, embedded or
//     external
//  6. Observers: one poller per server, plus push streams where supported
//  7. HTTP API: health, metrics, projections, websocket feed
//
// Everything after configuration runs under a suture supervisor tree; a
// crashing observer restarts with backoff without taking the API down.
//
// # Configuration
//
// Monitored servers must be configured; everything else has defaults:
//
//	servers:
//	  - name: den
//	    variant: plex
//	    url: http://localhost:32400
//	    token: your-plex-token
//	database:
//	  url: postgres://streamsentry@localhost/streamsentry
//
// Shorthand environment overrides are supported, e.g. STREAMSENTRY_PORT,
// STREAMSENTRY_DATABASE_URL, STREAMSENTRY_POLL_INTERVAL, STREAMSENTRY_LOG_LEVEL.
//
// # Signal handling
//
// SIGINT and SIGTERM cancel the root context; the supervisor tree drains,
// the HTTP server gets a 10s graceful shutdown, then the queue, cache, and
// pool close.
package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/streamsentry/internal/api"
	"github.com/tomtom215/streamsentry/internal/cache"
	"github.com/tomtom215/streamsentry/internal/config"
	"github.com/tomtom215/streamsentry/internal/database"
	"github.com/tomtom215/streamsentry/internal/detection"
	"github.com/tomtom215/streamsentry/internal/lifecycle"
	"github.com/tomtom215/streamsentry/internal/logging"
	"github.com/tomtom215/streamsentry/internal/mediaserver"
	"github.com/tomtom215/streamsentry/internal/models"
	"github.com/tomtom215/streamsentry/internal/notify"
	"github.com/tomtom215/streamsentry/internal/stats"
	"github.com/tomtom215/streamsentry/internal/supervisor"
	syncpkg "github.com/tomtom215/streamsentry/internal/sync"
	"github.com/tomtom215/streamsentry/internal/violations"
	ws "github.com/tomtom215/streamsentry/internal/websocket"
)

const pushEventBuffer = 256

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Timestamp: true,
	})

	logging.Info().
		Int("servers", len(cfg.Servers)).
		Dur("poll_interval", cfg.Sync.PollInterval).
		Bool("push_enabled", cfg.Sync.PushEnabled).
		Bool("nats_enabled", cfg.NATS.Enabled).
		Msg("starting streamsentry")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.New(ctx, database.Config{
		URL:      cfg.Database.URL,
		MaxConns: int32(cfg.Database.MaxConns),
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		logging.Fatal().Err(err).Msg("failed to run migrations")
	}

	projections, err := cache.New(ctx, cache.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer func() {
		if err := projections.Close(); err != nil {
			logging.Error().Err(err).Msg("error closing redis client")
		}
	}()

	enqueuer, cleanupNotify := buildNotifyQueue(ctx, cfg)
	defer cleanupNotify()

	engine := detection.NewEngine()
	recorder := violations.NewRecorder(db, projections, enqueuer)
	core := lifecycle.New(db, projections, engine, recorder)

	mediaserver.SetRequestTimeout(cfg.Sync.AdapterTimeout)
	servers, adapters := buildAdapters(ctx, cfg, db)

	tree := supervisor.NewTree(supervisor.DefaultConfig())

	hub := ws.NewHub()
	tree.AddObserver(hub)
	tree.AddObserver(ws.NewBridge(projections, hub))

	manager := syncpkg.NewManager(db, projections, core, servers, adapters, syncpkg.Config{
		PollInterval: cfg.Sync.PollInterval,
	})
	tree.AddObserver(manager)

	if cfg.Sync.PushEnabled {
		events := make(chan models.PushEvent, pushEventBuffer)
		tree.AddObserver(syncpkg.NewPushProcessor(db, projections, core, servers, adapters, events))
		for _, srv := range servers {
			if srv.Variant == models.VariantPlex {
				tree.AddObserver(mediaserver.NewPlexPushStream(srv, events))
			}
		}
	}

	statsCfg := stats.Config{
		Enabled:         cfg.Stats.Enabled,
		RefreshInterval: cfg.Stats.RefreshInterval,
		TrustQuietDays:  cfg.Trust.QuietDays,
	}
	if cfg.Trust.RecoveryEnabled {
		statsCfg.TrustRecoveryPointsPerDay = cfg.Trust.RecoveryPointsPerDay
	}
	tree.AddObserver(stats.NewAggregator(db, projections, statsCfg))

	apiServer := api.NewServer(db, projections, hub, api.Config{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		CORSOrigins:  cfg.Server.CORSOrigins,
		RateLimitRPM: cfg.Server.RateLimitRPM,
	})
	tree.AddAPI(supervisor.NewHTTPService(apiServer.HTTPServer(), 10*time.Second))

	logging.Info().
		Str("addr", apiServer.HTTPServer().Addr).
		Msg("supervisor tree starting")

	errCh := tree.Root().ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("shutdown signal received")
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("supervisor tree exited with error")
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("supervisor tree exited unexpectedly")
		}
	}

	logging.Info().Msg("streamsentry stopped")
}

// buildNotifyQueue wires the violation notification queue. With NATS off the
// recorder gets a no-op enqueuer; violations are still persisted and
// broadcast, only durable notifications are skipped.
func buildNotifyQueue(ctx context.Context, cfg *config.Config) (violations.Enqueuer, func()) {
	if !cfg.NATS.Enabled {
		logging.Info().Msg("nats disabled, violation notifications off")
		return notify.Disabled{}, func() {}
	}

	natsCfg := notify.NATSConfig{
		URL:      cfg.NATS.URL,
		Embedded: cfg.NATS.Embedded,
		StoreDir: cfg.NATS.StoreDir,
	}

	var embedded *notify.EmbeddedServer
	if cfg.NATS.Embedded {
		var err error
		embedded, err = notify.StartEmbeddedServer(natsCfg)
		if err != nil {
			logging.Fatal().Err(err).Msg("failed to start embedded nats server")
		}
		natsCfg.URL = embedded.ClientURL()
	}

	publisher, err := notify.NewNATSPublisher(ctx, natsCfg)
	if err != nil {
		if embedded != nil {
			embedded.Shutdown()
		}
		logging.Fatal().Err(err).Msg("failed to connect to nats")
	}

	queue := notify.NewQueue(publisher)
	cleanup := func() {
		if err := queue.Close(); err != nil {
			logging.Error().Err(err).Msg("error closing notification queue")
		}
		if embedded != nil {
			embedded.Shutdown()
		}
	}
	return queue, cleanup
}

// buildAdapters registers every configured server and constructs its API
// client. Server ids are derived from the name so config edits keep hitting
// the same rows.
func buildAdapters(ctx context.Context, cfg *config.Config, db *database.DB) ([]models.Server, map[string]mediaserver.Client) {
	servers := make([]models.Server, 0, len(cfg.Servers))
	adapters := make(map[string]mediaserver.Client, len(cfg.Servers))

	for _, sc := range cfg.Servers {
		srv := models.Server{
			ID:      uuid.NewSHA1(uuid.NameSpaceURL, []byte("streamsentry/server/"+sc.Name)).String(),
			Name:    sc.Name,
			Variant: models.ServerVariant(sc.Variant),
			URL:     sc.URL,
			Token:   sc.Token,
		}
		if err := db.UpsertServer(ctx, &srv); err != nil {
			logging.Fatal().Err(err).Str("server", srv.Name).Msg("failed to register server")
		}

		client, err := mediaserver.NewClient(srv, nil)
		if err != nil {
			logging.Fatal().Err(err).Str("server", srv.Name).Msg("failed to build adapter")
		}
		adapters[srv.ID] = client
		servers = append(servers, srv)

		logging.Info().
			Str("server", srv.Name).
			Str("variant", string(srv.Variant)).
			Str("url", srv.URL).
			Msg("media server configured")
	}

	return servers, adapters
}
