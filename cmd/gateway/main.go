package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/nats-io/nats.go"

	"github.com/nimbuspos/dispatchboard/internal/adapters/feed"
	"github.com/nimbuspos/dispatchboard/internal/adapters/http"
	natsadapter "github.com/nimbuspos/dispatchboard/internal/adapters/nats"
	"github.com/nimbuspos/dispatchboard/internal/adapters/postgres"
	"github.com/nimbuspos/dispatchboard/internal/adapters/upstream"
	"github.com/nimbuspos/dispatchboard/internal/adapters/valkey"
	"github.com/nimbuspos/dispatchboard/internal/core/ports"
	"github.com/nimbuspos/dispatchboard/internal/core/usecases"
	"github.com/nimbuspos/dispatchboard/internal/pkg/config"
	"github.com/nimbuspos/dispatchboard/internal/pkg/logging"
	"github.com/nimbuspos/dispatchboard/internal/pkg/telemetry"
)

func main() {
	cfg, err := config.Load("dispatchboard-gateway")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	// Structured logging
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	logging.Setup(logLevel, "json")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Telemetry
	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.TempoAddr)
		if err != nil {
			slog.Warn("telemetry init failed", "error", err)
		} else {
			defer shutdown()
		}
	}

	// Database. The gateway runs without one: the history trail and the
	// decision audit simply stay off.
	var db *postgres.DB
	var history ports.RiderLocationRepository
	var audit ports.OrderEventRepository
	if db, err = postgres.New(ctx, cfg.Database.DSN()); err != nil {
		slog.Warn("database unavailable, history and audit disabled", "error", err)
		db = nil
	} else {
		defer db.Close()
		history = postgres.NewRiderLocationRepo(db)
		audit = postgres.NewOrderEventRepo(db)
	}

	// Cache
	var cache *valkey.Cache
	var prefs ports.CacheService
	if cache, err = valkey.New(cfg.Valkey.Addr); err != nil {
		slog.Warn("valkey unavailable, preferences are session-local", "error", err)
		cache = nil
	} else {
		defer cache.Close()
		prefs = cache
	}

	// NATS delta publisher + raw connection for the view relays
	var publisher ports.EventPublisher
	var natsConn *nats.Conn
	pub, err := natsadapter.NewPublisher(cfg.NATS.URL)
	if err != nil {
		slog.Warn("nats unavailable, view sessions see snapshots only", "error", err)
	} else {
		defer pub.Close()
		publisher = pub
		if natsConn, err = natsadapter.RawConn(cfg.NATS.URL); err != nil {
			slog.Warn("nats relay conn unavailable", "error", err)
		}
	}

	// Upstream platform
	session := upstream.StaticSession{Token: cfg.Upstream.Token, ClientID: cfg.Upstream.ClientID}
	api := upstream.New(cfg.Upstream.BaseURL, time.Duration(cfg.Upstream.SnapshotTimeout)*time.Second, session)

	locationFeed := feed.NewClient(feed.Options{
		URL:                  cfg.Upstream.WSURL,
		HandshakeTimeout:     cfg.Feeds.Locations.HandshakeTimeoutDuration(),
		ReconnectDelay:       cfg.Feeds.Locations.ReconnectDelayDuration(),
		MaxReconnectAttempts: cfg.Feeds.Locations.MaxReconnectAttempts,
	}, nil, session, slog.Default().With("feed", "locations"))

	orderFeed := feed.NewClient(feed.Options{
		URL:                  cfg.Upstream.WSURL,
		HandshakeTimeout:     cfg.Feeds.Orders.HandshakeTimeoutDuration(),
		ReconnectDelay:       cfg.Feeds.Orders.ReconnectDelayDuration(),
		MaxReconnectAttempts: cfg.Feeds.Orders.MaxReconnectAttempts,
	}, nil, session, slog.Default().With("feed", "orders"))

	// Use cases
	tracker := usecases.NewTrackerService(locationFeed, api, session, publisher, prefs, history, logging.Component("tracker"))
	orders := usecases.NewOrderFeedService(orderFeed, api, api, session, publisher, prefs, audit, logging.Component("orders"))

	if err := tracker.Start(ctx); err != nil {
		slog.Error("tracker start", "error", err)
	}
	defer tracker.Stop()
	if err := orders.Start(ctx); err != nil {
		slog.Error("order feed start", "error", err)
	}
	defer orders.Stop()

	deps := &http.Dependencies{
		Tracker:  tracker,
		Orders:   orders,
		Tracking: cfg.Tracking,
		NATS:     natsConn,
		DB:       db,
		Cache:    cache,
	}

	// Fiber
	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    1024 * 1024, // 1 MB max request body
		AppName:      "DispatchBoard Gateway",
	})
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     "http://localhost:3000, http://localhost:5173",
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: false,
		MaxAge:           3600,
	}))

	http.SetupRoutes(app, deps)

	// Graceful shutdown
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		slog.Info("gateway starting", "addr", addr)
		if err := app.Listen(addr); err != nil {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutdown signal received, draining connections...", "signal", sig.String())

	// Give in-flight requests up to 10s to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}

	slog.Info("gateway stopped")
}
