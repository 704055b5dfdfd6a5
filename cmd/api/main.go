package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/p2pex-backend/api/routes"
	"github.com/angelmondragon/p2pex-backend/internal/ledger"
	"github.com/angelmondragon/p2pex-backend/internal/notifications"
	"github.com/angelmondragon/p2pex-backend/internal/orders"
	"github.com/angelmondragon/p2pex-backend/internal/tasks"
	"github.com/angelmondragon/p2pex-backend/pkg/config"
	"github.com/angelmondragon/p2pex-backend/pkg/db"
	"github.com/angelmondragon/p2pex-backend/pkg/instance"
	"github.com/angelmondragon/p2pex-backend/pkg/logger"
	"github.com/angelmondragon/p2pex-backend/pkg/metrics"
	"github.com/angelmondragon/p2pex-backend/pkg/migrate"
	"github.com/angelmondragon/p2pex-backend/pkg/outbox"
	"github.com/angelmondragon/p2pex-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "api"

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	ledgerService, err := ledger.NewService(
		ledger.NewRepository(dbClient.DB()),
		dbClient,
		metrics.NewLedgerMetrics(registry),
	)
	requireResource(logg, "ledger service", err)

	// With outbox notifications on, the notification worker relays Pub/Sub
	// deliveries onto the Redis channel; otherwise the API publishes there
	// directly. Never both, or sockets see every event twice.
	var sink notifications.Notifier
	if cfg.FeatureFlags.OutboxNotification {
		sink, err = notifications.NewOutboxNotifier(dbClient, outbox.NewService(outbox.NewRepository(dbClient.DB()), logg))
		requireResource(logg, "outbox notifier", err)
	} else {
		sink, err = notifications.NewRedisNotifier(redisClient, cfg.Eventing.NotificationChannel)
		requireResource(logg, "redis notifier", err)
	}
	dispatcher := notifications.NewDispatcher(logg, sink)

	limits, err := cfg.Orders.AmountLimits()
	requireResource(logg, "order limits", err)
	ordersService, err := orders.NewService(orders.ServiceParams{
		Repository: orders.NewRepository(dbClient.DB()),
		Tx:         dbClient,
		Ledger:     ledgerService,
		Events:     dispatcher,
		Logger:     logg,
		Metrics:    metrics.NewOrderMetrics(registry),
		Limits:     limits,
	})
	requireResource(logg, "orders service", err)

	location, err := cfg.Tasks.Location()
	requireResource(logg, "task timezone", err)
	tasksService, err := tasks.NewService(tasks.ServiceParams{
		Repository: tasks.NewRepository(dbClient.DB()),
		Tx:         dbClient,
		Ledger:     ledgerService,
		Events:     dispatcher,
		Logger:     logg,
		Metrics:    metrics.NewTaskMetrics(registry),
		Location:   location,
	})
	requireResource(logg, "tasks service", err)

	hub, err := notifications.NewHub(notifications.HubOptions{
		Access:         ordersService,
		Logger:         logg,
		AllowedOrigins: cfg.WebSocket.Origins(),
		PingInterval:   cfg.WebSocket.PingInterval,
	})
	requireResource(logg, "websocket hub", err)

	relay, err := notifications.NewRelay(redisClient, cfg.Eventing.NotificationChannel, hub, logg)
	requireResource(logg, "notification relay", err)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"addr":        addr,
		"instance":    instance.GetID(),
		"serviceKind": cfg.Service.Kind,
	})

	go func() {
		if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logg.Error(ctx, "notification relay stopped", err)
		}
	}()

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
			ledgerService,
			ordersService,
			tasksService,
			hub,
		),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(shutdownCtx, "api server shutdown failed", err)
		}
	}()

	logg.Info(ctx, "starting api server")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "api server shutting down gracefully")
}

func requireResource(logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(context.Background(), "failed to create "+resource, err)
	os.Exit(1)
}
