package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/example/menu-sync/internal/config"
	"github.com/example/menu-sync/internal/events"
	"github.com/example/menu-sync/internal/httpapi"
	"github.com/example/menu-sync/internal/observability"
	"github.com/example/menu-sync/internal/publicview"
	"github.com/example/menu-sync/internal/publish"
	"github.com/example/menu-sync/internal/storage"
	"github.com/example/menu-sync/internal/types"
	"github.com/example/menu-sync/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := observability.NewLogger(cfg.AppName, cfg.LogLevel, cfg.LogPretty)
	observability.RegisterRuntimeCollectors()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetryShutdown, err := observability.Start(ctx, observability.Config{
		ServiceName:  cfg.AppName,
		MetricsAddr:  cfg.MetricsAddr,
		OTLPEndpoint: cfg.OTLPEndpoint,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer telemetryShutdown(context.Background())

	resources, err := config.NewResources(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize resources")
	}
	defer resources.Close()

	store := storage.New(resources.Postgres,
		storage.WithLimits(cfg.Limits.ByKind()),
		storage.WithLogger(logger.With().Str("component", "storage").Logger()),
	)
	if err := store.Migrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate schema")
	}

	registry := ws.NewRegistry(logger.With().Str("component", "ws").Logger())
	gateway, err := ws.NewGateway(ws.AuthFunc(authenticate), authorizer(store), registry, logger, ws.GatewayConfig{})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build websocket gateway")
	}

	origin := fmt.Sprintf("%s-%s", cfg.AppName, uuid.NewString()[:8])
	bus := events.NewRedisBus(resources.Redis, registry, origin, logger.With().Str("component", "events").Logger())
	bus.Start(ctx)

	objects := publish.NewMinioObjects(resources.Object, resources.Bucket())
	public := publicview.NewService(store, objects, logger, publicview.ServiceConfig{
		CacheSize:    cfg.PublicCacheSize,
		ExploreCache: publicview.NewRedisExploreCache(resources.Redis, cfg.ExploreCacheTTL),
	})
	publisher := publish.NewPublisher(store, objects, public, cfg.PublishInterval,
		logger.With().Str("component", "publish").Logger())
	publisher.Start(ctx)

	api := httpapi.NewServer(httpapi.Deps{
		Restaurants: store,
		Ownership:   store,
		Menus:       store.Menus,
		Categories:  store.Categories,
		Items:       store.Items,
		Banners:     store.Banners,
		Publisher:   publisher,
		Events:      bus,
		Public:      publicview.NewHTTPHandler(public, logger),
		Gateway:     gateway,
		Health:      resources.HealthCheck,
	}, logger)

	httpServer := &http.Server{
		Addr:              cfg.HTTPListenAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", cfg.HTTPListenAddr).Str("origin", origin).Msg("http server starting")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server failed")
			stop()
		}
	}()

	go healthLoop(ctx, resources, cfg.HealthcheckProbe, logger)

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Close websockets first so clients reconnect elsewhere while HTTP drains.
	httpServer.RegisterOnShutdown(registry.CloseAll)
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("forced shutdown")
		return
	}
	logger.Info().Msg("shutdown complete")
}

// authenticate trusts the user header set by the fronting auth proxy.
func authenticate(r *http.Request) (ws.Identity, error) {
	user := r.Header.Get(httpapi.UserHeader)
	if user == "" {
		return ws.Identity{}, errors.New("missing user")
	}
	return ws.Identity{UserID: user}, nil
}

func authorizer(store *storage.Store) ws.Authorizer {
	return func(ctx context.Context, identity ws.Identity, key types.ParentKey) error {
		owner, err := store.OwnerOf(ctx, key)
		if err != nil {
			return err
		}
		if owner != identity.UserID {
			return fmt.Errorf("collection %s: %w", key, storage.ErrNotFound)
		}
		return nil
	}
}

func healthLoop(ctx context.Context, resources *config.Resources, interval time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := resources.HealthCheck(ctx); err != nil {
				logger.Error().Err(err).Msg("dependency healthcheck failed")
			} else {
				logger.Debug().Msg("dependency healthcheck ok")
			}
		case <-ctx.Done():
			return
		}
	}
}
