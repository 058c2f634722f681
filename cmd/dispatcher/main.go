// Command dispatcher runs the edge HTTP dispatcher: rule resolution,
// matching, weighted selection, action execution, and event attribution.
// Adapted from the teacher's tools/cmd/server/main.go composition-root
// style — load config, connect every collaborator, wire routes, serve with
// graceful shutdown — generalized from ad-serving collaborators to this
// domain's KV/control-plane/event-store/blob/geo stack.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/clickrelay/edge-dispatcher/internal/api"
	"github.com/clickrelay/edge-dispatcher/internal/blob"
	"github.com/clickrelay/edge-dispatcher/internal/cache"
	"github.com/clickrelay/edge-dispatcher/internal/clickout"
	"github.com/clickrelay/edge-dispatcher/internal/config"
	"github.com/clickrelay/edge-dispatcher/internal/controlplane"
	"github.com/clickrelay/edge-dispatcher/internal/dispatch"
	"github.com/clickrelay/edge-dispatcher/internal/enrich"
	"github.com/clickrelay/edge-dispatcher/internal/events"
	"github.com/clickrelay/edge-dispatcher/internal/geo"
	"github.com/clickrelay/edge-dispatcher/internal/hosted"
	"github.com/clickrelay/edge-dispatcher/internal/match"
	"github.com/clickrelay/edge-dispatcher/internal/observability"
	"github.com/clickrelay/edge-dispatcher/internal/postback"
	"github.com/clickrelay/edge-dispatcher/internal/rules"
	"github.com/clickrelay/edge-dispatcher/internal/store"
	"github.com/clickrelay/edge-dispatcher/internal/upstream"
)

func main() {
	cfg := config.Load()

	logger, err := observability.InitLoggerWithService(cfg.ServiceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := logger.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to sync logger: %v\n", err)
		}
	}()

	if err := run(logger, cfg); err != nil {
		logger.Error("dispatcher error", zap.Error(err))
		os.Exit(1)
	}
}

func run(logger *zap.Logger, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewPrometheusRegistry()

	kv, err := store.Init(cfg.RedisAddr)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer kv.Close()

	pg, err := controlplane.Init(cfg.PostgresDSN, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pg.Close()

	eventStore, err := events.Init(cfg.ClickHouseDSN, cfg.CHMaxOpenConns, cfg.CHMaxIdleConns, cfg.CHConnMaxLifetime, cfg.CHConnMaxIdleTime, metrics)
	if err != nil {
		return fmt.Errorf("connect clickhouse: %w", err)
	}
	defer eventStore.Close()

	geoResolver, err := geo.Init(cfg.GeoIPDB)
	if err != nil {
		logger.Warn("geoip init failed, continuing with transport-supplied geo only", zap.Error(err))
		geoResolver = nil
	} else {
		defer func() { _ = geoResolver.Close() }()
	}

	blobStore := blob.NewFSStore(cfg.BlobRoot)

	destCache := cache.NewDestinationCache(pg, time.Duration(cfg.DestCacheFastPathMS)*time.Millisecond, metrics)
	platformCache := cache.NewPlatformCache(pg, cfg.PlatformCacheTTL, metrics)

	engine := &dispatch.Engine{
		Resolver:     rules.NewResolver(kv),
		Enricher:     enrich.New(geoResolver),
		Hosted:       hosted.New(blobStore),
		Upstream:     upstream.New(cfg.UpstreamTimeout),
		Destinations: destCache,
		Platforms:    platformCache,
		ClickOut:     clickout.New(destCache, eventStore, metrics, rand.New(rand.NewSource(time.Now().UnixNano()))),
		Events:       eventStore,
		Metrics:      metrics,
		RNG:          rand.New(rand.NewSource(time.Now().UnixNano())),
		MatchOpts:    match.Options{TimeWindowWrap: cfg.TimeWindowWrapEnabled},
	}

	srv := &api.Server{
		Engine:   engine,
		Postback: postback.New(eventStore, metrics),
		Events:   eventStore,
		Upstream: upstream.New(cfg.UpstreamTimeout),
		Metrics:  metrics,
	}

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.NewRouter(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	logger.Info("dispatcher running", zap.String("addr", httpServer.Addr))

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("listen: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}
