// Command server is the Rustalink process entrypoint: load config, wire
// every subsystem together, and serve REST + WebSocket until a signal
// asks it to stop.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/rustalink/server/internal/config"
	"github.com/rustalink/server/internal/player"
	"github.com/rustalink/server/internal/plugins"
	"github.com/rustalink/server/internal/resolve"
	"github.com/rustalink/server/internal/rest"
	"github.com/rustalink/server/internal/routeplanner"
	"github.com/rustalink/server/internal/session"
	"github.com/rustalink/server/internal/ws"
	"github.com/rustalink/server/pkg/commons"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv("RUSTALINK_CONFIG"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := commons.NewLogger(commons.Options{Level: cfg.LogLevel})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	signingKey := []byte(cfg.Server.ResumeSigningKey)
	if len(signingKey) == 0 {
		signingKey = []byte(cfg.Server.Password)
	}

	instanceID := uuid.New().String()
	store := session.NewStore(rdb, instanceID, time.Duration(cfg.Server.ResumeTimeout)*time.Second, signingKey, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if reclaimed, err := store.ReclaimCrashed(ctx); err != nil {
		logger.Warnw("server: crash reclaim failed", "error", err)
	} else if reclaimed > 0 {
		logger.Infow("server: reclaimed crashed sessions", "count", reclaimed)
	}

	planner := routeplanner.New(rdb, cfg.RoutePlanner.Cidrs)
	for _, addr := range cfg.RoutePlanner.ExcludedIPs {
		if err := planner.MarkFailing(ctx, addr, 24*time.Hour); err != nil {
			logger.Warnw("server: seed excluded ip failed", "addr", addr, "error", err)
		}
	}

	resolvers := resolve.NewRegistry()
	resolverTags := enabledSourceTags(cfg)

	loader := plugins.NewLoader()
	for _, name := range cfg.Plugins.Enabled {
		loader.Register(name, func(context.Context, string, plugins.LifecycleEvent) {})
	}

	manager := player.NewManager(cfg, logger, resolvers, loader)

	server := rest.NewServer(cfg, logger, resolvers, resolverTags, loader, manager, store, planner)
	router := rest.NewRouter(server)
	router.GET("/", rest.AuthMiddleware(cfg.Server.Password), ws.Handler(server, logger))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{Addr: addr, Handler: router}

	errCh := make(chan error, 1)
	go func() {
		logger.Infow("server: listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen failed: %w", err)
	case sig := <-sigCh:
		logger.Infow("server: shutting down", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return httpServer.Shutdown(shutdownCtx)
}

// enabledSourceTags names the source tags advertised in /v4/info,
// gating the config-toggleable ones and always including the
// always-registered stub tags.
func enabledSourceTags(cfg *config.AppConfig) []string {
	var tags []string
	if cfg.Sources.Http {
		tags = append(tags, "http")
	}
	if cfg.Sources.Local {
		tags = append(tags, "local")
	}
	if cfg.Sources.Youtube {
		tags = append(tags, "youtube")
	}
	if cfg.Sources.Soundcloud {
		tags = append(tags, "soundcloud")
	}
	tags = append(tags, "spotify", "deezer", "bandcamp", "vimeo", "twitch", "nico")
	return tags
}
