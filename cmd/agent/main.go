package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/spec-kit/clip-service/internal/bridge"
	"github.com/spec-kit/clip-service/internal/config"
	"github.com/spec-kit/clip-service/internal/gateway"
	"github.com/spec-kit/clip-service/internal/identity"
	"github.com/spec-kit/clip-service/internal/observability"
	"github.com/spec-kit/clip-service/internal/persistence"
	"github.com/spec-kit/clip-service/internal/transfer"
)

// The agent is the privileged side of the clipper: it owns the identity
// store, serves bridge requests from isolated contexts, and talks to the
// clip-service API on their behalf.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	host := bridge.NewHost(logger)
	gw := gateway.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.HTTPTimeout(), logger)

	store := identity.NewRedisStore(redis.Client)
	manager := identity.NewManager(store, gw, host, logger)
	manager.RegisterHandlers(host)

	coordinator := transfer.NewCoordinator(gw, manager, logger)
	coordinator.RegisterHandlers(host)

	host.Start()
	defer host.Close()

	logger.Info("agent running",
		zap.String("gateway", cfg.Gateway.BaseURL),
		zap.Duration("bridge_call_timeout", cfg.Bridge.CallTimeout()))

	waitForShutdown(logger)
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
