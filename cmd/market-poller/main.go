// Command market-poller polls the Hypixel SkyBlock auctions and bazaar
// resources adaptively and stores each new version as the latest snapshot.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Sternrassler/hypixel-market-poller/pkg/config"
	"github.com/Sternrassler/hypixel-market-poller/pkg/ingest"
	"github.com/Sternrassler/hypixel-market-poller/pkg/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		mainLogger := logging.NewLogger("main")
		mainLogger.Fatal().Err(err).Msg("Invalid configuration")
	}

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.Logging.Level),
		Pretty: cfg.Logging.Pretty,
		Output: os.Stderr,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = ingest.NewRedisClient(cfg.Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("Invalid Redis configuration")
		}
		defer redisClient.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("Failed to connect to Redis")
		}
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("Connected to Redis")
	}

	svc, err := ingest.New(cfg, redisClient, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create service")
	}
	svc.AddService(newHTTPService(cfg.Server, newRouter(svc), logger))

	logger.Info().
		Str("api_url", cfg.Hypixel.APIURL).
		Str("user_agent", cfg.Hypixel.UserAgent).
		Int("port", cfg.Server.Port).
		Msg("Starting market poller")

	if err := svc.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("Service stopped with error")
		os.Exit(1)
	}
}
