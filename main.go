package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"ai-futures-trader/config"
	"ai-futures-trader/internal/api"
	"ai-futures-trader/internal/auth"
	"ai-futures-trader/internal/cache"
	"ai-futures-trader/internal/database"
	"ai-futures-trader/internal/events"
	"ai-futures-trader/internal/logging"
	"ai-futures-trader/internal/pipeline"
	"ai-futures-trader/internal/signalfeed"
	"ai-futures-trader/internal/trader"
	"ai-futures-trader/internal/vault"
)

const shutdownGrace = 30 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Initialize structured logging
	logging.Setup(logging.Config{
		Level:      cfg.LoggingConfig.Level,
		JSONFormat: cfg.LoggingConfig.JSONFormat,
	})
	logger := logging.For("main")

	// Connect to PostgreSQL and prepare the schema
	db, err := database.NewDB(database.Config{
		Host:     cfg.DatabaseConfig.Host,
		Port:     cfg.DatabaseConfig.Port,
		User:     cfg.DatabaseConfig.User,
		Password: cfg.DatabaseConfig.Password,
		Database: cfg.DatabaseConfig.Name,
		SSLMode:  cfg.DatabaseConfig.SSLMode,
	}, logging.For("database"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.RunMigrations(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to run migrations")
	}

	store := database.NewStore(db, logging.For("store"))
	if err := store.SeedDefaults(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to seed system defaults")
	}

	// External signal feeds, optionally behind the Redis cache
	feedClient := signalfeed.NewClient(logging.For("signalfeed"))
	var candidates pipeline.CandidateFeed = feedClient
	if cfg.RedisConfig.Enabled {
		cacheService, err := cache.NewCacheService(cfg.RedisConfig, logging.For("cache"))
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, feeds are fetched directly")
		} else {
			defer cacheService.Close()
			ttl := time.Duration(cfg.RedisConfig.TTLSeconds) * time.Second
			candidates = cache.NewFeedCache(cacheService, feedClient, ttl, logging.For("cache"))
			logger.Info().Str("addr", cfg.RedisConfig.Addr).Msg("feed cache enabled")
		}
	}

	// Optional Vault credential source. When disabled, exchange credentials
	// come from the exchanges table.
	var vaultClient *vault.Client
	if cfg.VaultConfig.Enabled {
		vaultClient, err = vault.NewClient(cfg.VaultConfig)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to configure vault")
		}
		logger.Info().Str("addr", cfg.VaultConfig.Address).Msg("vault credential source enabled")
	}

	// Event bus and the trader supervisor
	bus := events.NewEventBus()
	supervisor := trader.NewSupervisor(store, vaultClient, candidates, bus, logging.For("supervisor"))

	loaded, err := supervisor.LoadTraders(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load traders")
	}
	started := supervisor.StartAll(ctx)
	logger.Info().Int("loaded", loaded).Int("started", started).Msg("trading process up")

	// Optional admin API
	var server *api.Server
	serverErr := make(chan error, 1)
	if cfg.ServerConfig.Enabled {
		jwtManager := auth.NewJWTManager(
			cfg.AuthConfig.JWTSecret,
			time.Duration(cfg.AuthConfig.TokenDurationMinutes)*time.Minute,
		)
		authService := auth.NewService(store, jwtManager, logging.For("auth"))
		if err := authService.SeedAdmin(ctx); err != nil {
			logger.Error().Err(err).Msg("failed to seed admin user")
		}

		server = api.NewServer(cfg.ServerConfig, store, supervisor, authService, jwtManager, bus, logging.For("api"))
		go func() {
			serverErr <- server.Start()
		}()
	}

	// Block until shutdown is requested
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutdown requested")
	case err := <-serverErr:
		if err != nil {
			logger.Error().Err(err).Msg("admin server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	stopped := supervisor.StopAll(shutdownCtx)
	logger.Info().Int("stopped", stopped).Msg("all traders stopped")

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("admin server shutdown failed")
		}
	}

	logger.Info().Msg("shutdown complete")
}
