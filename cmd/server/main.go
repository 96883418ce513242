package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/edflow/backend/internal/config"
	"github.com/edflow/backend/internal/db"
	httpapi "github.com/edflow/backend/internal/http"
	"github.com/edflow/backend/internal/messaging"
	"github.com/edflow/backend/internal/service"
	"github.com/edflow/backend/internal/triage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	zerolog.TimeFieldFormat = time.RFC3339
	level, _ := zerolog.ParseLevel(cfg.LogLevel)
	logger := log.Level(level).With().Str("service", "edsim-server").Logger()

	if err := cfg.Simulation.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid default simulation config")
	}

	ctx := context.Background()
	sims := &service.SimulationService{
		Triage: triage.NewEngine(),
		Logger: logger,
	}

	var store *db.Store
	if cfg.DatabaseURL == "" {
		logger.Info().Msg("DATABASE_URL not set, runs are not persisted")
	} else {
		store, err = db.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect db")
		}
		defer store.Close()
		if err := store.EnsureSchema(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to apply schema")
		}
		sims.Store = store
	}

	if cfg.NATSURL != "" {
		nc, err := messaging.NewClient(messaging.DefaultConfig(cfg.NATSURL))
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect nats")
		}
		defer nc.Close()
		sims.Publisher = nc
		sims.Subject = messaging.DefaultPrefix
		logger.Info().Str("url", cfg.NATSURL).Msg("publishing events to nats")
	}

	router := httpapi.Router(cfg, store, sims, logger)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctxShutdown)
	logger.Info().Msg("server stopped")
}
