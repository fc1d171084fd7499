package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	var cfg *Config
	if path := getEnv("CONFIG_PATH", ""); path != "" {
		var err error
		cfg, err = loadConfig(path)
		if err != nil {
			log.Fatal().Err(err).Str("path", path).Msg("failed to load config")
		}
	}

	database, err := setupDatabase()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to setup database")
	}
	defer database.Close()

	redisClient := setupRedis()
	defer redisClient.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	services, err := setupServices(ctx, sessionConfig(cfg), database, redisClient)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to setup services")
	}
	defer services.PeerChannel.Close()

	log.Info().
		Str("game_id", services.GameID.String()).
		Msg("starting courtside session host")

	go services.Gateway.Start(ctx)
	go services.Gateway.Attach(ctx, services.GameID, services.Session)

	sessionDone := make(chan error, 1)
	go func() { sessionDone <- services.Session.Run(ctx) }()

	server := setupServer(services)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case err := <-sessionDone:
		if err != nil {
			log.Error().Err(err).Msg("session loop failed")
		} else {
			log.Info().Msg("session finished")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	cancel()

	log.Info().Msg("courtside session host shutdown complete")
}
