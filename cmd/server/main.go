package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openarcade/showrunner/internal/auth"
	"github.com/openarcade/showrunner/internal/config"
	"github.com/openarcade/showrunner/internal/coordinator"
	"github.com/openarcade/showrunner/internal/events"
	"github.com/openarcade/showrunner/internal/gateway"
	"github.com/openarcade/showrunner/internal/leaderboard"
	"github.com/openarcade/showrunner/internal/registry"
	"github.com/openarcade/showrunner/internal/scoring"
	"github.com/openarcade/showrunner/internal/server"
	"github.com/openarcade/showrunner/internal/store"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(getEnv("CONFIG_PATH", "config.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := clockwork.NewRealClock()

	// Connect to storage. Without DATABASE_URL everything lives in memory,
	// which is fine for local development but loses state on restart.
	var st store.Store
	if cfg.DatabaseURL != "" {
		pg, err := store.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pg.Close()
		if err := pg.InitSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to initialize schema")
		}
		st = pg
	} else {
		log.Warn().Msg("DATABASE_URL not set, using in-memory store")
		st = store.NewMemory()
	}

	authMgr := auth.NewManager(cfg.JWTSecret, cfg.AdminSecret)

	// Real-time fan-out: websocket manager first, optionally tee'd onto NATS.
	mgr := gateway.NewManager(gateway.DefaultConfig())
	var bc events.Broadcaster = mgr
	if cfg.NATSURL != "" {
		relay, err := events.NewNATSRelay(cfg.NATSURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to NATS")
		}
		defer relay.Close()
		bc = events.NewTee(mgr, relay)
		log.Info().Str("nats_url", cfg.NATSURL).Msg("event relay enabled")
	}

	boards := leaderboard.New(st)
	coord := coordinator.New(st, bc, boards, clock, coordinator.Timing{
		StartHour:   cfg.Show.StartHour,
		StartMinute: cfg.Show.StartMinute,
		LobbyOpen:   cfg.Show.LobbyOpen.Std(),
		Countdown:   cfg.Show.Countdown.Std(),
		Playing:     cfg.Show.Playing.Std(),
		Results:     cfg.Show.Results.Std(),
	})
	reg := registry.New(st, bc, boards, coord, clock, cfg.Show.DisconnectGrace.Std())
	scorer := scoring.NewValidator(st, bc, boards, coord, clock, scoring.Config{
		Window:         cfg.Score.Window.Std(),
		MaxPerWindow:   cfg.Score.MaxPerWindow,
		PlayingFor:     cfg.Show.Playing.Std(),
		TimeAliveSlack: cfg.Score.TimeAliveSlack.Std(),
	})
	wsHandler := gateway.NewHandler(mgr, authMgr, reg, scorer, clock)

	if cfg.AdminPassword == "" {
		log.Warn().Msg("ADMIN_PASSWORD not set, admin login disabled")
	}
	srv := server.New(coord, boards, st, authMgr, wsHandler, clock, cfg.AdminPassword, cfg.CORSOrigins)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      srv.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go mgr.Start(ctx)

	go func() {
		if err := coord.Run(ctx); err != nil {
			log.Fatal().Err(err).Msg("show coordinator failed")
		}
	}()

	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("HTTP server starting")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	cancel()

	// Give the loops and connection pumps time to wind down
	time.Sleep(1 * time.Second)

	log.Info().Msg("showrunner shutdown complete")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
