package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/studypair/callkit/internal/callrecord"
	"github.com/studypair/callkit/internal/config"
	"github.com/studypair/callkit/internal/server"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	auth, err := server.NewAuthManager(cfg.Secret)
	if err != nil {
		log.Fatal().Err(err).Msg("auth setup")
	}

	var repo callrecord.Repository
	if cfg.DatabaseURL != "" {
		pg, err := callrecord.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("postgres setup")
		}
		defer pg.Close()
		repo = pg
		log.Info().Msg("call records in postgres")
	} else {
		repo = callrecord.NewMemoryRepository()
		log.Warn().Msg("call records in memory, set database_url for durability")
	}

	var presence server.Presence
	if cfg.RedisAddr != "" {
		rp, err := server.NewRedisPresence(cfg.RedisAddr)
		if err != nil {
			log.Fatal().Err(err).Msg("redis setup")
		}
		defer rp.Close()
		presence = rp
		log.Info().Msg("presence in redis")
	} else {
		presence = server.NewMemoryPresence()
	}

	records := callrecord.NewService(repo)
	hub := server.NewHub(presence)

	r := server.SetupRouter(ctx, cfg, auth, hub, records)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("call server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
