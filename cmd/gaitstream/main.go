package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"gaitstream/internal/config"
	"gaitstream/internal/logger"
	"gaitstream/internal/server"
)

func main() {
	cfg := config.Load()
	logger.Init(cfg.LogLevel)

	log := logger.WithComponent("main")

	if cfg.DatabaseURL == "" {
		log.Fatal().Msg("DATABASE_URL environment variable is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := server.New(cfg)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run(ctx)
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		cancel()
		<-errCh
	case err := <-errCh:
		if err != nil {
			log.Fatal().Err(err).Msg("server exited with error")
		}
	}

	log.Info().Msg("exited")
}
