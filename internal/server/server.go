// Package server wires the components together and owns their
// lifecycle: constructed at process start, torn down in order at
// shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gaitstream/internal/api"
	"gaitstream/internal/config"
	"gaitstream/internal/export"
	"gaitstream/internal/logger"
	"gaitstream/internal/middleware"
	"gaitstream/internal/pipeline"
	"gaitstream/internal/registry"
	"gaitstream/internal/state"
	"gaitstream/internal/storage"
	"gaitstream/internal/thresholds"
	"gaitstream/internal/ws"
)

// Server is the high-level coordinator for ingestion, evaluation, and
// alert fan-out.
type Server struct {
	cfg *config.Config

	gateway    storage.Gateway
	cache      state.ThresholdCache
	resolver   *thresholds.Resolver
	registry   *registry.Registry
	supervisor *registry.Supervisor
	exporter   *export.Exporter
	pipeline   *pipeline.Pipeline
	httpServer *http.Server

	wg sync.WaitGroup
}

// New constructs a Server with the given config
func New(cfg *config.Config) *Server {
	return &Server{cfg: cfg}
}

// Run initializes all components, starts serving, and blocks until the
// context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	log := logger.WithComponent("server")
	log.Info().Msg("server starting")

	if err := s.initGateway(ctx); err != nil {
		return fmt.Errorf("initialize storage: %w", err)
	}
	defer s.gateway.Close()

	s.initCache(ctx)
	defer s.cache.Close()

	s.resolver = thresholds.New(s.gateway, s.cache)
	s.registry = registry.New()

	s.supervisor = registry.NewSupervisor(s.registry, s.cfg.HeartbeatInterval)
	s.supervisor.Start()

	s.exporter = export.New(export.Config{
		Brokers: s.cfg.KafkaBrokers,
		Topic:   s.cfg.KafkaTopic,
	})
	s.exporter.Start()

	s.pipeline = pipeline.New(s.gateway, s.resolver, s.registry, s.exporter)

	s.initHTTPServer()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTP server")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.reportStats(ctx)
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	return s.shutdown()
}

// initGateway connects the PostgreSQL persistence gateway
func (s *Server) initGateway(ctx context.Context) error {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	gateway, err := storage.NewPostgres(connectCtx, s.cfg.DatabaseURL)
	if err != nil {
		return err
	}
	s.gateway = gateway

	logger.WithComponent("server").Info().Msg("storage gateway initialized")
	return nil
}

// initCache connects the Redis threshold cache, or falls back to the
// no-op cache when Redis is unconfigured or unreachable
func (s *Server) initCache(ctx context.Context) {
	log := logger.WithComponent("server")

	if s.cfg.RedisAddr == "" {
		s.cache = state.NoopCache{}
		log.Info().Msg("threshold cache disabled")
		return
	}

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cache, err := state.NewRedisCache(connectCtx, s.cfg.RedisAddr, s.cfg.RedisPassword, s.cfg.RedisDB, 5*time.Minute)
	if err != nil {
		log.Warn().Err(err).Msg("redis unavailable, threshold cache disabled")
		s.cache = state.NoopCache{}
		return
	}

	s.cache = cache
	log.Info().Str("addr", s.cfg.RedisAddr).Msg("threshold cache initialized")
}

// initHTTPServer builds the mux: WebSocket endpoints, REST surface,
// health, and metrics
func (s *Server) initHTTPServer() {
	mux := http.NewServeMux()

	wsHandler := ws.NewHandler(s.registry, s.pipeline, s.cfg.WriteTimeout)
	mux.HandleFunc("/ws", wsHandler.ServeProducer)
	mux.HandleFunc("/alerts/ws", wsHandler.ServeConsumer)

	apiMux := http.NewServeMux()
	apiHandler := api.NewHandler(s.gateway, s.resolver, s.pipeline, s.registry)
	apiHandler.Register(apiMux)
	mux.Handle("/api/", middleware.Chain(
		apiMux,
		middleware.Recovery,
		middleware.Logging,
		middleware.CORS,
	))

	mux.HandleFunc("/health", s.healthHandler)
	mux.Handle("/metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:        s.cfg.ListenAddr,
		Handler:     mux,
		ReadTimeout: 0, // WebSocket connections are long-lived
		IdleTimeout: 60 * time.Second,
	}
}

// shutdown tears components down in dependency order
func (s *Server) shutdown() error {
	log := logger.WithComponent("server")
	log.Info().Msg("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	log.Info().Msg("stopping HTTP server")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("stopping keepalive supervisor")
	s.supervisor.Stop()

	log.Info().Msg("closing connections")
	s.registry.CloseAll()

	log.Info().Msg("stopping alert exporter")
	s.exporter.Stop()

	s.wg.Wait()

	log.Info().Msg("server stopped gracefully")
	return nil
}

// healthHandler verifies storage connectivity and reports connection counts
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	dbStatus := "connected"
	healthy := true
	if err := s.gateway.Ping(ctx); err != nil {
		dbStatus = "connection failed"
		healthy = false
	}

	producers, consumers := s.registry.Counts()

	w.Header().Set("Content-Type", "application/json")
	if !healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	fmt.Fprintf(w, `{"status":%q,"database":%q,"active_patients":%d,"active_consumers":%d}`,
		statusWord(healthy), dbStatus, producers, consumers)
}

func statusWord(healthy bool) string {
	if healthy {
		return "healthy"
	}
	return "unhealthy"
}

// reportStats periodically logs runtime statistics
func (s *Server) reportStats(ctx context.Context) {
	log := logger.WithComponent("server")
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			producers, consumers := s.registry.Counts()
			exported, dropped := s.exporter.Stats()

			log.Info().
				Int("producers", producers).
				Int("consumers", consumers).
				Uint64("alerts_exported", exported).
				Uint64("alerts_dropped", dropped).
				Msg("stats")
		}
	}
}
