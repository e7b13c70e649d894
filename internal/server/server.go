/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package server wires the conductor stack and serves its HTTP surface.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/venuecast/conductor/internal/catalog"
	"github.com/venuecast/conductor/internal/conductor"
	"github.com/venuecast/conductor/internal/config"
	"github.com/venuecast/conductor/internal/db"
	"github.com/venuecast/conductor/internal/eventbus"
	"github.com/venuecast/conductor/internal/events"
	"github.com/venuecast/conductor/internal/gateway"
	"github.com/venuecast/conductor/internal/queue"
	"github.com/venuecast/conductor/internal/resolve"
	"github.com/venuecast/conductor/internal/schedule"
	"github.com/venuecast/conductor/internal/snapshot"
	"github.com/venuecast/conductor/internal/telemetry"
)

// Server bundles the conductor, its collaborators, and the HTTP listeners.
type Server struct {
	cfg    *config.Config
	logger zerolog.Logger

	router        chi.Router
	httpServer    *http.Server
	metricsServer *http.Server

	database  *gorm.DB
	cachedCat *catalog.Cached
	bus       *events.Bus
	state     *queue.State
	conductor *conductor.Conductor
	gateway   *gateway.Gateway
	snapshots *snapshot.Service
	relay     *eventbus.NATSRelay

	restoreCounter int
	restoreOverlay string
	restored       bool
}

// New constructs the server and wires dependencies.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	srv := &Server{
		cfg:    cfg,
		logger: logger,
		bus:    events.NewBus(),
		state:  queue.NewState(),
	}

	if err := srv.initDependencies(); err != nil {
		return nil, err
	}
	srv.configureRoutes()

	srv.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort),
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		// Websocket sessions are long lived; handlers manage their own
		// deadlines.
		ReadTimeout:  0,
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	if cfg.MetricsBind != "" {
		metricsMux := chi.NewRouter()
		metricsMux.Handle("/metrics", telemetry.Handler())
		srv.metricsServer = &http.Server{
			Addr:              cfg.MetricsBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 15 * time.Second,
		}
	}

	return srv, nil
}

func (s *Server) initDependencies() error {
	database, err := db.Connect(s.cfg)
	if err != nil {
		return fmt.Errorf("database connect: %w", err)
	}
	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("database migrate: %w", err)
	}
	if err := db.RegisterCallbacks(database); err != nil {
		return fmt.Errorf("database callbacks: %w", err)
	}
	s.database = database

	client := catalog.NewClient(s.cfg.CatalogURL, s.cfg.CatalogTimeout, s.logger)
	cacheCfg := catalog.DefaultCacheConfig()
	cacheCfg.RedisAddr = s.cfg.RedisAddr
	cacheCfg.RedisPassword = s.cfg.RedisPassword
	cacheCfg.RedisDB = s.cfg.RedisDB
	s.cachedCat = catalog.NewCached(client, cacheCfg, s.logger)

	counter, overlay, restored, err := snapshot.Restore(context.Background(), database, s.cfg.VenueUnit, s.state, s.logger)
	if err != nil {
		s.logger.Warn().Err(err).Msg("snapshot restore failed, starting cold")
	}
	s.restoreCounter, s.restoreOverlay, s.restored = counter, overlay, restored

	resolver := resolve.New(s.cachedCat, s.cfg.CommercialThreshold, s.logger)
	schedResolver := schedule.NewResolver(s.cachedCat, s.logger)

	s.conductor = conductor.New(conductor.Config{
		Unit:             s.cfg.VenueUnit,
		TickInterval:     s.cfg.TickInterval,
		CrossfadeWindow:  s.cfg.CrossfadeWindow,
		LookupRetryLimit: s.cfg.LookupRetryLimit,
		RefreshInterval:  s.cfg.RefreshInterval,
	}, s.cachedCat, resolver, schedResolver, s.state, s.bus, s.logger)

	s.gateway = gateway.New(s.conductor, s.cachedCat, s.bus, s.cfg.VenueUnit, s.cfg.NetworkCompensation, s.logger)
	s.snapshots = snapshot.New(database, s.conductor, s.bus, s.cfg.VenueUnit, s.cfg.SnapshotInterval, s.logger)

	if s.cfg.NATSURL != "" {
		natsCfg := eventbus.DefaultNATSConfig()
		natsCfg.URL = s.cfg.NATSURL
		relay, err := eventbus.NewNATSRelay(natsCfg, s.bus, s.cfg.VenueUnit, s.logger)
		if err != nil {
			// The relay is observability, not playback; degrade instead of
			// refusing to start.
			s.logger.Warn().Err(err).Msg("nats relay unavailable")
		} else {
			s.relay = relay
		}
	}

	return nil
}

func (s *Server) configureRoutes() {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.MetricsMiddleware)

	router.Get("/ws", s.gateway.HandleWebSocket)
	router.Get("/healthz", s.handleHealthz)
	router.Get("/readyz", s.handleReadyz)
	if s.metricsServer == nil {
		router.Handle("/metrics", telemetry.Handler())
	}

	s.router = router
}

// Run starts all components and blocks until the context is cancelled or a
// listener fails.
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if s.restored {
		s.conductor.RestoreHint(s.restoreCounter, s.restoreOverlay)
	}

	errCh := make(chan error, 3)

	go func() {
		if err := s.conductor.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("conductor: %w", err)
		}
	}()
	go func() {
		if err := s.snapshots.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("snapshot service: %w", err)
		}
	}()

	go func() {
		s.logger.Info().Str("addr", s.httpServer.Addr).Msg("http server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	if s.metricsServer != nil {
		go func() {
			s.logger.Info().Str("addr", s.metricsServer.Addr).Msg("metrics server listening")
			if err := s.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		if err := s.shutdown(); err != nil {
			s.logger.Error().Err(err).Msg("shutdown cleanup failed")
		}
		return nil
	case err := <-errCh:
		s.shutdown()
		return err
	}
}

func (s *Server) shutdown() error {
	s.logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var firstErr error
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil && firstErr == nil {
		firstErr = err
	}
	if s.metricsServer != nil {
		if err := s.metricsServer.Shutdown(shutdownCtx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.relay != nil {
		if err := s.relay.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := s.cachedCat.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := db.Close(s.database); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleReadyz reports readiness: the catalog must answer before this unit
// accepts clients.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	w.Header().Set("Content-Type", "application/json")
	if _, err := s.cachedCat.ListPlaylistIDs(ctx); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "catalog unreachable"})
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}
