/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package server wires configuration, storage, the scheduling engine
// and the HTTP API into one runnable process.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/skuld/internal/api"
	"github.com/friendsincode/skuld/internal/audit"
	"github.com/friendsincode/skuld/internal/cache"
	"github.com/friendsincode/skuld/internal/config"
	"github.com/friendsincode/skuld/internal/conflict"
	"github.com/friendsincode/skuld/internal/db"
	"github.com/friendsincode/skuld/internal/engine"
	"github.com/friendsincode/skuld/internal/eventbus"
	"github.com/friendsincode/skuld/internal/events"
	"github.com/friendsincode/skuld/internal/leadership"
	"github.com/friendsincode/skuld/internal/ledger"
	"github.com/friendsincode/skuld/internal/telemetry"
)

// Server bundles HTTP and supporting services.
type Server struct {
	cfg    *config.Config
	logger zerolog.Logger
	router chi.Router

	httpServer    *http.Server
	metricsServer *http.Server

	db       *gorm.DB
	cache    *cache.Cache
	bus      *events.Bus
	relay    *eventbus.Relay
	engine   *engine.Engine
	auditSvc *audit.Service
	election *leadership.Election

	instanceID string

	bgWG     sync.WaitGroup
	bgCancel context.CancelFunc
	closers  []func() error
}

// New constructs the server and wires dependencies.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(telemetry.TracingMiddleware)
	router.Use(telemetry.MetricsMiddleware)
	router.Use(middleware.Timeout(60 * time.Second))

	instanceID := cfg.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}

	srv := &Server{
		cfg:        cfg,
		logger:     logger,
		router:     router,
		bus:        events.NewBus(),
		instanceID: instanceID,
	}

	if err := srv.initDependencies(); err != nil {
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	srv.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort),
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	if cfg.MetricsBind != "" {
		metricsMux := http.NewServeMux()
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
		return err
	}
	if err := db.Migrate(database); err != nil {
		return err
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })

	// Redis cache for resource lookups; requests hit the database only
	// on a miss.
	if s.cfg.CacheEnabled && s.cfg.RedisAddr != "" {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.RedisAddr = s.cfg.RedisAddr
		cacheCfg.RedisPassword = s.cfg.RedisPassword
		cacheCfg.RedisDB = s.cfg.RedisDB
		entityCache, err := cache.New(cacheCfg, s.logger)
		if err != nil {
			s.logger.Warn().Err(err).Msg("cache initialization failed, continuing without cache")
			s.cache = cache.Disabled(s.logger)
		} else {
			s.cache = entityCache
			s.DeferClose(func() error { return s.cache.Close() })
		}
	} else {
		s.cache = cache.Disabled(s.logger)
	}

	// Cross-node event fan-out.
	switch s.cfg.EventBus {
	case config.EventBusRedis:
		if err := s.initRelay(func(deliver eventbus.DeliverFunc) (eventbus.Outbound, error) {
			redisCfg := eventbus.DefaultRedisConfig()
			redisCfg.Addr = s.cfg.RedisAddr
			redisCfg.Password = s.cfg.RedisPassword
			redisCfg.DB = s.cfg.RedisDB
			return eventbus.NewRedisBus(redisCfg, s.instanceID, deliver, s.logger)
		}); err != nil {
			return err
		}
	case config.EventBusNATS:
		if err := s.initRelay(func(deliver eventbus.DeliverFunc) (eventbus.Outbound, error) {
			natsCfg := eventbus.DefaultNATSConfig()
			natsCfg.URL = s.cfg.NATSURL
			natsCfg.Token = s.cfg.NATSToken
			return eventbus.NewNATSBus(natsCfg, s.instanceID, deliver, s.logger)
		}); err != nil {
			return err
		}
	}

	bookings := ledger.New(database, s.logger)
	s.engine = engine.New(engine.Config{
		DB:       database,
		Ledger:   bookings,
		Index:    conflict.NewIndex(),
		Cache:    s.cache,
		Bus:      s.bus,
		LockWait: s.cfg.LockWait,
	}, s.logger)

	// The conflict index lives in memory; rebuild it from the ledger
	// before serving any traffic.
	rebuildCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.engine.Rebuild(rebuildCtx); err != nil {
		return fmt.Errorf("rebuild conflict index: %w", err)
	}

	s.auditSvc = audit.NewService(database, s.bus, s.logger)

	if s.cfg.LeaderElectionEnabled {
		electionCfg := leadership.DefaultConfig()
		electionCfg.RedisAddr = s.cfg.RedisAddr
		electionCfg.RedisPassword = s.cfg.RedisPassword
		electionCfg.RedisDB = s.cfg.RedisDB
		electionCfg.InstanceID = s.instanceID

		election, err := leadership.NewElection(electionCfg, s.logger)
		if err != nil {
			return fmt.Errorf("leader election: %w", err)
		}
		s.election = election
		s.DeferClose(election.Stop)
	}

	return nil
}

// initRelay connects an outbound transport whose remote deliveries go
// through the relay back onto the local bus. The relay exists before
// the transport so a remote event arriving while the transport is
// still connecting already has somewhere to land.
func (s *Server) initRelay(build func(eventbus.DeliverFunc) (eventbus.Outbound, error)) error {
	relay := eventbus.NewRelay(s.bus, s.instanceID, s.logger)
	out, err := build(relay.Deliver)
	if err != nil {
		return fmt.Errorf("event bus transport: %w", err)
	}
	relay.Start(out)
	s.relay = relay
	s.DeferClose(relay.Close)
	return nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		health := map[string]any{"status": "ok"}
		if s.election != nil {
			health["leader"] = s.election.IsLeader()
			if leaderID, err := s.election.GetLeader(r.Context()); err == nil && leaderID != "" {
				health["leader_id"] = leaderID
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(health)
	})

	apiHandler := api.New(s.db, s.engine, s.auditSvc, s.cache, s.bus, s.logger)
	apiHandler.Routes(s.router)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	// Audit trail
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.auditSvc.Start(ctx)
	}()

	// Completion sweep
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.runSweepLoop(ctx)
	}()

	// Leader election
	if s.election != nil {
		if err := s.election.Start(ctx); err != nil {
			s.logger.Error().Err(err).Msg("failed to start leader election")
		}
	}

	// Cache invalidation for resource events, including those arriving
	// from other nodes through the relay.
	if s.cache.IsAvailable() {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.runCacheInvalidationListener(ctx)
		}()
	}
}

// runSweepLoop periodically completes elapsed bookings. With leader
// election enabled only the lease holder sweeps, so the sweep runs
// once per interval across the deployment. A node that just gained the
// lease sweeps immediately instead of waiting out a tick, covering the
// gap left by a crashed leader.
func (s *Server) runSweepLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	var leaderCh <-chan bool
	if s.election != nil {
		leaderCh = s.election.LeaderCh()
	}

	s.logger.Info().Dur("interval", s.cfg.SweepInterval).Msg("completion sweep loop started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("completion sweep loop stopped")
			return
		case leading := <-leaderCh:
			if leading {
				s.sweepOnce(ctx)
			}
		case <-ticker.C:
			if s.election != nil && !s.election.IsLeader() {
				continue
			}
			s.sweepOnce(ctx)
		}
	}
}

func (s *Server) sweepOnce(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, s.cfg.SweepInterval)
	completed, err := s.engine.RunCompletionSweep(sweepCtx)
	cancel()
	if err != nil {
		s.logger.Error().Err(err).Msg("completion sweep failed")
		return
	}
	if completed > 0 {
		s.logger.Info().Int("completed", completed).Msg("completion sweep done")
	}
}

// runCacheInvalidationListener drops cached resources when they change.
func (s *Server) runCacheInvalidationListener(ctx context.Context) {
	sub := s.bus.SubscribeAll(
		events.EventResourceCreated,
		events.EventResourceUpdated,
		events.EventResourceDeleted,
	)
	defer s.bus.Unsubscribe(sub)

	s.logger.Info().Msg("cache invalidation listener started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("cache invalidation listener stopped")
			return
		case payload := <-sub:
			resourceID, _ := payload["resource_id"].(string)
			if resourceID == "" {
				continue
			}
			if err := s.cache.InvalidateResource(ctx, resourceID); err != nil {
				s.logger.Warn().Err(err).Str("resource_id", resourceID).Msg("cache invalidation failed")
			}
		}
	}
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// MetricsServer exposes the metrics listener, nil when disabled.
func (s *Server) MetricsServer() *http.Server {
	return s.metricsServer
}

// Engine exposes the scheduling engine for CLI subcommands.
func (s *Server) Engine() *engine.Engine {
	return s.engine
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()

	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
