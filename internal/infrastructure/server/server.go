// Package server assembles the broker: storage, filter rules, upstream
// client, consent board and the HTTP/WebSocket surfaces.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	apihttp "github.com/GriffinCanCode/corsbroker/internal/api/http"
	"github.com/GriffinCanCode/corsbroker/internal/api/middleware"
	"github.com/GriffinCanCode/corsbroker/internal/api/ws"
	"github.com/GriffinCanCode/corsbroker/internal/domain/broker"
	"github.com/GriffinCanCode/corsbroker/internal/domain/chunk"
	"github.com/GriffinCanCode/corsbroker/internal/domain/filter"
	"github.com/GriffinCanCode/corsbroker/internal/domain/permission"
	"github.com/GriffinCanCode/corsbroker/internal/infrastructure/config"
	"github.com/GriffinCanCode/corsbroker/internal/infrastructure/logging"
	"github.com/GriffinCanCode/corsbroker/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/corsbroker/internal/infrastructure/storage"
	"github.com/GriffinCanCode/corsbroker/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/corsbroker/internal/providers/http/client"
	"github.com/GriffinCanCode/corsbroker/internal/shared/types"
)

const shutdownTimeout = 10 * time.Second

// Server wraps the HTTP server and dependencies
type Server struct {
	router  *gin.Engine
	httpSrv *http.Server
	db      *gorm.DB
	service *broker.Service
	hub     *ws.Hub
	board   *broker.Board
	chunks  *chunk.Store
	tracer  *tracing.Tracer
	logger  *logging.Logger
	config  *config.Config
	metrics *monitoring.Metrics
}

// Options overrides parts of the assembly, mostly for tests.
type Options struct {
	Logger  *logging.Logger
	Metrics *monitoring.Metrics
}

// New creates a new server instance
func New(ctx context.Context, cfg *config.Config, opts Options) (*Server, error) {
	logger := opts.Logger
	if logger == nil {
		var err error
		logger, err = newLogger(cfg.Logging)
		if err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
	}

	logger.Info("Initializing corsbroker",
		zap.String("addr", cfg.Server.Host+":"+cfg.Server.Port),
		zap.String("store", cfg.Store.DSN),
	)

	metrics := opts.Metrics
	if metrics == nil {
		metrics = monitoring.NewMetrics()
	}
	tracer := tracing.New("corsbroker", logger.Logger)

	db, err := storage.Open(cfg.Store.DSN, logger.Named("storage").Logger, storage.Options{SlowThreshold: 200 * time.Millisecond})
	if err != nil {
		tracer.Close()
		return nil, err
	}
	store, err := permission.NewSQLStore(db, logger.Named("permission").Logger)
	if err != nil {
		_ = storage.Close(db)
		tracer.Close()
		return nil, err
	}

	if cfg.Store.SeedFile != "" {
		if err := seed(ctx, store, cfg.Store.SeedFile, logger); err != nil {
			_ = storage.Close(db)
			tracer.Close()
			return nil, err
		}
	}

	engine := filter.NewSessionEngine(logger.Named("filter").Logger, metrics.SetFilterRules)
	syncer := filter.NewSynchronizer(engine, store, store.Counter(), logger.Named("sync").Logger)
	syncer.OnResync = metrics.RecordResync

	chunks := chunk.New(chunk.Options{
		ChunkSize: cfg.Broker.ChunkSize,
		Threshold: cfg.Broker.ChunkThreshold,
		Grace:     cfg.Broker.ChunkGrace,
		TTL:       cfg.Broker.ChunkTTL,
		Logger:    logger.Named("chunk").Logger,
		OnChange:  metrics.SetChunkSets,
	})

	upstream := client.New(client.Options{
		Timeout:           cfg.Upstream.Timeout,
		RequestsPerSecond: cfg.Upstream.RequestsPerSecond,
		MaxRedirects:      cfg.Upstream.MaxRedirects,
		Middleware:        engine.Transport,
		OnBody:            metrics.RecordUpstreamBody,
		Logger:            logger.Named("upstream").Logger,
	})

	var service *broker.Service
	board := broker.NewBoard(cfg.Broker.PromptTTL, func(p broker.Prompt) { service.ExpirePrompt(p) })
	service = broker.NewService(broker.Options{
		Store:     store,
		Allocator: store.Counter(),
		Sync:      syncer,
		Upstream:  upstream,
		Chunks:    chunks,
		Board:     board,
		Metrics:   metrics,
		Logger:    logger.Named("broker").Logger,
	})

	hub := ws.NewHub(metrics, logger.Named("ws").Logger)
	service.SetNotifier(hub)

	if err := service.Init(ctx); err != nil {
		if !errors.Is(err, types.ErrRuleSyncDegraded) {
			board.Close()
			chunks.Close()
			_ = storage.Close(db)
			tracer.Close()
			return nil, fmt.Errorf("failed to load filter rules: %w", err)
		}
	}

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
			IdleTTL:           10 * time.Minute,
		}))
	}

	handlers := apihttp.NewHandlers(service, hub, metrics)
	handlers.Register(router)

	wsHandler := ws.NewHandler(service, hub, tracer, metrics, logger.Named("ws").Logger)
	router.GET("/stream", wsHandler.HandleConnection)

	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	router.GET("/metrics/json", func(c *gin.Context) {
		c.JSON(http.StatusOK, metrics.Snapshot())
	})

	logger.Info("Server initialized successfully")

	return &Server{
		router:  router,
		db:      db,
		service: service,
		hub:     hub,
		board:   board,
		chunks:  chunks,
		tracer:  tracer,
		logger:  logger,
		config:  cfg,
		metrics: metrics,
	}, nil
}

func newLogger(cfg config.LogConfig) (*logging.Logger, error) {
	lc := logging.DefaultConfig()
	if cfg.Development {
		lc = logging.DevelopmentConfig()
	}
	if cfg.Level != "" {
		lc.Level = cfg.Level
	}
	if cfg.File != "" {
		lc.Rotation = &logging.Rotation{
			Filename:   cfg.File,
			MaxSizeMB:  cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAgeDays: cfg.MaxAgeDays,
		}
	}
	return logging.New(lc)
}

func seed(ctx context.Context, store permission.Store, path string, logger *logging.Logger) error {
	rules, err := permission.LoadSeed(path)
	if err != nil {
		return err
	}
	added, err := permission.ImportSeed(ctx, store, rules)
	if err != nil {
		return fmt.Errorf("failed to import seed rules: %w", err)
	}
	logger.Info("Seed rules imported", zap.String("file", path), zap.Int("added", added))
	return nil
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Service exposes the broker operations.
func (s *Server) Service() *broker.Service {
	return s.service
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := s.config.Server.Host + ":" + s.config.Server.Port
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", zap.String("addr", addr))
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// Hijacked WebSocket connections are not tracked by Shutdown.
	s.hub.Close()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	return nil
}

// Close releases everything the server opened.
func (s *Server) Close() error {
	s.logger.Info("Shutting down server...")

	s.hub.Close()
	s.board.Close()
	s.chunks.Close()
	s.tracer.Close()

	var errs []error
	if err := storage.Close(s.db); err != nil {
		s.logger.Error("Failed to close database", zap.Error(err))
		errs = append(errs, err)
	}

	_ = s.logger.Sync()
	return errors.Join(errs...)
}
