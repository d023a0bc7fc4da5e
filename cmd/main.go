package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"go.uber.org/zap"
	"moul.io/chizap"

	"github.com/ekinok/sessiond/internal/activitylog"
	"github.com/ekinok/sessiond/internal/config"
	"github.com/ekinok/sessiond/internal/database"
	"github.com/ekinok/sessiond/internal/geo"
	"github.com/ekinok/sessiond/internal/identity"
	"github.com/ekinok/sessiond/internal/metadata"
	"github.com/ekinok/sessiond/internal/sessions"
	"github.com/ekinok/sessiond/internal/telemetry"
	"github.com/ekinok/sessiond/internal/trusteddevice"
)

func main() {
	// init logger
	logger, err := zap.NewProduction()
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	// load config (reads .env when present)
	cfg, err := config.LoadConfig(logger)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	// load database
	db, err := database.Init(cfg.DbConfig)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	// run migrations
	database.SetMigrationLogger(logger)
	if err := database.Migrate(context.Background(), db); err != nil {
		logger.Fatal("failed to migrate database", zap.Error(err))
	}

	// optional metadata cache
	var cache *metadata.Cache
	if cfg.RedisConfig.URL != "" {
		cache, err = metadata.NewCache(cfg.RedisConfig.URL, logger)
		if err != nil {
			logger.Fatal("failed to initialize redis cache", zap.Error(err))
		}
		defer cache.Close()
	}

	// optional geo enrichment
	geoResolver, err := geo.Open(cfg.GeoIPConfig, logger)
	if err != nil {
		logger.Fatal("failed to open geoip databases", zap.Error(err))
	}
	defer geoResolver.Close()

	// stores
	sessionRepo := identity.NewSessionRepo(db, logger)
	metaStore := metadata.NewStore(metadata.NewMetadataRepo(db, logger), cache, geoResolver)
	deviceRegistry := trusteddevice.NewRegistry(db, logger)
	activityLog := activitylog.NewLog(db, logger)

	// identity collaborator + orchestrator
	provider := identity.NewJWTProvider(sessionRepo, cfg.AuthConfig, logger)
	service := sessions.NewService(sessionRepo, provider, metaStore, deviceRegistry, activityLog, logger)
	tracker := telemetry.NewTracker(service, cfg.TelemetryConfig.WriteTimeout, logger)
	handler := sessions.NewHandler(service, logger)

	// router
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(chizap.New(logger, &chizap.Opts{
		WithReferer:   false,
		WithUserAgent: true,
	}))
	r.Use(httprate.LimitByIP(100, time.Minute))
	r.Route("/v1", func(r chi.Router) {
		r.Use(identity.RequireSession(provider, logger))
		r.Use(tracker.Middleware)
		r.Mount("/", handler.Routes())
	})

	server := &http.Server{
		Addr:         ":" + cfg.AppConfig.Port,
		Handler:      r,
		ReadTimeout:  cfg.AppConfig.ReadTimeout,
		WriteTimeout: cfg.AppConfig.WriteTimeout,
		IdleTimeout:  cfg.AppConfig.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("application started", zap.String("port", cfg.AppConfig.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	logger.Info("application stopped")
}
