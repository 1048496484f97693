// Copyright (C) 2025 FRC Team 3322
// Licensed under the MIT License. See LICENSE for details.

// Package partserver assembles the part management HTTP service: gin
// engine, middleware stack, routes, and the backing store, Onshape
// integration and backup scheduler.
package partserver

import (
	"context"
	"fmt"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/frc3322/Aerie-Part-Management/onshape"
	"github.com/frc3322/Aerie-Part-Management/pkg/config"
	"github.com/frc3322/Aerie-Part-Management/pkg/logging"
	"github.com/frc3322/Aerie-Part-Management/services/partserver/datatypes"
	"github.com/frc3322/Aerie-Part-Management/services/partserver/middleware"
	"github.com/frc3322/Aerie-Part-Management/services/partserver/observability"
	"github.com/frc3322/Aerie-Part-Management/services/partserver/routes"
	"github.com/frc3322/Aerie-Part-Management/store"
)

// Options controls server assembly.
type Options struct {
	Config *config.Config
	Store  *store.Store
	Log    *logging.Logger

	// Tracing enables the otelgin middleware. The caller owns tracer
	// provider setup.
	Tracing bool
}

// Server is the assembled part management service.
type Server struct {
	Engine    *gin.Engine
	Manager   *onshape.Manager
	Scheduler *store.BackupScheduler
	Metrics   *observability.Metrics

	cfg          *config.Config
	log          *logging.Logger
	oauthLimiter *middleware.RateLimiter
}

// New builds the engine, middleware and routes. The backup scheduler
// is constructed but not started; run it under the caller's errgroup.
func New(opts Options) (*Server, error) {
	cfg := opts.Config
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		if err := datatypes.RegisterValidators(v); err != nil {
			return nil, fmt.Errorf("registering validators: %w", err)
		}
	}

	metrics := observability.NewMetrics()
	manager := onshape.NewManager(cfg.SecretKey, opts.Store, opts.Log)
	metrics.RegisterDomainGauges(
		func() float64 {
			n, err := opts.Store.CountParts(context.Background())
			if err != nil {
				return 0
			}
			return float64(n)
		},
		func() float64 { return float64(manager.SessionCount()) },
	)

	oauth, err := onshape.NewOAuthClient(onshape.OAuthConfig{
		ClientID:     cfg.OnshapeOAuthClientID,
		ClientSecret: cfg.OnshapeOAuthClientSecret,
		RedirectURI:  cfg.OnshapeOAuthRedirectURI,
		BaseURL:      cfg.OnshapeOAuthBaseURL,
		APIBaseURL:   cfg.OnshapeAPIBaseURL,
	})
	if err != nil {
		// OAuth stays optional: the server runs without it and the
		// Onshape endpoints report the missing configuration.
		opts.Log.Warn("onshape oauth disabled", "reason", err)
		oauth = nil
	}

	scheduler := store.NewBackupScheduler(store.BackupSchedulerConfig{
		DBPath:        cfg.DatabasePath,
		BackupDir:     cfg.BackupDir,
		RetentionDays: cfg.BackupRetentionDays,
		IntervalHours: cfg.BackupIntervalHours,
		Log:           opts.Log,
		OnBackup: func(err error) {
			metrics.ObserveBackup(err)
			metrics.BackupFilesGauge.Set(float64(store.ReadBackupStatus(cfg.BackupDir).Count))
		},
	})

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.RequestLogger(opts.Log))
	engine.Use(metrics.Middleware())
	if opts.Tracing {
		engine.Use(otelgin.Middleware("partserver"))
	}
	engine.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-API-Key"},
		AllowCredentials: true,
	}))

	oauthLimiter := middleware.NewRateLimiter(1, 5)

	routes.SetupRoutes(engine, routes.Dependencies{
		Config:       cfg,
		Store:        opts.Store,
		Manager:      manager,
		OAuth:        oauth,
		Scheduler:    scheduler,
		Metrics:      metrics,
		OAuthLimiter: oauthLimiter,
		Log:          opts.Log,
	})

	return &Server{
		Engine:       engine,
		Manager:      manager,
		Scheduler:    scheduler,
		Metrics:      metrics,
		cfg:          cfg,
		log:          opts.Log,
		oauthLimiter: oauthLimiter,
	}, nil
}

// Addr is the listen address derived from config.
func (s *Server) Addr() string {
	return fmt.Sprintf(":%d", s.cfg.Port)
}

// Close stops the server's background goroutines. The HTTP listener
// and backup scheduler are owned by the caller.
func (s *Server) Close() {
	s.oauthLimiter.Stop()
}
