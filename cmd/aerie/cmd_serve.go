// Copyright (C) 2025 FRC Team 3322
// Licensed under the MIT License. See LICENSE for details.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/frc3322/Aerie-Part-Management/pkg/config"
	"github.com/frc3322/Aerie-Part-Management/pkg/logging"
	"github.com/frc3322/Aerie-Part-Management/services/partserver"
	"github.com/frc3322/Aerie-Part-Management/store"
)

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(baseDir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.LogLevel),
		LogDir:  cfg.LogDir,
		Service: "partserver",
	})
	defer log.Close()

	// Migrations run before anything touches the database. A failed
	// migration leaves the pre-migration backup in place; refuse to
	// serve on top of a half-migrated schema.
	if err := store.RunFromConfig(cmd.Context(), cfg, log); err != nil {
		log.Error("migrations failed, not starting", "error", err)
		return err
	}

	if !cfg.IsSQLite() {
		return fmt.Errorf("unsupported database url %q: only sqlite is supported", cfg.DatabaseURL)
	}
	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	tracing, shutdownTracing, err := setupTracing(cmd.Context(), log)
	if err != nil {
		log.Warn("tracing disabled", "error", err)
	}
	if shutdownTracing != nil {
		defer shutdownTracing(context.Background())
	}

	srv, err := partserver.New(partserver.Options{
		Config:  cfg,
		Store:   db,
		Log:     log,
		Tracing: tracing,
	})
	if err != nil {
		return err
	}
	defer srv.Close()

	httpServer := &http.Server{
		Addr:              srv.Addr(),
		Handler:           srv.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("http server starting", "addr", httpServer.Addr, "env", cfg.Env)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		return srv.Scheduler.Run(ctx)
	})

	group.Go(func() error {
		return srv.Manager.RunCleanup(ctx, time.Hour)
	})

	group.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.Error("server exited", "error", err)
		return err
	}
	log.Info("server stopped")
	return nil
}
