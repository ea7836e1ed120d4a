// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/backhaul/backhaul/internal/api"
	"github.com/backhaul/backhaul/internal/backup"
	"github.com/backhaul/backhaul/internal/config"
	bhlog "github.com/backhaul/backhaul/internal/log"
	"github.com/backhaul/backhaul/internal/machines"
)

var (
	version   = "v1.0.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	cfg := config.FromEnv()

	bhlog.Configure(bhlog.Config{
		Level:   cfg.LogLevel,
		Service: "backhaul",
		Version: version,
	})
	logger := bhlog.WithComponent("daemon")

	if err := cfg.Validate(); err != nil {
		logger.Fatal().
			Err(err).
			Str(bhlog.FieldEvent, "config.invalid").
			Msg("invalid configuration")
	}
	if cfg.APIToken == "" {
		logger.Warn().
			Str(bhlog.FieldEvent, "auth.no_token").
			Msg("BACKHAUL_API_TOKEN not set, all API requests will be rejected")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := machines.Open(cfg.MachinesPath, cfg.MachinesAutoCreate)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str(bhlog.FieldPath, cfg.MachinesPath).
			Str(bhlog.FieldEvent, "machines.load_failed").
			Msg("failed to load machines file")
	}

	recs, err := store.List()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to list machines")
	}
	logger.Info().
		Int("machines", len(recs)).
		Str(bhlog.FieldPath, cfg.MachinesPath).
		Str(bhlog.FieldEvent, "machines.loaded").
		Msg("loaded machine configurations")

	watcher, err := machines.WatchStore(ctx, store)
	if err != nil {
		logger.Warn().
			Err(err).
			Msg("machines file watcher unavailable, hand edits need a restart")
	}

	registry := backup.NewRegistry()
	registry.Register("dockge", backup.NewDockgeRunner(cfg.SSHTimeout))

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.New(cfg, store, backup.NewService(registry), version).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("listen_addr", cfg.ListenAddr).
			Str(bhlog.FieldEvent, "server.started").
			Msg("backhaul API listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info().Str(bhlog.FieldEvent, "server.stopping").Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	if watcher != nil {
		<-watcher.Done()
	}
	logger.Info().Str(bhlog.FieldEvent, "server.stopped").Msg("shutdown complete")
}
