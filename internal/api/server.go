// SPDX-License-Identifier: MIT

// Package api provides the HTTP surface of the backhaul daemon.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/backhaul/backhaul/internal/backup"
	"github.com/backhaul/backhaul/internal/config"
	"github.com/backhaul/backhaul/internal/machines"
)

// Server wires the machine store and the backup service to HTTP routes.
type Server struct {
	cfg     config.AppConfig
	store   *machines.Store
	backups *backup.Service
	version string
}

// New returns a server for the given dependencies.
func New(cfg config.AppConfig, store *machines.Store, backups *backup.Service, version string) *Server {
	return &Server{cfg: cfg, store: store, backups: backups, version: version}
}

// Router builds the route tree. /healthz and /metrics are public; everything
// under /api requires the bearer token.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware)
	r.Use(metricsMiddleware)
	if s.cfg.RateLimitRPS > 0 {
		r.Use(httprate.LimitByIP(s.cfg.RateLimitRPS, time.Second))
	}

	r.Get("/healthz", s.handleHealth)
	r.Get("/health", s.handleHealth) // kept for existing monitoring probes
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/api/machines", s.handleListMachines)
		r.Post("/api/machines", s.handleCreateMachine)
		r.Get("/api/machines/{id}", s.handleGetMachine)
		r.Put("/api/machines/{id}", s.handleUpdateMachine)
		r.Delete("/api/machines/{id}", s.handleDeleteMachine)

		r.Post("/api/backup", s.handleBackup)
		r.Post("/backup", s.handleLegacyBackup)
	})

	return r
}
