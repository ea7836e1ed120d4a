// SPDX-License-Identifier: MIT

// Package metrics provides Prometheus metrics for the backhaul daemon.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StoreMutationsTotal counts machine store mutations by operation and result.
	StoreMutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backhaul_store_mutations_total",
		Help: "Total number of machine store mutations, by operation (create/update/delete) and result (ok/error).",
	}, []string{"op", "result"})

	// BackupRunsTotal counts backup executions by backup type and result.
	BackupRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backhaul_backup_runs_total",
		Help: "Total number of backup runs, by backup type and result (ok/error).",
	}, []string{"type", "result"})

	// BackupDuration observes end-to-end backup duration by backup type.
	BackupDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "backhaul_backup_duration_seconds",
		Help:    "End-to-end backup duration in seconds, by backup type.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"type"})

	// HTTPRequestsTotal counts API requests by status code and method.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backhaul_http_requests_total",
		Help: "Total number of HTTP requests, by status code and method.",
	}, []string{"code", "method"})
)

// MutationResult maps an error to the result label used by StoreMutationsTotal.
func MutationResult(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
