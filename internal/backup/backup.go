// SPDX-License-Identifier: MIT

// Package backup executes pull-based backups of configured machines,
// dispatching on the machine's backup_type tag.
package backup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/backhaul/backhaul/internal/log"
	"github.com/backhaul/backhaul/internal/machines"
	"github.com/backhaul/backhaul/internal/metrics"
)

// ErrUnknownType is returned when no runner is registered for a machine's
// backup_type.
var ErrUnknownType = errors.New("unknown backup type")

// Runner performs one backup of a machine and returns a human-readable
// summary message.
type Runner interface {
	Execute(ctx context.Context, machine machines.Record) (string, error)
}

// Registry maps backup_type tags to runners.
type Registry struct {
	mu      sync.RWMutex
	runners map[string]Runner
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{runners: make(map[string]Runner)}
}

// Register adds a runner under the given backup_type tag.
func (r *Registry) Register(name string, runner Runner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runners[name] = runner
}

// Lookup returns the runner for the given backup_type tag.
func (r *Registry) Lookup(name string) (Runner, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	runner, ok := r.runners[name]
	return runner, ok
}

// Service resolves a machine's backup_type, runs the matching runner and
// records metrics for the run.
type Service struct {
	registry *Registry
}

// NewService returns a service backed by the given registry.
func NewService(registry *Registry) *Service {
	return &Service{registry: registry}
}

// Run executes the backup for the given machine.
func (s *Service) Run(ctx context.Context, machine machines.Record) (string, error) {
	backupType, _ := machine["backup_type"].(string)
	if backupType == "" {
		return "", fmt.Errorf("%w: backup_type not configured for machine %q", ErrUnknownType, machine.ID())
	}
	runner, ok := s.registry.Lookup(backupType)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownType, backupType)
	}

	logger := log.WithComponentFromContext(ctx, "backup")
	logger.Info().
		Str(log.FieldMachineID, machine.ID()).
		Str(log.FieldBackupType, backupType).
		Str(log.FieldEvent, "backup.started").
		Msg("starting backup")

	start := time.Now()
	message, err := runner.Execute(ctx, machine)
	metrics.BackupDuration.WithLabelValues(backupType).Observe(time.Since(start).Seconds())
	metrics.BackupRunsTotal.WithLabelValues(backupType, metrics.MutationResult(err)).Inc()

	if err != nil {
		logger.Error().
			Err(err).
			Str(log.FieldMachineID, machine.ID()).
			Str(log.FieldBackupType, backupType).
			Str(log.FieldEvent, "backup.failed").
			Msg("backup failed")
		return "", err
	}

	logger.Info().
		Str(log.FieldMachineID, machine.ID()).
		Str(log.FieldBackupType, backupType).
		Str(log.FieldEvent, "backup.completed").
		Dur("duration", time.Since(start)).
		Msg(message)
	return message, nil
}
