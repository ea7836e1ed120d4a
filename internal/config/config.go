// SPDX-License-Identifier: MIT

// Package config loads the service configuration from the environment.
package config

import (
	"fmt"
	"time"
)

// AppConfig holds the runtime configuration of the backhaul daemon.
type AppConfig struct {
	// ListenAddr is the address the HTTP API binds to.
	ListenAddr string

	// MachinesPath is the path to the machines.yaml file.
	MachinesPath string

	// MachinesAutoCreate creates an empty machines.yaml on startup when the
	// file does not exist. Off by default: a missing file is an error.
	MachinesAutoCreate bool

	// APIToken guards all /api routes. When empty the API fails closed and
	// rejects every request.
	APIToken string

	LogLevel string

	// RateLimitRPS caps requests per second and client IP on the API
	// listener. Zero disables rate limiting.
	RateLimitRPS int

	// SSHTimeout bounds connection setup and individual remote commands.
	SSHTimeout time.Duration
}

// FromEnv builds an AppConfig from BACKHAUL_* environment variables.
func FromEnv() AppConfig {
	return AppConfig{
		ListenAddr:         ParseString("BACKHAUL_LISTEN", ":7792"),
		MachinesPath:       ParseString("BACKHAUL_MACHINES", "machines.yaml"),
		MachinesAutoCreate: ParseBool("BACKHAUL_MACHINES_AUTOCREATE", false),
		APIToken:           ParseString("BACKHAUL_API_TOKEN", ""),
		LogLevel:           ParseString("BACKHAUL_LOG_LEVEL", "info"),
		RateLimitRPS:       ParseInt("BACKHAUL_RATE_LIMIT_RPS", 60),
		SSHTimeout:         ParseDuration("BACKHAUL_SSH_TIMEOUT", 5*time.Minute),
	}
}

// Validate rejects configurations the daemon cannot start with.
func (c AppConfig) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if c.MachinesPath == "" {
		return fmt.Errorf("machines path must not be empty")
	}
	if c.RateLimitRPS < 0 {
		return fmt.Errorf("rate limit must not be negative")
	}
	if c.SSHTimeout <= 0 {
		return fmt.Errorf("ssh timeout must be positive")
	}
	return nil
}
