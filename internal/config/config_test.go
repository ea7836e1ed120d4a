// SPDX-License-Identifier: MIT

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg := FromEnv()
	assert.Equal(t, ":7792", cfg.ListenAddr)
	assert.Equal(t, "machines.yaml", cfg.MachinesPath)
	assert.False(t, cfg.MachinesAutoCreate)
	assert.Equal(t, 60, cfg.RateLimitRPS)
	assert.Equal(t, 5*time.Minute, cfg.SSHTimeout)
	assert.NoError(t, cfg.Validate())
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("BACKHAUL_LISTEN", ":9000")
	t.Setenv("BACKHAUL_MACHINES", "/etc/backhaul/machines.yaml")
	t.Setenv("BACKHAUL_MACHINES_AUTOCREATE", "yes")
	t.Setenv("BACKHAUL_API_TOKEN", "secret")
	t.Setenv("BACKHAUL_RATE_LIMIT_RPS", "5")
	t.Setenv("BACKHAUL_SSH_TIMEOUT", "90s")

	cfg := FromEnv()
	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, "/etc/backhaul/machines.yaml", cfg.MachinesPath)
	assert.True(t, cfg.MachinesAutoCreate)
	assert.Equal(t, "secret", cfg.APIToken)
	assert.Equal(t, 5, cfg.RateLimitRPS)
	assert.Equal(t, 90*time.Second, cfg.SSHTimeout)
}

func TestFromEnv_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("BACKHAUL_RATE_LIMIT_RPS", "lots")
	t.Setenv("BACKHAUL_SSH_TIMEOUT", "soon")
	t.Setenv("BACKHAUL_MACHINES_AUTOCREATE", "maybe")

	cfg := FromEnv()
	assert.Equal(t, 60, cfg.RateLimitRPS)
	assert.Equal(t, 5*time.Minute, cfg.SSHTimeout)
	assert.False(t, cfg.MachinesAutoCreate)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*AppConfig)
		wantErr bool
	}{
		{name: "defaults are valid", mutate: func(*AppConfig) {}},
		{name: "empty listen addr", mutate: func(c *AppConfig) { c.ListenAddr = "" }, wantErr: true},
		{name: "empty machines path", mutate: func(c *AppConfig) { c.MachinesPath = "" }, wantErr: true},
		{name: "negative rate limit", mutate: func(c *AppConfig) { c.RateLimitRPS = -1 }, wantErr: true},
		{name: "zero ssh timeout", mutate: func(c *AppConfig) { c.SSHTimeout = 0 }, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := FromEnv()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
