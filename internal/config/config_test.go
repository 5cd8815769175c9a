package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "healer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MIRADOR_HEALER_CONFIG", "")
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":50052", cfg.Server.Address)
	assert.Equal(t, 10*time.Second, cfg.Scheduler.FallbackInterval)
	assert.Equal(t, "halt", cfg.Scheduler.FailureMode)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, 1024, cfg.Cache.MaxEntries)
	assert.Empty(t, cfg.Policies)
}

func TestLoadPoliciesWithDefaults(t *testing.T) {
	path := writeConfig(t, `
scheduler:
  failureMode: isolate
clients:
  core:
    baseURL: http://core:8080
policies:
  - name: checkout-health
    service: checkout
    interval: 30s
    sensors: [metrics, logs]
    anomalyThreshold: 3
    resolvers:
      - type: webhook
        url: http://hooks/healer
  - name: payments-health
    service: payments
    interval: 1m
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "isolate", cfg.Scheduler.FailureMode)
	assert.Equal(t, "http://core:8080", cfg.Clients.Core.BaseURL)
	require.Len(t, cfg.Policies, 2)

	checkout := cfg.Policies[0]
	assert.Equal(t, 30*time.Second, checkout.Interval)
	assert.Equal(t, []string{"metrics", "logs"}, checkout.Sensors)
	assert.Equal(t, "default", checkout.Tenant)
	assert.Equal(t, 15*time.Minute, checkout.Lookback)
	assert.Equal(t, "webhook", checkout.Resolvers[0].Type)

	payments := cfg.Policies[1]
	assert.Equal(t, []string{"metrics"}, payments.Sensors)
	assert.Equal(t, []ResolverConfig{{Type: "log"}}, payments.Resolvers)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: info\n")
	t.Setenv("MIRADOR_HEALER_LOG_LEVEL", "debug")
	t.Setenv("MIRADOR_HEALER_LOG_FORMAT", "json")
	t.Setenv("MIRADOR_HEALER_FAILURE_MODE", "isolate")
	t.Setenv("MIRADOR_HEALER_FALLBACK_INTERVAL", "3s")
	t.Setenv("MIRADOR_HEALER_CACHE_ENABLED", "false")
	t.Setenv("MIRADOR_HEALER_CACHE_MAX_ENTRIES", "64")
	t.Setenv("MIRADOR_HEALER_STORE_PATH", "")
	t.Setenv("MIRADOR_CORE_BASE_URL", "http://override:9000")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.JSON)
	assert.Equal(t, "isolate", cfg.Scheduler.FailureMode)
	assert.Equal(t, 3*time.Second, cfg.Scheduler.FallbackInterval)
	assert.False(t, cfg.Cache.Enabled)
	assert.Equal(t, 64, cfg.Cache.MaxEntries)
	assert.Empty(t, cfg.Store.Path)
	assert.Equal(t, "http://override:9000", cfg.Clients.Core.BaseURL)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestLoadRejectsInvalidPolicies(t *testing.T) {
	path := writeConfig(t, `
scheduler:
  failureMode: retry
policies:
  - name: a
    service: checkout
    interval: 0s
    sensors: [profiles]
  - name: a
    service: checkout
    interval: 10s
    resolvers:
      - type: webhook
      - type: pager
`)
	_, err := Load(path)
	require.Error(t, err)
	for _, want := range []string{
		"unknown mode",
		"interval must be positive",
		"unknown sensor kind",
		"duplicate policy name",
		"webhook url is required",
		"unknown resolver type",
	} {
		assert.Contains(t, err.Error(), want)
	}
}
