package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	originalDir, _ := os.Getwd()
	tmpDir := t.TempDir()
	os.Chdir(tmpDir)
	defer os.Chdir(originalDir)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 1000, cfg.Server.RateLimitRPS)

	assert.Equal(t, 5, cfg.Worker.NumInternalWorkers)
	assert.True(t, cfg.Worker.AutoStartWorkers)
	assert.True(t, cfg.Worker.EnableBackgroundTasks)
	assert.Equal(t, 30, cfg.Worker.DefaultTimeoutMinutes)
	assert.Equal(t, 50, cfg.Worker.DefaultMaxSteps)
	assert.Equal(t, 0, cfg.Worker.DefaultPriority)
	assert.Equal(t, 60*time.Second, cfg.Worker.TimeoutCheckInterval)
	assert.Equal(t, 2*time.Second, cfg.Worker.WorkerPollInterval)
	assert.Equal(t, 15*time.Second, cfg.Worker.WorkerHeartbeatTimeout)

	assert.Equal(t, "", cfg.Orchestrator.Bin)

	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)

	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_WithConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := tmpDir + "/config.yaml"

	configContent := `
server:
  host: "127.0.0.1"
  port: 9090

num_internal_workers: 12
default_timeout_minutes: 45
orchestrator_bin: "/usr/local/bin/aiopslab-runner"
log_level: "warn"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	originalDir, _ := os.Getwd()
	os.Chdir(tmpDir)
	defer os.Chdir(originalDir)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 12, cfg.Worker.NumInternalWorkers)
	assert.Equal(t, 45, cfg.Worker.DefaultTimeoutMinutes)
	assert.Equal(t, "/usr/local/bin/aiopslab-runner", cfg.Orchestrator.Bin)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestServerConfig_Fields(t *testing.T) {
	cfg := ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
		RateLimitRPS: 500,
	}

	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 500, cfg.RateLimitRPS)
}

func TestWorkerConfig_Fields(t *testing.T) {
	cfg := WorkerConfig{
		NumInternalWorkers:     10,
		WorkerPollInterval:     2 * time.Second,
		WorkerHeartbeatTimeout: 15 * time.Second,
	}

	assert.Equal(t, 10, cfg.NumInternalWorkers)
	assert.Equal(t, 2*time.Second, cfg.WorkerPollInterval)
}
