package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehsaniara/flowq/pkg/errors"
)

func TestDefaultConfig(t *testing.T) {
	assert.Equal(t, 50061, DefaultConfig.Server.Port)
	assert.Equal(t, 3, DefaultConfig.Queue.DefaultMaxRetries)
	assert.Equal(t, 5*time.Second, DefaultConfig.Monitoring.Interval)
	assert.Equal(t, 60*time.Second, DefaultConfig.Monitoring.AlertCooldown)
	assert.Equal(t, CooldownGlobal, DefaultConfig.Monitoring.CooldownScope)
	assert.Equal(t, 1000, DefaultConfig.Monitoring.HistorySize)
	assert.Equal(t, 512.0, DefaultConfig.Monitoring.Thresholds.ProcessMemoryMB)

	cfg := DefaultConfig
	assert.NoError(t, cfg.Validate())
}

func TestGetServerAddress(t *testing.T) {
	cfg := Config{Server: ServerConfig{Address: "127.0.0.1", Port: 9000}}
	assert.Equal(t, "127.0.0.1:9000", cfg.GetServerAddress())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{"port too low", func(c *Config) { c.Server.Port = 0 }, "port"},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }, "port"},
		{"bad log level", func(c *Config) { c.Logging.Level = "TRACE" }, "level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "format"},
		{"negative retries", func(c *Config) { c.Queue.DefaultMaxRetries = -1 }, "default_max_retries"},
		{"zero timeout", func(c *Config) { c.Queue.DefaultTimeout = 0 }, "default_timeout"},
		{"no workers", func(c *Config) { c.Queue.Workers = 0 }, "workers"},
		{"no parallel steps", func(c *Config) { c.Queue.MaxParallelSteps = 0 }, "max_parallel_steps"},
		{"retry delays inverted", func(c *Config) { c.Queue.RetryMaxDelay = time.Millisecond }, "retry_max_delay"},
		{"zero interval", func(c *Config) { c.Monitoring.Interval = 0 }, "interval"},
		{"unknown cooldown scope", func(c *Config) { c.Monitoring.CooldownScope = "per-project" }, "cooldown_scope"},
		{"empty history", func(c *Config) { c.Monitoring.HistorySize = 0 }, "history_size"},
		{"warning above critical", func(c *Config) { c.Monitoring.Thresholds.CPUWarning = 99 }, "cpu"},
		{"critical above 100", func(c *Config) { c.Monitoring.Thresholds.MemoryCritical = 120 }, "memory"},
		{"zero buffer", func(c *Config) { c.Events.BufferSize = 0 }, "buffer_size"},
		{"unknown backend", func(c *Config) { c.Store.Backend = "redis" }, "backend"},
		{"dynamodb without table", func(c *Config) {
			c.Store.Backend = "dynamodb"
			c.Store.DynamoDB.TableName = ""
		}, "dynamodb.table_name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig
			tt.mutate(&cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsConfigError(err))
			assert.ErrorIs(t, err, errors.ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flowq-config.yml")
	content := `
server:
  port: 6000
queue:
  workers: 8
  default_timeout: 90s
monitoring:
  interval: 2s
  cooldown_scope: per-type
  thresholds:
    memory_warning: 70
    memory_critical: 90
store:
  backend: none
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfigFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 6000, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Address, "unset values keep their defaults")
	assert.Equal(t, 8, cfg.Queue.Workers)
	assert.Equal(t, 90*time.Second, cfg.Queue.DefaultTimeout)
	assert.Equal(t, 2*time.Second, cfg.Monitoring.Interval)
	assert.Equal(t, CooldownPerType, cfg.Monitoring.CooldownScope)
	assert.Equal(t, 70.0, cfg.Monitoring.Thresholds.MemoryWarning)
	assert.Equal(t, 95.0, cfg.Monitoring.Thresholds.CPUCritical)
	assert.Equal(t, "none", cfg.Store.Backend)
}

func TestLoadConfigFromFile_Invalid(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadConfigFromFile(filepath.Join(dir, "missing.yml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yml")
	require.NoError(t, os.WriteFile(bad, []byte("queue: [unterminated"), 0644))
	_, err = LoadConfigFromFile(bad)
	assert.Error(t, err)

	invalid := filepath.Join(dir, "invalid.yml")
	require.NoError(t, os.WriteFile(invalid, []byte("queue:\n  workers: 0\n"), 0644))
	_, err = LoadConfigFromFile(invalid)
	assert.True(t, errors.IsConfigError(err))
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: DEBUG\n"), 0644))

	t.Setenv("FLOWQ_CONFIG_PATH", path)
	t.Setenv("FLOWQ_SERVER_ADDRESS", "127.0.0.1")
	t.Setenv("FLOWQ_LOG_FORMAT", "json")
	t.Setenv("FLOWQ_MONITORING_INTERVAL", "750ms")

	cfg, source, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, path, source)
	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, "127.0.0.1", cfg.Server.Address)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 750*time.Millisecond, cfg.Monitoring.Interval)
}

func TestLoadConfig_BadIntervalEnv(t *testing.T) {
	t.Setenv("FLOWQ_CONFIG_PATH", filepath.Join(t.TempDir(), "absent.yml"))
	t.Setenv("FLOWQ_MONITORING_INTERVAL", "soon")

	_, _, err := LoadConfig()
	require.Error(t, err)
	assert.True(t, errors.IsConfigError(err))
}
