package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ehsaniara/flowq/pkg/errors"
)

// Config holds the complete application configuration
type Config struct {
	Version    string           `yaml:"version" json:"version"`
	Server     ServerConfig     `yaml:"server" json:"server"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
	Queue      QueueConfig      `yaml:"queue" json:"queue"`
	Monitoring MonitoringConfig `yaml:"monitoring" json:"monitoring"`
	Admission  AdmissionConfig  `yaml:"admission" json:"admission"`
	Events     EventsConfig     `yaml:"events" json:"events"`
	Store      StoreConfig      `yaml:"store" json:"store"`
}

// ServerConfig holds the gRPC health endpoint settings
type ServerConfig struct {
	Address         string        `yaml:"address" json:"address"`
	Port            int           `yaml:"port" json:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
}

// QueueConfig holds admission defaults and dispatcher sizing
type QueueConfig struct {
	DefaultMaxRetries        int           `yaml:"default_max_retries" json:"default_max_retries"`
	DefaultTimeout           time.Duration `yaml:"default_timeout" json:"default_timeout"`
	DefaultEstimatedDuration time.Duration `yaml:"default_estimated_duration" json:"default_estimated_duration"`
	MaxRunningPerProject     int           `yaml:"max_running_per_project" json:"max_running_per_project"`
	Workers                  int           `yaml:"workers" json:"workers"`
	MaxParallelSteps         int           `yaml:"max_parallel_steps" json:"max_parallel_steps"`
	RetryBaseDelay           time.Duration `yaml:"retry_base_delay" json:"retry_base_delay"`
	RetryMaxDelay            time.Duration `yaml:"retry_max_delay" json:"retry_max_delay"`
}

const (
	CooldownGlobal  = "global"
	CooldownPerType = "per-type"
)

// MonitoringConfig holds resource monitor configuration
type MonitoringConfig struct {
	Enabled           bool             `yaml:"enabled" json:"enabled"`
	Interval          time.Duration    `yaml:"interval" json:"interval"`
	AlertCooldown     time.Duration    `yaml:"alert_cooldown" json:"alert_cooldown"`
	CooldownScope     string           `yaml:"cooldown_scope" json:"cooldown_scope"`
	HistorySize       int              `yaml:"history_size" json:"history_size"`
	AlertHistorySize  int              `yaml:"alert_history_size" json:"alert_history_size"`
	TrendWindow       time.Duration    `yaml:"trend_window" json:"trend_window"`
	RecentAlertWindow time.Duration    `yaml:"recent_alert_window" json:"recent_alert_window"`
	Thresholds        ThresholdsConfig `yaml:"thresholds" json:"thresholds"`
}

// ThresholdsConfig holds alert thresholds. Percentages are 0..100.
type ThresholdsConfig struct {
	MemoryWarning   float64 `yaml:"memory_warning" json:"memory_warning"`
	MemoryCritical  float64 `yaml:"memory_critical" json:"memory_critical"`
	CPUWarning      float64 `yaml:"cpu_warning" json:"cpu_warning"`
	CPUCritical     float64 `yaml:"cpu_critical" json:"cpu_critical"`
	ProcessMemoryMB float64 `yaml:"process_memory_mb" json:"process_memory_mb"`
}

type AdmissionConfig struct {
	RejectOnCritical bool `yaml:"reject_on_critical" json:"reject_on_critical"`
}

type EventsConfig struct {
	BufferSize  int    `yaml:"buffer_size" json:"buffer_size"`
	JournalPath string `yaml:"journal_path" json:"journal_path"`
}

// StoreConfig selects the optional QueueItem mirror
type StoreConfig struct {
	Backend  string         `yaml:"backend" json:"backend"` // "memory", "dynamodb" or "none"
	DynamoDB DynamoDBConfig `yaml:"dynamodb" json:"dynamodb"`
}

type DynamoDBConfig struct {
	Region    string `yaml:"region" json:"region"` // empty = auto-detect from the instance metadata
	TableName string `yaml:"table_name" json:"table_name"`
	TTLDays   int    `yaml:"ttl_days" json:"ttl_days"`
}

// DefaultConfig provides default configuration values
var DefaultConfig = Config{
	Version: "1.0",
	Server: ServerConfig{
		Address:         "0.0.0.0",
		Port:            50061,
		ShutdownTimeout: 10 * time.Second,
	},
	Logging: LoggingConfig{
		Level:  "INFO",
		Format: "text",
		Output: "stdout",
	},
	Queue: QueueConfig{
		DefaultMaxRetries:        3,
		DefaultTimeout:           5 * time.Minute,
		DefaultEstimatedDuration: 30 * time.Second,
		MaxRunningPerProject:     1,
		Workers:                  4,
		MaxParallelSteps:         4,
		RetryBaseDelay:           200 * time.Millisecond,
		RetryMaxDelay:            5 * time.Second,
	},
	Monitoring: MonitoringConfig{
		Enabled:           true,
		Interval:          5 * time.Second,
		AlertCooldown:     60 * time.Second,
		CooldownScope:     CooldownGlobal,
		HistorySize:       1000,
		AlertHistorySize:  1000,
		TrendWindow:       5 * time.Minute,
		RecentAlertWindow: 60 * time.Second,
		Thresholds: ThresholdsConfig{
			MemoryWarning:   80,
			MemoryCritical:  95,
			CPUWarning:      80,
			CPUCritical:     95,
			ProcessMemoryMB: 512,
		},
	},
	Admission: AdmissionConfig{
		RejectOnCritical: true,
	},
	Events: EventsConfig{
		BufferSize: 256,
	},
	Store: StoreConfig{
		Backend: "memory",
		DynamoDB: DynamoDBConfig{
			TableName: "flowq-queue-items",
			TTLDays:   7,
		},
	},
}

// GetServerAddress returns the address the health endpoint listens on
func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Address, c.Server.Port)
}

// LoadConfig loads the configuration from the first config file found,
// applies environment overrides and validates the result.
//  1. Path specified in FLOWQ_CONFIG_PATH environment variable
//  2. ./config/flowq-config.yml
//  3. ./flowq-config.yml
//  4. /etc/flowq/flowq-config.yml
//
// Returns (config, configPath, error). configPath describes where the values came from.
func LoadConfig() (*Config, string, error) {
	config := DefaultConfig

	path, err := loadFromFile(&config)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load config file: %w", err)
	}

	if err := applyEnv(&config); err != nil {
		return nil, "", err
	}

	if e := config.Validate(); e != nil {
		return nil, "", fmt.Errorf("configuration validation failed: %w", e)
	}

	return &config, path, nil
}

// LoadConfigFromFile loads one explicit file on top of the defaults.
func LoadConfigFromFile(path string) (*Config, error) {
	config := DefaultConfig

	if err := readInto(path, &config); err != nil {
		return nil, err
	}
	if err := applyEnv(&config); err != nil {
		return nil, err
	}
	if e := config.Validate(); e != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", e)
	}

	return &config, nil
}

func loadFromFile(config *Config) (string, error) {
	configPaths := []string{
		os.Getenv("FLOWQ_CONFIG_PATH"),
		"./config/flowq-config.yml",
		"./flowq-config.yml",
		"/etc/flowq/flowq-config.yml",
	}

	for _, path := range configPaths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}

		if err := readInto(path, config); err != nil {
			return "", err
		}
		return path, nil
	}

	return "built-in defaults (no config file found)", nil
}

func readInto(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(config *Config) error {
	if val := os.Getenv("FLOWQ_SERVER_ADDRESS"); val != "" {
		config.Server.Address = val
	}
	if val := os.Getenv("FLOWQ_LOG_LEVEL"); val != "" {
		config.Logging.Level = val
	}
	if val := os.Getenv("FLOWQ_LOG_FORMAT"); val != "" {
		config.Logging.Format = val
	}
	if val := os.Getenv("FLOWQ_MONITORING_INTERVAL"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return errors.NewConfigError("monitoring", "interval", fmt.Errorf("FLOWQ_MONITORING_INTERVAL: %w", err))
		}
		config.Monitoring.Interval = d
	}
	return nil
}

// Validate checks every section and returns the first problem found as a ConfigError.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return errors.NewConfigError("server", "port", fmt.Errorf("out of range: %d", c.Server.Port))
	}

	switch strings.ToUpper(c.Logging.Level) {
	case "DEBUG", "INFO", "WARN", "WARNING", "ERROR":
	default:
		return errors.NewConfigError("logging", "level", fmt.Errorf("unknown level: %s", c.Logging.Level))
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return errors.NewConfigError("logging", "format", fmt.Errorf("must be text or json, got %q", c.Logging.Format))
	}

	q := c.Queue
	if q.DefaultMaxRetries < 0 {
		return errors.NewConfigError("queue", "default_max_retries", fmt.Errorf("must not be negative: %d", q.DefaultMaxRetries))
	}
	if q.DefaultTimeout <= 0 {
		return errors.NewConfigError("queue", "default_timeout", fmt.Errorf("must be positive: %s", q.DefaultTimeout))
	}
	if q.MaxRunningPerProject < 1 {
		return errors.NewConfigError("queue", "max_running_per_project", fmt.Errorf("must be at least 1: %d", q.MaxRunningPerProject))
	}
	if q.Workers < 1 {
		return errors.NewConfigError("queue", "workers", fmt.Errorf("must be at least 1: %d", q.Workers))
	}
	if q.MaxParallelSteps < 1 {
		return errors.NewConfigError("queue", "max_parallel_steps", fmt.Errorf("must be at least 1: %d", q.MaxParallelSteps))
	}
	if q.RetryBaseDelay < 0 || q.RetryMaxDelay < q.RetryBaseDelay {
		return errors.NewConfigError("queue", "retry_max_delay", fmt.Errorf("must be >= retry_base_delay"))
	}

	m := c.Monitoring
	if m.Interval <= 0 {
		return errors.NewConfigError("monitoring", "interval", fmt.Errorf("must be positive: %s", m.Interval))
	}
	if m.AlertCooldown < 0 {
		return errors.NewConfigError("monitoring", "alert_cooldown", fmt.Errorf("must not be negative: %s", m.AlertCooldown))
	}
	if m.CooldownScope != CooldownGlobal && m.CooldownScope != CooldownPerType {
		return errors.NewConfigError("monitoring", "cooldown_scope", fmt.Errorf("must be %s or %s, got %q", CooldownGlobal, CooldownPerType, m.CooldownScope))
	}
	if m.HistorySize < 1 || m.AlertHistorySize < 1 {
		return errors.NewConfigError("monitoring", "history_size", fmt.Errorf("history sizes must be at least 1"))
	}
	if err := m.Thresholds.validate(); err != nil {
		return err
	}

	if c.Events.BufferSize < 1 {
		return errors.NewConfigError("events", "buffer_size", fmt.Errorf("must be at least 1: %d", c.Events.BufferSize))
	}

	switch c.Store.Backend {
	case "memory", "none", "":
	case "dynamodb":
		if c.Store.DynamoDB.TableName == "" {
			return errors.NewConfigError("store", "dynamodb.table_name", fmt.Errorf("required for the dynamodb backend"))
		}
	default:
		return errors.NewConfigError("store", "backend", fmt.Errorf("unknown backend: %s", c.Store.Backend))
	}

	return nil
}

func (t ThresholdsConfig) validate() error {
	pairs := []struct {
		field           string
		warning, critic float64
	}{
		{"memory", t.MemoryWarning, t.MemoryCritical},
		{"cpu", t.CPUWarning, t.CPUCritical},
	}
	for _, p := range pairs {
		if p.warning <= 0 || p.critic > 100 || p.warning > p.critic {
			return errors.NewConfigError("monitoring.thresholds", p.field,
				fmt.Errorf("need 0 < warning <= critical <= 100, got %.1f/%.1f", p.warning, p.critic))
		}
	}
	if t.ProcessMemoryMB <= 0 {
		return errors.NewConfigError("monitoring.thresholds", "process_memory_mb", fmt.Errorf("must be positive"))
	}
	return nil
}
