package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the daemon configuration
type Config struct {
	Log             LogConfig         `yaml:"log"`
	Database        DatabaseConfig    `yaml:"database"`
	DataDir         string            `yaml:"data_dir"` // Room state snapshots live under <data_dir>/ogb_data
	MQTT            MQTTConfig        `yaml:"mqtt"`
	InfluxDB        InfluxDBConfig    `yaml:"influxdb"`
	Metrics         MetricsConfig     `yaml:"metrics"`
	Healthcheck     HealthcheckConfig `yaml:"healthcheck"`
	EventBus        EventBusConfig    `yaml:"eventbus"`
	Reconcile       ReconcileConfig   `yaml:"reconcile"`
	Ledger          LedgerConfig      `yaml:"ledger"`
	Rooms           []RoomConfig      `yaml:"rooms"`
	ShutdownTimeout Duration          `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// LogConfig contains logging settings
type LogConfig struct {
	Level   string `yaml:"level"`
	UseJSON bool   `yaml:"json"`
	Colors  bool   `yaml:"colors"`
}

// GetLevel returns the configured level, defaulting to info
func (c LogConfig) GetLevel() string {
	if c.Level == "" {
		return "info"
	}
	return c.Level
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// MQTTConfig contains the host broker connection settings
type MQTTConfig struct {
	Broker         string   `yaml:"broker"` // e.g. tcp://localhost:1883
	ClientID       string   `yaml:"client_id"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Prefix         string   `yaml:"prefix"` // Topic prefix of the home-automation host
	QoS            int      `yaml:"qos"`
	ConnectTimeout Duration `yaml:"connect_timeout"`
	RateLimitRPS   float64  `yaml:"rate_limit_rps"` // Service calls per second towards the host
}

// InfluxDBConfig contains grow-data telemetry settings
type InfluxDBConfig struct {
	Enabled       bool     `yaml:"enabled"`
	URL           string   `yaml:"url"`
	Token         string   `yaml:"token"`
	Org           string   `yaml:"org"`
	Bucket        string   `yaml:"bucket"`
	BatchSize     int      `yaml:"batch_size"`
	FlushInterval Duration `yaml:"flush_interval"`
}

// MetricsConfig enables the Prometheus /metrics endpoint on the health server
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// HealthcheckConfig contains health check server settings
type HealthcheckConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	Workers   int `yaml:"workers"`    // Number of worker goroutines (default: 4)
	QueueSize int `yaml:"queue_size"` // Event queue size (default: 100)
}

// GetWorkers returns worker count with default
func (c *EventBusConfig) GetWorkers() int {
	if c.Workers <= 0 {
		return 4
	}
	return c.Workers
}

// GetQueueSize returns queue size with default
func (c *EventBusConfig) GetQueueSize() int {
	if c.QueueSize <= 0 {
		return 100
	}
	return c.QueueSize
}

// ReconcileConfig controls the device reconciliation worker
type ReconcileConfig struct {
	Interval    Duration `yaml:"interval"`     // Period between device enumerations (default: 150s)
	BackoffBase Duration `yaml:"backoff_base"` // First back-off after a failed pass (default: 60s)
	MaxBackoff  Duration `yaml:"max_backoff"`  // Back-off ceiling (default: 8m)
	MaxFailures int      `yaml:"max_failures"` // Consecutive failures before the streak is reset (default: 5)
}

// LedgerConfig contains action ledger retention settings
type LedgerConfig struct {
	RetentionDays   int      `yaml:"retention_days"`
	CleanupInterval Duration `yaml:"cleanup_interval"`
}

// RoomConfig describes one controlled tent
type RoomConfig struct {
	Name   string `yaml:"name"`
	Area   string `yaml:"area"`   // Host area the room's entities are assigned to (default: name)
	Script string `yaml:"script"` // Optional Lua grow-plan script
}

// GetArea returns the host area for the room
func (r RoomConfig) GetArea() string {
	if r.Area == "" {
		return r.Name
	}
	return r.Area
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// GetShutdownTimeout returns the shutdown timeout
func (c *Config) GetShutdownTimeout() time.Duration {
	return c.ShutdownTimeout.Duration()
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse parses configuration bytes, expands environment variables and applies defaults
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./tentd.sqlite"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./data"
	}

	// MQTT defaults
	if cfg.MQTT.Broker == "" {
		cfg.MQTT.Broker = "tcp://localhost:1883"
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "tentd"
	}
	if cfg.MQTT.Prefix == "" {
		cfg.MQTT.Prefix = "homeassistant"
	}
	if cfg.MQTT.ConnectTimeout == 0 {
		cfg.MQTT.ConnectTimeout = Duration(10 * time.Second)
	}
	if cfg.MQTT.RateLimitRPS == 0 {
		cfg.MQTT.RateLimitRPS = 10.0
	}

	// InfluxDB defaults
	if cfg.InfluxDB.BatchSize <= 0 {
		cfg.InfluxDB.BatchSize = 100
	}
	if cfg.InfluxDB.FlushInterval == 0 {
		cfg.InfluxDB.FlushInterval = Duration(10 * time.Second)
	}

	// Reconcile defaults
	if cfg.Reconcile.Interval == 0 {
		cfg.Reconcile.Interval = Duration(150 * time.Second)
	}
	if cfg.Reconcile.BackoffBase == 0 {
		cfg.Reconcile.BackoffBase = Duration(60 * time.Second)
	}
	if cfg.Reconcile.MaxBackoff == 0 {
		cfg.Reconcile.MaxBackoff = Duration(8 * time.Minute)
	}
	if cfg.Reconcile.MaxFailures == 0 {
		cfg.Reconcile.MaxFailures = 5
	}

	// Ledger defaults
	if cfg.Ledger.RetentionDays == 0 {
		cfg.Ledger.RetentionDays = 30
	}
	if cfg.Ledger.CleanupInterval == 0 {
		cfg.Ledger.CleanupInterval = Duration(24 * time.Hour)
	}

	// Healthcheck defaults
	if cfg.Healthcheck.Port == 0 {
		cfg.Healthcheck.Port = 9090
	}
	if cfg.Healthcheck.Host == "" {
		cfg.Healthcheck.Host = "0.0.0.0"
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}
}

// Validate checks the configuration for values the daemon cannot run with
func (cfg *Config) Validate() error {
	if len(cfg.Rooms) == 0 {
		return fmt.Errorf("%w: at least one room is required", ErrInvalid)
	}
	seen := make(map[string]bool, len(cfg.Rooms))
	for _, room := range cfg.Rooms {
		if room.Name == "" {
			return fmt.Errorf("%w: room name is required", ErrInvalid)
		}
		if strings.ContainsAny(room.Name, " ./") {
			return fmt.Errorf("%w: room name %q must not contain spaces, dots or slashes", ErrInvalid, room.Name)
		}
		if seen[room.Name] {
			return fmt.Errorf("%w: duplicate room %q", ErrInvalid, room.Name)
		}
		seen[room.Name] = true
	}
	if cfg.MQTT.QoS < 0 || cfg.MQTT.QoS > 2 {
		return fmt.Errorf("%w: mqtt qos must be 0, 1 or 2", ErrInvalid)
	}
	if cfg.InfluxDB.Enabled && cfg.InfluxDB.URL == "" {
		return fmt.Errorf("%w: influxdb url is required when enabled", ErrInvalid)
	}
	return nil
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
