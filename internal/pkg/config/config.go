package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Valkey    ValkeyConfig    `mapstructure:"valkey"`
	Upstream  UpstreamConfig  `mapstructure:"upstream"`
	Feeds     FeedsConfig     `mapstructure:"feeds"`
	Tracking  TrackingConfig  `mapstructure:"tracking"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

type ServerConfig struct {
	Port         int `mapstructure:"port"`
	ReadTimeout  int `mapstructure:"read_timeout"`
	WriteTimeout int `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type NATSConfig struct {
	URL string `mapstructure:"url"`
}

type ValkeyConfig struct {
	Addr string `mapstructure:"addr"`
}

// UpstreamConfig points at the merchant platform's admin API and stream
// endpoint. Token and ClientID form the session identity; with either one
// missing the stream never starts and the gateway serves REST fallback only.
type UpstreamConfig struct {
	BaseURL         string `mapstructure:"base_url"`
	WSURL           string `mapstructure:"ws_url"`
	Token           string `mapstructure:"token"`
	ClientID        string `mapstructure:"client_id"`
	RequestTimeout  int    `mapstructure:"request_timeout"`  // seconds
	SnapshotTimeout int    `mapstructure:"snapshot_timeout"` // seconds
}

// FeedConfig is the supervision profile for one streaming subscription.
// The location and order feeds carry separate profiles: the upstream tunes
// them independently, and the reconnect delay is fixed, not a backoff.
type FeedConfig struct {
	HandshakeTimeout     int `mapstructure:"handshake_timeout"` // seconds
	ReconnectDelay       int `mapstructure:"reconnect_delay"`   // seconds
	MaxReconnectAttempts int `mapstructure:"max_reconnect_attempts"`
}

func (f FeedConfig) HandshakeTimeoutDuration() time.Duration {
	return time.Duration(f.HandshakeTimeout) * time.Second
}

func (f FeedConfig) ReconnectDelayDuration() time.Duration {
	return time.Duration(f.ReconnectDelay) * time.Second
}

type FeedsConfig struct {
	Locations FeedConfig `mapstructure:"locations"`
	Orders    FeedConfig `mapstructure:"orders"`
}

// TrackingConfig tunes the map view engine.
type TrackingConfig struct {
	AnimationMs     int     `mapstructure:"animation_ms"`
	SnapThresholdM  float64 `mapstructure:"snap_threshold_m"`
	FrameIntervalMs int     `mapstructure:"frame_interval_ms"`
	FocusZoom       float64 `mapstructure:"focus_zoom"`
}

type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
	TempoAddr   string `mapstructure:"tempo_addr"`
	Enabled     bool   `mapstructure:"enabled"`
}

// Load reads configuration from file and environment variables.
func Load(service string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10)
	v.SetDefault("server.write_timeout", 10)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "dispatch")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "dispatchboard")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("valkey.addr", "localhost:6379")
	v.SetDefault("upstream.base_url", "http://localhost:9090")
	v.SetDefault("upstream.ws_url", "ws://localhost:9090/ws")
	v.SetDefault("upstream.token", "")
	v.SetDefault("upstream.client_id", "")
	v.SetDefault("upstream.request_timeout", 10)
	v.SetDefault("upstream.snapshot_timeout", 30)
	v.SetDefault("feeds.locations.handshake_timeout", 10)
	v.SetDefault("feeds.locations.reconnect_delay", 5)
	v.SetDefault("feeds.locations.max_reconnect_attempts", 5)
	v.SetDefault("feeds.orders.handshake_timeout", 15)
	v.SetDefault("feeds.orders.reconnect_delay", 8)
	v.SetDefault("feeds.orders.max_reconnect_attempts", 3)
	v.SetDefault("tracking.animation_ms", 2000)
	v.SetDefault("tracking.snap_threshold_m", 5.0)
	v.SetDefault("tracking.frame_interval_ms", 100)
	v.SetDefault("tracking.focus_zoom", 16.0)
	v.SetDefault("telemetry.service_name", service)
	v.SetDefault("telemetry.tempo_addr", "tempo:4317")
	v.SetDefault("telemetry.enabled", true)

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	_ = v.ReadInConfig() // OK if missing

	// Environment variables: DISPATCHBOARD_UPSTREAM_TOKEN → upstream.token
	v.SetEnvPrefix("DISPATCHBOARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks that required configuration fields are present and sane.
// An empty upstream token/client id is allowed: it degrades the gateway to
// REST fallback rather than refusing to start.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Database.Host == "" {
		errs = append(errs, "database.host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", c.Database.Port))
	}
	if c.Database.User == "" {
		errs = append(errs, "database.user is required")
	}
	if c.Database.DBName == "" {
		errs = append(errs, "database.dbname is required")
	}
	if c.NATS.URL == "" {
		errs = append(errs, "nats.url is required")
	}
	if c.Valkey.Addr == "" {
		errs = append(errs, "valkey.addr is required")
	}
	if c.Upstream.BaseURL == "" {
		errs = append(errs, "upstream.base_url is required")
	}
	if c.Upstream.WSURL == "" {
		errs = append(errs, "upstream.ws_url is required")
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, "server.read_timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, "server.write_timeout must be positive")
	}
	for name, f := range map[string]FeedConfig{"feeds.locations": c.Feeds.Locations, "feeds.orders": c.Feeds.Orders} {
		if f.HandshakeTimeout <= 0 {
			errs = append(errs, name+".handshake_timeout must be positive")
		}
		if f.ReconnectDelay <= 0 {
			errs = append(errs, name+".reconnect_delay must be positive")
		}
		if f.MaxReconnectAttempts < 0 {
			errs = append(errs, name+".max_reconnect_attempts must not be negative")
		}
	}
	if c.Tracking.AnimationMs <= 0 {
		errs = append(errs, "tracking.animation_ms must be positive")
	}
	if c.Tracking.SnapThresholdM < 0 {
		errs = append(errs, "tracking.snap_threshold_m must not be negative")
	}
	if c.Tracking.FrameIntervalMs <= 0 {
		errs = append(errs, "tracking.frame_interval_ms must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
