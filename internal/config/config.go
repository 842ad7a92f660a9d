// Package config loads the oracled YAML configuration: server, logging,
// oracle topology (adapters, feeds, thresholds, composites, routes),
// API-key role grants, and the optional postgres/redis integrations.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete oracled configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Oracle   OracleConfig   `yaml:"oracle"`
	Feeds    FeedDefaults   `yaml:"feeds"`
	Auth     AuthConfig     `yaml:"auth"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	ReadTimeoutSecs int    `yaml:"read_timeout_secs"`
	WriteTimeoutSecs int   `yaml:"write_timeout_secs"`
	IdleTimeoutSecs int    `yaml:"idle_timeout_secs"`
}

// LogConfig controls log level and output format.
type LogConfig struct {
	Level  string `yaml:"level"`  // trace|debug|info|warn|error
	Format string `yaml:"format"` // console|json|auto
}

// OracleConfig describes the price topology built at startup.
type OracleConfig struct {
	Decimals                uint8           `yaml:"decimals"`
	OverrideExpirationSecs  int             `yaml:"override_expiration_secs"`
	Adapters                []AdapterSpec   `yaml:"adapters"`
	Composites              []CompositeSpec `yaml:"composites"`
	Routes                  []RouteSpec     `yaml:"routes"`
}

// AdapterSpec configures one source adapter and its feeds. Any thresholds
// wrap the adapter in a thresholding decorator.
type AdapterSpec struct {
	Name               string          `yaml:"name"`
	HeartbeatSecs      int             `yaml:"heartbeat_secs"`
	StaleTimeLimitSecs int             `yaml:"stale_time_limit_secs"`
	Feeds              []FeedSpec      `yaml:"feeds"`
	Thresholds         []ThresholdSpec `yaml:"thresholds"`
}

// FeedSpec configures one external feed.
type FeedSpec struct {
	Asset    string `yaml:"asset,omitempty"`
	Address  string `yaml:"address"`
	Vendor   string `yaml:"vendor"` // chainlink|api3|redstone|tellor
	URL      string `yaml:"url"`
	Decimals uint8  `yaml:"decimals"` // 0 means the vendor default
}

// ThresholdValues are base-unit decimal strings; both are required.
type ThresholdValues struct {
	LowerThreshold string `yaml:"lower_threshold"`
	FixedPrice     string `yaml:"fixed_price"`
}

// ThresholdSpec attaches threshold values to one asset.
type ThresholdSpec struct {
	Asset           string `yaml:"asset"`
	ThresholdValues `yaml:",inline"`
}

// CompositeSpec configures one composite combiner instance.
type CompositeSpec struct {
	Name               string              `yaml:"name"`
	HeartbeatSecs      int                 `yaml:"heartbeat_secs"`
	StaleTimeLimitSecs int                 `yaml:"stale_time_limit_secs"`
	Feeds              []CompositeFeedSpec `yaml:"feeds"`
}

// CompositeFeedSpec registers a two-hop pair under one asset.
type CompositeFeedSpec struct {
	Asset              string           `yaml:"asset"`
	Feed1              FeedSpec         `yaml:"feed1"`
	Feed2              FeedSpec         `yaml:"feed2"`
	PrimaryThreshold   *ThresholdValues `yaml:"primary_threshold"`
	SecondaryThreshold *ThresholdValues `yaml:"secondary_threshold"`
}

// RouteSpec maps an asset to its authoritative source by name.
type RouteSpec struct {
	Asset  string `yaml:"asset"`
	Source string `yaml:"source"`
}

// FeedDefaults apply to every HTTP feed client.
type FeedDefaults struct {
	RequestTimeoutMS int     `yaml:"request_timeout_ms"`
	RPS              float64 `yaml:"rps"`
	Burst            int     `yaml:"burst"`
	UserAgent        string  `yaml:"user_agent"`
	Breaker          BreakerSpec `yaml:"breaker"`
}

// BreakerSpec tunes the per-feed circuit breaker.
type BreakerSpec struct {
	MaxRequests         uint32 `yaml:"max_requests"`
	IntervalSecs        int    `yaml:"interval_secs"`
	TimeoutSecs         int    `yaml:"timeout_secs"`
	ConsecutiveFailures uint32 `yaml:"consecutive_failures"`
}

// AuthConfig grants roles to API keys serving the admin endpoints.
type AuthConfig struct {
	APIKeys []APIKeySpec `yaml:"api_keys"`
}

// APIKeySpec maps one key to an actor identity and its roles.
type APIKeySpec struct {
	Key   string   `yaml:"key" env:"ORACLED_API_KEY"`
	Actor string   `yaml:"actor"`
	Roles []string `yaml:"roles"`
}

// DatabaseConfig holds the optional postgres audit store settings.
type DatabaseConfig struct {
	Enabled          bool   `yaml:"enabled"`
	DSN              string `yaml:"dsn" env:"PG_DSN"`
	MaxOpenConns     int    `yaml:"max_open_conns"`
	MaxIdleConns     int    `yaml:"max_idle_conns"`
	ConnMaxLifetime  int    `yaml:"conn_max_lifetime_secs"`
	QueryTimeoutSecs int    `yaml:"query_timeout_secs"`
}

// RedisConfig holds the optional snapshot publisher settings.
type RedisConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr" env:"REDIS_ADDR"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	Channel   string `yaml:"channel"`
	KeyPrefix string `yaml:"key_prefix"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

// Load reads, defaults, and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1" // local-only by default
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeoutSecs == 0 {
		c.Server.ReadTimeoutSecs = 10
	}
	if c.Server.WriteTimeoutSecs == 0 {
		c.Server.WriteTimeoutSecs = 10
	}
	if c.Server.IdleTimeoutSecs == 0 {
		c.Server.IdleTimeoutSecs = 60
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "auto"
	}
	if c.Oracle.Decimals == 0 {
		c.Oracle.Decimals = 8
	}
	if c.Oracle.OverrideExpirationSecs == 0 {
		c.Oracle.OverrideExpirationSecs = 86400
	}
	if c.Feeds.RequestTimeoutMS == 0 {
		c.Feeds.RequestTimeoutMS = 10000
	}
	if c.Feeds.RPS == 0 {
		c.Feeds.RPS = 2.0
	}
	if c.Feeds.Burst == 0 {
		c.Feeds.Burst = 2
	}
	if c.Redis.Channel == "" {
		c.Redis.Channel = "oracled.events"
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "oracled"
	}
	if c.Redis.TimeoutMS == 0 {
		c.Redis.TimeoutMS = 500
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 10
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.QueryTimeoutSecs == 0 {
		c.Database.QueryTimeoutSecs = 30
	}

	if dsn := os.Getenv("PG_DSN"); dsn != "" {
		c.Database.DSN = dsn
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Redis.Addr = addr
	}
}

// Validate rejects configurations that would fail at wire-up time: duplicate
// source names, routes to unknown sources, incomplete thresholds.
func (c *Config) Validate() error {
	if c.Oracle.Decimals > 36 {
		return fmt.Errorf("oracle.decimals %d out of range", c.Oracle.Decimals)
	}

	names := make(map[string]bool)
	for _, a := range c.Oracle.Adapters {
		if a.Name == "" {
			return fmt.Errorf("adapter with empty name")
		}
		if names[a.Name] {
			return fmt.Errorf("duplicate source name %q", a.Name)
		}
		names[a.Name] = true
		if a.HeartbeatSecs <= 0 {
			return fmt.Errorf("adapter %s: heartbeat_secs must be positive", a.Name)
		}
		for _, f := range a.Feeds {
			if f.Asset == "" || f.URL == "" || f.Vendor == "" {
				return fmt.Errorf("adapter %s: feeds need asset, vendor and url", a.Name)
			}
		}
		for _, th := range a.Thresholds {
			if th.Asset == "" || th.LowerThreshold == "" || th.FixedPrice == "" {
				return fmt.Errorf("adapter %s: thresholds need asset, lower_threshold and fixed_price", a.Name)
			}
		}
	}

	for _, comp := range c.Oracle.Composites {
		if comp.Name == "" {
			return fmt.Errorf("composite with empty name")
		}
		if names[comp.Name] {
			return fmt.Errorf("duplicate source name %q", comp.Name)
		}
		names[comp.Name] = true
		if comp.HeartbeatSecs <= 0 {
			return fmt.Errorf("composite %s: heartbeat_secs must be positive", comp.Name)
		}
		for _, f := range comp.Feeds {
			if f.Asset == "" {
				return fmt.Errorf("composite %s: feed needs asset", comp.Name)
			}
			if f.Feed1.URL == "" || f.Feed2.URL == "" {
				return fmt.Errorf("composite %s asset %s: both legs need urls", comp.Name, f.Asset)
			}
			for _, th := range []*ThresholdValues{f.PrimaryThreshold, f.SecondaryThreshold} {
				if th != nil && (th.LowerThreshold == "" || th.FixedPrice == "") {
					return fmt.Errorf("composite %s asset %s: threshold needs both lower_threshold and fixed_price", comp.Name, f.Asset)
				}
			}
		}
	}

	for _, route := range c.Oracle.Routes {
		if route.Asset == "" {
			return fmt.Errorf("route with empty asset")
		}
		if !names[route.Source] {
			return fmt.Errorf("route for %s references unknown source %q", route.Asset, route.Source)
		}
	}

	for _, key := range c.Auth.APIKeys {
		if key.Key == "" || key.Actor == "" {
			return fmt.Errorf("api key entries need key and actor")
		}
		if len(key.Roles) == 0 {
			return fmt.Errorf("api key for %s grants no roles", key.Actor)
		}
	}

	if c.Database.Enabled && c.Database.DSN == "" {
		return fmt.Errorf("database enabled but no dsn configured")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis enabled but no addr configured")
	}
	return nil
}

// OverrideExpiration returns the default override lifetime.
func (c *Config) OverrideExpiration() time.Duration {
	return time.Duration(c.Oracle.OverrideExpirationSecs) * time.Second
}

// Heartbeat returns the adapter's heartbeat as a duration.
func (a AdapterSpec) Heartbeat() time.Duration {
	return time.Duration(a.HeartbeatSecs) * time.Second
}

// StaleTimeLimit returns the adapter's grace buffer as a duration.
func (a AdapterSpec) StaleTimeLimit() time.Duration {
	return time.Duration(a.StaleTimeLimitSecs) * time.Second
}

// Heartbeat returns the composite's heartbeat as a duration.
func (s CompositeSpec) Heartbeat() time.Duration {
	return time.Duration(s.HeartbeatSecs) * time.Second
}

// StaleTimeLimit returns the composite's grace buffer as a duration.
func (s CompositeSpec) StaleTimeLimit() time.Duration {
	return time.Duration(s.StaleTimeLimitSecs) * time.Second
}
