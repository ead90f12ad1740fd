// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig      `mapstructure:"server"`
	Logging  LoggingConfig     `mapstructure:"logging"`
	DB       DBConfig          `mapstructure:"db"`
	Scraping ScrapingConfig    `mapstructure:"scraping"`
	Webhook  WebhookConfig     `mapstructure:"webhook"`
	Sources  map[string]Source `mapstructure:"sources"`
}

// ServerConfig controls the ops HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// DBConfig controls access to the listing store.
type DBConfig struct {
	Provider string `mapstructure:"provider"` // "postgres" or "memory"
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// ScrapingConfig governs cycle cadence, concurrency and pacing.
type ScrapingConfig struct {
	IntervalMinutes         int    `mapstructure:"interval_minutes"`
	MaxConcurrentRequests   int    `mapstructure:"max_concurrent_requests"`
	RequestDelaySeconds     int    `mapstructure:"request_delay_seconds"`
	SourceDelaySeconds      int    `mapstructure:"source_delay_seconds"`
	TimeoutSeconds          int    `mapstructure:"timeout_seconds"`
	NotificationWindowHours int    `mapstructure:"notification_window_hours"`
	UserAgent               string `mapstructure:"user_agent"`
	DefaultLocation         string `mapstructure:"default_location"`
}

// WebhookConfig points at the outbound notification webhook.
type WebhookConfig struct {
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
}

// Source configures one external listing source.
type Source struct {
	Enabled           bool    `mapstructure:"enabled"`
	BaseURL           string  `mapstructure:"base_url"`
	ClientID          string  `mapstructure:"client_id"`
	ClientSecret      string  `mapstructure:"client_secret"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("JOBWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("db.provider", "memory")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("scraping.interval_minutes", 5)
	v.SetDefault("scraping.max_concurrent_requests", 5)
	v.SetDefault("scraping.request_delay_seconds", 2)
	v.SetDefault("scraping.source_delay_seconds", 2)
	v.SetDefault("scraping.timeout_seconds", 30)
	v.SetDefault("scraping.notification_window_hours", 24)
	v.SetDefault("scraping.user_agent", "jobwatch/0.1")
	v.SetDefault("webhook.username", "jobwatch")
	v.SetDefault("sources.demo.enabled", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	switch c.DB.Provider {
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set when db.provider is postgres")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown db.provider %q", c.DB.Provider)
	}
	if c.Scraping.IntervalMinutes <= 0 {
		return fmt.Errorf("scraping.interval_minutes must be > 0")
	}
	if c.Scraping.MaxConcurrentRequests <= 0 {
		return fmt.Errorf("scraping.max_concurrent_requests must be > 0")
	}
	if c.Scraping.TimeoutSeconds <= 0 {
		return fmt.Errorf("scraping.timeout_seconds must be > 0")
	}
	if c.Scraping.NotificationWindowHours <= 0 {
		return fmt.Errorf("scraping.notification_window_hours must be > 0")
	}
	return nil
}

// EnabledSources returns the enabled source names in stable order.
func (c Config) EnabledSources() []string {
	names := make([]string, 0, len(c.Sources))
	for name, src := range c.Sources {
		if src.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// AdapterTimeout bounds one adapter search call.
func (c Config) AdapterTimeout() time.Duration {
	return time.Duration(c.Scraping.TimeoutSeconds) * time.Second
}

// RequestDelay paces successive topic queries against one source.
func (c Config) RequestDelay() time.Duration {
	return time.Duration(c.Scraping.RequestDelaySeconds) * time.Second
}

// SourceDelay separates successive sources within a cycle.
func (c Config) SourceDelay() time.Duration {
	return time.Duration(c.Scraping.SourceDelaySeconds) * time.Second
}

// NotificationWindow is the trailing window the pending-notification
// sweep scans.
func (c Config) NotificationWindow() time.Duration {
	return time.Duration(c.Scraping.NotificationWindowHours) * time.Hour
}

// CycleInterval is the cadence between scheduled monitoring cycles.
func (c Config) CycleInterval() time.Duration {
	return time.Duration(c.Scraping.IntervalMinutes) * time.Minute
}
