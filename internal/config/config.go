// Package config loads and validates monitor configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	DB       DBConfig       `mapstructure:"db"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// MonitorConfig governs the cycle scheduler.
type MonitorConfig struct {
	Concurrency     int    `mapstructure:"concurrency"`
	MinPrice        int    `mapstructure:"min_price"`
	IntervalSeconds int    `mapstructure:"interval_seconds"`
	StaggerMinMs    int    `mapstructure:"stagger_min_ms"`
	StaggerMaxMs    int    `mapstructure:"stagger_max_ms"`
	MaxCycleSeconds int    `mapstructure:"max_cycle_seconds"`
	LinksFile       string `mapstructure:"links_file"`
}

// RetryConfig shapes the per-task retry policy.
type RetryConfig struct {
	MaxAttempts int `mapstructure:"max_attempts"`
	BaseDelayMs int `mapstructure:"base_delay_ms"`
	MaxDelayMs  int `mapstructure:"max_delay_ms"`
}

// FetchConfig configures the probe client and headless renderer.
type FetchConfig struct {
	TimeoutSeconds int            `mapstructure:"timeout_seconds"`
	RateRPS        float64        `mapstructure:"rate_rps"`
	RateBurst      int            `mapstructure:"rate_burst"`
	Headless       HeadlessConfig `mapstructure:"headless"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
	SettleMs      int  `mapstructure:"settle_ms"`
	ScrollSteps   int  `mapstructure:"scroll_steps"`
	ScrollPauseMs int  `mapstructure:"scroll_pause_ms"`
}

// DBConfig controls access to the relational database. An empty DSN
// selects the in-memory store.
type DBConfig struct {
	DSN             string `mapstructure:"dsn"`
	Table           string `mapstructure:"table"`
	MaxConns        int    `mapstructure:"max_conns"`
	MinConns        int    `mapstructure:"min_conns"`
	WaitSeconds     int    `mapstructure:"wait_seconds"`
	ConnLifetimeMin int    `mapstructure:"conn_lifetime_minutes"`
}

// TelegramConfig holds the Bot API credentials. Both empty disables
// notifications.
type TelegramConfig struct {
	Token  string `mapstructure:"token"`
	ChatID string `mapstructure:"chat_id"`
}

// ArchiveConfig sets where zero-extraction pages are dumped.
type ArchiveConfig struct {
	Dir string `mapstructure:"dir"`
}

// ServerConfig controls the ops HTTP server.
type ServerConfig struct {
	Port           int    `mapstructure:"port"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CASAWATCH")
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
	v.SetDefault("monitor.concurrency", 2)
	v.SetDefault("monitor.min_price", 100000)
	v.SetDefault("monitor.interval_seconds", 3600)
	v.SetDefault("monitor.stagger_min_ms", 0)
	v.SetDefault("monitor.stagger_max_ms", 5000)
	v.SetDefault("monitor.max_cycle_seconds", 3300)
	v.SetDefault("monitor.links_file", "links")
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay_ms", 500)
	v.SetDefault("retry.max_delay_ms", 30000)
	v.SetDefault("fetch.timeout_seconds", 90)
	v.SetDefault("fetch.rate_rps", 0.5)
	v.SetDefault("fetch.rate_burst", 1)
	v.SetDefault("fetch.headless.enabled", true)
	v.SetDefault("fetch.headless.max_parallel", 2)
	v.SetDefault("fetch.headless.nav_timeout_seconds", 60)
	v.SetDefault("fetch.headless.settle_ms", 2500)
	v.SetDefault("fetch.headless.scroll_steps", 4)
	v.SetDefault("fetch.headless.scroll_pause_ms", 700)
	// Keys without a meaningful default still need registering, or
	// AutomaticEnv never surfaces them to Unmarshal.
	v.SetDefault("db.dsn", "")
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("server.api_key", "")
	v.SetDefault("db.table", "listings")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.wait_seconds", 30)
	v.SetDefault("db.conn_lifetime_minutes", 30)
	v.SetDefault("archive.dir", "debug")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.timeout_seconds", 30)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Monitor.Concurrency <= 0 {
		return fmt.Errorf("monitor.concurrency must be > 0")
	}
	if c.Monitor.IntervalSeconds <= 0 {
		return fmt.Errorf("monitor.interval_seconds must be > 0")
	}
	if c.Monitor.StaggerMaxMs < c.Monitor.StaggerMinMs {
		return fmt.Errorf("monitor.stagger_max_ms must be >= monitor.stagger_min_ms")
	}
	if c.Monitor.LinksFile == "" {
		return fmt.Errorf("monitor.links_file must be set")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be > 0")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Fetch.Headless.Enabled && c.Fetch.Headless.MaxParallel <= 0 {
		return fmt.Errorf("fetch.headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if (c.Telegram.Token == "") != (c.Telegram.ChatID == "") {
		return fmt.Errorf("telegram.token and telegram.chat_id must be set together")
	}
	return nil
}

// Interval returns the pause between cycle starts.
func (c Config) Interval() time.Duration {
	return time.Duration(c.Monitor.IntervalSeconds) * time.Second
}

// CycleDeadline bounds one full cycle: nine tenths of the interval,
// capped by monitor.max_cycle_seconds.
func (c Config) CycleDeadline() time.Duration {
	deadline := c.Interval() * 9 / 10
	if maxCycle := time.Duration(c.Monitor.MaxCycleSeconds) * time.Second; maxCycle > 0 && maxCycle < deadline {
		deadline = maxCycle
	}
	return deadline
}
