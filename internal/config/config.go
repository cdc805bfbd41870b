// Package config provides configuration management for the scanner.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Data    DataConfig    `mapstructure:"data"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Scan    ScanConfig    `mapstructure:"scan"`
	NSE     NSEConfig     `mapstructure:"nse"`
	Kite    KiteConfig    `mapstructure:"kite"`
	Server  ServerConfig  `mapstructure:"server"`
	Market  MarketConfig  `mapstructure:"market"`
	Logging LoggingConfig `mapstructure:"logging"`
	Tracing TracingConfig `mapstructure:"tracing"`

	Notifications NotificationConfig `mapstructure:"notifications"`

	// Dir is the directory the configuration was loaded from.
	Dir string `mapstructure:"-"`
}

// DataConfig holds storage-related configuration.
type DataConfig struct {
	Dir          string `mapstructure:"dir"`
	StocksFile   string `mapstructure:"stocks_file"`
	JournalPath  string `mapstructure:"journal_path"`
	InitialYears int    `mapstructure:"initial_years"`
	MAWindow     int    `mapstructure:"ma_window"`
}

// SyncConfig holds sync engine configuration.
type SyncConfig struct {
	Source     string        `mapstructure:"source"` // "nse", "kite"
	DelayMin   time.Duration `mapstructure:"delay_min"`
	DelayMax   time.Duration `mapstructure:"delay_max"`
	Workers    int           `mapstructure:"workers"`
	Schedule   string        `mapstructure:"schedule"` // cron spec for the daemon's idle wake-up
	RatePerSec float64       `mapstructure:"rate_per_sec"`
	Burst      int           `mapstructure:"burst"`
}

// ScanConfig holds breakout scan defaults.
type ScanConfig struct {
	History                  int     `mapstructure:"history"`
	MarginPct                float64 `mapstructure:"margin"`
	FilterByLastClose        bool    `mapstructure:"filter_by_last_close"`
	LastCloseMarginThreshold float64 `mapstructure:"last_close_margin"`
}

// NSEConfig holds NSE history API configuration.
type NSEConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	ChunkDays int           `mapstructure:"chunk_days"`
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
	Retries   int           `mapstructure:"retries"`
}

// KiteConfig holds Kite Connect configuration.
type KiteConfig struct {
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
	TokenPath string `mapstructure:"token_path"`
}

// ServerConfig holds web UI configuration.
type ServerConfig struct {
	Addr         string `mapstructure:"addr"`
	SyncSchedule string `mapstructure:"sync_schedule"` // empty disables background sync
}

// NotificationConfig holds notification configuration.
type NotificationConfig struct {
	Level    string         `mapstructure:"level"` // all, candidates_only, errors_only
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// WebhookConfig holds webhook notification configuration.
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

// Enabled reports whether any notification channel is configured.
func (n NotificationConfig) Enabled() bool {
	return (n.Webhook.Enabled && n.Webhook.URL != "") ||
		(n.Telegram.Enabled && n.Telegram.BotToken != "" && n.Telegram.ChatID != "")
}

// MarketConfig holds trading calendar configuration.
type MarketConfig struct {
	Timezone string   `mapstructure:"timezone"`
	Holidays []string `mapstructure:"holidays"` // extra holidays, YYYY-MM-DD
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
	File       bool   `mapstructure:"file"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

// TracingConfig holds tracing configuration.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/v20-scanner"
	}
	return filepath.Join(home, ".config", "v20-scanner")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	// .env in the working directory is optional
	_ = godotenv.Load()

	cfg := &Config{Dir: configDir}

	if err := loadConfigFile(configDir, "config", cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	applyEnvOverrides(cfg)
	cfg.resolvePaths()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data.dir", "data")
	v.SetDefault("data.stocks_file", "stocks.txt")
	v.SetDefault("data.journal_path", "journal.db")
	v.SetDefault("data.initial_years", 5)
	v.SetDefault("data.ma_window", 200)

	v.SetDefault("sync.source", "nse")
	v.SetDefault("sync.delay_min", "3s")
	v.SetDefault("sync.delay_max", "5s")
	v.SetDefault("sync.workers", 1)
	v.SetDefault("sync.schedule", "0 18 * * 1-5")
	v.SetDefault("sync.rate_per_sec", 1.0)
	v.SetDefault("sync.burst", 2)

	v.SetDefault("scan.history", 10)
	v.SetDefault("scan.margin", 20.0)
	v.SetDefault("scan.filter_by_last_close", true)
	v.SetDefault("scan.last_close_margin", 5.0)

	v.SetDefault("nse.base_url", "https://www.nseindia.com")
	v.SetDefault("nse.chunk_days", 365)
	v.SetDefault("nse.timeout", "30s")
	v.SetDefault("nse.retries", 3)
	v.SetDefault("nse.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")

	v.SetDefault("kite.token_path", "kite_session.json")

	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.sync_schedule", "")

	v.SetDefault("market.timezone", "Asia/Kolkata")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.file", true)
	v.SetDefault("logging.file_path", "logs/v20.log")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 7)
	v.SetDefault("logging.max_age", 30)

	v.SetDefault("notifications.level", "all")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "v20-scanner")
}

func loadConfigFile(configDir, name string, target interface{}) error {
	v := viper.New()
	v.SetConfigName(name)
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
		// First run: write a template and continue with defaults.
		if err := createTemplateConfig(configDir, name); err != nil {
			return err
		}
	}

	return v.Unmarshal(target)
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	return cfg
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("V20_DATA_DIR"); v != "" {
		cfg.Data.Dir = v
	}
	if v := os.Getenv("V20_STOCKS_FILE"); v != "" {
		cfg.Data.StocksFile = v
	}
	if v := os.Getenv("V20_SOURCE"); v != "" {
		cfg.Sync.Source = v
	}
	if v := os.Getenv("V20_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sync.Workers = n
		}
	}
	if v := os.Getenv("V20_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("V20_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Kite credentials
	if v := os.Getenv("KITE_API_KEY"); v != "" {
		cfg.Kite.APIKey = v
	}
	if v := os.Getenv("KITE_API_SECRET"); v != "" {
		cfg.Kite.APISecret = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Notifications.Telegram.BotToken = v
	}
}

// resolvePaths makes relative paths relative to the config directory.
func (c *Config) resolvePaths() {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(c.Dir, p)
	}
	c.Data.Dir = abs(c.Data.Dir)
	c.Data.StocksFile = abs(c.Data.StocksFile)
	c.Data.JournalPath = abs(c.Data.JournalPath)
	c.Kite.TokenPath = abs(c.Kite.TokenPath)
	c.Logging.FilePath = abs(c.Logging.FilePath)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Sync.Source != "nse" && c.Sync.Source != "kite" {
		return fmt.Errorf("invalid sync source: %s (must be 'nse' or 'kite')", c.Sync.Source)
	}
	if c.Sync.Source == "kite" && c.Kite.APIKey == "" {
		return fmt.Errorf("kite.api_key is required when sync.source is 'kite'")
	}
	if c.Data.InitialYears <= 0 {
		return fmt.Errorf("initial_years must be positive")
	}
	if c.Data.MAWindow <= 0 {
		return fmt.Errorf("ma_window must be positive")
	}
	if c.Sync.DelayMin < 0 || c.Sync.DelayMax < c.Sync.DelayMin {
		return fmt.Errorf("sync delay range is invalid: %s..%s", c.Sync.DelayMin, c.Sync.DelayMax)
	}
	if c.Sync.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	if c.Scan.History < 2 {
		return fmt.Errorf("scan history must be at least 2 bars")
	}
	switch c.Notifications.Level {
	case "", "all", "candidates_only", "errors_only":
	default:
		return fmt.Errorf("invalid notifications.level: %s", c.Notifications.Level)
	}
	if c.NSE.ChunkDays <= 0 {
		return fmt.Errorf("nse.chunk_days must be positive")
	}
	for _, h := range c.Market.Holidays {
		if _, err := time.Parse("2006-01-02", h); err != nil {
			return fmt.Errorf("invalid holiday %q: %w", h, err)
		}
	}
	if _, err := time.LoadLocation(c.Market.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Market.Timezone, err)
	}
	return nil
}

// Location returns the market time zone, falling back to IST.
func (c *Config) Location() *time.Location {
	if loc, err := time.LoadLocation(c.Market.Timezone); err == nil {
		return loc
	}
	return time.FixedZone("IST", 5*3600+1800)
}
