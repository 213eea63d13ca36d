package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/kokokkkoko/csfloat-outbid-bot/internal/logging"
	"github.com/kokokkkoko/csfloat-outbid-bot/internal/policy"
)

// Config materialises application configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Logging  logging.Config `mapstructure:"logging"`
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
	CSFloat  CSFloatConfig  `mapstructure:"csfloat"`
	Bot      BotConfig      `mapstructure:"bot"`
	Alerting AlertingConfig `mapstructure:"alerting"`
	Export   ExportConfig   `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// ServerConfig governs the dashboard API listener.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns the host:port pair to bind.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// CSFloatConfig captures marketplace API connectivity.
type CSFloatConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// BotConfig tunes the outbid loop and seeds the policy settings store on
// first run. Runtime settings changes go through the settings store, not here.
type BotConfig struct {
	Autostart          bool          `mapstructure:"autostart"`
	AccountConcurrency int           `mapstructure:"account_concurrency"`
	StopGrace          time.Duration `mapstructure:"stop_grace"`
	AdvisoryLockKey    int64         `mapstructure:"advisory_lock_key"`

	CheckInterval   time.Duration `mapstructure:"check_interval"`
	OutbidStepCents int64         `mapstructure:"outbid_step_cents"`
	MaxOutbids      int           `mapstructure:"max_outbids"`
	PriceCeilingPct int64         `mapstructure:"price_ceiling_pct"`
}

// DefaultPolicy converts the seed values into policy settings.
func (b BotConfig) DefaultPolicy() policy.Settings {
	return policy.Settings{
		CheckInterval:   b.CheckInterval,
		OutbidStepCents: b.OutbidStepCents,
		MaxOutbids:      b.MaxOutbids,
		PriceCeilingPct: b.PriceCeilingPct,
	}
}

// AlertingConfig defines operator notification routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram channel.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CSFOUTBID")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "csfloat-outbid-bot")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("csfloat.base_url", "https://csfloat.com/api/v1")
	v.SetDefault("csfloat.request_timeout", "30s")
	v.SetDefault("csfloat.user_agent", "csfloat-outbid-bot/1.0")

	v.SetDefault("bot.autostart", false)
	v.SetDefault("bot.account_concurrency", 4)
	v.SetDefault("bot.stop_grace", "30s")
	v.SetDefault("bot.advisory_lock_key", int64(0x63736f62))
	v.SetDefault("bot.check_interval", "120s")
	v.SetDefault("bot.outbid_step_cents", 1)
	v.SetDefault("bot.max_outbids", 10)
	v.SetDefault("bot.price_ceiling_pct", 85)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be a valid port")
	}
	if c.Bot.AccountConcurrency <= 0 {
		return fmt.Errorf("bot.account_concurrency must be greater than zero")
	}
	if c.Bot.StopGrace <= 0 {
		return fmt.Errorf("bot.stop_grace must be greater than zero")
	}
	if err := c.Bot.DefaultPolicy().Validate(); err != nil {
		return fmt.Errorf("bot policy defaults: %w", err)
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required when telegram is enabled")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required when telegram is enabled")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
