package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full service configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Reminder ReminderConfig `mapstructure:"reminder"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Line     LineConfig     `mapstructure:"line"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // sqlite, postgres or memory
	URL      string `mapstructure:"url"`
	LogLevel string `mapstructure:"log_level"` // silent, error, warn, info
}

type ReminderConfig struct {
	Window            time.Duration `mapstructure:"window"`
	PollSchedule      string        `mapstructure:"poll_schedule"`
	Dedupe            bool          `mapstructure:"dedupe"`
	Watermark         bool          `mapstructure:"watermark"`
	MaxCatchUp        time.Duration `mapstructure:"max_catch_up"`
	DeliveryRetention time.Duration `mapstructure:"delivery_retention"`
	PruneSchedule     string        `mapstructure:"prune_schedule"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

type LineConfig struct {
	ChannelSecret      string `mapstructure:"channel_secret"`
	ChannelAccessToken string `mapstructure:"channel_access_token"`
}

// Enabled reports whether both LINE credentials are present.
func (c LineConfig) Enabled() bool {
	return c.ChannelSecret != "" && c.ChannelAccessToken != ""
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.url", "calendar.db")
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("reminder.window", time.Minute)
	v.SetDefault("reminder.poll_schedule", "@every 1m")
	v.SetDefault("reminder.dedupe", true)
	v.SetDefault("reminder.watermark", false)
	v.SetDefault("reminder.max_catch_up", time.Hour)
	v.SetDefault("reminder.delivery_retention", 24*time.Hour)
	v.SetDefault("reminder.prune_schedule", "0 0 * * * *")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "calendar:notifications")
	v.SetDefault("line.channel_secret", "")
	v.SetDefault("line.channel_access_token", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// Load reads configuration from defaults, the optional file at path and the
// environment. Nested keys map to env vars with "." replaced by "_"
// (REMINDER_WINDOW, DATABASE_URL, ...).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Names used by earlier deployments.
	_ = v.BindEnv("server.port", "SERVER_PORT", "PORT")
	_ = v.BindEnv("line.channel_secret", "LINE_CHANNEL_SECRET", "CHANNEL_SECRET")
	_ = v.BindEnv("line.channel_access_token", "LINE_CHANNEL_ACCESS_TOKEN", "CHANNEL_ACCESS_TOKEN")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	switch c.Database.Driver {
	case "sqlite", "postgres", "memory":
	default:
		return fmt.Errorf("unsupported database.driver %q", c.Database.Driver)
	}
	if c.Reminder.Window <= 0 {
		return fmt.Errorf("reminder.window must be positive, got %s", c.Reminder.Window)
	}
	if c.Reminder.MaxCatchUp < c.Reminder.Window {
		return fmt.Errorf("reminder.max_catch_up (%s) must not be shorter than reminder.window (%s)", c.Reminder.MaxCatchUp, c.Reminder.Window)
	}
	return nil
}
