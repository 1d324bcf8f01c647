// Package config loads application settings from an optional YAML file
// and SERVERDECK_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds everything the application needs to run.
type Config struct {
	API     APIConfig     `mapstructure:"api"`
	Store   StoreConfig   `mapstructure:"store"`
	Refresh RefreshConfig `mapstructure:"refresh"`
	Sync    SyncConfig    `mapstructure:"sync"`
}

// APIConfig configures the remote listing service.
type APIConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	StreamURL string        `mapstructure:"stream_url"`
	Key       string        `mapstructure:"key"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// StoreConfig configures the local database.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// RefreshConfig configures the full-resync loop.
type RefreshConfig struct {
	PageSize       int           `mapstructure:"page_size"`
	Sort           string        `mapstructure:"sort"`
	MinInterval    time.Duration `mapstructure:"min_interval"`
	MaxPages       int           `mapstructure:"max_pages"`
	RetryThreshold int           `mapstructure:"retry_threshold"`
}

// SyncConfig configures queue processing.
type SyncConfig struct {
	ReminderPoll time.Duration `mapstructure:"reminder_poll"`
}

// Load reads configuration from the given directory (a config.yaml if
// present) plus the environment. A missing file is not an error.
func Load(confPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if confPath != "" {
		v.AddConfigPath(confPath)
	}

	v.SetDefault("api.base_url", "https://api.serverdeck.app")
	v.SetDefault("api.stream_url", "wss://api.serverdeck.app/v1/stream")
	v.SetDefault("api.timeout", 30*time.Second)
	v.SetDefault("store.path", "serverdeck.db")
	v.SetDefault("refresh.page_size", 25)
	v.SetDefault("refresh.sort", "rank")
	v.SetDefault("refresh.min_interval", 5*time.Minute)
	v.SetDefault("refresh.max_pages", 10)
	v.SetDefault("refresh.retry_threshold", 3)
	v.SetDefault("sync.reminder_poll", time.Minute)

	// SERVERDECK_API_KEY overrides api.key and so on.
	v.AutomaticEnv()
	v.SetEnvPrefix("SERVERDECK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.API.BaseURL == "" {
		return errors.New("api.base_url must not be empty")
	}
	if c.Store.Path == "" {
		return errors.New("store.path must not be empty")
	}
	if c.Refresh.PageSize <= 0 {
		return fmt.Errorf("refresh.page_size must be positive, got %d", c.Refresh.PageSize)
	}
	if c.Refresh.MaxPages <= 0 {
		return fmt.Errorf("refresh.max_pages must be positive, got %d", c.Refresh.MaxPages)
	}
	if c.Refresh.RetryThreshold <= 0 {
		return fmt.Errorf("refresh.retry_threshold must be positive, got %d", c.Refresh.RetryThreshold)
	}
	return nil
}
