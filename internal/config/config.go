// Package config loads boardworker configuration from a YAML file,
// BOARDWORKER_* environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. BOARDWORKER_STORE_PATH.
const EnvPrefix = "BOARDWORKER"

// Config holds all application configuration.
type Config struct {
	Store  StoreConfig  `mapstructure:"store"`
	Server ServerConfig `mapstructure:"server"`
	Remote RemoteConfig `mapstructure:"remote"`
	Worker WorkerConfig `mapstructure:"worker"`
	Inbox  InboxConfig  `mapstructure:"inbox"`
	Log    LogConfig    `mapstructure:"log"`
}

// StoreConfig locates the board database.
type StoreConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// ServerConfig holds websocket server settings.
type ServerConfig struct {
	Addr           string   `mapstructure:"addr" validate:"required"`
	OriginPatterns []string `mapstructure:"origin_patterns"`
}

// RemoteConfig holds sync service settings.
type RemoteConfig struct {
	BaseURL     string        `mapstructure:"base_url" validate:"required,url"`
	ProductName string        `mapstructure:"product_name" validate:"required"`
	Timeout     time.Duration `mapstructure:"timeout" validate:"gt=0"`
	UploadRate  float64       `mapstructure:"upload_rate" validate:"gte=0"`
	UploadBurst int           `mapstructure:"upload_burst" validate:"gte=1"`
}

// WorkerConfig holds dispatcher settings.
type WorkerConfig struct {
	QueueSize       int           `mapstructure:"queue_size" validate:"gte=1"`
	IdentityTimeout time.Duration `mapstructure:"identity_timeout" validate:"gt=0"`
	SyncTimeout     time.Duration `mapstructure:"sync_timeout" validate:"gt=0"`
	FetchTimeout    time.Duration `mapstructure:"fetch_timeout" validate:"gt=0"`
}

// InboxConfig enables the drop folder when Dir is set.
type InboxConfig struct {
	Dir      string        `mapstructure:"dir"`
	Debounce time.Duration `mapstructure:"debounce" validate:"gt=0"`
}

// LogConfig controls logging. File enables a rotated JSON log next to stderr output.
type LogConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=trace debug info warn error"`
	Format     string `mapstructure:"format" validate:"oneof=console json"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"gte=1"`
	MaxBackups int    `mapstructure:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" validate:"gte=0"`
}

// SetDefaults registers every key with its default so environment
// overrides apply to all of them.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("store.path", defaultStorePath())

	v.SetDefault("server.addr", "127.0.0.1:8080")
	v.SetDefault("server.origin_patterns", []string{"localhost:*", "127.0.0.1:*"})

	v.SetDefault("remote.base_url", "http://localhost:9000")
	v.SetDefault("remote.product_name", "productflo")
	v.SetDefault("remote.timeout", 30*time.Second)
	v.SetDefault("remote.upload_rate", 2.0)
	v.SetDefault("remote.upload_burst", 4)

	v.SetDefault("worker.queue_size", 64)
	v.SetDefault("worker.identity_timeout", 10*time.Second)
	v.SetDefault("worker.sync_timeout", 2*time.Minute)
	v.SetDefault("worker.fetch_timeout", time.Minute)

	v.SetDefault("inbox.dir", "")
	v.SetDefault("inbox.debounce", 500*time.Millisecond)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
}

// Load reads configuration into a validated Config. An empty file searches
// the working directory and the user config directory for boardworker.yaml;
// a missing file is not an error in that case.
func Load(v *viper.Viper, file string) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("boardworker")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "boardworker"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config.Load: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks bounds and required values.
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config.Validate: %w", err)
	}
	return nil
}

func defaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "boards.db"
	}
	return filepath.Join(dir, "boardworker", "boards.db")
}
