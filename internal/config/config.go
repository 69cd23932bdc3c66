// Package config loads fieldsync configuration from file and environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	DataDir  string        `mapstructure:"data_dir" validate:"required"`
	LogLevel string        `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	Remote   RemoteConfig  `mapstructure:"remote"`
	Sync     SyncConfig    `mapstructure:"sync"`
	Storage  StorageConfig `mapstructure:"storage"`
}

// RemoteConfig holds sync server connection settings.
type RemoteConfig struct {
	Endpoint string `mapstructure:"endpoint" validate:"omitempty,url"`
	APIKey   string `mapstructure:"api_key"`
	DeviceID string `mapstructure:"device_id"`
	TimeoutS int    `mapstructure:"timeout_s" validate:"min=1"`
}

// SyncConfig holds sync behavior settings.
type SyncConfig struct {
	IntervalMinutes        int `mapstructure:"interval_minutes" validate:"min=1"`
	MaintenanceIntervalMin int `mapstructure:"maintenance_interval_minutes" validate:"min=1"`
	MaxRetries             int `mapstructure:"max_retries" validate:"min=0"`
	QueueCapacity          int `mapstructure:"queue_capacity" validate:"min=1"`
}

// StorageConfig holds local storage budget settings.
type StorageConfig struct {
	MaxSizeMB     int `mapstructure:"max_size_mb" validate:"min=1"`
	MaxAgeDays    int `mapstructure:"max_age_days" validate:"min=1"`
	EvictionBatch int `mapstructure:"eviction_batch" validate:"min=1"`
}

// DatabasePath returns the sqlite database location under the data dir.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "fieldsync.db")
}

// PhotoDir returns the content-addressed photo blob directory.
func (c *Config) PhotoDir() string {
	return filepath.Join(c.DataDir, "photos")
}

// SyncInterval returns the periodic sync interval as a duration.
func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.Sync.IntervalMinutes) * time.Minute
}

// MaintenanceInterval returns the cleanup/eviction interval as a duration.
func (c *Config) MaintenanceInterval() time.Duration {
	return time.Duration(c.Sync.MaintenanceIntervalMin) * time.Minute
}

// RemoteTimeout returns the HTTP request timeout as a duration.
func (c *Config) RemoteTimeout() time.Duration {
	return time.Duration(c.Remote.TimeoutS) * time.Second
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir:  defaultDataDir(),
		LogLevel: "info",
		Remote: RemoteConfig{
			TimeoutS: 30,
		},
		Sync: SyncConfig{
			IntervalMinutes:        15,
			MaintenanceIntervalMin: 60,
			MaxRetries:             3,
			QueueCapacity:          1000,
		},
		Storage: StorageConfig{
			MaxSizeMB:     500,
			MaxAgeDays:    30,
			EvictionBatch: 10,
		},
	}
}

// Load reads configuration from file and environment.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault("data_dir", defaults.DataDir)
	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("remote.timeout_s", defaults.Remote.TimeoutS)
	v.SetDefault("sync.interval_minutes", defaults.Sync.IntervalMinutes)
	v.SetDefault("sync.maintenance_interval_minutes", defaults.Sync.MaintenanceIntervalMin)
	v.SetDefault("sync.max_retries", defaults.Sync.MaxRetries)
	v.SetDefault("sync.queue_capacity", defaults.Sync.QueueCapacity)
	v.SetDefault("storage.max_size_mb", defaults.Storage.MaxSizeMB)
	v.SetDefault("storage.max_age_days", defaults.Storage.MaxAgeDays)
	v.SetDefault("storage.eviction_batch", defaults.Storage.EvictionBatch)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(getConfigDir())
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("FIELDSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Missing config file is fine; defaults plus environment apply.
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.Remote.APIKey = os.ExpandEnv(cfg.Remote.APIKey)
	cfg.DataDir = expandPath(cfg.DataDir)

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// EnsureDataDir creates the data and photo directories if needed.
func (c *Config) EnsureDataDir() error {
	for _, dir := range []string{c.DataDir, c.PhotoDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory %s: %w", dir, err)
		}
	}
	return nil
}

// defaultDataDir returns the per-user data location for the OS.
func defaultDataDir() string {
	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "fieldsync")
		}
		return filepath.Join(os.Getenv("USERPROFILE"), ".fieldsync")
	default:
		if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
			return filepath.Join(xdgData, "fieldsync")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "fieldsync")
	}
}

// getConfigDir returns the appropriate config directory for the OS.
func getConfigDir() string {
	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "fieldsync")
		}
		return filepath.Join(os.Getenv("USERPROFILE"), ".config", "fieldsync")
	default:
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			return filepath.Join(xdgConfig, "fieldsync")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "fieldsync")
	}
}

// expandPath expands ~ and environment variables in a path.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, path[1:])
	}
	return os.ExpandEnv(path)
}
