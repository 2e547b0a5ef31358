package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"

	"github.com/Francisco-Marin-0606/rork-empty-app-builder-sub002/internal/monitoring"
)

// Config represents the cache configuration
type Config struct {
	Cache    CacheConfig          `json:"cache" mapstructure:"cache"`
	Network  NetworkConfig        `json:"network" mapstructure:"network"`
	Download DownloadConfig       `json:"download" mapstructure:"download"`
	Logging  monitoring.LogConfig `json:"logging" mapstructure:"logging"`
}

// CacheConfig contains storage locations
type CacheConfig struct {
	DownloadsDir     string `json:"downloads_dir" mapstructure:"downloads_dir"`
	DatabasePath     string `json:"database_path" mapstructure:"database_path"`
	LockDownloadsDir bool   `json:"lock_downloads_dir" mapstructure:"lock_downloads_dir"`
	// JSON dump of the previous app version's storage, imported once on open
	LegacyStorePath string `json:"legacy_store_path" mapstructure:"legacy_store_path"`
}

// NetworkConfig contains network-related settings
type NetworkConfig struct {
	Timeout        int    `json:"timeout" mapstructure:"timeout"`                 // seconds
	BandwidthLimit string `json:"bandwidth_limit" mapstructure:"bandwidth_limit"` // bytes per second, e.g. "512KB"
	UserAgent      string `json:"user_agent" mapstructure:"user_agent"`
}

// DownloadConfig contains background download settings
type DownloadConfig struct {
	ConcurrentDownloads int `json:"concurrent_downloads" mapstructure:"concurrent_downloads"`
}

// Load loads configuration from file or creates default
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath == "" {
		configPath = getDefaultConfigPath()
	}

	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	if err := ensureConfigDir(configPath); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		if isNotExist(err) {
			// Config file not found, create with defaults
			if err := v.WriteConfigAs(configPath); err != nil {
				return nil, fmt.Errorf("failed to write default config: %w", err)
			}
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	// Allow environment variable overrides, e.g. AUDIOCACHE_NETWORK_TIMEOUT
	v.SetEnvPrefix("AUDIOCACHE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// isNotExist reports whether err means the config file is missing. With
// SetConfigFile viper returns the raw fs error instead of ConfigFileNotFoundError.
func isNotExist(err error) bool {
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		return true
	}
	return os.IsNotExist(err)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Cache.DownloadsDir == "" {
		return fmt.Errorf("downloads directory cannot be empty")
	}

	if c.Cache.DatabasePath == "" {
		return fmt.Errorf("database path cannot be empty")
	}

	if c.Download.ConcurrentDownloads < 1 {
		return fmt.Errorf("concurrent downloads must be at least 1")
	}

	if c.Download.ConcurrentDownloads > 16 {
		return fmt.Errorf("concurrent downloads cannot exceed 16")
	}

	if c.Network.Timeout < 1 {
		return fmt.Errorf("network timeout must be at least 1 second")
	}

	if _, err := c.BandwidthLimitBytes(); err != nil {
		return err
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (must be json or console)", c.Logging.Format)
	}

	validOutputs := map[string]bool{"file": true, "console": true, "both": true, "none": true}
	if !validOutputs[c.Logging.Output] {
		return fmt.Errorf("invalid log output: %s (must be file, console, both, or none)", c.Logging.Output)
	}

	if c.Logging.MaxSizeMB < 1 {
		return fmt.Errorf("log max size must be at least 1 MB")
	}

	if c.Logging.MaxBackups < 0 {
		return fmt.Errorf("log max backups cannot be negative")
	}

	if c.Logging.MaxAgeDays < 0 {
		return fmt.Errorf("log max age cannot be negative")
	}

	return nil
}

// BandwidthLimitBytes returns the configured limit in bytes per second.
// Zero means unlimited.
func (c *Config) BandwidthLimitBytes() (int64, error) {
	limit := strings.TrimSpace(c.Network.BandwidthLimit)
	if limit == "" || limit == "0" {
		return 0, nil
	}

	n, err := humanize.ParseBytes(limit)
	if err != nil {
		return 0, fmt.Errorf("invalid bandwidth limit %q: %w", c.Network.BandwidthLimit, err)
	}
	return int64(n), nil
}

// TimeoutDuration returns the network timeout
func (c *Config) TimeoutDuration() time.Duration {
	return time.Duration(c.Network.Timeout) * time.Second
}

// Save saves the configuration to file
func (c *Config) Save(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	v.Set("cache", c.Cache)
	v.Set("network", c.Network)
	v.Set("download", c.Download)
	v.Set("logging", c.Logging)

	return v.WriteConfig()
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	dataDir := GetDataDir()

	v.SetDefault("cache.downloads_dir", filepath.Join(dataDir, "audio_downloads"))
	v.SetDefault("cache.database_path", filepath.Join(dataDir, "audiocache.db"))
	v.SetDefault("cache.lock_downloads_dir", true)
	v.SetDefault("cache.legacy_store_path", "")

	v.SetDefault("network.timeout", 60)
	v.SetDefault("network.bandwidth_limit", "")
	v.SetDefault("network.user_agent", "AudioCache/1.0")

	v.SetDefault("download.concurrent_downloads", 2)

	logDefaults := monitoring.DefaultLogConfig(dataDir)
	v.SetDefault("logging.level", logDefaults.Level)
	v.SetDefault("logging.format", logDefaults.Format)
	v.SetDefault("logging.output", logDefaults.Output)
	v.SetDefault("logging.file_path", logDefaults.FilePath)
	v.SetDefault("logging.max_size_mb", logDefaults.MaxSizeMB)
	v.SetDefault("logging.max_backups", logDefaults.MaxBackups)
	v.SetDefault("logging.max_age_days", logDefaults.MaxAgeDays)
	v.SetDefault("logging.compress", logDefaults.Compress)
}

// getDefaultConfigPath returns the default configuration file path
func getDefaultConfigPath() string {
	return filepath.Join(GetDataDir(), "settings.json")
}

// ensureConfigDir ensures the configuration directory exists
func ensureConfigDir(configPath string) error {
	dir := filepath.Dir(configPath)
	return os.MkdirAll(dir, 0755)
}

// GetDataDir returns the application data directory. AUDIOCACHE_DATA_DIR
// overrides the platform default.
func GetDataDir() string {
	if dir := os.Getenv("AUDIOCACHE_DATA_DIR"); dir != "" {
		return dir
	}

	appData := os.Getenv("APPDATA")
	if appData == "" {
		appData = os.Getenv("HOME")
	}
	return filepath.Join(appData, "AudioCache")
}
