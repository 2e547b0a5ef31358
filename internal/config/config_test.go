package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Francisco-Marin-0606/rork-empty-app-builder-sub002/internal/monitoring"
)

func validConfig(dir string) Config {
	return Config{
		Cache: CacheConfig{
			DownloadsDir: filepath.Join(dir, "audio_downloads"),
			DatabasePath: filepath.Join(dir, "audiocache.db"),
		},
		Network: NetworkConfig{
			Timeout:   30,
			UserAgent: "test",
		},
		Download: DownloadConfig{
			ConcurrentDownloads: 2,
		},
		Logging: monitoring.LogConfig{
			Level:      "info",
			Format:     "json",
			Output:     "console",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(c *Config) {}},
		{name: "logging disabled", mutate: func(c *Config) { c.Logging.Output = "none" }},
		{name: "bandwidth limit", mutate: func(c *Config) { c.Network.BandwidthLimit = "512KB" }},
		{name: "empty downloads dir", mutate: func(c *Config) { c.Cache.DownloadsDir = "" }, wantErr: true},
		{name: "empty database path", mutate: func(c *Config) { c.Cache.DatabasePath = "" }, wantErr: true},
		{name: "invalid concurrent downloads", mutate: func(c *Config) { c.Download.ConcurrentDownloads = 0 }, wantErr: true},
		{name: "too many concurrent downloads", mutate: func(c *Config) { c.Download.ConcurrentDownloads = 64 }, wantErr: true},
		{name: "invalid timeout", mutate: func(c *Config) { c.Network.Timeout = 0 }, wantErr: true},
		{name: "invalid bandwidth limit", mutate: func(c *Config) { c.Network.BandwidthLimit = "fast" }, wantErr: true},
		{name: "invalid log level", mutate: func(c *Config) { c.Logging.Level = "verbose" }, wantErr: true},
		{name: "invalid log output", mutate: func(c *Config) { c.Logging.Output = "syslog" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t.TempDir())
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Config.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestBandwidthLimitBytes(t *testing.T) {
	tests := []struct {
		limit string
		want  int64
	}{
		{"", 0},
		{"0", 0},
		{"1024", 1024},
		{"512KB", 512000},
		{"1MiB", 1 << 20},
	}

	for _, tt := range tests {
		cfg := Config{Network: NetworkConfig{BandwidthLimit: tt.limit}}
		got, err := cfg.BandwidthLimitBytes()
		if err != nil {
			t.Errorf("BandwidthLimitBytes(%q) error = %v", tt.limit, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Expected %d for %q, got %d", tt.want, tt.limit, got)
		}
	}
}

func TestLoadCreatesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("AUDIOCACHE_DATA_DIR", tmpDir)
	configPath := filepath.Join(tmpDir, "conf", "settings.json")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if _, err := os.Stat(configPath); err != nil {
		t.Errorf("Expected default config to be written: %v", err)
	}

	if cfg.Cache.DownloadsDir != filepath.Join(tmpDir, "audio_downloads") {
		t.Errorf("Expected downloads dir under data dir, got %s", cfg.Cache.DownloadsDir)
	}

	if cfg.Download.ConcurrentDownloads != 2 {
		t.Errorf("Expected 2 concurrent downloads, got %d", cfg.Download.ConcurrentDownloads)
	}

	if !cfg.Cache.LockDownloadsDir {
		t.Error("Expected downloads dir locking to be enabled by default")
	}
}

func TestSaveAndLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "settings.json")

	cfg := validConfig(tmpDir)
	cfg.Network.BandwidthLimit = "2MB"
	cfg.Download.ConcurrentDownloads = 4

	if err := cfg.Save(configPath); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if loaded.Download.ConcurrentDownloads != 4 {
		t.Errorf("Expected 4 concurrent downloads, got %d", loaded.Download.ConcurrentDownloads)
	}

	if loaded.Network.BandwidthLimit != "2MB" {
		t.Errorf("Expected bandwidth limit 2MB, got %s", loaded.Network.BandwidthLimit)
	}

	if loaded.Cache.DatabasePath != cfg.Cache.DatabasePath {
		t.Errorf("Expected database path %s, got %s", cfg.Cache.DatabasePath, loaded.Cache.DatabasePath)
	}
}

func TestEnvironmentOverride(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "settings.json")

	cfg := validConfig(tmpDir)
	if err := cfg.Save(configPath); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	t.Setenv("AUDIOCACHE_NETWORK_TIMEOUT", "5")

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if loaded.Network.Timeout != 5 {
		t.Errorf("Expected timeout override 5, got %d", loaded.Network.Timeout)
	}
}
