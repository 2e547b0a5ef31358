package migration

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Francisco-Marin-0606/rork-empty-app-builder-sub002/internal/metadata"
)

// MigratedSuffix is appended to a dump once it has been imported
const MigratedSuffix = ".migrated"

// keyPrefix selects the cache keys inside a dump of the host's key/value
// storage. Everything else belongs to other parts of the app.
const keyPrefix = "audio_cache:"

// LegacyStore represents a detected key/value dump written by the previous
// version of the host app: a JSON object of string keys to string values.
type LegacyStore struct {
	Path         string
	Values       map[string]string
	HasDownloads bool
	BackupPath   string
	DetectedAt   time.Time
}

// Detector handles detection of legacy stores
type Detector struct{}

// NewDetector creates a new Detector
func NewDetector() *Detector {
	return &Detector{}
}

// Detect reads the dump at path and keeps its cache keys
func (d *Detector) Detect(path string) (*LegacyStore, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("no legacy store found at %s", path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read legacy store: %w", err)
	}

	var all map[string]string
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("legacy store is not a JSON object of strings: %w", err)
	}

	legacy := &LegacyStore{
		Path:       path,
		Values:     make(map[string]string),
		DetectedAt: time.Now(),
	}
	for key, value := range all {
		if strings.HasPrefix(key, keyPrefix) {
			legacy.Values[key] = value
		}
	}
	_, legacy.HasDownloads = legacy.Values[metadata.DownloadsKey]

	return legacy, nil
}

// CreateBackup copies the dump into a timestamped directory next to it
func (d *Detector) CreateBackup(legacy *LegacyStore) error {
	if legacy == nil {
		return fmt.Errorf("no legacy store to backup")
	}

	timestamp := legacy.DetectedAt.Format("20060102_150405")
	backupDir := filepath.Join(filepath.Dir(legacy.Path), fmt.Sprintf("backup_%s", timestamp))

	if err := os.MkdirAll(backupDir, 0755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	legacy.BackupPath = backupDir

	if err := d.copyFile(legacy.Path, filepath.Join(backupDir, filepath.Base(legacy.Path))); err != nil {
		return fmt.Errorf("failed to backup legacy store: %w", err)
	}

	manifest := map[string]interface{}{
		"backup_date":   legacy.DetectedAt,
		"source_path":   legacy.Path,
		"cache_keys":    len(legacy.Values),
		"has_downloads": legacy.HasDownloads,
	}

	manifestData, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to create backup manifest: %w", err)
	}

	manifestPath := filepath.Join(backupDir, "backup_manifest.json")
	if err := os.WriteFile(manifestPath, manifestData, 0644); err != nil {
		return fmt.Errorf("failed to write backup manifest: %w", err)
	}

	return nil
}

// copyFile copies a file from src to dst
func (d *Detector) copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("failed to read source file: %w", err)
	}

	if err := os.WriteFile(dst, data, 0644); err != nil {
		return fmt.Errorf("failed to write destination file: %w", err)
	}

	return nil
}

// ValidateBackup validates that backup was created successfully
func (d *Detector) ValidateBackup(legacy *LegacyStore) error {
	if legacy.BackupPath == "" {
		return fmt.Errorf("no backup path set")
	}

	if _, err := os.Stat(legacy.BackupPath); os.IsNotExist(err) {
		return fmt.Errorf("backup directory does not exist: %s", legacy.BackupPath)
	}

	manifestPath := filepath.Join(legacy.BackupPath, "backup_manifest.json")
	if _, err := os.Stat(manifestPath); os.IsNotExist(err) {
		return fmt.Errorf("backup manifest not found")
	}

	backupStore := filepath.Join(legacy.BackupPath, filepath.Base(legacy.Path))
	if _, err := os.Stat(backupStore); os.IsNotExist(err) {
		return fmt.Errorf("legacy store backup not found")
	}

	return nil
}
