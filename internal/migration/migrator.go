// Package migration imports the cache state kept by the previous version of
// the host app into the key/value store.
package migration

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/Francisco-Marin-0606/rork-empty-app-builder-sub002/internal/metadata"
	"github.com/Francisco-Marin-0606/rork-empty-app-builder-sub002/internal/monitoring"
	"github.com/Francisco-Marin-0606/rork-empty-app-builder-sub002/internal/store"
)

// Migrator orchestrates the import of a legacy store
type Migrator struct {
	detector *Detector
	kv       store.KV
	logger   *zap.Logger
}

// MigrationResult contains the results of the migration
type MigrationResult struct {
	EntriesImported  int      `json:"entries_imported"`
	MetadataImported int      `json:"metadata_imported"`
	Skipped          int      `json:"skipped"`
	BackupPath       string   `json:"backup_path,omitempty"`
	Errors           []string `json:"errors,omitempty"`
}

// Success reports whether the import completed without errors
func (r *MigrationResult) Success() bool {
	return len(r.Errors) == 0
}

// NewMigrator creates a new Migrator writing into kv
func NewMigrator(kv store.KV, logger *zap.Logger) *Migrator {
	return &Migrator{
		detector: NewDetector(),
		kv:       kv,
		logger:   monitoring.OrNop(logger).Named("migration"),
	}
}

// Migrate imports the dump at path. Values already present in the store win
// over legacy ones. Once every key is imported the dump is renamed with
// MigratedSuffix so it is never imported again.
func (m *Migrator) Migrate(ctx context.Context, path string) *MigrationResult {
	result := &MigrationResult{}
	fail := func(format string, err error) *MigrationResult {
		result.Errors = append(result.Errors, fmt.Sprintf(format, err))
		return result
	}

	legacy, err := m.detector.Detect(path)
	if err != nil {
		return fail("detection failed: %v", err)
	}

	if err := m.detector.CreateBackup(legacy); err != nil {
		return fail("backup failed: %v", err)
	}
	result.BackupPath = legacy.BackupPath

	if err := m.detector.ValidateBackup(legacy); err != nil {
		return fail("backup validation failed: %v", err)
	}

	for key, value := range legacy.Values {
		switch {
		case key == metadata.DownloadsKey:
			n, err := m.mergeDownloads(ctx, value)
			if err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("downloads migration failed: %v", err))
				continue
			}
			result.EntriesImported += n

		case strings.HasPrefix(key, metadata.TrackMetadataPrefix):
			imported, err := m.importTrackMetadata(ctx, key, value)
			if err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("track metadata %s failed: %v", key, err))
				continue
			}
			if imported {
				result.MetadataImported++
			} else {
				result.Skipped++
			}

		default:
			// The session pointer is set again by the host on sign in
			result.Skipped++
		}
	}

	if !result.Success() {
		return result
	}

	if err := os.Rename(path, path+MigratedSuffix); err != nil {
		return fail("failed to mark legacy store as migrated: %v", err)
	}

	m.logger.Info("Legacy store migrated",
		zap.String("path", path),
		zap.Int("entries", result.EntriesImported),
		zap.Int("track_metadata", result.MetadataImported),
		zap.Int("skipped", result.Skipped),
	)
	return result
}

// mergeDownloads adds legacy entries whose track is not known yet
func (m *Migrator) mergeDownloads(ctx context.Context, raw string) (int, error) {
	var legacy map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &legacy); err != nil {
		return 0, fmt.Errorf("legacy downloads are corrupted: %w", err)
	}

	added := 0
	err := m.kv.Update(ctx, metadata.DownloadsKey, func(current string, found bool) (string, bool, error) {
		added = 0
		entries := make(map[string]json.RawMessage)
		if found && current != "" {
			if err := json.Unmarshal([]byte(current), &entries); err != nil {
				// Unreadable current state is treated as empty by the metadata store too
				m.logger.Warn("Current downloads metadata is corrupted, replacing with legacy", zap.Error(err))
				entries = make(map[string]json.RawMessage)
			}
		}

		for trackID, entry := range legacy {
			if _, ok := entries[trackID]; ok {
				continue
			}
			entries[trackID] = entry
			added++
		}

		data, err := json.Marshal(entries)
		if err != nil {
			return "", false, err
		}
		return string(data), false, nil
	})
	return added, err
}

func (m *Migrator) importTrackMetadata(ctx context.Context, key, value string) (bool, error) {
	if !json.Valid([]byte(value)) {
		return false, fmt.Errorf("value is not valid JSON")
	}

	imported := false
	err := m.kv.Update(ctx, key, func(current string, found bool) (string, bool, error) {
		if found {
			imported = false
			return current, false, nil
		}
		imported = true
		return value, false, nil
	})
	return imported, err
}

// CheckMigrationNeeded reports whether an unimported dump exists at path
func CheckMigrationNeeded(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
