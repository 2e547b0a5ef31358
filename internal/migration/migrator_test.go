package migration

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/Francisco-Marin-0606/rork-empty-app-builder-sub002/internal/metadata"
	"github.com/Francisco-Marin-0606/rork-empty-app-builder-sub002/internal/store"
)

func setupTestKV(t *testing.T) *store.KVStore {
	t.Helper()
	db, err := store.InitDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to initialize test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return store.NewKVStore(db)
}

func writeDump(t *testing.T, values map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "legacy_storage.json")
	data, err := json.Marshal(values)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDetectKeepsCacheKeys(t *testing.T) {
	path := writeDump(t, map[string]string{
		metadata.DownloadsKey:               `{}`,
		metadata.CurrentUserKey:             "alice",
		"settings:theme":                    "dark",
		metadata.TrackMetadataPrefix + "t1": `{"title":"Song"}`,
	})

	legacy, err := NewDetector().Detect(path)
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if len(legacy.Values) != 3 {
		t.Errorf("Expected 3 cache keys, got %d", len(legacy.Values))
	}
	if !legacy.HasDownloads {
		t.Error("Expected downloads metadata to be detected")
	}
}

func TestDetectMissingOrCorrupt(t *testing.T) {
	d := NewDetector()
	if _, err := d.Detect(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("Expected error for missing dump")
	}

	path := filepath.Join(t.TempDir(), "corrupt.json")
	os.WriteFile(path, []byte("{not json"), 0644)
	if _, err := d.Detect(path); err == nil {
		t.Error("Expected error for corrupt dump")
	}
}

func TestMigrate(t *testing.T) {
	kv := setupTestKV(t)
	ctx := context.Background()

	// Current state wins over the dump
	if err := kv.Set(ctx, metadata.DownloadsKey, `{"t1":{"fileName":"current.mp3","userId":"alice"}}`); err != nil {
		t.Fatal(err)
	}
	scopedKey := metadata.TrackMetadataPrefix + "alice:t1"
	if err := kv.Set(ctx, scopedKey, `{"title":"Current"}`); err != nil {
		t.Fatal(err)
	}

	path := writeDump(t, map[string]string{
		metadata.DownloadsKey:               `{"t1":{"fileName":"legacy1.mp3"},"t2":{"fileName":"legacy2.mp3","lastUpdated":"2024-01-01T00:00:00Z"}}`,
		metadata.CurrentUserKey:             "bob",
		scopedKey:                           `{"title":"Legacy"}`,
		metadata.TrackMetadataPrefix + "t2": `{"title":"Second"}`,
	})

	result := NewMigrator(kv, nil).Migrate(ctx, path)
	if !result.Success() {
		t.Fatalf("Migrate() errors = %v", result.Errors)
	}

	if result.EntriesImported != 1 {
		t.Errorf("Expected 1 entry imported, got %d", result.EntriesImported)
	}
	if result.MetadataImported != 1 {
		t.Errorf("Expected 1 track metadata imported, got %d", result.MetadataImported)
	}
	if result.Skipped != 2 {
		t.Errorf("Expected 2 skipped keys, got %d", result.Skipped)
	}

	raw, _, _ := kv.Get(ctx, metadata.DownloadsKey)
	var entries map[string]map[string]string
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		t.Fatalf("Merged downloads are not valid JSON: %v", err)
	}
	if entries["t1"]["fileName"] != "current.mp3" {
		t.Errorf("Expected current t1 to win, got %s", entries["t1"]["fileName"])
	}
	if entries["t2"]["fileName"] != "legacy2.mp3" {
		t.Errorf("Expected legacy t2 to be imported, got %v", entries["t2"])
	}

	if value, _, _ := kv.Get(ctx, scopedKey); value != `{"title":"Current"}` {
		t.Errorf("Expected existing track metadata to be kept, got %s", value)
	}
	if _, found, _ := kv.Get(ctx, metadata.CurrentUserKey); found {
		t.Error("Expected the session pointer not to be imported")
	}

	if CheckMigrationNeeded(path) {
		t.Error("Expected dump to be marked as migrated")
	}
	if _, err := os.Stat(path + MigratedSuffix); err != nil {
		t.Errorf("Expected migrated dump to exist: %v", err)
	}
	if _, err := os.Stat(filepath.Join(result.BackupPath, "backup_manifest.json")); err != nil {
		t.Errorf("Expected backup manifest: %v", err)
	}
}

func TestMigrateKeepsDumpOnError(t *testing.T) {
	kv := setupTestKV(t)
	path := writeDump(t, map[string]string{
		metadata.DownloadsKey: `{broken`,
	})

	result := NewMigrator(kv, nil).Migrate(context.Background(), path)
	if result.Success() {
		t.Fatal("Expected migration of corrupt downloads to fail")
	}
	if !CheckMigrationNeeded(path) {
		t.Error("Expected dump to stay in place for a retry")
	}
}
