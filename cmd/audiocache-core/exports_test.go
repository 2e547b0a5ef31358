package main

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/Francisco-Marin-0606/rork-empty-app-builder-sub002/internal/config"
	apperrors "github.com/Francisco-Marin-0606/rork-empty-app-builder-sub002/internal/errors"
	"github.com/Francisco-Marin-0606/rork-empty-app-builder-sub002/internal/monitoring"
)

// TestCheckInitialized tests the initialization check function
func TestCheckInitialized(t *testing.T) {
	mu.Lock()
	initialized = false
	mu.Unlock()

	if checkInitialized() {
		t.Error("Should not be initialized initially")
	}

	mu.Lock()
	initialized = true
	mu.Unlock()

	if !checkInitialized() {
		t.Error("Should be initialized after setting")
	}

	mu.Lock()
	initialized = false
	mu.Unlock()
}

// TestCallbackNotifier tests the callback notifier
func TestCallbackNotifier(t *testing.T) {
	notifier := &CallbackNotifier{}

	callbackMu.Lock()
	progressCb = nil
	statusCb = nil
	callbackMu.Unlock()

	// These should not crash with nil callbacks
	notifier.NotifyProgress("test", 0.5)
	notifier.NotifyStarted("test")
	notifier.NotifyCompleted("test", "/tmp/test.mp3")
	notifier.NotifyFailed("test", os.ErrNotExist)
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, codeOK},
		{"no current user", apperrors.ErrNoCurrentUser, codeNoCurrentUser},
		{"validation", apperrors.NewValidationError("bad"), codeInvalidInput},
		{"not found", apperrors.NewNotFoundError("missing"), codeNotFound},
		{"filesystem", apperrors.NewFileSystemError("disk", os.ErrPermission), codeFileSystem},
		{"cancelled", apperrors.NewCancelledError("stop", nil), codeCancelled},
		{"network", apperrors.NewHTTPStatusError(http.StatusBadGateway), codeFailed},
		{"unknown", os.ErrClosed, codeFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorCode(tt.err); got != tt.want {
				t.Errorf("Expected code %d, got %d", tt.want, got)
			}
		})
	}
}

func TestExportsBeforeInitialize(t *testing.T) {
	if code := setCurrentUser("alice"); code != codeNotInitialized {
		t.Errorf("Expected not initialized, got %d", code)
	}
	if _, ok := currentUser(); ok {
		t.Error("Expected no current user before initialize")
	}
	if _, ok := downloadAudio("https://cdn.example.com/a.mp3", "t1"); ok {
		t.Error("Expected download to fail before initialize")
	}
}

func TestLifecycle(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := setupTestConfig(t, tmpDir)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("audio bytes"))
	}))
	defer server.Close()

	if code := initialize(configPath); code != codeOK {
		t.Fatalf("Expected initialize to succeed, got %d", code)
	}
	defer shutdown()

	// A second initialize is a no-op
	if code := initialize(configPath); code != codeOK {
		t.Errorf("Expected repeated initialize to succeed, got %d", code)
	}

	if _, ok := downloadAudio(server.URL+"/t1.mp3", "t1"); ok {
		t.Error("Expected download without a user to fail")
	}

	if code := setCurrentUser("alice"); code != codeOK {
		t.Fatalf("Failed to set current user: %d", code)
	}
	if user, ok := currentUser(); !ok || user != "alice" {
		t.Errorf("Expected alice, got %s", user)
	}

	path, ok := downloadAudio(server.URL+"/t1.mp3", "t1")
	if !ok {
		t.Fatal("Expected download to succeed")
	}
	if filepath.Dir(path) != filepath.Join(tmpDir, "audio_downloads") {
		t.Errorf("Expected file in downloads dir, got %s", path)
	}

	if code := saveTrackMetadata("t1", `{"title":"Song"}`); code != codeOK {
		t.Errorf("Failed to save track metadata: %d", code)
	}
	if data, ok := trackMetadata("t1"); !ok || data != `{"title":"Song"}` {
		t.Errorf("Expected saved metadata, got %s", data)
	}
	if code := saveTrackMetadata("t1", `not json`); code != codeInvalidInput {
		t.Errorf("Expected invalid input for bad JSON, got %d", code)
	}

	if code := deleteDownloadedAudio("t1"); code != codeOK {
		t.Errorf("Failed to delete: %d", code)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("Expected file to be removed")
	}

	shutdown()
	if checkInitialized() {
		t.Error("Expected shutdown to reset state")
	}
}

// TestThreadSafety tests concurrent access to global state
func TestThreadSafety(t *testing.T) {
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = checkInitialized()
			callbackMu.RLock()
			_ = progressCb
			_ = statusCb
			callbackMu.RUnlock()
		}()
	}

	wg.Wait()
}

// Helper function to setup test config
func setupTestConfig(t *testing.T, tmpDir string) string {
	configPath := filepath.Join(tmpDir, "settings.json")

	cfg := &config.Config{
		Cache: config.CacheConfig{
			DownloadsDir:     filepath.Join(tmpDir, "audio_downloads"),
			DatabasePath:     filepath.Join(tmpDir, "audiocache.db"),
			LockDownloadsDir: true,
		},
		Network: config.NetworkConfig{
			Timeout:   10,
			UserAgent: "AudioCacheTest/1.0",
		},
		Download: config.DownloadConfig{
			ConcurrentDownloads: 1,
		},
		Logging: monitoring.LogConfig{
			Level:      "info",
			Format:     "json",
			Output:     "none",
			MaxSizeMB:  10,
			MaxBackups: 1,
			MaxAgeDays: 1,
		},
	}

	if err := cfg.Save(configPath); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	return configPath
}
