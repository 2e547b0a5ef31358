package main

/*
#include <stdlib.h>

// Callback function types for host interop
typedef void (*ProgressCallback)(char* trackID, double progress);
typedef void (*StatusCallback)(char* trackID, char* status, char* detail);

// Helper functions to call function pointers
static inline void call_progress_callback(ProgressCallback cb, char* trackID, double progress) {
	if (cb != NULL) {
		cb(trackID, progress);
	}
}

static inline void call_status_callback(StatusCallback cb, char* trackID, char* status, char* detail) {
	if (cb != NULL) {
		cb(trackID, status, detail);
	}
}
*/
import "C"
import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"unsafe"

	"go.uber.org/zap"

	"github.com/Francisco-Marin-0606/rork-empty-app-builder-sub002/internal/cache"
	"github.com/Francisco-Marin-0606/rork-empty-app-builder-sub002/internal/config"
	apperrors "github.com/Francisco-Marin-0606/rork-empty-app-builder-sub002/internal/errors"
	"github.com/Francisco-Marin-0606/rork-empty-app-builder-sub002/internal/monitoring"
)

// Return codes shared by every export
const (
	codeOK             = 0
	codeNotInitialized = -1
	codeFailed         = -2
	codeInvalidConfig  = -3
	codeOpenFailed     = -4
	codeNoCurrentUser  = -5
	codeInvalidInput   = -6
	codeNotFound       = -7
	codeFileSystem     = -8
	codeCancelled      = -9
)

// Global state for the shared library
var (
	ctx         context.Context
	cancel      context.CancelFunc
	service     *cache.Service
	logger      = zap.NewNop()
	initialized bool
	mu          sync.RWMutex

	// Callbacks
	progressCb C.ProgressCallback
	statusCb   C.StatusCallback
	callbackMu sync.RWMutex
)

// CallbackNotifier implements download.Notifier using C callbacks
type CallbackNotifier struct{}

func (n *CallbackNotifier) NotifyProgress(trackID string, fraction float64) {
	callbackMu.RLock()
	cb := progressCb
	callbackMu.RUnlock()

	if cb != nil {
		cTrackID := C.CString(trackID)
		defer C.free(unsafe.Pointer(cTrackID))

		C.call_progress_callback(cb, cTrackID, C.double(fraction))
	}
}

func (n *CallbackNotifier) NotifyStarted(trackID string) {
	n.notifyStatus(trackID, "started", "")
}

func (n *CallbackNotifier) NotifyCompleted(trackID, localPath string) {
	n.notifyStatus(trackID, "completed", localPath)
}

func (n *CallbackNotifier) NotifyFailed(trackID string, err error) {
	status := "failed"
	if apperrors.IsCancelled(err) {
		status = "cancelled"
	}
	n.notifyStatus(trackID, status, err.Error())
}

func (n *CallbackNotifier) notifyStatus(trackID, status, detail string) {
	callbackMu.RLock()
	cb := statusCb
	callbackMu.RUnlock()

	if cb == nil {
		return
	}

	cTrackID := C.CString(trackID)
	cStatus := C.CString(status)
	defer C.free(unsafe.Pointer(cTrackID))
	defer C.free(unsafe.Pointer(cStatus))

	var cDetail *C.char
	if detail != "" {
		cDetail = C.CString(detail)
		defer C.free(unsafe.Pointer(cDetail))
	}

	C.call_status_callback(cb, cTrackID, cStatus, cDetail)
}

//export InitializeCache
func InitializeCache(configPath *C.char) C.int {
	return C.int(initialize(C.GoString(configPath)))
}

func initialize(configPath string) (code int) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("InitializeCache panicked", zap.Any("panic", r), zap.Stack("stack"))
			fmt.Fprintf(os.Stderr, "[PANIC] InitializeCache panicked: %v\n", r)
			code = codeFailed
		}
	}()

	mu.Lock()
	defer mu.Unlock()

	if initialized {
		logger.Warn("Cache already initialized, call ShutdownCache first to reinitialize")
		return codeOK
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[ERROR] Failed to load config: %v\n", err)
		return codeInvalidConfig
	}

	newLogger, err := monitoring.NewLogger(&cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[ERROR] Failed to create logger: %v\n", err)
		return codeInvalidConfig
	}
	logger = newLogger

	svc, err := cache.Open(cfg, logger, &CallbackNotifier{})
	if err != nil {
		logger.Error("Failed to open audio cache", zap.Error(err))
		logger.Sync()
		return codeOpenFailed
	}

	// Lives until ShutdownCache
	ctx, cancel = context.WithCancel(context.Background())
	service = svc
	initialized = true

	logger.Info("Audio cache initialized", zap.String("config", configPath))
	return codeOK
}

//export ShutdownCache
func ShutdownCache() {
	shutdown()
}

func shutdown() {
	// Running DownloadAudio calls hold the read lock until their context ends
	mu.RLock()
	if cancel != nil {
		cancel()
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()

	if !initialized {
		logger.Warn("Shutdown called but cache not initialized")
		return
	}

	if err := service.Close(); err != nil {
		logger.Error("Failed to close audio cache", zap.Error(err))
	}

	service = nil
	initialized = false
	logger.Info("Audio cache shut down")
	logger.Sync()
}

//export SetProgressCallback
func SetProgressCallback(callback C.ProgressCallback) {
	callbackMu.Lock()
	progressCb = callback
	callbackMu.Unlock()
}

//export SetStatusCallback
func SetStatusCallback(callback C.StatusCallback) {
	callbackMu.Lock()
	statusCb = callback
	callbackMu.Unlock()
}

//export FreeString
func FreeString(str *C.char) {
	C.free(unsafe.Pointer(str))
}

// acquire returns the service while holding the read lock. release must be
// called when ok is true.
func acquire() (svc *cache.Service, ok bool) {
	mu.RLock()
	if !initialized {
		mu.RUnlock()
		return nil, false
	}
	return service, true
}

func release() {
	mu.RUnlock()
}

// Helper function to check if initialized
func checkInitialized() bool {
	mu.RLock()
	defer mu.RUnlock()
	return initialized
}

// errorCode maps err to the code returned to the host
func errorCode(err error) int {
	if err == nil {
		return codeOK
	}

	if errors.Is(err, apperrors.ErrNoCurrentUser) {
		return codeNoCurrentUser
	}

	switch apperrors.GetErrorType(err) {
	case apperrors.ErrTypeValidation:
		return codeInvalidInput
	case apperrors.ErrTypeNotFound:
		return codeNotFound
	case apperrors.ErrTypeFileSystem:
		return codeFileSystem
	case apperrors.ErrTypeCancelled:
		return codeCancelled
	default:
		return codeFailed
	}
}

// Required for c-shared compilation
func main() {}
