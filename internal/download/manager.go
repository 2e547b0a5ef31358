package download

import (
	"context"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Francisco-Marin-0606/rork-empty-app-builder-sub002/internal/cachekey"
	apperrors "github.com/Francisco-Marin-0606/rork-empty-app-builder-sub002/internal/errors"
	"github.com/Francisco-Marin-0606/rork-empty-app-builder-sub002/internal/monitoring"
	"github.com/Francisco-Marin-0606/rork-empty-app-builder-sub002/internal/network"
	"github.com/Francisco-Marin-0606/rork-empty-app-builder-sub002/internal/reconcile"
)

// ErrManagerClosed is returned for downloads requested after Close
var ErrManagerClosed = &apperrors.AppError{
	Type:    apperrors.ErrTypePrecondition,
	Message: "download manager is closed",
}

// ProgressFunc receives download progress as a fraction in [0, 1]
type ProgressFunc func(fraction float64)

// Request describes one audio download
type Request struct {
	URL         string
	TrackID     string
	OwnerUserID string
	// Headers are sent with the request, typically authorization
	Headers    map[string]string
	OnProgress ProgressFunc
}

// Recorder persists a completed download. UpsertEntry returns the file name
// the entry pointed at before, when that file is no longer referenced.
type Recorder interface {
	UpsertEntry(ctx context.Context, trackID, fileName, owner string) (string, error)
}

// ManagerConfig holds the dependencies of a Manager
type ManagerConfig struct {
	Dir      string
	Fs       afero.Fs
	Client   *http.Client
	Limiter  *rate.Limiter
	Recorder Recorder
	Logger   *zap.Logger
}

// Manager downloads audio into the cache directory. Concurrent requests for
// the same file share a single transfer.
type Manager struct {
	dir      string
	fs       afero.Fs
	client   *http.Client
	limiter  *rate.Limiter
	recorder Recorder
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	flights map[string]*flight
	closed  bool
}

// flight is one transfer shared by every waiter for a file name. Fields other
// than done, path and err are guarded by Manager.mu.
type flight struct {
	done chan struct{}
	path string
	err  error

	owner     string
	cancel    context.CancelFunc
	waiters   int
	abandoned bool
	listeners map[int]ProgressFunc
	nextID    int
	reported  float64
}

// NewManager creates a new download manager
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Fs == nil {
		cfg.Fs = afero.NewOsFs()
	}
	if cfg.Client == nil {
		cfg.Client = network.NewClient(nil)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		dir:      cfg.Dir,
		fs:       cfg.Fs,
		client:   cfg.Client,
		limiter:  cfg.Limiter,
		recorder: cfg.Recorder,
		logger:   monitoring.OrNop(cfg.Logger).Named("download"),
		ctx:      ctx,
		cancel:   cancel,
		flights:  make(map[string]*flight),
	}
}

// Dir returns the downloads directory
func (m *Manager) Dir() string {
	return m.dir
}

// Download returns the local path of the requested audio, fetching it when it
// is not already cached. ctx only bounds this caller's wait; the transfer is
// abandoned once every waiter has gone.
func (m *Manager) Download(ctx context.Context, req Request) (string, error) {
	if req.URL == "" || req.TrackID == "" {
		return "", apperrors.NewValidationError("url and track id are required")
	}
	if err := ctx.Err(); err != nil {
		return "", apperrors.NewCancelledError("download abandoned", err)
	}

	fileName := cachekey.DeriveFileName(req.URL, req.TrackID)
	localPath := cachekey.LocalPath(m.dir, fileName)

	if err := m.fs.MkdirAll(m.dir, 0755); err != nil {
		return "", apperrors.NewFileSystemError("failed to create downloads directory", err)
	}

	for {
		// Checked on every pass: an abandoned transfer may have finished
		// before its cancellation landed
		hit, err := m.cacheHit(ctx, req, fileName, localPath)
		if err != nil {
			return "", err
		}
		if hit {
			return localPath, nil
		}

		f, listenerID, joined, ok := m.join(fileName, req)
		if f == nil {
			return "", ErrManagerClosed
		}
		if !ok {
			// The previous transfer was abandoned and is still cleaning up
			select {
			case <-f.done:
				continue
			case <-ctx.Done():
				return "", apperrors.NewCancelledError("download abandoned", ctx.Err())
			}
		}
		if joined {
			monitoring.RecordCoalesced()
			m.logger.Debug("Joined in-flight download", zap.String("track_id", req.TrackID), zap.String("file_name", fileName))
		}

		select {
		case <-f.done:
			if f.err != nil {
				return "", f.err
			}
			if joined && req.OwnerUserID != f.owner {
				if err := m.record(ctx, req.TrackID, fileName, req.OwnerUserID); err != nil {
					return "", err
				}
			}
			return f.path, nil

		case <-ctx.Done():
			m.leave(fileName, f, listenerID)
			return "", apperrors.NewCancelledError("download abandoned", ctx.Err())
		}
	}
}

// cacheHit records req against an existing complete file at localPath
func (m *Manager) cacheHit(ctx context.Context, req Request, fileName, localPath string) (bool, error) {
	cached, err := reconcile.IsCached(m.fs, localPath)
	if err != nil {
		return false, apperrors.NewFileSystemError("failed to check cached file", err)
	}
	if !cached {
		return false, nil
	}
	if err := m.record(ctx, req.TrackID, fileName, req.OwnerUserID); err != nil {
		return false, err
	}
	monitoring.RecordCacheHit()
	m.logger.Debug("Cache hit", zap.String("track_id", req.TrackID), zap.String("file_name", fileName))
	return true, nil
}

// InFlight reports whether a transfer for fileName is running
func (m *Manager) InFlight(fileName string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.flights[fileName]
	return ok
}

// ActiveCount returns the number of running transfers
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.flights)
}

// Close cancels every transfer and waits for their cleanup
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
}

func (m *Manager) join(fileName string, req Request) (f *flight, id int, joined, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, 0, false, false
	}

	f, joined = m.flights[fileName]
	if joined && f.abandoned {
		return f, 0, false, false
	}
	if !joined {
		workCtx, cancel := context.WithCancel(m.ctx)
		f = &flight{
			done:      make(chan struct{}),
			owner:     req.OwnerUserID,
			cancel:    cancel,
			listeners: make(map[int]ProgressFunc),
		}
		m.flights[fileName] = f

		m.wg.Add(1)
		go m.run(workCtx, f, fileName, req)
	}

	f.waiters++
	id = f.nextID
	f.nextID++
	if req.OnProgress != nil {
		f.listeners[id] = req.OnProgress
	}
	return f, id, joined, true
}

func (m *Manager) leave(fileName string, f *flight, listenerID int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(f.listeners, listenerID)
	f.waiters--
	if f.waiters == 0 {
		f.abandoned = true
		m.logger.Debug("All waiters left, cancelling download", zap.String("file_name", fileName))
		f.cancel()
	}
}

// progress fans a fraction out to every listener, at most once per percent
func (m *Manager) progress(f *flight, written, total int64) {
	if total <= 0 {
		return
	}
	fraction := float64(written) / float64(total)
	if fraction > 1 {
		fraction = 1
	}

	m.mu.Lock()
	if fraction < 1 && fraction-f.reported < 0.01 {
		m.mu.Unlock()
		return
	}
	f.reported = fraction
	listeners := make([]ProgressFunc, 0, len(f.listeners))
	for _, fn := range f.listeners {
		listeners = append(listeners, fn)
	}
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(fraction)
	}
}

func (m *Manager) run(ctx context.Context, f *flight, fileName string, req Request) {
	defer m.wg.Done()
	defer f.cancel()

	attemptID := uuid.NewString()
	logger := m.logger.With(
		zap.String("attempt_id", attemptID),
		zap.String("track_id", req.TrackID),
		zap.String("file_name", fileName),
	)

	path, err := m.fetch(ctx, f, fileName, req, logger)

	m.mu.Lock()
	delete(m.flights, fileName)
	f.path, f.err = path, err
	m.mu.Unlock()
	close(f.done)
}

func (m *Manager) fetch(ctx context.Context, f *flight, fileName string, req Request, logger *zap.Logger) (string, error) {
	localPath := cachekey.LocalPath(m.dir, fileName)
	partialPath := cachekey.PartialPath(m.dir, fileName)

	start := time.Now()
	monitoring.RecordDownloadStart()
	logger.Info("Starting download")

	path, bytes, err := m.transfer(ctx, f, req, localPath, partialPath)
	if err != nil {
		m.cleanup(partialPath, localPath, logger)
		errType := string(apperrors.GetErrorType(err))
		monitoring.RecordDownloadFailed(errType)
		if apperrors.IsCancelled(err) {
			logger.Info("Download cancelled")
		} else {
			logger.Warn("Download failed", zap.String("error_type", errType), zap.Error(err))
		}
		return "", err
	}

	// A file without an entry would be invisible, so treat it as a failure
	if err := m.record(ctx, req.TrackID, fileName, req.OwnerUserID); err != nil {
		m.cleanup(partialPath, localPath, logger)
		monitoring.RecordDownloadFailed(string(apperrors.GetErrorType(err)))
		logger.Warn("Failed to record download", zap.Error(err))
		return "", err
	}

	duration := time.Since(start)
	monitoring.RecordDownloadComplete(duration, bytes)
	logger.Info("Download completed",
		zap.Int64("bytes", bytes),
		zap.Duration("duration", duration),
	)

	return path, nil
}

func (m *Manager) transfer(ctx context.Context, f *flight, req Request, localPath, partialPath string) (string, int64, error) {
	file, err := m.fs.OpenFile(partialPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return "", 0, apperrors.NewFileSystemError("failed to create partial file", err)
	}

	result, err := network.Fetch(ctx, m.client, network.FetchRequest{
		URL:     req.URL,
		Headers: req.Headers,
		Dest:    file,
		Limiter: m.limiter,
		Progress: func(written, total int64) {
			m.progress(f, written, total)
		},
	})
	closeErr := file.Close()
	if err != nil {
		return "", 0, err
	}
	if closeErr != nil {
		return "", 0, apperrors.NewFileSystemError("failed to close partial file", closeErr)
	}

	complete, err := reconcile.IsCached(m.fs, partialPath)
	if err != nil {
		return "", 0, apperrors.NewFileSystemError("failed to verify partial file", err)
	}
	if !complete || result.BytesWritten == 0 {
		return "", 0, apperrors.NewNetworkError("downloaded file is empty", nil)
	}

	if err := ctx.Err(); err != nil {
		return "", 0, apperrors.NewCancelledError("download abandoned", err)
	}

	if err := m.fs.Rename(partialPath, localPath); err != nil {
		// Some mounts refuse rename; fall back to a copy
		if copyErr := copyFile(m.fs, partialPath, localPath); copyErr != nil {
			return "", 0, apperrors.NewFileSystemError("failed to move file to final location", err)
		}
		m.fs.Remove(partialPath)
	}

	return localPath, result.BytesWritten, nil
}

func (m *Manager) record(ctx context.Context, trackID, fileName, owner string) error {
	if m.recorder == nil {
		return nil
	}
	// The transfer is done; a caller that leaves now must not orphan the file
	superseded, err := m.recorder.UpsertEntry(context.WithoutCancel(ctx), trackID, fileName, owner)
	if err != nil || superseded == "" {
		return err
	}
	m.removeSuperseded(trackID, superseded)
	return nil
}

// removeSuperseded deletes the file an entry used to point at. A file with a
// transfer in flight is left for whoever is fetching it.
func (m *Manager) removeSuperseded(trackID, fileName string) {
	m.mu.Lock()
	_, busy := m.flights[fileName]
	m.mu.Unlock()
	if busy {
		return
	}

	path := cachekey.LocalPath(m.dir, fileName)
	if err := m.fs.Remove(path); err != nil && !os.IsNotExist(err) {
		m.logger.Warn("Failed to remove superseded file", zap.String("track_id", trackID), zap.String("path", path), zap.Error(err))
		return
	}
	m.logger.Debug("Removed superseded file", zap.String("track_id", trackID), zap.String("file_name", fileName))
}

func (m *Manager) cleanup(partialPath, localPath string, logger *zap.Logger) {
	for _, path := range []string{partialPath, localPath} {
		if err := m.fs.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.Warn("Failed to remove download artifact", zap.String("path", path), zap.Error(err))
		}
	}
}

// copyFile copies a file from src to dst
func copyFile(fs afero.Fs, src, dst string) error {
	sourceFile, err := fs.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := fs.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(destFile, sourceFile); err != nil {
		destFile.Close()
		fs.Remove(dst)
		return err
	}
	return destFile.Close()
}
