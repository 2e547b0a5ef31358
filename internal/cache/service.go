// Package cache is the offline audio cache: it downloads per-user audio into
// a local directory, tracks ownership and keeps metadata consistent with the
// files on disk.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gofrs/flock"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Francisco-Marin-0606/rork-empty-app-builder-sub002/internal/cachekey"
	"github.com/Francisco-Marin-0606/rork-empty-app-builder-sub002/internal/config"
	"github.com/Francisco-Marin-0606/rork-empty-app-builder-sub002/internal/download"
	apperrors "github.com/Francisco-Marin-0606/rork-empty-app-builder-sub002/internal/errors"
	"github.com/Francisco-Marin-0606/rork-empty-app-builder-sub002/internal/metadata"
	"github.com/Francisco-Marin-0606/rork-empty-app-builder-sub002/internal/migration"
	"github.com/Francisco-Marin-0606/rork-empty-app-builder-sub002/internal/monitoring"
	"github.com/Francisco-Marin-0606/rork-empty-app-builder-sub002/internal/network"
	"github.com/Francisco-Marin-0606/rork-empty-app-builder-sub002/internal/reconcile"
	"github.com/Francisco-Marin-0606/rork-empty-app-builder-sub002/internal/security"
	"github.com/Francisco-Marin-0606/rork-empty-app-builder-sub002/internal/store"
)

// Version is reported by Health
const Version = "1.0.0"

// LockFileName is created inside the downloads directory while a Service
// opened with Open owns it.
const LockFileName = ".audiocache.lock"

// ErrDirectoryLocked is returned by Open when another process owns the
// downloads directory.
var ErrDirectoryLocked = &apperrors.AppError{
	Type:    apperrors.ErrTypePrecondition,
	Message: "downloads directory is in use by another process",
}

// DownloadedAudio is a cached track visible to the current user
type DownloadedAudio struct {
	TrackID     string    `json:"trackId"`
	FileName    string    `json:"fileName"`
	LocalPath   string    `json:"localPath"`
	LastUpdated time.Time `json:"lastUpdated"`
	OwnerUserID string    `json:"userId,omitempty"`
}

// Stats summarizes the current user's cache
type Stats struct {
	UserID             string `json:"user_id"`
	Count              int    `json:"count"`
	TotalBytes         int64  `json:"total_bytes"`
	TotalHuman         string `json:"total_human"`
	TrackMetadataCount int    `json:"track_metadata_count"`
	ActiveDownloads    int    `json:"active_downloads"`
	QueuedDownloads    int    `json:"queued_downloads"`
	Workers            int    `json:"workers"`
}

// Options configures New
type Options struct {
	DownloadsDir string
	DB           *sql.DB

	// Optional
	Fs       afero.Fs
	Client   *http.Client
	Limiter  *rate.Limiter
	Workers  int
	Notifier download.Notifier
	Logger   *zap.Logger
}

// Service is the entry point used by the rest of the app
type Service struct {
	dir        string
	fs         afero.Fs
	db         *sql.DB
	ownsDB     bool
	lock       *flock.Flock
	kv         store.KV
	meta       *metadata.Store
	reconciler *reconcile.Reconciler
	manager    *download.Manager
	queue      *download.Queue
	health     *monitoring.HealthChecker
	logger     *zap.Logger
}

// New builds a Service on an already initialized database. Leftover partial
// downloads and untracked files are removed from the downloads directory.
func New(opts Options) (*Service, error) {
	s, err := build(opts)
	if err != nil {
		return nil, err
	}
	s.sweep(context.Background())
	return s, nil
}

// build wires the components without touching the downloads directory
// contents, so callers can import entries before the sweep runs.
func build(opts Options) (*Service, error) {
	if opts.DownloadsDir == "" {
		return nil, apperrors.NewValidationError("downloads directory is required")
	}
	if opts.DB == nil {
		return nil, apperrors.NewValidationError("database is required")
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	logger := monitoring.OrNop(opts.Logger)

	if err := opts.Fs.MkdirAll(opts.DownloadsDir, 0755); err != nil {
		return nil, apperrors.NewFileSystemError("failed to create downloads directory", err)
	}

	kv := store.NewKVStore(opts.DB)
	reconciler := reconcile.New(opts.Fs, opts.DownloadsDir, logger)
	meta := metadata.NewStore(kv, reconciler, logger)
	manager := download.NewManager(download.ManagerConfig{
		Dir:      opts.DownloadsDir,
		Fs:       opts.Fs,
		Client:   opts.Client,
		Limiter:  opts.Limiter,
		Recorder: meta,
		Logger:   logger,
	})

	s := &Service{
		dir:        opts.DownloadsDir,
		fs:         opts.Fs,
		db:         opts.DB,
		kv:         kv,
		meta:       meta,
		reconciler: reconciler,
		manager:    manager,
		queue:      download.NewQueue(manager, opts.Workers, opts.Notifier, logger),
		health:     monitoring.NewHealthChecker(Version, opts.DB, opts.Fs, opts.DownloadsDir),
		logger:     logger.Named("cache"),
	}

	if err := s.queue.Start(context.Background()); err != nil {
		manager.Close()
		return nil, err
	}
	return s, nil
}

// Open builds a Service from configuration, owning the database and, when
// enabled, an exclusive lock on the downloads directory.
func Open(cfg *config.Config, logger *zap.Logger, notifier download.Notifier) (*Service, error) {
	logger = monitoring.OrNop(logger)
	dir := cfg.Cache.DownloadsDir

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, apperrors.NewFileSystemError("failed to create downloads directory", err)
	}

	var lock *flock.Flock
	if cfg.Cache.LockDownloadsDir {
		lock = flock.New(filepath.Join(dir, LockFileName))
		locked, err := lock.TryLock()
		if err != nil {
			return nil, apperrors.NewFileSystemError("failed to lock downloads directory", err)
		}
		if !locked {
			return nil, ErrDirectoryLocked
		}
	}

	unlock := func() {
		if lock != nil {
			lock.Unlock()
		}
	}

	limit, err := cfg.BandwidthLimitBytes()
	if err != nil {
		unlock()
		return nil, apperrors.NewValidationError(err.Error())
	}

	db, err := store.InitDB(cfg.Cache.DatabasePath)
	if err != nil {
		unlock()
		return nil, apperrors.NewPersistenceError("failed to open database", err, false)
	}

	s, err := build(Options{
		DownloadsDir: dir,
		DB:           db,
		Client:       network.GetDownloadClient(cfg.TimeoutDuration(), cfg.Network.UserAgent, logger),
		Limiter:      network.NewLimiter(limit),
		Workers:      cfg.Download.ConcurrentDownloads,
		Notifier:     notifier,
		Logger:       logger,
	})
	if err != nil {
		db.Close()
		unlock()
		return nil, err
	}

	s.ownsDB = true
	s.lock = lock

	// Imported entries must exist before the sweep decides what is untracked
	if legacyPath := cfg.Cache.LegacyStorePath; migration.CheckMigrationNeeded(legacyPath) {
		if result := s.ImportLegacy(context.Background(), legacyPath); !result.Success() {
			s.logger.Warn("Legacy store import incomplete", zap.Strings("errors", result.Errors))
		}
	}
	s.sweep(context.Background())

	s.logger.Info("Audio cache opened",
		zap.String("downloads_dir", dir),
		zap.String("database", cfg.Cache.DatabasePath),
		zap.Int("workers", cfg.Download.ConcurrentDownloads),
	)
	return s, nil
}

// Close stops background downloads and releases the database and directory
// lock when they are owned by the Service.
func (s *Service) Close() error {
	s.queue.Stop()
	s.manager.Close()

	var errs []error
	if s.ownsDB {
		if err := s.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		}
	}
	if s.lock != nil {
		if err := s.lock.Unlock(); err != nil {
			errs = append(errs, fmt.Errorf("failed to unlock downloads directory: %w", err))
		}
	}
	return errors.Join(errs...)
}

// DownloadsDir returns the directory cache files are stored in
func (s *Service) DownloadsDir() string {
	return s.dir
}

// SetCurrentUser sets the signed-in user. An empty userID signs out.
func (s *Service) SetCurrentUser(ctx context.Context, userID string) error {
	return s.meta.SetCurrentUser(ctx, userID)
}

// CurrentUser returns the signed-in user, or "" when signed out
func (s *Service) CurrentUser(ctx context.Context) (string, error) {
	return s.meta.CurrentUser(ctx)
}

// DownloadedAudios lists the current user's cached tracks, newest first.
// Entries whose file has disappeared are pruned before returning.
func (s *Service) DownloadedAudios(ctx context.Context) ([]DownloadedAudio, error) {
	entries, err := s.meta.ListEntries(ctx)
	if err != nil {
		return nil, err
	}

	audios := make([]DownloadedAudio, 0, len(entries))
	for _, entry := range entries {
		audios = append(audios, s.toAudio(entry))
	}
	return audios, nil
}

// IsAudioDownloaded reports whether trackID is cached for the current user
func (s *Service) IsAudioDownloaded(ctx context.Context, trackID string) bool {
	_, ok := s.LocalAudioPath(ctx, trackID)
	return ok
}

// LocalAudioPath returns the cached file of trackID if it is visible to the
// current user and present on disk.
func (s *Service) LocalAudioPath(ctx context.Context, trackID string) (string, bool) {
	entry, ok, err := s.meta.Entry(ctx, trackID)
	if err != nil {
		s.logger.Warn("Failed to look up entry", zap.String("track_id", trackID), zap.Error(err))
		return "", false
	}
	if !ok {
		return "", false
	}

	path := cachekey.LocalPath(s.dir, entry.FileName)
	cached, err := reconcile.IsCached(s.fs, path)
	if err != nil {
		s.logger.Warn("Failed to check cached file", zap.String("track_id", trackID), zap.Error(err))
		return "", false
	}
	if !cached {
		return "", false
	}
	return path, true
}

// DownloadAudio returns the local path of url for trackID, downloading it
// for the current user when it is not cached yet. onProgress may be nil.
func (s *Service) DownloadAudio(ctx context.Context, url, trackID string, onProgress download.ProgressFunc) (string, error) {
	req, err := s.request(ctx, url, trackID)
	if err != nil {
		return "", err
	}
	req.OnProgress = onProgress
	return s.manager.Download(ctx, req)
}

// EnqueueDownload schedules a background download for the current user and
// returns its job id. Outcomes are reported to the configured Notifier.
func (s *Service) EnqueueDownload(ctx context.Context, url, trackID string) (string, error) {
	req, err := s.request(ctx, url, trackID)
	if err != nil {
		return "", err
	}
	return s.queue.Enqueue(req)
}

// CancelDownload cancels the background download of trackID
func (s *Service) CancelDownload(trackID string) error {
	return s.queue.Cancel(trackID)
}

// DeleteDownloadedAudio removes the file of trackID, then its entry, then its
// track metadata. When the file cannot be removed nothing else is touched.
// Deleting a track that is not cached for the current user is a no-op.
func (s *Service) DeleteDownloadedAudio(ctx context.Context, trackID string) error {
	user, err := s.meta.CurrentUser(ctx)
	if err != nil || user == "" {
		return err
	}

	entry, ok, err := s.meta.Entry(ctx, trackID)
	if err != nil || !ok {
		return err
	}

	if err := s.remove(ctx, user, entry); err != nil {
		return err
	}
	monitoring.RecordDeletions("user", 1)
	return nil
}

// ClearAllDownloads deletes every track cached for the current user,
// including legacy unowned entries. Tracks of other users are kept. It returns
// the number of tracks removed and the errors of those that were not.
func (s *Service) ClearAllDownloads(ctx context.Context) (int, error) {
	user, err := s.meta.CurrentUser(ctx)
	if err != nil || user == "" {
		return 0, err
	}

	entries, err := s.meta.AllEntries(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	var errs []error
	for _, entry := range entries {
		if !entry.VisibleTo(user) {
			continue
		}
		if err := ctx.Err(); err != nil {
			errs = append(errs, apperrors.NewCancelledError("clear interrupted", err))
			break
		}
		if err := s.remove(ctx, user, entry); err != nil {
			errs = append(errs, fmt.Errorf("track %s: %w", entry.TrackID, err))
			continue
		}
		removed++
	}

	monitoring.RecordDeletions("clear", removed)
	s.logger.Info("Cleared downloads",
		zap.String("user_id", user),
		zap.Int("removed", removed),
		zap.Int("failed", len(errs)),
	)
	return removed, errors.Join(errs...)
}

// SaveTrackMetadata stores display metadata for trackID under the current user
func (s *Service) SaveTrackMetadata(ctx context.Context, trackID string, data json.RawMessage) error {
	return s.meta.SaveTrackMetadata(ctx, trackID, data)
}

// TrackMetadata returns the current user's metadata for trackID
func (s *Service) TrackMetadata(ctx context.Context, trackID string) (json.RawMessage, bool, error) {
	return s.meta.TrackMetadata(ctx, trackID)
}

// DeleteTrackMetadata removes the current user's metadata for trackID
func (s *Service) DeleteTrackMetadata(ctx context.Context, trackID string) error {
	return s.meta.DeleteTrackMetadata(ctx, trackID)
}

// Stats returns the size of the current user's cache
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	user, err := s.meta.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}

	entries, err := s.meta.ListEntries(ctx)
	if err != nil {
		return nil, err
	}

	metadataCount, err := s.meta.TrackMetadataCount(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		UserID:             user,
		TrackMetadataCount: metadataCount,
		ActiveDownloads:    s.manager.ActiveCount(),
		QueuedDownloads:    s.queue.Pending(),
		Workers:            s.queue.Workers(),
	}
	for _, entry := range entries {
		info, err := s.fs.Stat(cachekey.LocalPath(s.dir, entry.FileName))
		if err != nil {
			continue
		}
		stats.Count++
		stats.TotalBytes += info.Size()
	}
	stats.TotalHuman = humanize.Bytes(uint64(stats.TotalBytes))

	return stats, nil
}

// ImportLegacy imports the cache state kept by the previous app version from
// the key/value dump at path. Current values win over imported ones.
func (s *Service) ImportLegacy(ctx context.Context, path string) *migration.MigrationResult {
	return migration.NewMigrator(s.kv, s.logger).Migrate(ctx, path)
}

// Health reports the state of the database and downloads directory
func (s *Service) Health() *monitoring.HealthCheck {
	return s.health.Check(s.queue.Pending(), s.manager.ActiveCount())
}

func (s *Service) request(ctx context.Context, url, trackID string) (download.Request, error) {
	if err := security.ValidateSourceURL(url); err != nil {
		return download.Request{}, apperrors.NewValidationError(err.Error())
	}
	if err := security.ValidateTrackID(trackID); err != nil {
		return download.Request{}, apperrors.NewValidationError(err.Error())
	}

	user, err := s.meta.CurrentUser(ctx)
	if err != nil {
		return download.Request{}, err
	}
	if user == "" {
		return download.Request{}, apperrors.ErrNoCurrentUser
	}

	return download.Request{URL: url, TrackID: trackID, OwnerUserID: user}, nil
}

// remove deletes the file first so that a failed metadata write leaves an
// orphan for the reconciler rather than an unowned live file.
func (s *Service) remove(ctx context.Context, user string, entry metadata.Entry) error {
	path, err := security.ValidateFilePath(s.dir, entry.FileName)
	if err != nil {
		return apperrors.NewValidationError(err.Error())
	}
	if err := s.fs.Remove(path); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("Failed to delete cached file",
			zap.String("track_id", entry.TrackID),
			zap.String("file_name", entry.FileName),
			zap.Error(err),
		)
		return apperrors.NewFileSystemError("failed to delete cached file", err)
	}

	if err := s.meta.RemoveEntry(ctx, entry.TrackID); err != nil {
		return err
	}

	owner := entry.OwnerUserID
	if owner == "" {
		owner = user
	}
	if err := s.meta.DeleteTrackMetadataFor(ctx, owner, entry.TrackID); err != nil {
		return err
	}

	s.logger.Debug("Deleted cached track",
		zap.String("track_id", entry.TrackID),
		zap.String("file_name", entry.FileName),
	)
	return nil
}

// sweep clears what an interrupted process may have left behind
func (s *Service) sweep(ctx context.Context) {
	partials, err := s.reconciler.SweepPartials(ctx, s.manager.InFlight)
	if err != nil {
		s.logger.Warn("Failed to sweep partial downloads", zap.Error(err))
	}
	monitoring.RecordPartialsSwept(partials)

	entries, err := s.meta.AllEntries(ctx)
	if err != nil {
		s.logger.Warn("Failed to load entries for sweep", zap.Error(err))
		return
	}
	known := make(map[string]bool, len(entries))
	for _, entry := range entries {
		known[entry.FileName] = true
	}

	untracked, err := s.reconciler.SweepUntracked(ctx, known, s.manager.InFlight)
	if err != nil {
		s.logger.Warn("Failed to sweep untracked files", zap.Error(err))
	}

	if partials > 0 || untracked > 0 {
		s.logger.Info("Swept downloads directory",
			zap.Int("partials", partials),
			zap.Int("untracked", untracked),
		)
	}
}

func (s *Service) toAudio(entry metadata.Entry) DownloadedAudio {
	return DownloadedAudio{
		TrackID:     entry.TrackID,
		FileName:    entry.FileName,
		LocalPath:   cachekey.LocalPath(s.dir, entry.FileName),
		LastUpdated: entry.LastUpdated,
		OwnerUserID: entry.OwnerUserID,
	}
}
