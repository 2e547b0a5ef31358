// Package reconcile keeps persisted cache metadata consistent with the files
// actually present in the downloads directory.
package reconcile

import (
	"context"
	"os"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/Francisco-Marin-0606/rork-empty-app-builder-sub002/internal/cachekey"
	"github.com/Francisco-Marin-0606/rork-empty-app-builder-sub002/internal/metadata"
	"github.com/Francisco-Marin-0606/rork-empty-app-builder-sub002/internal/monitoring"
)

// IsCached reports whether a complete cache file exists at path. Zero-byte
// files never count as cached.
func IsCached(fs afero.Fs, path string) (bool, error) {
	info, err := fs.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.Mode().IsRegular() && info.Size() > 0, nil
}

// Reconciler checks entries against the downloads directory
type Reconciler struct {
	fs     afero.Fs
	dir    string
	logger *zap.Logger
}

// New creates a Reconciler for dir
func New(fs afero.Fs, dir string, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		fs:     fs,
		dir:    dir,
		logger: monitoring.OrNop(logger).Named("reconcile"),
	}
}

// Reconcile returns the entries whose file is present. Entries whose file is
// missing are pruned through pruner along with their track metadata. An
// entry whose file cannot be checked is withheld but left in place.
func (r *Reconciler) Reconcile(ctx context.Context, entries []metadata.Entry, pruner metadata.Pruner) []metadata.Entry {
	valid := make([]metadata.Entry, 0, len(entries))
	pruned := 0

	for _, entry := range entries {
		path := cachekey.LocalPath(r.dir, entry.FileName)
		info, err := r.fs.Stat(path)
		if err != nil && !os.IsNotExist(err) {
			r.logger.Warn("Failed to check cached file",
				zap.String("track_id", entry.TrackID),
				zap.String("file_name", entry.FileName),
				zap.Error(err),
			)
			continue
		}
		if err == nil && info.Mode().IsRegular() && info.Size() > 0 {
			valid = append(valid, entry)
			continue
		}
		empty := err == nil && info.Mode().IsRegular()

		removed, err := pruner.PruneEntry(ctx, entry)
		if err != nil {
			r.logger.Warn("Failed to prune orphaned entry", zap.String("track_id", entry.TrackID), zap.Error(err))
			continue
		}
		if !removed {
			// Re-recorded since it was read
			continue
		}

		// An empty file left at the final path is as good as missing
		if empty {
			r.fs.Remove(path)
		}
		if err := pruner.DeleteTrackMetadataFor(ctx, entry.OwnerUserID, entry.TrackID); err != nil {
			r.logger.Warn("Failed to prune orphaned track metadata", zap.String("track_id", entry.TrackID), zap.Error(err))
		}

		pruned++
		r.logger.Info("Pruned orphaned entry",
			zap.String("track_id", entry.TrackID),
			zap.String("file_name", entry.FileName),
		)
	}

	monitoring.RecordDeletions("orphan", pruned)
	return valid
}

// SweepPartials removes leftover partial downloads. Files belonging to a
// download for which inFlight returns true are kept.
func (r *Reconciler) SweepPartials(ctx context.Context, inFlight func(fileName string) bool) (int, error) {
	return r.sweep(ctx, func(name string) (string, bool) {
		if !cachekey.IsPartialFileName(name) {
			return "", false
		}
		return strings.TrimSuffix(name, cachekey.PartialSuffix), true
	}, inFlight)
}

// SweepUntracked removes complete cache files that no entry references, such
// as a file renamed into place right before the process died.
func (r *Reconciler) SweepUntracked(ctx context.Context, known map[string]bool, inFlight func(fileName string) bool) (int, error) {
	return r.sweep(ctx, func(name string) (string, bool) {
		if !cachekey.IsCacheFileName(name) || known[name] {
			return "", false
		}
		return name, true
	}, inFlight)
}

func (r *Reconciler) sweep(ctx context.Context, match func(name string) (string, bool), inFlight func(fileName string) bool) (int, error) {
	infos, err := afero.ReadDir(r.fs, r.dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, info := range infos {
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}
		if info.IsDir() {
			continue
		}

		fileName, ok := match(info.Name())
		if !ok || (inFlight != nil && inFlight(fileName)) {
			continue
		}

		path := cachekey.LocalPath(r.dir, info.Name())
		if err := r.fs.Remove(path); err != nil && !os.IsNotExist(err) {
			r.logger.Warn("Failed to remove stray file", zap.String("path", path), zap.Error(err))
			continue
		}
		removed++
		r.logger.Debug("Removed stray file", zap.String("path", path))
	}

	return removed, nil
}
