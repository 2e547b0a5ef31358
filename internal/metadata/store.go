package metadata

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	apperrors "github.com/Francisco-Marin-0606/rork-empty-app-builder-sub002/internal/errors"
	"github.com/Francisco-Marin-0606/rork-empty-app-builder-sub002/internal/monitoring"
	"github.com/Francisco-Marin-0606/rork-empty-app-builder-sub002/internal/security"
	"github.com/Francisco-Marin-0606/rork-empty-app-builder-sub002/internal/store"
)

// Store is the metadata view of the cache. It is safe for concurrent use.
type Store struct {
	kv         store.KV
	reconciler Reconciler
	logger     *zap.Logger
	now        func() time.Time

	mu          sync.RWMutex
	currentUser string
	userLoaded  bool

	listGroup singleflight.Group
}

// NewStore creates a metadata store over kv. reconciler may be nil, in which
// case listings are not checked against the filesystem.
func NewStore(kv store.KV, reconciler Reconciler, logger *zap.Logger) *Store {
	return &Store{
		kv:         kv,
		reconciler: reconciler,
		logger:     monitoring.OrNop(logger).Named("metadata"),
		now:        time.Now,
	}
}

// SetCurrentUser persists the signed-in user. An empty id signs out.
func (s *Store) SetCurrentUser(ctx context.Context, userID string) error {
	if userID != "" {
		if err := security.ValidateUserID(userID); err != nil {
			return apperrors.NewValidationError(err.Error())
		}
	}

	var err error
	if userID == "" {
		err = s.kv.Delete(ctx, CurrentUserKey)
	} else {
		err = s.kv.Set(ctx, CurrentUserKey, userID)
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.currentUser = userID
	s.userLoaded = true
	s.mu.Unlock()

	s.logger.Info("Current user changed", zap.String("user_id", userID))
	return nil
}

// CurrentUser returns the signed-in user, or "" when nobody is signed in
func (s *Store) CurrentUser(ctx context.Context) (string, error) {
	s.mu.RLock()
	if s.userLoaded {
		user := s.currentUser
		s.mu.RUnlock()
		return user, nil
	}
	s.mu.RUnlock()

	user, _, err := s.kv.Get(ctx, CurrentUserKey)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	if !s.userLoaded {
		s.currentUser = user
		s.userLoaded = true
	}
	user = s.currentUser
	s.mu.Unlock()

	return user, nil
}

// AllEntries returns every persisted entry regardless of owner
func (s *Store) AllEntries(ctx context.Context) (map[string]Entry, error) {
	return s.loadEntries(ctx)
}

// ListEntries returns the entries visible to the current user whose files
// still exist. Orphans are pruned as a side effect.
func (s *Store) ListEntries(ctx context.Context) ([]Entry, error) {
	user, err := s.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	if user == "" {
		return nil, nil
	}

	v, err, _ := s.listGroup.Do(user, func() (interface{}, error) {
		entries, err := s.visibleEntries(ctx, user)
		if err != nil {
			return nil, err
		}

		if s.reconciler != nil {
			entries = s.reconciler.Reconcile(ctx, entries, s)
		}
		return entries, nil
	})
	if err != nil {
		return nil, err
	}

	shared := v.([]Entry)
	result := make([]Entry, len(shared))
	copy(result, shared)
	return result, nil
}

// Entry returns the entry for trackID if it is visible to the current user.
// The file is not checked.
func (s *Store) Entry(ctx context.Context, trackID string) (Entry, bool, error) {
	user, err := s.CurrentUser(ctx)
	if err != nil || user == "" {
		return Entry{}, false, err
	}

	entries, err := s.loadEntries(ctx)
	if err != nil {
		return Entry{}, false, err
	}

	entry, ok := entries[trackID]
	if !ok || !entry.VisibleTo(user) {
		return Entry{}, false, nil
	}
	return entry, true, nil
}

// UpsertEntry records trackID as downloaded to fileName by owner, stamping
// LastUpdated with the current time. When the entry previously pointed at a
// different file that no other entry uses, that file name is returned so the
// caller can remove it.
func (s *Store) UpsertEntry(ctx context.Context, trackID, fileName, owner string) (string, error) {
	if trackID == "" || fileName == "" {
		return "", apperrors.NewValidationError("track id and file name are required")
	}
	if !plainFileName(fileName) {
		return "", apperrors.NewValidationError("file name must not contain a path")
	}

	var superseded string
	err := s.kv.Update(ctx, DownloadsKey, func(current string, found bool) (string, bool, error) {
		entries := s.decode(current)
		superseded = ""
		if prev, ok := entries[trackID]; ok && prev.FileName != fileName && !entries.references(prev.FileName, trackID) {
			superseded = prev.FileName
		}
		entries[trackID] = Entry{
			TrackID:     trackID,
			FileName:    fileName,
			LastUpdated: s.now(),
			OwnerUserID: owner,
		}
		next, err := entries.encode()
		return next, false, err
	})
	if err != nil {
		return "", err
	}
	return superseded, nil
}

// RemoveEntry deletes the entry for trackID. A missing entry is not an error.
func (s *Store) RemoveEntry(ctx context.Context, trackID string) error {
	return s.kv.Update(ctx, DownloadsKey, func(current string, found bool) (string, bool, error) {
		entries := s.decode(current)
		if _, ok := entries[trackID]; !ok && found {
			return current, false, nil
		}
		delete(entries, trackID)
		next, err := entries.encode()
		return next, false, err
	})
}

// PruneEntry removes entry if the stored entry for its track is unchanged,
// so a download recorded after entry was read is kept.
func (s *Store) PruneEntry(ctx context.Context, entry Entry) (bool, error) {
	var removed bool
	err := s.kv.Update(ctx, DownloadsKey, func(current string, found bool) (string, bool, error) {
		removed = false
		entries := s.decode(current)
		stored, ok := entries[entry.TrackID]
		if !ok || stored.FileName != entry.FileName || !stored.LastUpdated.Equal(entry.LastUpdated) {
			return current, false, nil
		}
		delete(entries, entry.TrackID)
		removed = true
		next, err := entries.encode()
		return next, false, err
	})
	if err != nil {
		return false, err
	}
	return removed, nil
}

func (s *Store) visibleEntries(ctx context.Context, user string) ([]Entry, error) {
	entries, err := s.loadEntries(ctx)
	if err != nil {
		return nil, err
	}

	visible := make([]Entry, 0, len(entries))
	for _, entry := range entries {
		if entry.VisibleTo(user) {
			visible = append(visible, entry)
		}
	}

	// Most recent first
	sort.Slice(visible, func(i, j int) bool {
		if !visible[i].LastUpdated.Equal(visible[j].LastUpdated) {
			return visible[i].LastUpdated.After(visible[j].LastUpdated)
		}
		return visible[i].TrackID < visible[j].TrackID
	})

	return visible, nil
}

func (s *Store) loadEntries(ctx context.Context) (entryMap, error) {
	raw, _, err := s.kv.Get(ctx, DownloadsKey)
	if err != nil {
		return nil, err
	}
	return s.decode(raw), nil
}

// decode never fails: an unreadable blob is treated as an empty cache
func (s *Store) decode(raw string) entryMap {
	entries, err := decodeEntries(raw)
	if err != nil {
		s.logger.Warn("Downloads metadata is corrupted, treating as empty", zap.Error(err))
		monitoring.RecordCorruptMetadata()
	}
	return entries
}
