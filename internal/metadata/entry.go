// Package metadata keeps the persisted view of the audio cache: which user is
// signed in, which tracks are downloaded (and by whom), and caller-supplied
// per-track metadata.
package metadata

import (
	"context"
	"encoding/json"
	"path/filepath"
	"time"

	"github.com/Francisco-Marin-0606/rork-empty-app-builder-sub002/internal/security"
)

// Persisted keys
const (
	CurrentUserKey      = "audio_cache:current_user"
	DownloadsKey        = "audio_cache:downloads_metadata"
	TrackMetadataPrefix = "audio_cache:track_metadata:"
)

// Entry describes one downloaded track. TrackID is the map key in the
// persisted blob and is not repeated inside the value.
type Entry struct {
	TrackID     string    `json:"-"`
	FileName    string    `json:"fileName"`
	LastUpdated time.Time `json:"lastUpdated"`
	OwnerUserID string    `json:"userId,omitempty"`
}

// Legacy reports whether the entry predates per-user scoping
func (e Entry) Legacy() bool {
	return e.OwnerUserID == ""
}

// VisibleTo reports whether the entry may be surfaced to userID. Legacy
// entries are visible to everyone.
func (e Entry) VisibleTo(userID string) bool {
	return e.Legacy() || e.OwnerUserID == userID
}

// Pruner removes metadata for entries whose file no longer exists.
// PruneEntry only removes entry if it is still the stored one.
type Pruner interface {
	PruneEntry(ctx context.Context, entry Entry) (bool, error)
	DeleteTrackMetadataFor(ctx context.Context, userID, trackID string) error
}

// Reconciler filters entries down to those backed by a file on disk,
// pruning the rest through the Pruner.
type Reconciler interface {
	Reconcile(ctx context.Context, entries []Entry, pruner Pruner) []Entry
}

type entryMap map[string]Entry

func decodeEntries(raw string) (entryMap, error) {
	entries := make(entryMap)
	if raw == "" {
		return entries, nil
	}
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return make(entryMap), err
	}
	for trackID, entry := range entries {
		// An entry must name a file directly inside the downloads directory
		// and carry a track id usable as a key component
		if security.ValidateTrackID(trackID) != nil || !plainFileName(entry.FileName) ||
			(entry.OwnerUserID != "" && security.ValidateUserID(entry.OwnerUserID) != nil) {
			delete(entries, trackID)
			continue
		}
		entry.TrackID = trackID
		entries[trackID] = entry
	}
	return entries, nil
}

func plainFileName(name string) bool {
	return name != "." && filepath.Base(name) == name && security.IsValidPath(name)
}

// references reports whether an entry other than exceptTrackID uses fileName
func (m entryMap) references(fileName, exceptTrackID string) bool {
	for trackID, entry := range m {
		if trackID != exceptTrackID && entry.FileName == fileName {
			return true
		}
	}
	return false
}

func (m entryMap) encode() (string, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
