package metadata

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	apperrors "github.com/Francisco-Marin-0606/rork-empty-app-builder-sub002/internal/errors"
	"github.com/Francisco-Marin-0606/rork-empty-app-builder-sub002/internal/security"
)

// Scoped keys have two components after the prefix and legacy keys one.
// Neither id may contain the separator, so the two never collide.
func trackMetadataKey(userID, trackID string) string {
	return TrackMetadataPrefix + userID + security.KeySeparator + trackID
}

func legacyTrackMetadataKey(trackID string) string {
	return TrackMetadataPrefix + trackID
}

func checkTrackID(trackID string) error {
	if err := security.ValidateTrackID(trackID); err != nil {
		return apperrors.NewValidationError(err.Error())
	}
	return nil
}

// SaveTrackMetadata stores data for trackID under the current user. It is a
// no-op when nobody is signed in.
func (s *Store) SaveTrackMetadata(ctx context.Context, trackID string, data json.RawMessage) error {
	if err := checkTrackID(trackID); err != nil {
		return err
	}
	if !json.Valid(data) {
		return apperrors.NewValidationError("track metadata must be valid JSON")
	}

	user, err := s.CurrentUser(ctx)
	if err != nil {
		return err
	}
	if user == "" {
		s.logger.Debug("Skipping track metadata save without current user", zap.String("track_id", trackID))
		return nil
	}

	return s.kv.Set(ctx, trackMetadataKey(user, trackID), string(data))
}

// TrackMetadata returns the current user's metadata for trackID. A value
// stored under the legacy unscoped key is moved to the user's key on first
// read.
func (s *Store) TrackMetadata(ctx context.Context, trackID string) (json.RawMessage, bool, error) {
	if err := checkTrackID(trackID); err != nil {
		return nil, false, err
	}
	user, err := s.CurrentUser(ctx)
	if err != nil || user == "" {
		return nil, false, err
	}

	scopedKey := trackMetadataKey(user, trackID)
	value, found, err := s.kv.Get(ctx, scopedKey)
	if err != nil {
		return nil, false, err
	}
	if found {
		return json.RawMessage(value), true, nil
	}

	legacyKey := legacyTrackMetadataKey(trackID)
	value, found, err = s.kv.Get(ctx, legacyKey)
	if err != nil || !found {
		return nil, false, err
	}

	if err := s.kv.Set(ctx, scopedKey, value); err != nil {
		return nil, false, err
	}
	if err := s.kv.Delete(ctx, legacyKey); err != nil {
		// The scoped copy is authoritative from now on
		s.logger.Warn("Failed to delete legacy track metadata", zap.String("track_id", trackID), zap.Error(err))
	}
	s.logger.Info("Migrated legacy track metadata",
		zap.String("track_id", trackID),
		zap.String("user_id", user),
	)

	return json.RawMessage(value), true, nil
}

// TrackMetadataCount returns how many tracks the current user has metadata
// for. Unmigrated legacy values are not counted.
func (s *Store) TrackMetadataCount(ctx context.Context) (int, error) {
	user, err := s.CurrentUser(ctx)
	if err != nil || user == "" {
		return 0, err
	}
	keys, err := s.kv.Keys(ctx, trackMetadataKey(user, ""))
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// DeleteTrackMetadata removes the current user's metadata for trackID. It is
// a no-op when nobody is signed in.
func (s *Store) DeleteTrackMetadata(ctx context.Context, trackID string) error {
	user, err := s.CurrentUser(ctx)
	if err != nil || user == "" {
		return err
	}
	return s.DeleteTrackMetadataFor(ctx, user, trackID)
}

// DeleteTrackMetadataFor removes userID's metadata for trackID together with
// any unmigrated legacy value, which would otherwise resurface on the next
// read. An empty userID removes only the legacy value.
func (s *Store) DeleteTrackMetadataFor(ctx context.Context, userID, trackID string) error {
	if err := checkTrackID(trackID); err != nil {
		return err
	}
	if userID != "" {
		if err := security.ValidateUserID(userID); err != nil {
			return apperrors.NewValidationError(err.Error())
		}
		if err := s.kv.Delete(ctx, trackMetadataKey(userID, trackID)); err != nil {
			return err
		}
	}
	return s.kv.Delete(ctx, legacyTrackMetadataKey(trackID))
}
