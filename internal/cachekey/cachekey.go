// Package cachekey derives the content-addressed file names used for cached
// audio. A name depends only on the source URL and the track id, so the same
// pair always resolves to the same file regardless of user or process.
package cachekey

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
)

// AudioExtension is appended to every derived file name.
const AudioExtension = ".mp3"

// PartialSuffix marks an in-progress download next to its final path.
const PartialSuffix = ".part"

const hashHexLen = sha256.Size * 2

// DeriveFileName returns lowercase hex SHA-256 of sourceURL+trackID followed
// by AudioExtension.
func DeriveFileName(sourceURL, trackID string) string {
	sum := sha256.Sum256([]byte(sourceURL + trackID))
	return hex.EncodeToString(sum[:]) + AudioExtension
}

// LocalPath joins the downloads directory and a derived file name.
func LocalPath(dir, fileName string) string {
	return filepath.Join(dir, fileName)
}

// PartialPath is the temporary path a download streams into.
func PartialPath(dir, fileName string) string {
	return LocalPath(dir, fileName) + PartialSuffix
}

// IsCacheFileName reports whether name has the shape of a derived file name.
func IsCacheFileName(name string) bool {
	if !strings.HasSuffix(name, AudioExtension) {
		return false
	}
	digest := strings.TrimSuffix(name, AudioExtension)
	if len(digest) != hashHexLen {
		return false
	}
	for _, r := range digest {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}

// IsPartialFileName reports whether name is a partial download for a derived
// file name.
func IsPartialFileName(name string) bool {
	return strings.HasSuffix(name, PartialSuffix) &&
		IsCacheFileName(strings.TrimSuffix(name, PartialSuffix))
}
