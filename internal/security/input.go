// Package security validates caller input before it reaches the network or
// the filesystem.
package security

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// MaxIDLength bounds track and user identifiers accepted from callers
const MaxIDLength = 256

// KeySeparator joins identifiers inside metadata keys. It is not allowed in
// the identifiers themselves, otherwise one user's key could be spelled as
// another user's track id.
const KeySeparator = ":"

// SanitizeInput sanitizes a string input by removing dangerous characters
func SanitizeInput(input string) string {
	// Remove null bytes
	input = strings.ReplaceAll(input, "\x00", "")

	// Remove control characters except newline and tab
	var result strings.Builder
	for _, r := range input {
		if r >= 32 || r == '\n' || r == '\t' {
			result.WriteRune(r)
		}
	}

	return result.String()
}

// ValidateTrackID rejects track ids that cannot be used as a metadata key
// component.
func ValidateTrackID(trackID string) error {
	return validateID("track id", trackID)
}

// ValidateUserID applies the track id rules to user ids
func ValidateUserID(userID string) error {
	return validateID("user id", userID)
}

func validateID(kind, id string) error {
	if id == "" {
		return fmt.Errorf("%s cannot be empty", kind)
	}
	if len(id) > MaxIDLength {
		return fmt.Errorf("%s exceeds %d bytes", kind, MaxIDLength)
	}
	if strings.ContainsAny(id, "\n\t") || SanitizeInput(id) != id {
		return fmt.Errorf("%s contains control characters", kind)
	}
	if strings.Contains(id, KeySeparator) {
		return fmt.Errorf("%s must not contain %q", kind, KeySeparator)
	}
	return nil
}

// ValidateSourceURL accepts absolute http and https URLs only
func ValidateSourceURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("url cannot be empty")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("url has no host")
	}
	return nil
}

// IsValidPath checks if a path is valid and doesn't contain traversal attempts
func IsValidPath(path string) bool {
	if path == "" {
		return false
	}

	if strings.Contains(path, "\x00") {
		return false
	}

	cleaned := filepath.Clean(path)

	if strings.Contains(cleaned, "..") {
		return false
	}

	// Reject absolute paths on Windows (C:\, D:\, etc.)
	if isDrivePath(cleaned) {
		return false
	}

	if filepath.IsAbs(cleaned) {
		return false
	}

	return true
}

// ValidateFilePath joins requestedPath onto basePath, refusing any result
// outside basePath.
func ValidateFilePath(basePath, requestedPath string) (string, error) {
	if filepath.IsAbs(requestedPath) || isDrivePath(requestedPath) {
		return "", fmt.Errorf("absolute paths not allowed")
	}

	cleanBase := filepath.Clean(basePath)
	cleanRequested := filepath.Clean(requestedPath)

	if strings.Contains(cleanRequested, "..") {
		return "", fmt.Errorf("path traversal attempt detected")
	}

	fullPath := filepath.Join(cleanBase, cleanRequested)

	relPath, err := filepath.Rel(cleanBase, fullPath)
	if err != nil || strings.HasPrefix(relPath, "..") {
		return "", fmt.Errorf("path traversal attempt detected")
	}

	return fullPath, nil
}

func isDrivePath(path string) bool {
	return len(path) >= 2 && path[1] == ':'
}
