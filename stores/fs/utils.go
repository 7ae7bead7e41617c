package fs

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// writeAtomicFile writes data to a file atomically by writing to a temp file first
func writeAtomicFile(path string, data []byte) error {
	tmpPath, err := writeTempFile(filepath.Dir(path), data)
	if err != nil {
		return err
	}

	// Atomically rename temp file to target path
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// claimFile creates path with data only if path does not exist yet. The hard
// link either succeeds or fails with os.ErrExist, so exactly one of several
// concurrent claimants wins and the winner's content is never partial.
func claimFile(path string, data []byte) (bool, error) {
	tmpPath, err := writeTempFile(filepath.Dir(path), data)
	if err != nil {
		return false, err
	}
	defer os.Remove(tmpPath)

	if err := os.Link(tmpPath, path); err != nil {
		if errors.Is(err, os.ErrExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to claim %s: %w", path, err)
	}
	return true, nil
}

func writeTempFile(dir string, data []byte) (string, error) {
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}
	return tmpPath, nil
}

// maxHexIndexKey keeps plain hex names well under NAME_MAX (255 bytes)
const maxHexIndexKey = 128

// indexKey turns an arbitrary key into a safe file name. Keys whose hex form
// would be too long are named by their SHA-256 digest instead; the "h-" prefix
// cannot clash with a plain hex name.
func indexKey(key string) string {
	if name := hex.EncodeToString([]byte(key)); len(name) <= maxHexIndexKey {
		return name
	}
	sum := sha256.Sum256([]byte(key))
	return "h-" + hex.EncodeToString(sum[:])
}
