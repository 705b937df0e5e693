// Package storage persists small JSON documents (credentials, channel routing)
// with a cross-process lock and atomic replace.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var (
	// ErrNotFound reports that the file does not exist yet.
	ErrNotFound = errors.New("file not found")
	// ErrCorrupted reports that the file exists but is not valid JSON.
	ErrCorrupted = errors.New("file is corrupted")
)

// JSONFile is a JSON document on disk.
type JSONFile struct {
	Path string
}

// NewJSONFile returns a JSONFile for path.
func NewJSONFile(path string) *JSONFile {
	return &JSONFile{Path: path}
}

// Read decodes the file into v.
func (f *JSONFile) Read(v any) error {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, f.Path)
		}
		return fmt.Errorf("failed to read %s: %w", f.Path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorrupted, f.Path, err)
	}
	return nil
}

// Write replaces the file with the JSON encoding of v.
// The document is written to a temp file and renamed over the target while
// holding the lock, so a concurrent reader sees either the old or the new
// content, never a partial write.
func (f *JSONFile) Write(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", f.Path, err)
	}

	if dir := filepath.Dir(f.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	lock, err := AcquireLock(f.Path)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() {
		if releaseErr := lock.Release(); releaseErr != nil {
			fmt.Fprintf(os.Stderr, "failed to release lock: %v\n", releaseErr)
		}
	}()

	tempFile := f.Path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0o600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tempFile, f.Path); err != nil {
		if removeErr := os.Remove(tempFile); removeErr != nil {
			return fmt.Errorf(
				"failed to rename temp file: %v; additionally failed to remove temp file: %w",
				err,
				removeErr,
			)
		}
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
