package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"
)

var unsafeChar = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// sanitize replaces any character outside [A-Za-z0-9_-] with an underscore.
func sanitize(s string) string {
	return unsafeChar.ReplaceAllString(s, "_")
}

// Store is a file-per-server snapshot store rooted at a base directory.
// Writes go through a sibling ".tmp" file and a same-filesystem rename,
// so a concurrent reader always observes either the complete previous
// file or the complete new one, never a partial write. Each server
// identity has its own file.
type Store struct {
	baseDir string
}

// NewStore creates a Store that keeps one snapshot file per server
// identity directly in baseDir. baseDir is created lazily on first write.
func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// pathFor returns the snapshot file path for a server identity.
func (s *Store) pathFor(clientOrigin, name string) string {
	fname := fmt.Sprintf("%s__%s.json", sanitize(clientOrigin), sanitize(name))
	return filepath.Join(s.baseDir, fname)
}

// Load reads the snapshot for (clientOrigin, name). A missing file is not
// an error: it returns a zero-value Snapshot with an empty Tools map, so
// the drift detector treats every current tool as "added".
func (s *Store) Load(clientOrigin, name string) (Snapshot, error) {
	data, err := os.ReadFile(s.pathFor(clientOrigin, name))
	if err != nil {
		if os.IsNotExist(err) {
			return Snapshot{Tools: map[string]ToolDigests{}}, nil
		}
		return Snapshot{}, fmt.Errorf("snapshot: read: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: parse: %w", err)
	}
	if snap.Tools == nil {
		snap.Tools = map[string]ToolDigests{}
	}
	return snap, nil
}

// Save atomically writes the snapshot for (clientOrigin, name), setting
// CapturedAt to now if unset.
func (s *Store) Save(clientOrigin, name string, snap Snapshot) error {
	if snap.CapturedAt.IsZero() {
		snap.CapturedAt = time.Now().UTC()
	}

	path := s.pathFor(clientOrigin, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("snapshot: mkdir: %w", err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("snapshot: marshal: %w", err)
	}
	data = append(data, '\n')

	return writeAtomic(path, data)
}

// writeAtomic writes data to path via a sibling .tmp file, fsync, and a
// same-filesystem rename.
func writeAtomic(path string, data []byte) error {
	tmpPath := path + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("snapshot: create temp file: %w", err)
	}

	cleanup := func() {
		_ = f.Close()
		_ = os.Remove(tmpPath)
	}

	if _, err := f.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("snapshot: write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("snapshot: fsync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("snapshot: close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("snapshot: rename temp file: %w", err)
	}
	return nil
}
