// Package modelstore maps model identifiers to their local cache directories
// and owns the export success marker kept inside each of them.
package modelstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"clipd/internal/common/fsutil"
)

const (
	// MarkerName is the sentinel written after a complete export. Its presence
	// is the only trusted signal that the directory holds a loadable artifact.
	MarkerName = "_SUCCESSFUL_ONNX_EXPORT"
	// LockName is the global export lock file under the root, shared by all models.
	LockName = ".export_lock"
)

// Store is a shared cache root holding one directory per model.
type Store struct {
	Root string
}

// New resolves root (expanding ~) and creates it if needed.
func New(root string) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("models root is empty")
	}
	r, err := fsutil.ExpandHome(root)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(r)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create models root: %w", err)
	}
	return &Store{Root: abs}, nil
}

// Path returns the LocalModelPath for id.
func (s *Store) Path(id string) (string, error) {
	dir, err := EscapeModelID(id)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.Root, dir), nil
}

// LockPath returns the path of the global export lock.
func (s *Store) LockPath() string { return filepath.Join(s.Root, LockName) }

// HasMarker reports whether the success marker exists under path.
func HasMarker(path string) bool {
	_, err := os.Stat(filepath.Join(path, MarkerName))
	return err == nil
}

// ReadMarker returns the provenance note stored in the marker.
func ReadMarker(path string) (string, error) {
	b, err := os.ReadFile(filepath.Join(path, MarkerName))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// WriteMarker durably creates the success marker with a diagnostic note.
func WriteMarker(path, note string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("write marker: %w", err)
	}
	if err := fsutil.WriteFileSync(filepath.Join(path, MarkerName), []byte(note), 0o644); err != nil {
		return fmt.Errorf("write marker: %w", err)
	}
	return nil
}

// RemoveMarker deletes the marker if present.
func RemoveMarker(path string) error {
	err := os.Remove(filepath.Join(path, MarkerName))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// RawReady reports whether the raw artifact directory exists and is non-empty.
func RawReady(path string) (bool, error) { return fsutil.DirNonEmpty(path) }

// ProvenanceNote builds the human-readable marker content.
func ProvenanceNote(provider string, at time.Time) string {
	host, _ := os.Hostname()
	note := fmt.Sprintf("Successfully exported and saved at %s by PID %d", at.Format(time.RFC3339), os.Getpid())
	if host != "" {
		note += " on " + host
	}
	if provider != "" {
		note += " with " + provider
	}
	return note
}
