// Package exportlock provides the cross-process exclusive section guarding
// model export, and the bounded wait used by processes that lose the race.
package exportlock

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

// ErrAlreadyHeld is returned by TryAcquire when another holder exists.
var ErrAlreadyHeld = errors.New("export lock already held")

// Lock is a narrow exclusive-section primitive. Implementations must make
// TryAcquire a single atomic test-and-set.
type Lock interface {
	TryAcquire() (Handle, error)
	// Held reports whether some holder currently exists. Advisory only.
	Held() bool
}

// Handle is returned to the holder. Release must be called exactly once.
type Handle interface {
	Release() error
}

// FileLock is a Lock backed by create-exclusive semantics on a single file.
type FileLock struct {
	Path string
}

// NewFileLock returns a FileLock at path.
func NewFileLock(path string) *FileLock { return &FileLock{Path: path} }

// TryAcquire creates the lock file with O_EXCL. It returns ErrAlreadyHeld if
// the file exists.
func (l *FileLock) TryAcquire() (Handle, error) {
	f, err := os.OpenFile(l.Path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, ErrAlreadyHeld
		}
		return nil, fmt.Errorf("acquire export lock: %w", err)
	}
	host, _ := os.Hostname()
	// Holder identity is informational; a failed write does not void the lock.
	_, _ = fmt.Fprintf(f, "pid=%d host=%s since=%s\n", os.Getpid(), host, time.Now().UTC().Format(time.RFC3339))
	return &fileHandle{f: f, path: l.Path}, nil
}

// Held reports whether the lock file is present.
func (l *FileLock) Held() bool {
	_, err := os.Stat(l.Path)
	return err == nil
}

// Owner returns the diagnostic content written by the current holder.
func (l *FileLock) Owner() string {
	b, err := os.ReadFile(l.Path)
	if err != nil {
		return ""
	}
	return string(b)
}

type fileHandle struct {
	once sync.Once
	f    *os.File
	path string
	err  error
}

// Release closes and removes the lock file. Subsequent calls return the
// result of the first one.
func (h *fileHandle) Release() error {
	h.once.Do(func() {
		cerr := h.f.Close()
		rerr := os.Remove(h.path)
		h.err = errors.Join(cerr, rerr)
	})
	return h.err
}
