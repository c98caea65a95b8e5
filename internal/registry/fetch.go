// Package registry fetches raw model artifacts from a remote registry into
// the local cache and lists what is cached.
package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"clipd/internal/common/fsutil"
	"clipd/internal/modelstore"
)

// Fetcher downloads the raw artifacts of modelID into dest.
type Fetcher interface {
	Fetch(ctx context.Context, modelID, dest string) error
}

// FetchError wraps registry or network failures.
type FetchError struct {
	ModelID string
	Err     error
}

func (e *FetchError) Error() string { return fmt.Sprintf("fetch %s: %v", e.ModelID, e.Err) }
func (e *FetchError) Unwrap() error { return e.Err }

// IsFetchError reports whether err is a FetchError.
func IsFetchError(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}

// EnsureRaw fetches modelID into path unless path already holds files.
// It reports whether a fetch happened. Failures are not retried.
//
// The fetcher writes into a hidden sibling directory that is renamed onto
// path once complete, so a non-empty path is always a whole snapshot. When
// another process publishes first, the local copy is dropped and the
// published one is used.
func EnsureRaw(ctx context.Context, f Fetcher, modelID, path string, log zerolog.Logger) (bool, error) {
	ready, err := modelstore.RawReady(path)
	if err != nil {
		return false, &FetchError{ModelID: modelID, Err: err}
	}
	if ready {
		log.Debug().Str("path", path).Msg("raw artifacts present")
		return false, nil
	}
	if f == nil {
		return false, &FetchError{ModelID: modelID, Err: errors.New("no fetcher configured and model directory is empty")}
	}
	tmp, err := fetchDir(path)
	if err != nil {
		return false, &FetchError{ModelID: modelID, Err: err}
	}
	defer func() { _ = os.RemoveAll(tmp) }()

	log.Info().Str("model", modelID).Str("path", path).Msg("fetching raw artifacts")
	if err := f.Fetch(ctx, modelID, tmp); err != nil {
		if fe := (*FetchError)(nil); errors.As(err, &fe) {
			return false, err
		}
		return false, &FetchError{ModelID: modelID, Err: err}
	}
	if ok, err := fsutil.DirNonEmpty(tmp); err != nil || !ok {
		return false, &FetchError{ModelID: modelID, Err: errors.New("fetcher produced no files")}
	}
	if err := publishDir(tmp, path); err != nil {
		if ready, _ := modelstore.RawReady(path); ready {
			log.Info().Str("model", modelID).Msg("raw artifacts published by another process")
			return false, nil
		}
		return false, &FetchError{ModelID: modelID, Err: err}
	}
	log.Info().Str("model", modelID).Msg("raw artifacts fetched")
	return true, nil
}

// fetchDir creates a fresh download directory next to path. The leading
// dot keeps it out of ScanRoot.
func fetchDir(path string) (string, error) {
	parent := filepath.Dir(path)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return "", err
	}
	tmp, err := os.MkdirTemp(parent, fmt.Sprintf(".%s.fetch-%d-*", filepath.Base(path), os.Getpid()))
	if err != nil {
		return "", err
	}
	if err := os.Chmod(tmp, 0o755); err != nil {
		_ = os.RemoveAll(tmp)
		return "", err
	}
	return tmp, nil
}

// publishDir renames tmp onto path. An empty leftover path is replaced;
// a non-empty one makes the rename fail.
func publishDir(tmp, path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return os.Rename(tmp, path)
}

// NoopFetcher never downloads; used when the cache is provisioned out of band.
type NoopFetcher struct{}

func (NoopFetcher) Fetch(ctx context.Context, modelID, dest string) error {
	return errors.New("fetching disabled and model directory is empty")
}

// partName is the in-progress download name for target. The pid keeps
// processes fetching into the same directory from sharing a temp file.
func partName(target string) string {
	return fmt.Sprintf("%s.%d.part", target, os.Getpid())
}
