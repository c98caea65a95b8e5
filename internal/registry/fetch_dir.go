package registry

import (
	"context"
	"fmt"
	"path/filepath"

	"clipd/internal/common/fsutil"
	"clipd/internal/modelstore"
)

// DirFetcher copies models from a local mirror laid out like the cache.
type DirFetcher struct {
	Root string
}

// Fetch copies Root/<escaped id> into dest.
func (d DirFetcher) Fetch(ctx context.Context, modelID, dest string) error {
	dir, err := modelstore.EscapeModelID(modelID)
	if err != nil {
		return err
	}
	src := filepath.Join(d.Root, dir)
	ok, err := modelstore.RawReady(src)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("mirror %s has no files for %s", d.Root, modelID)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return fsutil.CopyTree(src, dest)
}
