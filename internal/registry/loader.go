package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"clipd/internal/common/fsutil"
	"clipd/internal/modelstore"
	"clipd/pkg/types"
)

// ScanRoot lists the model directories cached under root. Directory names
// that do not unescape to a model id (the lock file, staging dirs, stray
// files) are skipped.
func ScanRoot(root string) ([]types.Model, error) {
	base, err := fsutil.ExpandHome(root)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var models []types.Model
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		id, err := modelstore.UnescapeModelID(e.Name())
		if err != nil {
			continue
		}
		if again, _ := modelstore.EscapeModelID(id); again != e.Name() {
			continue
		}
		p := filepath.Join(abs, e.Name())
		models = append(models, types.Model{
			ID:       id,
			Path:     p,
			Exported: modelstore.HasMarker(p),
		})
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models, nil
}
