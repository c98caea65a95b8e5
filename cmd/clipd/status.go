package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"clipd/internal/exportlock"
	"clipd/internal/modelstore"
	"clipd/internal/registry"
	"clipd/pkg/types"
)

type cacheStatus struct {
	Root      string        `json:"root"`
	ModelID   string        `json:"model_id"`
	LocalPath string        `json:"local_path"`
	Exported  bool          `json:"exported"`
	Marker    string        `json:"marker,omitempty"`
	LockHeld  bool          `json:"lock_held"`
	LockOwner string        `json:"lock_owner,omitempty"`
	Models    []types.Model `json:"models"`
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the local cache state as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := readCacheStatus(a.cfg.ModelsRoot, a.cfg.ModelID)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		},
	}
}

func readCacheStatus(root, modelID string) (cacheStatus, error) {
	store, err := modelstore.New(root)
	if err != nil {
		return cacheStatus{}, err
	}
	path, err := store.Path(modelID)
	if err != nil {
		return cacheStatus{}, err
	}
	lock := exportlock.NewFileLock(store.LockPath())
	st := cacheStatus{
		Root:      store.Root,
		ModelID:   modelID,
		LocalPath: path,
		Exported:  modelstore.HasMarker(path),
		LockHeld:  lock.Held(),
		LockOwner: lock.Owner(),
	}
	st.Marker, _ = modelstore.ReadMarker(path)
	st.Models, err = registry.ScanRoot(store.Root)
	if err != nil {
		return cacheStatus{}, err
	}
	return st, nil
}
