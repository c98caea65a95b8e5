package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"clipd/internal/modelstore"
)

type exportResult struct {
	ModelID   string `json:"model_id"`
	LocalPath string `json:"local_path"`
	Outcome   string `json:"outcome"`
	Marker    string `json:"marker,omitempty"`
}

func newExportCmd(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Fetch and convert the model into the shared cache, then exit",
		Long: "Runs the same fetch and locked export as serve without loading the model.\n" +
			"Use it to pre-warm the cache before starting many workers.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			emb, err := newEmbedder(a.cfg, a.log)
			if err != nil {
				return err
			}
			if force {
				if err := modelstore.RemoveMarker(emb.LocalPath()); err != nil {
					return err
				}
				a.log.Info().Str("path", emb.LocalPath()).Msg("marker removed; forcing export")
			}
			outcome, err := emb.Prepare(cmd.Context())
			if err != nil {
				return err
			}
			res := exportResult{ModelID: a.cfg.ModelID, LocalPath: emb.LocalPath(), Outcome: string(outcome)}
			res.Marker, _ = modelstore.ReadMarker(emb.LocalPath())
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Remove the success marker before exporting")
	return cmd
}
