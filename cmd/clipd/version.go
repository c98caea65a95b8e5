package main

import (
	"fmt"
	goruntime "runtime"

	"github.com/spf13/cobra"

	"clipd/internal/runtime"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and build information",
		Args:  cobra.NoArgs,
		// Skip config resolution so version works without a valid config.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "clipd %s (%s, onnxruntime=%t)\n", version, goruntime.Version(), runtime.Built())
		},
	}
}
