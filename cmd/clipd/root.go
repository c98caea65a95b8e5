package main

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"clipd/internal/config"
)

// app carries the resolved configuration between cobra hooks and commands.
type app struct {
	cfgPath string
	cfg     config.Config
	log     zerolog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "clipd",
		Short:         "CLIP embedding daemon with a shared ONNX export cache",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(a.cfgPath, cmd.Flags())
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.log = newLogger(cfg, cmd.ErrOrStderr())
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), a)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgPath, "config", "", "Path to a YAML/JSON/TOML config file")
	pf.String("model-id", "", "Model identifier (default "+config.DefaultModelID+")")
	pf.String("models-root", "", "Directory holding cached models and the export lock (default "+config.DefaultModelsRoot+")")
	pf.String("device", "", "Requested device: cuda|cpu|auto")
	pf.String("fetcher", "", "Raw artifact source: hub|s3|dir|none")
	pf.String("mirror-dir", "", "Local mirror used by the dir fetcher")
	pf.String("exporter-bin", "", "Exporter executable (default optimum-cli on PATH)")
	pf.String("log-level", "", "Log level: debug|info|warn|error")
	pf.String("log-format", "", "Log format: json|console")
	pf.Duration("lock-poll-interval", 0, "Interval between marker checks while another process exports")
	pf.Duration("lock-wait-timeout", 0, "Total time to wait for another process to finish exporting")

	root.Flags().String("addr", "", "HTTP listen address (default "+config.DefaultAddr+")")

	root.AddCommand(newServeCmd(a), newExportCmd(a), newStatusCmd(a), newVersionCmd())
	return root
}

// resolveConfig layers the config file, CLIPD_* environment, explicitly set
// flags and finally defaults, then validates the result.
func resolveConfig(path string, flags *pflag.FlagSet) (config.Config, error) {
	var cfg config.Config
	if path != "" {
		c, err := config.Load(path)
		if err != nil {
			return cfg, fmt.Errorf("load config %s: %w", path, err)
		}
		cfg = c
	}
	if err := config.ApplyEnv(&cfg); err != nil {
		return cfg, err
	}
	applyFlags(&cfg, flags)
	cfg.Defaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyFlags(cfg *config.Config, flags *pflag.FlagSet) {
	str := func(name string, dst *string) {
		if f := flags.Lookup(name); f != nil && f.Changed {
			*dst = f.Value.String()
		}
	}
	dur := func(name string, dst *config.Duration) {
		if f := flags.Lookup(name); f != nil && f.Changed {
			if d, err := flags.GetDuration(name); err == nil {
				*dst = config.Duration(d)
			}
		}
	}
	str("addr", &cfg.Addr)
	str("model-id", &cfg.ModelID)
	str("models-root", &cfg.ModelsRoot)
	str("device", &cfg.Device)
	str("fetcher", &cfg.Fetcher)
	str("mirror-dir", &cfg.MirrorDir)
	str("exporter-bin", &cfg.ExporterBin)
	str("log-level", &cfg.LogLevel)
	str("log-format", &cfg.LogFormat)
	dur("lock-poll-interval", &cfg.LockPollInterval)
	dur("lock-wait-timeout", &cfg.LockWaitTimeout)
}
