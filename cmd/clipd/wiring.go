package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"clipd/internal/config"
	"clipd/internal/embedder"
	"clipd/internal/exportlock"
	"clipd/internal/modelstore"
	"clipd/internal/registry"
	"clipd/internal/runtime"
)

// newLogger builds the process logger. Every line carries the pid so logs of
// concurrent workers sharing one cache can be told apart.
func newLogger(cfg config.Config, w io.Writer) zerolog.Logger {
	if cfg.LogFormat == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Int("pid", os.Getpid()).Logger()
}

func newFetcher(cfg config.Config, log zerolog.Logger) (registry.Fetcher, error) {
	switch cfg.Fetcher {
	case "hub":
		return registry.NewHubFetcher(registry.HubConfig{
			Endpoint: cfg.HubEndpoint,
			Revision: cfg.HubRevision,
			Token:    cfg.HubToken,
			Timeout:  cfg.HubTimeout.D(),
			Log:      log,
		}), nil
	case "s3":
		f, err := registry.NewS3Fetcher(registry.S3Config{
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			UseSSL:          cfg.S3UseSSL,
			Region:          cfg.S3Region,
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			Log:             log,
		})
		if err != nil {
			return nil, err
		}
		return f, nil
	case "dir":
		return registry.DirFetcher{Root: cfg.MirrorDir}, nil
	case "none":
		return registry.NoopFetcher{}, nil
	default:
		return nil, fmt.Errorf("unknown fetcher %q", cfg.Fetcher)
	}
}

func newConverter(cfg config.Config, log zerolog.Logger) *runtime.ExecConverter {
	bin := cfg.ExporterBin
	if bin == "" {
		bin = runtime.DiscoverExporter()
	}
	return &runtime.ExecConverter{Bin: bin, Args: cfg.ExporterArgs, Log: log}
}

// newEmbedder assembles the facade and its collaborators from cfg.
func newEmbedder(cfg config.Config, log zerolog.Logger) (*embedder.Embedder, error) {
	store, err := modelstore.New(cfg.ModelsRoot)
	if err != nil {
		return nil, err
	}
	fetcher, err := newFetcher(cfg, log)
	if err != nil {
		return nil, err
	}
	conv := newConverter(cfg, log)
	return embedder.New(embedder.Config{
		ModelID:       cfg.ModelID,
		Store:         store,
		Device:        cfg.Device,
		Runtime:       runtime.NewORTRuntime(cfg.OrtLibrary, cfg.ModelFile, log),
		Converter:     conv,
		Fetcher:       fetcher,
		LoadTokenizer: runtime.LoadTokenizer,
		Waiter: exportlock.Waiter{
			Interval: cfg.LockPollInterval.D(),
			Deadline: cfg.LockWaitTimeout.D(),
		},
		MaxQueueDepth: cfg.MaxQueueDepth,
		MaxWait:       cfg.MaxWait.D(),
		ExporterBin:   conv.Bin,
		Publisher:     embedder.LogPublisher{Log: log},
		Log:           log,
	})
}
