package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"clipd/internal/httpapi"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Initialize the embedder in the background and serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), a)
		},
	}
	cmd.Flags().String("addr", "", "HTTP listen address (default 127.0.0.1:8008)")
	return cmd
}

func runServe(parent context.Context, a *app) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := a.cfg
	emb, err := newEmbedder(cfg, a.log)
	if err != nil {
		return err
	}
	defer func() {
		if err := emb.Close(); err != nil {
			a.log.Warn().Err(err).Msg("close embedder")
		}
	}()

	httpapi.SetLogger(a.log.With().Str("component", "http").Logger())
	if cfg.HTTPLogLevel != "" {
		httpapi.SetRequestLogLevel(cfg.HTTPLogLevel)
	}
	httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
	httpapi.SetMaxUploadBytes(cfg.MaxUploadBytes)
	httpapi.SetRequestTimeoutSeconds(int64(cfg.RequestTimeout.D() / time.Second))
	httpapi.SetCORSOptions(cfg.CORSEnabled, cfg.CORSOrigins, cfg.CORSMethods, cfg.CORSHeaders)
	httpapi.SetBaseContext(ctx)

	// Requests arriving before initialization completes get 503.
	go func() {
		if err := emb.Initialize(ctx); err != nil {
			a.log.Error().Err(err).Msg("embedder not ready")
		}
	}()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewMux(emb),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", cfg.Addr).Str("model", cfg.ModelID).Str("root", cfg.ModelsRoot).Msg("clipd listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	a.log.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout.D())
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		a.log.Warn().Err(err).Msg("graceful shutdown error")
	}
	return nil
}
