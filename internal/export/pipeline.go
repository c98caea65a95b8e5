// Package export converts a fetched model into the ONNX artifact exactly once
// across processes: a global exclusive lock elects one exporter, the others
// wait for its success marker.
package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"clipd/internal/common/fsutil"
	"clipd/internal/modelstore"
	"clipd/internal/registry"
	"clipd/internal/runtime"
)

// State is the conversion pipeline state.
type State string

const (
	StateNotStarted      State = "not_started"
	StateRawFetchPending State = "raw_fetch_pending"
	StateRawReady        State = "raw_ready"
	StateConverting      State = "converting"
	StateConverted       State = "converted"
	StateFailed          State = "failed"
)

// Pipeline fetches raw artifacts and converts them, with a CUDA to CPU fallback.
type Pipeline struct {
	Fetcher   registry.Fetcher
	Converter runtime.Converter
	// Providers reports what the runtime can execute with.
	Providers func() []runtime.Provider
	// Device is the requested device ("cuda", "cpu", ...).
	Device string
	Log    zerolog.Logger
	// Now is injectable for provenance notes.
	Now func() time.Time

	mu       sync.Mutex
	state    State
	provider runtime.Provider
}

// State returns the current pipeline state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == "" {
		return StateNotStarted
	}
	return p.state
}

// Provider returns the provider of the last successful conversion run by this process.
func (p *Pipeline) Provider() runtime.Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.provider
}

func (p *Pipeline) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// MarkConverted records that the artifact is known good without running a conversion.
func (p *Pipeline) MarkConverted() { p.setState(StateConverted) }

// EnsureRaw fetches raw artifacts into path when it is missing or empty.
func (p *Pipeline) EnsureRaw(ctx context.Context, modelID, path string) (bool, error) {
	p.setState(StateRawFetchPending)
	fetched, err := registry.EnsureRaw(ctx, p.Fetcher, modelID, path, p.Log)
	if err != nil {
		p.setState(StateFailed)
		return false, err
	}
	p.setState(StateRawReady)
	return fetched, nil
}

// Convert runs the export under the selected provider and, when that was
// CUDA and it failed, once more under CPU. It succeeds only if a marker exists
// afterwards.
func (p *Pipeline) Convert(ctx context.Context, modelID, path string) (runtime.Provider, error) {
	p.setState(StateConverting)
	var available []runtime.Provider
	if p.Providers != nil {
		available = p.Providers()
	}
	prov, err := SelectProvider(p.Device, available, p.Log)
	if err != nil {
		p.setState(StateFailed)
		return "", err
	}
	var errs []error
	err = p.convertAndPersist(ctx, modelID, path, prov)
	if err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", prov, err))
		if prov == runtime.ProviderCUDA && runtime.Contains(available, runtime.ProviderCPU) && ctx.Err() == nil {
			p.Log.Warn().Err(err).Str("model", modelID).Msg("cuda export failed; retrying with cpu")
			prov = runtime.ProviderCPU
			if err = p.convertAndPersist(ctx, modelID, path, prov); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", prov, err))
			}
		}
	}
	if err != nil || !modelstore.HasMarker(path) {
		p.setState(StateFailed)
		p.Log.Error().Errs("attempts", errs).Str("model", modelID).Msg("export failed")
		return "", &conversionFailedError{modelID: modelID, errs: errs}
	}
	p.mu.Lock()
	p.state = StateConverted
	p.provider = prov
	p.mu.Unlock()
	return prov, nil
}

// convertAndPersist exports into a staging dir, moves the result into path
// and writes the success marker last.
func (p *Pipeline) convertAndPersist(ctx context.Context, modelID, path string, prov runtime.Provider) (err error) {
	if p.Converter == nil {
		return errors.New("no converter configured")
	}
	start := time.Now()
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
		}
		exportAttempts.WithLabelValues(string(prov), result).Inc()
	}()
	staging := filepath.Join(path, fmt.Sprintf(".export-%d", os.Getpid()))
	if err := os.RemoveAll(staging); err != nil {
		return err
	}
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return err
	}
	defer func() { _ = os.RemoveAll(staging) }()

	p.Log.Info().Str("model", modelID).Str("provider", string(prov)).Msg("export start")
	req := runtime.ConvertRequest{ModelID: modelID, Source: path, Output: staging, Provider: prov}
	if err := p.Converter.Convert(ctx, req); err != nil {
		return err
	}
	if ok, err := fsutil.DirNonEmpty(staging); err != nil || !ok {
		return fmt.Errorf("exporter produced no files in %s", staging)
	}
	if err := fsutil.MoveContents(staging, path); err != nil {
		return fmt.Errorf("persist artifact: %w", err)
	}
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	if err := modelstore.WriteMarker(path, modelstore.ProvenanceNote(string(prov), now())); err != nil {
		return err
	}
	p.Log.Info().Str("model", modelID).Str("provider", string(prov)).Dur("dur", time.Since(start)).Msg("export done")
	return nil
}
