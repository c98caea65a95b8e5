package embedder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"clipd/internal/export"
	"clipd/internal/runtime"
)

// Initialize runs the one-time setup: fetch raw artifacts, make sure the model
// is exported (by this process or another one), load it and record the device
// actually obtained. Concurrent calls share one run; once ready further calls
// return immediately. Any failure leaves the embedder in StateFailed with the
// error recorded, and a later call retries from the start.
func (e *Embedder) Initialize(ctx context.Context) error {
	if e.Ready() {
		return nil
	}
	_, err, _ := e.sf.Do("init", func() (any, error) {
		if e.Ready() {
			return nil, nil
		}
		return nil, e.initialize(ctx)
	})
	return err
}

var errClosed = errors.New("embedder closed during initialization")

func (e *Embedder) initialize(ctx context.Context) error {
	start := time.Now()
	e.mu.Lock()
	epoch := e.closes
	e.state, e.err = StateLoading, ""
	e.mu.Unlock()
	e.publish(EventInitStart, map[string]any{"path": e.path, "device": e.cfg.Device})

	outcome, err := e.prepare(ctx)
	if err != nil {
		return e.fail(epoch, err)
	}

	sess, err := e.load()
	if err != nil {
		return e.fail(epoch, err)
	}
	inputs := make(map[string]bool)
	for _, n := range sess.InputNames() {
		inputs[n] = true
	}
	var tok runtime.Tokenizer
	if inputs["input_ids"] && e.cfg.LoadTokenizer != nil {
		tok, err = e.cfg.LoadTokenizer(e.path)
		if err != nil {
			e.log.Warn().Err(err).Msg("tokenizer unavailable; text embedding disabled")
			tok = nil
		}
	}
	device := effectiveDevice(sess.Providers())

	e.mu.Lock()
	if e.closes != epoch {
		e.mu.Unlock()
		if tok != nil {
			_ = tok.Close()
		}
		_ = sess.Close()
		e.log.Warn().Msg("embedder closed during initialization; session discarded")
		return fmt.Errorf("initialize %s: %w", e.cfg.ModelID, errClosed)
	}
	e.sess = sess
	e.tok = tok
	e.inputs = inputs
	e.outputs = sess.OutputNames()
	e.provider = runtime.ProviderCPU
	if device == "cuda" {
		e.provider = runtime.ProviderCUDA
	}
	e.device = device
	e.outcome = outcome
	e.initDur = time.Since(start)
	e.state = StateReady
	e.err = ""
	e.mu.Unlock()

	e.log.Info().Str("effective_device", device).Strs("inputs", sess.InputNames()).Strs("outputs", sess.OutputNames()).
		Bool("text", tok != nil && inputs["input_ids"]).Dur("dur", time.Since(start)).Msg("embedder ready")
	e.publish(EventLoadReady, map[string]any{"effective_device": device})
	return nil
}

// Prepare fetches the raw artifacts and makes sure the exported model is on
// disk without loading it. The facade state is left untouched.
func (e *Embedder) Prepare(ctx context.Context) (export.Outcome, error) {
	return e.prepare(ctx)
}

func (e *Embedder) prepare(ctx context.Context) (export.Outcome, error) {
	fetched, err := e.pipeline.EnsureRaw(ctx, e.cfg.ModelID, e.path)
	if err != nil {
		return "", err
	}
	if fetched {
		e.publish(EventFetchDone, nil)
	}
	outcome, err := e.coord.Ensure(ctx, e.cfg.ModelID, e.path)
	if err != nil {
		return "", err
	}
	switch outcome {
	case export.OutcomeSkipped:
		e.publish(EventExportSkipped, nil)
	case export.OutcomeExported:
		e.publish(EventExportDone, map[string]any{"provider": string(e.pipeline.Provider())})
	case export.OutcomeWaited:
		e.publish(EventExportWaited, nil)
	}
	return outcome, nil
}

// load opens the converted artifact, preferring the selected provider and
// degrading from CUDA to CPU when that load fails.
func (e *Embedder) load() (runtime.Session, error) {
	available := e.cfg.Runtime.AvailableProviders()
	prov, err := export.SelectProvider(e.cfg.Device, available, e.log)
	if err != nil {
		return nil, &loadFailedError{path: e.path, err: err}
	}
	sess, err := e.cfg.Runtime.Load(e.path, prov)
	if err != nil && prov == runtime.ProviderCUDA && runtime.Contains(available, runtime.ProviderCPU) {
		e.log.Warn().Err(err).Msg("cuda load failed; retrying with cpu")
		e.publish(EventLoadFallbackCPU, map[string]any{"error": err.Error()})
		sess, err = e.cfg.Runtime.Load(e.path, runtime.ProviderCPU)
	}
	if err != nil {
		return nil, &loadFailedError{path: e.path, err: err}
	}
	return sess, nil
}

func effectiveDevice(ps []runtime.Provider) string {
	if runtime.Contains(ps, runtime.ProviderCUDA) {
		return runtime.ProviderCUDA.Device()
	}
	return runtime.ProviderCPU.Device()
}

// fail records err unless Close ran since the attempt started.
func (e *Embedder) fail(epoch uint64, err error) error {
	e.mu.Lock()
	if e.closes == epoch {
		e.state, e.err = StateFailed, err.Error()
	}
	e.mu.Unlock()
	e.log.Error().Err(err).Msg("embedder initialization failed")
	e.publish(EventInitFailed, map[string]any{"error": err.Error()})
	return fmt.Errorf("initialize %s: %w", e.cfg.ModelID, err)
}
