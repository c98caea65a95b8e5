package embedder

import (
	"os/exec"
	"time"

	"clipd/internal/modelstore"
	"clipd/internal/registry"
	"clipd/internal/runtime"
	"clipd/pkg/types"
)

// Health derives the readiness view from the lifecycle state.
func (e *Embedder) Health() Health {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h := Health{Ready: e.state == StateReady, State: e.state, EffectiveDevice: e.device}
	switch e.state {
	case StateReady:
		h.Detail = "model loaded"
	case StateFailed:
		h.Detail = e.err
	case StateLoading:
		h.Detail = "initialization in progress"
	default:
		h.Detail = "not initialized"
	}
	return h
}

// Status builds a detailed status response for /status.
func (e *Embedder) Status() types.StatusResponse {
	e.mu.RLock()
	resp := types.StatusResponse{
		State:           string(e.state),
		ModelID:         e.cfg.ModelID,
		LocalPath:       e.path,
		ExportOutcome:   string(e.outcome),
		RequestedDevice: e.cfg.Device,
		EffectiveDevice: e.device,
		Provider:        string(e.provider),
		TextSupported:   e.inputs[inputIDs] && e.tok != nil,
		LastError:       e.err,
		InitMillis:      e.initDur.Milliseconds(),
	}
	e.mu.RUnlock()
	resp.MarkerPresent = modelstore.HasMarker(e.path)
	resp.LockPresent = e.lock.Held()
	resp.PipelineState = string(e.pipeline.State())
	resp.QueueLen = len(e.queueCh)
	resp.Inflight = len(e.genCh)
	resp.MaxQueueDepth = cap(e.queueCh)
	resp.ImagesTotal = e.imagesTotal.Load()
	resp.TextsTotal = e.textsTotal.Load()
	resp.UptimeSeconds = int64(time.Since(e.startTime).Seconds())
	resp.ServerTimeUnix = time.Now().Unix()
	return resp
}

// SanityReport describes runtime checks for external dependencies.
type SanityReport struct {
	RuntimeBuilt  bool     `json:"runtime_built"`
	Providers     []string `json:"providers"`
	ExporterFound bool     `json:"exporter_found"`
	ExporterPath  string   `json:"exporter_path,omitempty"`
	Error         string   `json:"error,omitempty"`
}

// SanityCheck validates that the exporter binary and the runtime are available.
// Read-only; callable in any state.
func (e *Embedder) SanityCheck() SanityReport {
	r := SanityReport{RuntimeBuilt: runtime.Built()}
	for _, p := range e.cfg.Runtime.AvailableProviders() {
		r.Providers = append(r.Providers, string(p))
	}
	bin := e.cfg.ExporterBin
	if bin == "" {
		bin = runtime.DiscoverExporter()
	}
	if bin == "" {
		r.Error = "exporter not found"
		return r
	}
	path, err := exec.LookPath(bin)
	if err != nil {
		r.ExporterPath = bin
		r.Error = err.Error()
		return r
	}
	r.ExporterFound = true
	r.ExporterPath = path
	return r
}

// ListModels reports the model directories present under the store root.
func (e *Embedder) ListModels() []types.Model {
	models, err := registry.ScanRoot(e.cfg.Store.Root)
	if err != nil {
		e.log.Warn().Err(err).Str("root", e.cfg.Store.Root).Msg("scan models root")
		return nil
	}
	return models
}
