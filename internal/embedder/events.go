package embedder

import "github.com/rs/zerolog"

// Event represents a facade lifecycle event.
// Minimal and stable: name + model ID and optional fields via key/values.
type Event struct {
	Name    string
	ModelID string
	Fields  map[string]any
}

// Event names.
const (
	EventInitStart       = "init_start"
	EventFetchDone       = "fetch_done"
	EventExportSkipped   = "export_skipped"
	EventExportDone      = "export_done"
	EventExportWaited    = "export_waited"
	EventLoadFallbackCPU = "load_fallback_cpu"
	EventLoadReady       = "load_ready"
	EventInitFailed      = "init_failed"
)

// EventPublisher receives events from the embedder. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

// LogPublisher writes events to a zerolog logger.
type LogPublisher struct {
	Log zerolog.Logger
}

func (p LogPublisher) Publish(e Event) {
	ev := p.Log.Info().Str("event", e.Name).Str("model", e.ModelID)
	if len(e.Fields) > 0 {
		ev = ev.Fields(e.Fields)
	}
	ev.Msg("embedder event")
}
