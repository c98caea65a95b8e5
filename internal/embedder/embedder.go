package embedder

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"clipd/internal/export"
	"clipd/internal/exportlock"
	"clipd/internal/runtime"
)

// Embedder owns the lifecycle of one model in this process.
type Embedder struct {
	cfg  Config
	log  zerolog.Logger
	path string

	lock     exportlock.Lock
	pipeline *export.Pipeline
	coord    *export.Coordinator

	sf singleflight.Group

	mu       sync.RWMutex
	state    State
	sess     runtime.Session
	tok      runtime.Tokenizer
	inputs   map[string]bool
	outputs  []string
	provider runtime.Provider
	device   string
	outcome  export.Outcome
	err      string
	initDur  time.Duration
	closes   uint64

	// Admission: single in-flight run, bounded queue.
	genCh   chan struct{}
	queueCh chan struct{}

	imagesTotal atomic.Uint64
	textsTotal  atomic.Uint64
	startTime   time.Time
}

// New constructs an uninitialized Embedder. It does no I/O beyond resolving
// the local model path.
func New(cfg Config) (*Embedder, error) {
	if cfg.ModelID == "" {
		return nil, errors.New("model id is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("model store is required")
	}
	if cfg.Runtime == nil {
		return nil, errors.New("runtime is required")
	}
	cfg.applyDefaults()
	path, err := cfg.Store.Path(cfg.ModelID)
	if err != nil {
		return nil, err
	}
	log := cfg.Log.With().Str("component", "embedder").Str("model", cfg.ModelID).Logger()
	lock := cfg.Lock
	if lock == nil {
		lock = exportlock.NewFileLock(cfg.Store.LockPath())
	}
	waiter := cfg.Waiter
	waiter.Log = log
	p := &export.Pipeline{
		Fetcher:   cfg.Fetcher,
		Converter: cfg.Converter,
		Providers: cfg.Runtime.AvailableProviders,
		Device:    cfg.Device,
		Log:       log,
	}
	e := &Embedder{
		cfg:      cfg,
		log:      log,
		path:     path,
		lock:     lock,
		pipeline: p,
		coord:    &export.Coordinator{Lock: lock, Waiter: waiter, Pipeline: p, Log: log},
		state:    StateUninitialized,
		genCh:    make(chan struct{}, 1),
		queueCh:  make(chan struct{}, cfg.MaxQueueDepth),
	}
	e.startTime = time.Now()
	return e, nil
}

// ModelID returns the configured model identifier.
func (e *Embedder) ModelID() string { return e.cfg.ModelID }

// LocalPath returns the local model directory.
func (e *Embedder) LocalPath() string { return e.path }

// State returns the lifecycle state.
func (e *Embedder) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Ready reports whether embedding calls can be served.
func (e *Embedder) Ready() bool { return e.State() == StateReady }

// EffectiveDevice is the device of the loaded session, empty until ready.
func (e *Embedder) EffectiveDevice() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.device
}

// TextSupported reports whether the loaded model can embed text.
func (e *Embedder) TextSupported() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.inputs["input_ids"] && e.tok != nil
}

// SetEventPublisher replaces the event sink; nil restores the no-op default.
func (e *Embedder) SetEventPublisher(p EventPublisher) {
	if p == nil {
		p = noopPublisher{}
	}
	e.mu.Lock()
	e.cfg.Publisher = p
	e.mu.Unlock()
}

func (e *Embedder) publish(name string, fields map[string]any) {
	e.mu.RLock()
	p := e.cfg.Publisher
	e.mu.RUnlock()
	p.Publish(Event{Name: name, ModelID: e.cfg.ModelID, Fields: fields})
}

// Close releases the session and tokenizer. The embedder returns to
// uninitialized; an Initialize still in flight discards what it loads.
func (e *Embedder) Close() error {
	// Wait for the in-flight run, if any.
	e.genCh <- struct{}{}
	defer func() { <-e.genCh }()
	e.mu.Lock()
	sess, tok := e.sess, e.tok
	e.sess, e.tok = nil, nil
	e.inputs, e.outputs = nil, nil
	e.device, e.provider = "", ""
	e.state = StateUninitialized
	e.closes++
	e.mu.Unlock()
	var errs []error
	if tok != nil {
		errs = append(errs, tok.Close())
	}
	if sess != nil {
		errs = append(errs, sess.Close())
	}
	return errors.Join(errs...)
}
