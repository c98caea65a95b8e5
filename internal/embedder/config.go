package embedder

import (
	"time"

	"github.com/rs/zerolog"

	"clipd/internal/exportlock"
	"clipd/internal/imageproc"
	"clipd/internal/modelstore"
	"clipd/internal/registry"
	"clipd/internal/runtime"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultMaxQueueDepth = 32
	defaultMaxWait       = 30 * time.Second
	defaultDevice        = "cuda"
)

// TokenizerLoader opens the tokenizer stored next to the artifact. A nil
// tokenizer with a nil error means the model ships none.
type TokenizerLoader func(dir string) (runtime.Tokenizer, error)

// Config encapsulates all collaborators and tunables for Embedder construction.
type Config struct {
	ModelID string
	Store   *modelstore.Store
	// Device is the requested device: "cuda", "cpu", anything else means auto.
	Device string

	Runtime       runtime.Runtime
	Converter     runtime.Converter
	Fetcher       registry.Fetcher
	LoadTokenizer TokenizerLoader
	// Lock defaults to the file lock under the store root.
	Lock exportlock.Lock
	// Waiter controls the follower poll (interval, deadline, sleep).
	Waiter exportlock.Waiter

	ImageSize     int
	MaxQueueDepth int
	MaxWait       time.Duration
	// ExporterBin is reported by SanityCheck.
	ExporterBin string

	Publisher EventPublisher
	Log       zerolog.Logger
}

func (c *Config) applyDefaults() {
	if c.MaxQueueDepth <= 0 {
		c.MaxQueueDepth = defaultMaxQueueDepth
	}
	if c.MaxWait <= 0 {
		c.MaxWait = defaultMaxWait
	}
	if c.ImageSize <= 0 {
		c.ImageSize = imageproc.Size
	}
	if c.Device == "" {
		c.Device = defaultDevice
	}
	if c.Publisher == nil {
		c.Publisher = noopPublisher{}
	}
}
