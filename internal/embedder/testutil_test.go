package embedder

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"clipd/internal/exportlock"
	"clipd/internal/modelstore"
	"clipd/internal/runtime"
)

const testModel = "openai/clip-test"

var bothProviders = []runtime.Provider{runtime.ProviderCUDA, runtime.ProviderCPU}

type fakeSession struct {
	inputs  []string
	outputs []string
	provs   []runtime.Provider
	out     func(in map[string]runtime.Tensor) map[string]runtime.Tensor

	mu     sync.Mutex
	runs   int
	last   map[string]runtime.Tensor
	closed bool
}

func (s *fakeSession) Run(in map[string]runtime.Tensor) (map[string]runtime.Tensor, error) {
	s.mu.Lock()
	s.runs++
	s.last = in
	s.mu.Unlock()
	return s.out(in), nil
}
func (s *fakeSession) InputNames() []string          { return s.inputs }
func (s *fakeSession) OutputNames() []string         { return s.outputs }
func (s *fakeSession) Providers() []runtime.Provider { return s.provs }
func (s *fakeSession) Close() error                  { s.closed = true; return nil }

func (s *fakeSession) lastInputs() map[string]runtime.Tensor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *fakeSession) runCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

// batchOf infers n from whichever input is present.
func batchOf(in map[string]runtime.Tensor) int {
	if t, ok := in["pixel_values"]; ok {
		return int(t.Shape[0])
	}
	return int(in["input_ids"].Shape[0])
}

func vectors(n, d int, tag float32) runtime.Tensor {
	v := make([]float32, n*d)
	for i := 0; i < n; i++ {
		v[i*d] = float32(i)
		v[i*d+1] = tag
	}
	return runtime.Tensor{Shape: []int64{int64(n), int64(d)}, Float: v}
}

// clipSession mimics a joint CLIP graph.
func clipSession() *fakeSession {
	return &fakeSession{
		inputs:  []string{"input_ids", "pixel_values", "attention_mask"},
		outputs: []string{"logits_per_image", "logits_per_text", "text_embeds", "image_embeds"},
		out: func(in map[string]runtime.Tensor) map[string]runtime.Tensor {
			n := batchOf(in)
			return map[string]runtime.Tensor{"image_embeds": vectors(n, 4, 1), "text_embeds": vectors(n, 4, 2)}
		},
	}
}

// visionSession mimics a vision-only export.
func visionSession() *fakeSession {
	return &fakeSession{
		inputs:  []string{"pixel_values"},
		outputs: []string{"image_embeds"},
		out: func(in map[string]runtime.Tensor) map[string]runtime.Tensor {
			return map[string]runtime.Tensor{"image_embeds": vectors(batchOf(in), 4, 1)}
		},
	}
}

type fakeRuntime struct {
	providers []runtime.Provider
	loadErr   map[runtime.Provider]error
	newSess   func() *fakeSession

	mu    sync.Mutex
	loads []runtime.Provider
	sess  *fakeSession
}

func (r *fakeRuntime) AvailableProviders() []runtime.Provider { return r.providers }

func (r *fakeRuntime) Load(path string, p runtime.Provider) (runtime.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loads = append(r.loads, p)
	if !modelstore.HasMarker(path) {
		return nil, errors.New("load before marker")
	}
	if err := r.loadErr[p]; err != nil {
		return nil, err
	}
	s := r.newSess()
	if s.provs == nil {
		s.provs = []runtime.Provider{p}
	}
	r.sess = s
	return s, nil
}

func (r *fakeRuntime) loadCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.loads)
}

type fakeConverter struct {
	failOn map[runtime.Provider]error
	calls  atomic.Int32
}

func (c *fakeConverter) Convert(ctx context.Context, req runtime.ConvertRequest) error {
	c.calls.Add(1)
	if err := c.failOn[req.Provider]; err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(req.Output, "model.onnx"), []byte("onnx"), 0o644)
}

type fakeFetcher struct{ calls atomic.Int32 }

func (f *fakeFetcher) Fetch(ctx context.Context, modelID, dest string) error {
	f.calls.Add(1)
	return os.WriteFile(filepath.Join(dest, "config.json"), []byte("{}"), 0o644)
}

type fakeTokenizer struct{}

func (fakeTokenizer) Encode(text string) []int64 {
	ids := []int64{49406}
	for range text {
		ids = append(ids, 320)
	}
	return append(ids, 49407)
}
func (fakeTokenizer) MaxLength() int { return 77 }
func (fakeTokenizer) PadID() int64   { return 49407 }
func (fakeTokenizer) Close() error   { return nil }

func loadFakeTokenizer(dir string) (runtime.Tokenizer, error) { return fakeTokenizer{}, nil }

type harness struct {
	e    *Embedder
	rt   *fakeRuntime
	conv *fakeConverter
	fet  *fakeFetcher
	pub  *MemoryPublisher
	root string
}

func newHarness(t *testing.T, mutate func(*Config, *fakeRuntime)) *harness {
	t.Helper()
	root := t.TempDir()
	store, err := modelstore.New(root)
	if err != nil {
		t.Fatal(err)
	}
	h := &harness{
		rt:   &fakeRuntime{providers: bothProviders, newSess: clipSession},
		conv: &fakeConverter{},
		fet:  &fakeFetcher{},
		pub:  NewMemoryPublisher(),
		root: root,
	}
	cfg := Config{
		ModelID:       testModel,
		Store:         store,
		Device:        "cuda",
		Runtime:       h.rt,
		Converter:     h.conv,
		Fetcher:       h.fet,
		LoadTokenizer: loadFakeTokenizer,
		Waiter: exportlock.Waiter{Sleep: func(ctx context.Context, d time.Duration) error {
			return nil
		}},
		ImageSize: 8,
		Publisher: h.pub,
		Log:       zerolog.Nop(),
	}
	if mutate != nil {
		mutate(&cfg, h.rt)
	}
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.e = e
	return h
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 10), G: uint8(y * 10), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func writeImage(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "img.png")
	if err := os.WriteFile(p, pngBytes(t, 16, 10), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}
