package e2e

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"clipd/internal/embedder"
	"clipd/internal/exportlock"
	"clipd/internal/httpapi"
	"clipd/internal/modelstore"
	"clipd/internal/registry"
	"clipd/internal/runtime"
)

const testModel = "openai/clip-vit-base-patch32"

// session returns fixed-width vectors for whichever modality is present and
// optionally blocks in Run until gate is closed.
type session struct {
	inputs  []string
	outputs []string
	prov    runtime.Provider
	gate    chan struct{}
	entered chan struct{}
}

func (s *session) Run(in map[string]runtime.Tensor) (map[string]runtime.Tensor, error) {
	if s.entered != nil {
		select {
		case s.entered <- struct{}{}:
		default:
		}
	}
	if s.gate != nil {
		<-s.gate
	}
	n := 1
	if t, ok := in["pixel_values"]; ok {
		n = int(t.Shape[0])
	} else if t, ok := in["input_ids"]; ok {
		n = int(t.Shape[0])
	}
	vec := func(tag float32) runtime.Tensor {
		v := make([]float32, n*4)
		for i := 0; i < n; i++ {
			v[i*4] = float32(i)
			v[i*4+1] = tag
		}
		return runtime.Tensor{Shape: []int64{int64(n), 4}, Float: v}
	}
	out := map[string]runtime.Tensor{"image_embeds": vec(1)}
	if _, ok := in["input_ids"]; ok {
		out["text_embeds"] = vec(2)
	}
	return out, nil
}
func (s *session) InputNames() []string          { return s.inputs }
func (s *session) OutputNames() []string         { return s.outputs }
func (s *session) Providers() []runtime.Provider { return []runtime.Provider{s.prov} }
func (s *session) Close() error                  { return nil }

type fakeRuntime struct {
	providers []runtime.Provider
	newSess   func(p runtime.Provider) *session
}

func (r *fakeRuntime) AvailableProviders() []runtime.Provider { return r.providers }

func (r *fakeRuntime) Load(path string, p runtime.Provider) (runtime.Session, error) {
	if !modelstore.HasMarker(path) {
		return nil, os.ErrNotExist
	}
	return r.newSess(p), nil
}

func clipRuntime() *fakeRuntime {
	return &fakeRuntime{
		providers: []runtime.Provider{runtime.ProviderCPU},
		newSess: func(p runtime.Provider) *session {
			return &session{
				inputs:  []string{"input_ids", "pixel_values", "attention_mask"},
				outputs: []string{"text_embeds", "image_embeds"},
				prov:    p,
			}
		},
	}
}

// countingConverter writes a dummy artifact after a short delay and counts calls
// across every embedder sharing it.
type countingConverter struct {
	delay time.Duration
	calls atomic.Int32
}

func (c *countingConverter) Convert(ctx context.Context, req runtime.ConvertRequest) error {
	c.calls.Add(1)
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	return os.WriteFile(filepath.Join(req.Output, "model.onnx"), []byte("onnx"), 0o644)
}

type tokenizer struct{}

func (tokenizer) Encode(text string) []int64 {
	ids := []int64{49406}
	for range text {
		ids = append(ids, 320)
	}
	return append(ids, 49407)
}
func (tokenizer) MaxLength() int { return 77 }
func (tokenizer) PadID() int64   { return 49407 }
func (tokenizer) Close() error   { return nil }

// mirror lays out a raw model under a local mirror the way the cache expects.
func mirror(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	dir, err := modelstore.EscapeModelID(testModel)
	if err != nil {
		t.Fatal(err)
	}
	p := filepath.Join(root, dir)
	if err := os.MkdirAll(p, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(p, "config.json"), []byte(`{"projection_dim":4}`), 0o644); err != nil {
		t.Fatal(err)
	}
	return root
}

type worker struct {
	emb *embedder.Embedder
	srv *httptest.Server
}

// newWorker builds an embedder over root served by a test HTTP server.
func newWorker(t *testing.T, root, mirrorDir string, rt *fakeRuntime, conv runtime.Converter, mutate func(*embedder.Config)) *worker {
	t.Helper()
	store, err := modelstore.New(root)
	if err != nil {
		t.Fatal(err)
	}
	cfg := embedder.Config{
		ModelID:       testModel,
		Store:         store,
		Device:        "auto",
		Runtime:       rt,
		Converter:     conv,
		Fetcher:       registry.DirFetcher{Root: mirrorDir},
		LoadTokenizer: func(string) (runtime.Tokenizer, error) { return tokenizer{}, nil },
		Waiter:        exportlock.Waiter{Interval: 10 * time.Millisecond, Deadline: 5 * time.Second},
		ImageSize:     8,
		Log:           zerolog.Nop(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	emb, err := embedder.New(cfg)
	if err != nil {
		t.Fatalf("embedder.New: %v", err)
	}
	srv := httptest.NewServer(httpapi.NewMux(emb))
	t.Cleanup(srv.Close)
	return &worker{emb: emb, srv: srv}
}

func writePNG(t *testing.T, dir string) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 10))
	for y := 0; y < 10; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 10), G: 80, B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	p := filepath.Join(dir, "img.png")
	if err := os.WriteFile(p, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func httpGet(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

func httpPostJSON(t *testing.T, url string, payload string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewBufferString(payload))
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

// parallel runs fn n times concurrently and waits for all of them.
func parallel(n int, fn func(i int)) {
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			fn(i)
		}(i)
	}
	wg.Wait()
}
