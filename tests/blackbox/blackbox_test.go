package blackbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"sync"
	"testing"
	"time"
)

const modelID = "openai/clip-vit-base-patch32"

// escapedModelDir mirrors the cache layout for modelID.
const escapedModelDir = "openai_--_clip-vit-base-patch32"

// exporterScript stands in for the real exporter: it records each run, takes
// a moment, then writes an artifact into the output directory.
const exporterScript = `#!/bin/sh
set -e
out="$1"
echo "$$" >> "$CLIPD_TEST_EXPORT_LOG"
sleep 0.3
printf onnx > "$out/model.onnx"
`

// findFreePort picks an available TCP port on localhost.
func findFreePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func projectRootFromThisFile(t *testing.T) string {
	t.Helper()
	_, thisFile, _, ok := goruntime.Caller(0)
	if !ok {
		t.Fatal("runtime.Caller failed")
	}
	// this file: <root>/tests/blackbox/blackbox_test.go
	return filepath.Dir(filepath.Dir(filepath.Dir(thisFile)))
}

func buildBinary(t *testing.T) string {
	t.Helper()
	if goruntime.GOOS == "windows" {
		t.Skip("shell exporter requires a POSIX shell")
	}
	root := projectRootFromThisFile(t)
	binPath := filepath.Join(t.TempDir(), "clipd")
	cmd := exec.Command("go", "build", "-o", binPath, "./cmd/clipd")
	cmd.Dir = root
	cmd.Env = append(os.Environ(), "CGO_ENABLED=0")
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("go build failed: %v\n%s", err, string(out))
	}
	return binPath
}

// fixture is one shared cache plus the mirror and exporter it is fed from.
type fixture struct {
	bin       string
	root      string
	exportLog string
	env       []string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	bin := buildBinary(t)
	work := t.TempDir()
	mirror := filepath.Join(work, "mirror")
	if err := os.MkdirAll(filepath.Join(mirror, escapedModelDir), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(mirror, escapedModelDir, "config.json"), []byte(`{}`), 0o644); err != nil {
		t.Fatal(err)
	}
	script := filepath.Join(work, "exporter.sh")
	if err := os.WriteFile(script, []byte(exporterScript), 0o755); err != nil {
		t.Fatal(err)
	}
	f := &fixture{
		bin:       bin,
		root:      filepath.Join(work, "models"),
		exportLog: filepath.Join(work, "exports.log"),
	}
	f.env = append(os.Environ(),
		"CLIPD_MODEL_ID="+modelID,
		"CLIPD_MODELS_ROOT="+f.root,
		"CLIPD_FETCHER=dir",
		"CLIPD_MIRROR_DIR="+mirror,
		"CLIPD_DEVICE=cpu",
		"CLIPD_EXPORTER_BIN="+script,
		"CLIPD_EXPORTER_ARGS={output}",
		"CLIPD_LOCK_POLL_INTERVAL=50ms",
		"CLIPD_LOCK_WAIT_TIMEOUT=30s",
		"CLIPD_LOG_FORMAT=console",
		"CLIPD_TEST_EXPORT_LOG="+f.exportLog,
	)
	return f
}

func (f *fixture) run(t *testing.T, args ...string) ([]byte, error) {
	t.Helper()
	cmd := exec.Command(f.bin, args...)
	cmd.Env = f.env
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err != nil {
		t.Logf("clipd %v stderr:\n%s", args, stderr.String())
	}
	return stdout.Bytes(), err
}

func (f *fixture) exportCount(t *testing.T) int {
	t.Helper()
	b, err := os.ReadFile(f.exportLog)
	if os.IsNotExist(err) {
		return 0
	}
	if err != nil {
		t.Fatal(err)
	}
	return len(strings.Fields(string(b)))
}

type exportResult struct {
	Outcome string `json:"outcome"`
	Marker  string `json:"marker"`
}

func TestBlackbox_ConcurrentExportRunsOnce(t *testing.T) {
	f := newFixture(t)
	const n = 5
	outs := make([][]byte, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cmd := exec.Command(f.bin, "export")
			cmd.Env = f.env
			var stderr bytes.Buffer
			cmd.Stderr = &stderr
			outs[i], errs[i] = cmd.Output()
			if errs[i] != nil {
				errs[i] = fmt.Errorf("%w: %s", errs[i], stderr.String())
			}
		}(i)
	}
	wg.Wait()

	outcomes := map[string]int{}
	for i := range outs {
		if errs[i] != nil {
			t.Fatalf("export %d: %v", i, errs[i])
		}
		var res exportResult
		if err := json.Unmarshal(outs[i], &res); err != nil {
			t.Fatalf("export %d output: %v %q", i, err, outs[i])
		}
		if res.Marker == "" {
			t.Fatalf("export %d: marker missing in %q", i, outs[i])
		}
		outcomes[res.Outcome]++
	}
	if got := f.exportCount(t); got != 1 {
		t.Fatalf("exporter ran %d times, want 1", got)
	}
	if outcomes["exported"] != 1 {
		t.Fatalf("outcomes: %v", outcomes)
	}
	if _, err := os.Stat(filepath.Join(f.root, ".export_lock")); !os.IsNotExist(err) {
		t.Fatalf("export lock left behind: %v", err)
	}
	if b, err := os.ReadFile(filepath.Join(f.root, escapedModelDir, "model.onnx")); err != nil || string(b) != "onnx" {
		t.Fatalf("artifact: %q %v", b, err)
	}

	// A later export finds the marker and does nothing.
	out, err := f.run(t, "export")
	if err != nil {
		t.Fatalf("second export: %v", err)
	}
	var res exportResult
	_ = json.Unmarshal(out, &res)
	if res.Outcome != "skipped" || f.exportCount(t) != 1 {
		t.Fatalf("second export: %s (exporter runs %d)", out, f.exportCount(t))
	}

	// --force drops the marker and exports again.
	if _, err := f.run(t, "export", "--force"); err != nil {
		t.Fatalf("forced export: %v", err)
	}
	if got := f.exportCount(t); got != 2 {
		t.Fatalf("forced export: exporter runs %d, want 2", got)
	}
}

func TestBlackbox_StatusReportsCache(t *testing.T) {
	f := newFixture(t)
	if _, err := f.run(t, "export"); err != nil {
		t.Fatalf("export: %v", err)
	}
	out, err := f.run(t, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var st struct {
		ModelID  string `json:"model_id"`
		Exported bool   `json:"exported"`
		LockHeld bool   `json:"lock_held"`
		Models   []struct {
			ID       string `json:"id"`
			Exported bool   `json:"exported"`
		} `json:"models"`
	}
	if err := json.Unmarshal(out, &st); err != nil {
		t.Fatalf("status json: %v %q", err, out)
	}
	if st.ModelID != modelID || !st.Exported || st.LockHeld {
		t.Fatalf("status: %s", out)
	}
	if len(st.Models) != 1 || st.Models[0].ID != modelID || !st.Models[0].Exported {
		t.Fatalf("models: %s", out)
	}
}

func TestBlackbox_VersionSkipsConfig(t *testing.T) {
	f := newFixture(t)
	f.env = append(f.env, "CLIPD_FETCHER=bogus")
	out, err := f.run(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(string(out), "clipd ") {
		t.Fatalf("version output: %q", out)
	}
	if _, err := f.run(t, "status"); err == nil {
		t.Fatalf("status must reject an invalid fetcher")
	}
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	b, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, b
}

// TestBlackbox_ServeWithoutRuntime runs serve from a binary built without the
// onnx tag: export still happens, loading cannot, and the API says so.
func TestBlackbox_ServeWithoutRuntime(t *testing.T) {
	f := newFixture(t)
	port := findFreePort(t)
	base := fmt.Sprintf("http://127.0.0.1:%d", port)
	cmd := exec.Command(f.bin, "serve", "--addr", fmt.Sprintf("127.0.0.1:%d", port))
	cmd.Env = f.env
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}
	t.Cleanup(func() { _ = cmd.Process.Kill(); _, _ = cmd.Process.Wait() })

	deadline := time.Now().Add(10 * time.Second)
	for {
		resp, err := http.Get(base + "/healthz")
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("server did not come up in time")
		}
		time.Sleep(50 * time.Millisecond)
	}

	var health struct {
		Status string `json:"status"`
		Ready  bool   `json:"ready"`
		Detail string `json:"detail"`
	}
	for {
		resp, body := get(t, base+"/health")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("/health %d %s", resp.StatusCode, body)
		}
		if err := json.Unmarshal(body, &health); err != nil {
			t.Fatalf("/health json: %v %s", err, body)
		}
		if health.Status == "error" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("initialization did not settle: %s", body)
		}
		time.Sleep(50 * time.Millisecond)
	}
	if health.Ready || health.Detail == "" {
		t.Fatalf("health: %+v", health)
	}
	if f.exportCount(t) != 1 {
		t.Fatalf("serve should have exported once, got %d", f.exportCount(t))
	}
	if resp, _ := get(t, base+"/readyz"); resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("/readyz: %d", resp.StatusCode)
	}
	req, _ := http.NewRequest(http.MethodPost, base+"/get_text_embedding", strings.NewReader(`{"text":"hi"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("embed without runtime: %d", resp.StatusCode)
	}
	resp, body := get(t, base+"/metrics")
	if resp.StatusCode != http.StatusOK || !bytes.Contains(body, []byte("clipd_export_attempts_total")) {
		t.Fatalf("/metrics missing export counter")
	}
}
