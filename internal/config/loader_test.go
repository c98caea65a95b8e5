package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.yaml", "addr: :9999\nmodel_id: openai/clip\nmodels_root: /tmp/m\ndevice: cpu\nlock_poll_interval: 2s\nlock_wait_timeout: 1m\ncors_origins: [\"*\"]\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9999" || cfg.ModelID != "openai/clip" || cfg.ModelsRoot != "/tmp/m" || cfg.Device != "cpu" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if cfg.LockPollInterval.D() != 2*time.Second || cfg.LockWaitTimeout.D() != time.Minute {
		t.Fatalf("durations: %v %v", cfg.LockPollInterval.D(), cfg.LockWaitTimeout.D())
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "*" {
		t.Fatalf("cors: %v", cfg.CORSOrigins)
	}
}

func TestLoadJSON(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.json", `{"addr":":7070","model_id":"m2","fetcher":"s3","s3_bucket":"b","max_wait":"45s","max_queue_depth":4}`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":7070" || cfg.ModelID != "m2" || cfg.Fetcher != "s3" || cfg.S3Bucket != "b" || cfg.MaxQueueDepth != 4 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if cfg.MaxWait.D() != 45*time.Second {
		t.Fatalf("max_wait: %v", cfg.MaxWait.D())
	}
}

func TestLoadTOML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.toml", "addr=\":8081\"\nmodel_id=\"m3\"\nfetcher=\"dir\"\nmirror_dir=\"/mirror\"\nrequest_timeout=\"30s\"\nexporter_args=[\"export\",\"onnx\"]\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8081" || cfg.ModelID != "m3" || cfg.MirrorDir != "/mirror" || cfg.RequestTimeout.D() != 30*time.Second {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if len(cfg.ExporterArgs) != 2 {
		t.Fatalf("exporter args: %v", cfg.ExporterArgs)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error on empty path")
	}
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.txt", "not supported")
	if _, err := Load(p); err == nil {
		t.Fatalf("expected unsupported extension error")
	}
	p = writeTempFile(t, d, "bad-dur.json", `{"max_wait":"soon"}`)
	if _, err := Load(p); err == nil {
		t.Fatalf("expected duration parse error")
	}
}

func TestApplyEnvOverlays(t *testing.T) {
	t.Setenv("CLIPD_ADDR", ":1234")
	t.Setenv("CLIPD_MODEL_ID", "env/model")
	t.Setenv("CLIPD_LOCK_WAIT_TIMEOUT", "90s")
	t.Setenv("CLIPD_CORS_ORIGINS", "http://a,http://b")
	t.Setenv("CLIPD_S3_USE_SSL", "true")
	cfg := Config{Addr: ":1", Device: "cpu"}
	if err := ApplyEnv(&cfg); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.Addr != ":1234" || cfg.ModelID != "env/model" || !cfg.S3UseSSL {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if cfg.Device != "cpu" {
		t.Fatalf("unset env must keep file value, got %q", cfg.Device)
	}
	if cfg.LockWaitTimeout.D() != 90*time.Second {
		t.Fatalf("lock wait: %v", cfg.LockWaitTimeout.D())
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "http://b" {
		t.Fatalf("cors: %v", cfg.CORSOrigins)
	}
}

func TestApplyEnvBadValue(t *testing.T) {
	t.Setenv("CLIPD_MAX_QUEUE_DEPTH", "many")
	var cfg Config
	if err := ApplyEnv(&cfg); err == nil {
		t.Fatalf("expected error")
	}
}

func TestDefaultsAndValidate(t *testing.T) {
	var cfg Config
	cfg.Defaults()
	if cfg.Addr != DefaultAddr || cfg.ModelID != DefaultModelID || cfg.Fetcher != "hub" {
		t.Fatalf("defaults: %+v", cfg)
	}
	if cfg.LockPollInterval.D() != 5*time.Second || cfg.LockWaitTimeout.D() != 240*time.Second {
		t.Fatalf("lock defaults: %v %v", cfg.LockPollInterval.D(), cfg.LockWaitTimeout.D())
	}
	if cfg.MaxQueueDepth != 32 || cfg.MaxWait.D() != 30*time.Second {
		t.Fatalf("queue defaults: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate defaults: %v", err)
	}

	bad := cfg
	bad.Fetcher = "ftp"
	bad.LogFormat = "xml"
	err := bad.Validate()
	if err == nil || !strings.Contains(err.Error(), "fetcher") || !strings.Contains(err.Error(), "log_format") {
		t.Fatalf("expected combined error, got %v", err)
	}
	s3 := cfg
	s3.Fetcher = "s3"
	if err := s3.Validate(); err == nil {
		t.Fatalf("s3 without bucket must fail")
	}
	dir := cfg
	dir.Fetcher = "dir"
	if err := dir.Validate(); err == nil {
		t.Fatalf("dir without mirror must fail")
	}
	slow := cfg
	slow.LockPollInterval = Duration(time.Hour)
	if err := slow.Validate(); err == nil {
		t.Fatalf("poll interval beyond deadline must fail")
	}
}
