package config

import (
	"fmt"
	"strings"
	"time"
)

// Defaults used when a field is unset.
const (
	DefaultAddr       = "127.0.0.1:8008"
	DefaultModelID    = "laion/CLIP-ViT-H-14-laion2B-s32B-b79K"
	DefaultModelsRoot = "~/.cache/clipd/models"
	DefaultDevice     = "cuda"
	DefaultFetcher    = "hub"
)

// Fetcher modes.
var fetcherModes = []string{"hub", "s3", "dir", "none"}

// Defaults fills unset fields.
func (c *Config) Defaults() {
	setStr := func(p *string, v string) {
		if strings.TrimSpace(*p) == "" {
			*p = v
		}
	}
	setDur := func(p *Duration, v time.Duration) {
		if *p <= 0 {
			*p = Duration(v)
		}
	}
	setStr(&c.Addr, DefaultAddr)
	setStr(&c.ModelID, DefaultModelID)
	setStr(&c.ModelsRoot, DefaultModelsRoot)
	setStr(&c.Device, DefaultDevice)
	setStr(&c.LogLevel, "info")
	setStr(&c.LogFormat, "json")
	setStr(&c.Fetcher, DefaultFetcher)
	setStr(&c.HubRevision, "main")
	setDur(&c.HubTimeout, 10*time.Minute)
	setDur(&c.LockPollInterval, 5*time.Second)
	setDur(&c.LockWaitTimeout, 240*time.Second)
	setDur(&c.MaxWait, 30*time.Second)
	setDur(&c.ShutdownTimeout, 10*time.Second)
	if c.MaxQueueDepth <= 0 {
		c.MaxQueueDepth = 32
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 1 << 20
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = 32 << 20
	}
}

// Validate checks values that Defaults cannot repair.
func (c *Config) Validate() error {
	var errs []string
	if strings.TrimSpace(c.ModelID) == "" {
		errs = append(errs, "model_id is required")
	}
	valid := false
	for _, m := range fetcherModes {
		if c.Fetcher == m {
			valid = true
		}
	}
	if !valid {
		errs = append(errs, fmt.Sprintf("fetcher must be one of %v, got %q", fetcherModes, c.Fetcher))
	}
	switch c.Fetcher {
	case "s3":
		if c.S3Endpoint == "" || c.S3Bucket == "" {
			errs = append(errs, "s3 fetcher needs s3_endpoint and s3_bucket")
		}
	case "dir":
		if c.MirrorDir == "" {
			errs = append(errs, "dir fetcher needs mirror_dir")
		}
	}
	if c.LockPollInterval > 0 && c.LockWaitTimeout > 0 && c.LockPollInterval > c.LockWaitTimeout {
		errs = append(errs, "lock_poll_interval must not exceed lock_wait_timeout")
	}
	switch c.LogFormat {
	case "", "json", "console":
	default:
		errs = append(errs, fmt.Sprintf("log_format must be json or console, got %q", c.LogFormat))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(errs, "; "))
	}
	return nil
}
