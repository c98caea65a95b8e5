package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment overrides (CLIPD_ADDR, CLIPD_MODEL_ID, ...).
const EnvPrefix = "CLIPD"

// Duration is a time.Duration that reads Go duration strings ("5s", "4m")
// from YAML, JSON, TOML and the environment.
type Duration time.Duration

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) { return []byte(time.Duration(d).String()), nil }

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and are replaced by Defaults.
type Config struct {
	Addr       string `json:"addr" yaml:"addr" toml:"addr" envconfig:"ADDR"`
	ModelID    string `json:"model_id" yaml:"model_id" toml:"model_id" envconfig:"MODEL_ID"`
	ModelsRoot string `json:"models_root" yaml:"models_root" toml:"models_root" envconfig:"MODELS_ROOT"`
	// Device is "cuda", "cpu" or anything else for auto.
	Device string `json:"device" yaml:"device" toml:"device" envconfig:"DEVICE"`

	LogLevel     string `json:"log_level" yaml:"log_level" toml:"log_level" envconfig:"LOG_LEVEL"`
	LogFormat    string `json:"log_format" yaml:"log_format" toml:"log_format" envconfig:"LOG_FORMAT"`
	HTTPLogLevel string `json:"http_log_level" yaml:"http_log_level" toml:"http_log_level" envconfig:"HTTP_LOG_LEVEL"`

	// Fetcher selects the registry: hub, s3, dir or none.
	Fetcher     string   `json:"fetcher" yaml:"fetcher" toml:"fetcher" envconfig:"FETCHER"`
	HubEndpoint string   `json:"hub_endpoint" yaml:"hub_endpoint" toml:"hub_endpoint" envconfig:"HUB_ENDPOINT"`
	HubRevision string   `json:"hub_revision" yaml:"hub_revision" toml:"hub_revision" envconfig:"HUB_REVISION"`
	HubToken    string   `json:"hub_token" yaml:"hub_token" toml:"hub_token" envconfig:"HUB_TOKEN"`
	HubTimeout  Duration `json:"hub_timeout" yaml:"hub_timeout" toml:"hub_timeout" envconfig:"HUB_TIMEOUT"`
	S3Endpoint  string   `json:"s3_endpoint" yaml:"s3_endpoint" toml:"s3_endpoint" envconfig:"S3_ENDPOINT"`
	S3AccessKey string   `json:"s3_access_key" yaml:"s3_access_key" toml:"s3_access_key" envconfig:"S3_ACCESS_KEY"`
	S3SecretKey string   `json:"s3_secret_key" yaml:"s3_secret_key" toml:"s3_secret_key" envconfig:"S3_SECRET_KEY"`
	S3Bucket    string   `json:"s3_bucket" yaml:"s3_bucket" toml:"s3_bucket" envconfig:"S3_BUCKET"`
	S3Prefix    string   `json:"s3_prefix" yaml:"s3_prefix" toml:"s3_prefix" envconfig:"S3_PREFIX"`
	S3Region    string   `json:"s3_region" yaml:"s3_region" toml:"s3_region" envconfig:"S3_REGION"`
	S3UseSSL    bool     `json:"s3_use_ssl" yaml:"s3_use_ssl" toml:"s3_use_ssl" envconfig:"S3_USE_SSL"`
	MirrorDir   string   `json:"mirror_dir" yaml:"mirror_dir" toml:"mirror_dir" envconfig:"MIRROR_DIR"`

	ExporterBin  string   `json:"exporter_bin" yaml:"exporter_bin" toml:"exporter_bin" envconfig:"EXPORTER_BIN"`
	ExporterArgs []string `json:"exporter_args" yaml:"exporter_args" toml:"exporter_args" envconfig:"EXPORTER_ARGS"`
	OrtLibrary   string   `json:"ort_library" yaml:"ort_library" toml:"ort_library" envconfig:"ORT_LIBRARY"`
	ModelFile    string   `json:"model_file" yaml:"model_file" toml:"model_file" envconfig:"MODEL_FILE"`

	LockPollInterval Duration `json:"lock_poll_interval" yaml:"lock_poll_interval" toml:"lock_poll_interval" envconfig:"LOCK_POLL_INTERVAL"`
	LockWaitTimeout  Duration `json:"lock_wait_timeout" yaml:"lock_wait_timeout" toml:"lock_wait_timeout" envconfig:"LOCK_WAIT_TIMEOUT"`

	MaxQueueDepth   int      `json:"max_queue_depth" yaml:"max_queue_depth" toml:"max_queue_depth" envconfig:"MAX_QUEUE_DEPTH"`
	MaxWait         Duration `json:"max_wait" yaml:"max_wait" toml:"max_wait" envconfig:"MAX_WAIT"`
	MaxBodyBytes    int64    `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes" envconfig:"MAX_BODY_BYTES"`
	MaxUploadBytes  int64    `json:"max_upload_bytes" yaml:"max_upload_bytes" toml:"max_upload_bytes" envconfig:"MAX_UPLOAD_BYTES"`
	RequestTimeout  Duration `json:"request_timeout" yaml:"request_timeout" toml:"request_timeout" envconfig:"REQUEST_TIMEOUT"`
	ShutdownTimeout Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" toml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`

	CORSEnabled bool     `json:"cors_enabled" yaml:"cors_enabled" toml:"cors_enabled" envconfig:"CORS_ENABLED"`
	CORSOrigins []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins" envconfig:"CORS_ORIGINS"`
	CORSMethods []string `json:"cors_methods" yaml:"cors_methods" toml:"cors_methods" envconfig:"CORS_METHODS"`
	CORSHeaders []string `json:"cors_headers" yaml:"cors_headers" toml:"cors_headers" envconfig:"CORS_HEADERS"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// ApplyEnv overlays CLIPD_* environment variables onto cfg. Unset variables
// leave fields untouched.
func ApplyEnv(cfg *Config) error {
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return fmt.Errorf("env overlay: %w", err)
	}
	return nil
}
