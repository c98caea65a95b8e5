package httpapi

import (
	"time"

	"github.com/go-chi/cors"
)

const (
	defaultMaxBodyBytes   int64 = 1 << 20
	defaultMaxUploadBytes int64 = 32 << 20
)

// Package-level knobs set once by the binary before NewMux.
var (
	maxBodyBytes   = defaultMaxBodyBytes
	maxUploadBytes = defaultMaxUploadBytes

	// Seconds; 0 disables the embedding timeout.
	requestTimeout int64

	// nil disables the CORS middleware.
	corsOpts *cors.Options
)

// SetMaxBodyBytes limits JSON request bodies. Non-positive restores 1 MiB.
func SetMaxBodyBytes(n int64) {
	maxBodyBytes = positiveOr(n, defaultMaxBodyBytes)
}

// SetMaxUploadBytes limits multipart image uploads. Non-positive restores 32 MiB.
func SetMaxUploadBytes(n int64) {
	maxUploadBytes = positiveOr(n, defaultMaxUploadBytes)
}

// SetRequestTimeoutSeconds bounds each embedding call; 0 (or negative) disables it.
func SetRequestTimeoutSeconds(sec int64) {
	requestTimeout = max(sec, 0)
}

func embedTimeout() time.Duration {
	return time.Duration(requestTimeout) * time.Second
}

// SetCORSOptions enables the CORS middleware. Empty lists fall back to any
// origin, GET/POST/OPTIONS and the headers the embedding routes read.
func SetCORSOptions(enabled bool, origins, methods, headers []string) {
	if !enabled {
		corsOpts = nil
		return
	}
	corsOpts = &cors.Options{
		AllowedOrigins: orDefault(origins, []string{"*"}),
		AllowedMethods: orDefault(methods, []string{"GET", "POST", "OPTIONS"}),
		AllowedHeaders: orDefault(headers, []string{"Content-Type", "X-Log-Level", "X-Request-Id"}),
		MaxAge:         300,
	}
}

func positiveOr(n, def int64) int64 {
	if n <= 0 {
		return def
	}
	return n
}

func orDefault(v, def []string) []string {
	if len(v) == 0 {
		return def
	}
	return append([]string(nil), v...)
}
