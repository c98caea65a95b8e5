package httpapi

import (
	"net/http"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// reqLog receives per-request lines. Nop until SetLogger is called.
var reqLog = zerolog.Nop()

// SetLogger installs the structured logger used by the HTTP layer.
func SetLogger(l zerolog.Logger) { reqLog = l }

// defaultRequestLevel applies to requests that do not ask for a level.
var defaultRequestLevel = parseRequestLevel(os.Getenv("CLIPD_HTTP_LOG_LEVEL"))

// SetRequestLogLevel sets the default per-request level ("off", "error", "info", "debug").
func SetRequestLogLevel(s string) { defaultRequestLevel = parseRequestLevel(s) }

// parseRequestLevel maps "" and "off" to Disabled and "1" to debug. Other
// zerolog level names map to themselves; anything unknown means info.
func parseRequestLevel(s string) zerolog.Level {
	switch s = strings.ToLower(strings.TrimSpace(s)); s {
	case "", "off", "none":
		return zerolog.Disabled
	case "1":
		return zerolog.DebugLevel
	}
	lvl, err := zerolog.ParseLevel(s)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// requestLogLevel resolves the level for r: query "log" first, then the
// X-Log-Level header, then the default.
func requestLogLevel(r *http.Request) zerolog.Level {
	if v := r.URL.Query().Get("log"); v != "" {
		return parseRequestLevel(v)
	}
	if v := r.Header.Get("X-Log-Level"); v != "" {
		return parseRequestLevel(v)
	}
	return defaultRequestLevel
}

// logs reports whether a line at level at passes the request level lvl.
func logs(lvl, at zerolog.Level) bool {
	return lvl != zerolog.Disabled && at >= lvl
}
