package registry

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

// DefaultHubEndpoint is the Hugging Face hub.
const DefaultHubEndpoint = "https://huggingface.co"

// HubFetcher downloads a model snapshot from a Hugging Face compatible hub.
type HubFetcher struct {
	client   *resty.Client
	revision string
	log      zerolog.Logger
}

// HubConfig configures a HubFetcher.
type HubConfig struct {
	Endpoint string
	Revision string
	Token    string
	Timeout  time.Duration
	Log      zerolog.Logger
}

// NewHubFetcher builds a HubFetcher.
func NewHubFetcher(cfg HubConfig) *HubFetcher {
	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = DefaultHubEndpoint
	}
	rev := cfg.Revision
	if rev == "" {
		rev = "main"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	c := resty.New().
		SetBaseURL(endpoint).
		SetTimeout(timeout).
		SetHeader("User-Agent", "clipd")
	if cfg.Token != "" {
		c.SetAuthToken(cfg.Token)
	}
	return &HubFetcher{client: c, revision: rev, log: cfg.Log}
}

type hubModelInfo struct {
	Siblings []struct {
		RFilename string `json:"rfilename"`
	} `json:"siblings"`
}

// Fetch lists the repository files and downloads each one. Files land as
// <name>.<pid>.part first and are renamed, so a crash never leaves a truncated file
// under its final name.
func (h *HubFetcher) Fetch(ctx context.Context, modelID, dest string) error {
	var info hubModelInfo
	resp, err := h.client.R().
		SetContext(ctx).
		SetResult(&info).
		Get(fmt.Sprintf("/api/models/%s/revision/%s", modelID, url.PathEscape(h.revision)))
	if err != nil {
		return fmt.Errorf("hub model info: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("hub model info: status %d: %s", resp.StatusCode(), truncate(resp.String(), 256))
	}
	if len(info.Siblings) == 0 {
		return fmt.Errorf("hub model %s has no files", modelID)
	}
	for _, s := range info.Siblings {
		name := s.RFilename
		if !safeRelPath(name) {
			h.log.Warn().Str("file", name).Msg("skipping unsafe file name from hub")
			continue
		}
		target := filepath.Join(dest, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		tmp := partName(target)
		r, err := h.client.R().
			SetContext(ctx).
			SetOutput(tmp).
			Get(fmt.Sprintf("/%s/resolve/%s/%s", modelID, url.PathEscape(h.revision), escapeFilePath(name)))
		if err != nil {
			_ = os.Remove(tmp)
			return fmt.Errorf("download %s: %w", name, err)
		}
		if r.StatusCode() != http.StatusOK {
			_ = os.Remove(tmp)
			return fmt.Errorf("download %s: status %d", name, r.StatusCode())
		}
		if err := os.Rename(tmp, target); err != nil {
			return err
		}
		h.log.Debug().Str("file", name).Int64("bytes", r.Size()).Msg("downloaded")
	}
	return nil
}

func safeRelPath(p string) bool {
	if p == "" || strings.HasPrefix(p, "/") || strings.Contains(p, "\\") {
		return false
	}
	clean := path.Clean(p)
	return clean == p && clean != ".." && !strings.HasPrefix(clean, "../")
}

func escapeFilePath(p string) string {
	parts := strings.Split(p, "/")
	for i, s := range parts {
		parts[i] = url.PathEscape(s)
	}
	return strings.Join(parts, "/")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
