package runtime

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DefaultExporter is the exporter binary looked up on PATH when none is configured.
const DefaultExporter = "optimum-cli"

// ExecConverter runs an external exporter process per conversion.
//
// Args is a template; the placeholders {model}, {source}, {output}, {device}
// and {provider} are substituted. When Args is empty the optimum-cli ONNX
// export invocation is used.
type ExecConverter struct {
	Bin  string
	Args []string
	Env  []string
	Log  zerolog.Logger
}

var defaultExportArgs = []string{
	"export", "onnx",
	"--model", "{source}",
	"--task", "feature-extraction",
	"--device", "{device}",
	"{output}",
}

// Convert runs the exporter and waits for it to exit.
func (c *ExecConverter) Convert(ctx context.Context, req ConvertRequest) error {
	bin := c.Bin
	if bin == "" {
		bin = DiscoverExporter()
	}
	if bin == "" {
		return ErrDependencyUnavailable("exporter binary not found (" + DefaultExporter + ")")
	}
	args := c.Args
	if len(args) == 0 {
		args = defaultExportArgs
	}
	argv := make([]string, len(args))
	r := strings.NewReplacer(
		"{model}", req.ModelID,
		"{source}", req.Source,
		"{output}", req.Output,
		"{device}", req.Provider.Device(),
		"{provider}", string(req.Provider),
	)
	for i, a := range args {
		argv[i] = r.Replace(a)
	}
	cmd := exec.CommandContext(ctx, bin, argv...)
	cmd.Env = append(os.Environ(), c.Env...)
	cmd.Env = append(cmd.Env, "CLIPD_EXPORT_PROVIDER="+string(req.Provider))
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	start := time.Now()
	c.Log.Info().Str("bin", bin).Strs("args", argv).Str("provider", string(req.Provider)).Msg("exporter start")
	if err := cmd.Run(); err != nil {
		tail := stderr.String()
		if len(tail) > 4096 {
			tail = tail[len(tail)-4096:]
		}
		c.Log.Error().Err(err).Dur("dur", time.Since(start)).Msg("exporter failed")
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("exporter %s: %w; stderr tail: %s", filepath.Base(bin), err, strings.TrimSpace(tail))
	}
	c.Log.Info().Dur("dur", time.Since(start)).Msg("exporter done")
	return nil
}

// DiscoverExporter looks up the default exporter on PATH.
func DiscoverExporter() string {
	p, err := exec.LookPath(DefaultExporter)
	if err != nil {
		return ""
	}
	return p
}
