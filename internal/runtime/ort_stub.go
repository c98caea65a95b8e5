//go:build !onnx

package runtime

import "github.com/rs/zerolog"

// This file provides a no-CGO stub for the ONNX runtime. It is compiled when
// the 'onnx' build tag is NOT set; the daemon starts but never becomes ready.

// ortBuilt indicates this binary was compiled with ONNX Runtime support.
const ortBuilt = false

type stubRuntime struct{}

// NewORTRuntime returns a runtime that offers CPU for export but cannot load sessions.
func NewORTRuntime(libPath, modelFile string, log zerolog.Logger) Runtime {
	return stubRuntime{}
}

func (stubRuntime) AvailableProviders() []Provider { return []Provider{ProviderCPU} }

func (stubRuntime) Load(path string, p Provider) (Session, error) {
	return nil, ErrDependencyUnavailable("onnx support not built (missing 'onnx' build tag)")
}

// LoadTokenizer is unavailable without the 'onnx' build tag.
func LoadTokenizer(dir string) (Tokenizer, error) {
	return nil, ErrDependencyUnavailable("tokenizer support not built (missing 'onnx' build tag)")
}
