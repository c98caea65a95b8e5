// Package runtime defines the inference-runtime collaborator used by clipd:
// provider discovery, loading an exported artifact into a runnable session,
// and the external converter that produces that artifact.
package runtime

import (
	"context"
	"errors"
)

// Provider is an execution backend identifier as reported by the runtime.
type Provider string

const (
	ProviderCUDA Provider = "CUDAExecutionProvider"
	ProviderCPU  Provider = "CPUExecutionProvider"
)

// Device returns the short device name for p ("cuda" or "cpu").
func (p Provider) Device() string {
	if p == ProviderCUDA {
		return "cuda"
	}
	return "cpu"
}

// Contains reports whether ps includes p.
func Contains(ps []Provider, p Provider) bool {
	for _, x := range ps {
		if x == p {
			return true
		}
	}
	return false
}

// Tensor is a dense row-major tensor. Exactly one of Float or Int is set.
type Tensor struct {
	Shape []int64
	Float []float32
	Int   []int64
}

// Runtime loads exported artifacts.
type Runtime interface {
	AvailableProviders() []Provider
	Load(path string, p Provider) (Session, error)
}

// Session is a loaded, runnable model.
type Session interface {
	Run(inputs map[string]Tensor) (map[string]Tensor, error)
	InputNames() []string
	OutputNames() []string
	// Providers lists the providers the session actually runs with.
	Providers() []Provider
	Close() error
}

// ConvertRequest describes one export run.
type ConvertRequest struct {
	ModelID  string
	Source   string // raw artifact directory
	Output   string // staging directory to write into
	Provider Provider
}

// Converter turns raw model files into the optimized runtime format.
type Converter interface {
	Convert(ctx context.Context, req ConvertRequest) error
}

// Tokenizer encodes text into model input ids.
type Tokenizer interface {
	Encode(text string) []int64
	// MaxLength is the model's maximum sequence length.
	MaxLength() int
	PadID() int64
	Close() error
}

// dependencyUnavailableError signals a runtime dependency missing from this build
// or host, so callers can distinguish it from artifact problems.
type dependencyUnavailableError struct{ msg string }

func (e dependencyUnavailableError) Error() string { return e.msg }

// ErrDependencyUnavailable constructs a dependencyUnavailableError.
func ErrDependencyUnavailable(msg string) error { return dependencyUnavailableError{msg: msg} }

// IsDependencyUnavailable reports whether err indicates a missing runtime dependency.
func IsDependencyUnavailable(err error) bool {
	var d dependencyUnavailableError
	return errors.As(err, &d)
}
