//go:build onnx

package runtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/daulet/tokenizers"
	"github.com/rs/zerolog"
	ort "github.com/yalue/onnxruntime_go"
)

// ortBuilt indicates this binary was compiled with ONNX Runtime support.
const ortBuilt = true

// ORTRuntime loads exported models with ONNX Runtime through cgo.
type ORTRuntime struct {
	// LibraryPath points at libonnxruntime; empty uses the platform default.
	LibraryPath string
	// ModelFile is the artifact file name inside the model directory.
	ModelFile string
	Log       zerolog.Logger

	initOnce  sync.Once
	initErr   error
	provOnce  sync.Once
	providers []Provider
}

// NewORTRuntime returns an ORTRuntime for the given shared library and model file name.
func NewORTRuntime(libPath, modelFile string, log zerolog.Logger) Runtime {
	if modelFile == "" {
		modelFile = DefaultModelFile
	}
	return &ORTRuntime{LibraryPath: libPath, ModelFile: modelFile, Log: log}
}

func (r *ORTRuntime) init() error {
	r.initOnce.Do(func() {
		if r.LibraryPath != "" {
			ort.SetSharedLibraryPath(r.LibraryPath)
		}
		if ort.IsInitialized() {
			return
		}
		if err := ort.InitializeEnvironment(); err != nil {
			r.initErr = ErrDependencyUnavailable("onnxruntime init: " + err.Error())
		}
	})
	return r.initErr
}

// AvailableProviders probes CUDA by attaching it to throwaway session options.
// CPU is always reported once the environment initializes.
func (r *ORTRuntime) AvailableProviders() []Provider {
	r.provOnce.Do(func() {
		if err := r.init(); err != nil {
			r.Log.Error().Err(err).Msg("onnxruntime unavailable")
			return
		}
		r.providers = []Provider{ProviderCPU}
		opts, err := ort.NewSessionOptions()
		if err != nil {
			return
		}
		defer opts.Destroy()
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			r.Log.Debug().Err(err).Msg("cuda provider options unavailable")
			return
		}
		defer cuda.Destroy()
		if err := opts.AppendExecutionProviderCUDA(cuda); err != nil {
			r.Log.Debug().Err(err).Msg("cuda provider unavailable")
			return
		}
		r.providers = append([]Provider{ProviderCUDA}, r.providers...)
	})
	return append([]Provider(nil), r.providers...)
}

// Load opens dir/ModelFile with provider p.
func (r *ORTRuntime) Load(dir string, p Provider) (Session, error) {
	if err := r.init(); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, r.ModelFile)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("artifact: %w", err)
	}
	ins, outs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", r.ModelFile, err)
	}
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	defer opts.Destroy()
	if p == ProviderCUDA {
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return nil, fmt.Errorf("cuda options: %w", err)
		}
		defer cuda.Destroy()
		if err := opts.AppendExecutionProviderCUDA(cuda); err != nil {
			return nil, fmt.Errorf("append cuda provider: %w", err)
		}
	}
	s := &ortSession{provider: p}
	for _, in := range ins {
		s.inputs = append(s.inputs, in.Name)
		s.inputTypes = append(s.inputTypes, in.DataType)
	}
	for _, out := range outs {
		s.outputs = append(s.outputs, out.Name)
	}
	sess, err := ort.NewDynamicAdvancedSession(path, s.inputs, s.outputs, opts)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.sess = sess
	r.Log.Info().Str("path", path).Str("provider", string(p)).Strs("inputs", s.inputs).Strs("outputs", s.outputs).Msg("onnx session loaded")
	return s, nil
}

type ortSession struct {
	mu         sync.Mutex
	sess       *ort.DynamicAdvancedSession
	inputs     []string
	inputTypes []ort.TensorElementDataType
	outputs    []string
	provider   Provider
}

func (s *ortSession) InputNames() []string  { return append([]string(nil), s.inputs...) }
func (s *ortSession) OutputNames() []string { return append([]string(nil), s.outputs...) }

// Providers lists the providers the session was built with. onnxruntime_go
// has no call reporting the providers a live session resolved, so this is the
// list ORT accepted at session creation (CUDA only when appending it succeeded).
func (s *ortSession) Providers() []Provider {
	if s.provider == ProviderCUDA {
		return []Provider{ProviderCUDA, ProviderCPU}
	}
	return []Provider{ProviderCPU}
}

// Run feeds every declared input; missing inputs are an error.
func (s *ortSession) Run(inputs map[string]Tensor) (map[string]Tensor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil {
		return nil, errors.New("session closed")
	}
	in := make([]ort.Value, len(s.inputs))
	defer func() {
		for _, v := range in {
			if v != nil {
				_ = v.Destroy()
			}
		}
	}()
	for i, name := range s.inputs {
		t, ok := inputs[name]
		if !ok {
			return nil, fmt.Errorf("missing input %q", name)
		}
		v, err := toValue(t, s.inputTypes[i])
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", name, err)
		}
		in[i] = v
	}
	out := make([]ort.Value, len(s.outputs))
	defer func() {
		for _, v := range out {
			if v != nil {
				_ = v.Destroy()
			}
		}
	}()
	if err := s.sess.Run(in, out); err != nil {
		return nil, err
	}
	res := make(map[string]Tensor, len(out))
	for i, v := range out {
		ft, ok := v.(*ort.Tensor[float32])
		if !ok {
			continue
		}
		data := ft.GetData()
		res[s.outputs[i]] = Tensor{
			Shape: append([]int64(nil), ft.GetShape()...),
			Float: append([]float32(nil), data...),
		}
	}
	return res, nil
}

func (s *ortSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil {
		return nil
	}
	err := s.sess.Destroy()
	s.sess = nil
	return err
}

func toValue(t Tensor, dt ort.TensorElementDataType) (ort.Value, error) {
	shape := ort.NewShape(t.Shape...)
	switch {
	case dt == ort.TensorElementDataTypeInt64:
		data := t.Int
		if data == nil {
			data = make([]int64, len(t.Float))
			for i, f := range t.Float {
				data[i] = int64(f)
			}
		}
		return ort.NewTensor(shape, data)
	case dt == ort.TensorElementDataTypeInt32:
		data := make([]int32, len(t.Int))
		for i, v := range t.Int {
			data[i] = int32(v)
		}
		return ort.NewTensor(shape, data)
	case t.Float != nil:
		return ort.NewTensor(shape, t.Float)
	default:
		return nil, fmt.Errorf("unsupported element type %v", dt)
	}
}

// hfTokenizer wraps a Hugging Face tokenizer.json.
type hfTokenizer struct {
	tk     *tokenizers.Tokenizer
	maxLen int
	padID  int64
}

// LoadTokenizer opens dir/tokenizer.json. A missing file yields (nil, nil):
// the model simply has no text path.
func LoadTokenizer(dir string) (Tokenizer, error) {
	path := filepath.Join(dir, "tokenizer.json")
	if _, err := os.Stat(path); err != nil {
		return nil, nil
	}
	tk, err := tokenizers.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}
	t := &hfTokenizer{tk: tk, maxLen: readMaxLength(dir)}
	// CLIP pads with its end-of-text token, the last id of an empty encoding.
	if ids, _ := tk.Encode("", true); len(ids) > 0 {
		t.padID = int64(ids[len(ids)-1])
	}
	return t, nil
}

func (t *hfTokenizer) Encode(text string) []int64 {
	ids, _ := t.tk.Encode(text, true)
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}

func (t *hfTokenizer) MaxLength() int { return t.maxLen }
func (t *hfTokenizer) PadID() int64   { return t.padID }
func (t *hfTokenizer) Close() error   { return t.tk.Close() }

func readMaxLength(dir string) int {
	b, err := os.ReadFile(filepath.Join(dir, "tokenizer_config.json"))
	if err != nil {
		return DefaultMaxTextLength
	}
	var cfg struct {
		ModelMaxLength float64 `json:"model_max_length"`
	}
	if err := json.Unmarshal(b, &cfg); err != nil || cfg.ModelMaxLength <= 0 || cfg.ModelMaxLength > 1<<16 {
		return DefaultMaxTextLength
	}
	return int(cfg.ModelMaxLength)
}

