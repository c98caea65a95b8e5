package runtime

const (
	// DefaultModelFile is the artifact name written by the ONNX exporter.
	DefaultModelFile = "model.onnx"
	// DefaultMaxTextLength is CLIP's context length.
	DefaultMaxTextLength = 77
)

// Built reports whether this binary includes the ONNX runtime.
func Built() bool { return ortBuilt }
