package embedder

// State is the facade lifecycle state.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateLoading       State = "loading"
	StateReady         State = "ready"
	StateFailed        State = "failed"
)

// ImageInput is an image given either as a path readable by the process or as
// encoded bytes. Path wins when both are set.
type ImageInput struct {
	Path string
	Data []byte
}

// Health is the readiness view consumed by the health route.
type Health struct {
	Ready           bool
	State           State
	EffectiveDevice string
	Detail          string
}
