package types

// ImageEmbeddingRequest asks for the embedding of an image on the server's filesystem.
type ImageEmbeddingRequest struct {
	// Path of the image file readable by the server.
	// example: /data/images/cat.jpg
	Path string `json:"path" example:"/data/images/cat.jpg"`
}

// ImageEmbeddingsBatchRequest asks for embeddings of several image files.
type ImageEmbeddingsBatchRequest struct {
	// example: ["/data/images/cat.jpg","/data/images/dog.png"]
	Paths []string `json:"paths"`
}

// TextEmbeddingRequest asks for the embedding of one text.
type TextEmbeddingRequest struct {
	// example: a photo of a cat
	Text string `json:"text" example:"a photo of a cat"`
}

// TextEmbeddingsBatchRequest asks for embeddings of several texts.
type TextEmbeddingsBatchRequest struct {
	// example: ["a photo of a cat","a photo of a dog"]
	Texts []string `json:"texts"`
}

// EmbeddingResponse carries one embedding vector.
type EmbeddingResponse struct {
	Embedding []float32 `json:"embedding"`
}

// EmbeddingsResponse carries one vector per input, in input order.
type EmbeddingsResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	// "ok" when ready, "initializing" or "error" otherwise.
	// example: ok
	Status string `json:"status" example:"ok"`
	// example: true
	Ready bool `json:"ready" example:"true"`
	// Kept for clients of the original health payload; equal to Ready.
	// example: true
	EmbedderFullyInitialized bool `json:"embedder_fully_initialized" example:"true"`
	// Device the loaded session actually runs on.
	// example: cuda
	EffectiveDevice string `json:"effective_device" example:"cuda"`
	// example: model loaded
	Detail string `json:"detail" example:"model loaded"`
}

// ModelsResponse wraps the list of models returned by GET /models.
type ModelsResponse struct {
	// Models cached under the root.
	Models []Model `json:"models"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Embedder lifecycle state (uninitialized, loading, ready, failed).
	// example: ready
	State string `json:"state" example:"ready"`
	// example: openai/clip-vit-base-patch32
	ModelID string `json:"model_id" example:"openai/clip-vit-base-patch32"`
	// Local model directory.
	LocalPath string `json:"local_path"`
	// Whether the export success marker is present.
	// example: true
	MarkerPresent bool `json:"marker_present" example:"true"`
	// Whether the global export lock file currently exists.
	// example: false
	LockPresent bool `json:"lock_present" example:"false"`
	// Conversion pipeline state.
	// example: converted
	PipelineState string `json:"pipeline_state" example:"converted"`
	// How this process got a converted artifact (skipped, exported, waited).
	// example: skipped
	ExportOutcome string `json:"export_outcome,omitempty" example:"skipped"`
	// Requested device from configuration.
	// example: cuda
	RequestedDevice string `json:"requested_device" example:"cuda"`
	// example: cuda
	EffectiveDevice string `json:"effective_device,omitempty" example:"cuda"`
	// example: CUDAExecutionProvider
	Provider string `json:"provider,omitempty" example:"CUDAExecutionProvider"`
	// Whether text embedding is available for the loaded model.
	// example: true
	TextSupported bool `json:"text_supported" example:"true"`
	// Last error observed by the embedder (if any).
	LastError string `json:"last_error,omitempty"`
	// Time spent in initialization, in milliseconds.
	// example: 5300
	InitMillis int64 `json:"init_ms" example:"5300"`
	// Current queue length for incoming requests.
	// example: 0
	QueueLen int `json:"queue_len" example:"0"`
	// Number of in-flight requests.
	// example: 1
	Inflight int `json:"inflight" example:"1"`
	// Maximum queued requests before backpressure.
	// example: 32
	MaxQueueDepth int `json:"max_queue_depth" example:"32"`
	// Total images embedded.
	// example: 120
	ImagesTotal uint64 `json:"images_total" example:"120"`
	// Total texts embedded.
	// example: 40
	TextsTotal uint64 `json:"texts_total" example:"40"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
}
