package types

// Model is a model directory found under the cache root.
type Model struct {
	// Model identifier as used by the registry.
	// example: openai/clip-vit-base-patch32
	ID string `json:"id" example:"openai/clip-vit-base-patch32"`
	// Absolute path of the local model directory.
	// example: /var/cache/clipd/openai_--_clip-vit-base-patch32
	Path string `json:"path" example:"/var/cache/clipd/openai_--_clip-vit-base-patch32"`
	// Whether the export success marker is present.
	// example: true
	Exported bool `json:"exported" example:"true"`
}
