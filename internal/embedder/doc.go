// Package embedder is the process-wide facade over one CLIP model. It runs the
// one-time setup (fetch, cross-process export, load) and then serves image and
// text embeddings. It is structured into small files by concern:
//
//   - embedder.go: core Embedder type, constructor, simple getters.
//   - config.go: Config and package defaults; New applies defaults.
//   - types.go: lifecycle State, ImageInput, Health.
//   - errors.go: error types and helpers (IsNotReady, IsUnsupported, IsTooBusy, ...).
//   - initialize.go: Initialize and model loading with CPU fallback.
//   - admission.go: single in-flight inference with a bounded queue.
//   - inputs.go: pixel/text tensors and dummy inputs for the other modality.
//   - outputs.go: ordered output-name tiers.
//   - embed.go: EmbedImage(s)/EmbedText(s).
//   - status.go: Health, Status and SanityCheck reporting.
//
// Handlers receive an explicitly constructed *Embedder; there is no package
// level instance.
package embedder
