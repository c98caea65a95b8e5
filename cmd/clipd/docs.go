package main

// General API documentation for swaggo. Regenerate with `swag init -g cmd/clipd/docs.go -o docs`.
//
// @title           clipd API
// @version         1.0
// @description     CLIP image and text embeddings served from a shared ONNX export cache.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
