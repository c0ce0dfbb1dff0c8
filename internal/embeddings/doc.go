// Package embeddings turns classification descriptions into vectors.
//
// Three providers are available: a TEI server (POST /embed), any
// OpenAI-compatible embeddings endpoint through langchaingo, and local ONNX
// models through fastembed (cgo builds only). NewProvider selects one from
// config.EmbeddingsConfig and reports the vector dimension so callers can
// check it against the anchor column.
package embeddings
