package embeddings

import (
	"os"
	"path/filepath"
	"strings"
)

// Input kinds. The classifier embeds one execution description as a query;
// the seeder embeds anchor descriptions as documents.
const (
	KindExecution = "execution"
	KindAnchor    = "anchor"
)

// DefaultMaxInputChars bounds one description when the config leaves it 0.
const DefaultMaxInputChars = 2000

// prepare collapses whitespace and cuts each text to max runes. It returns
// the prepared texts and how many were cut.
func prepare(texts []string, max int) ([]string, int) {
	if max <= 0 {
		max = DefaultMaxInputChars
	}
	out := make([]string, len(texts))
	cut := 0
	for i, t := range texts {
		t = strings.Join(strings.Fields(t), " ")
		if r := []rune(t); len(r) > max {
			t = string(r[:max])
			cut++
		}
		out[i] = t
	}
	return out, cut
}

func withPrefix(prefix string, texts []string) []string {
	if prefix == "" {
		return texts
	}
	out := make([]string, len(texts))
	for i, t := range texts {
		out[i] = prefix + t
	}
	return out
}

// fastEmbedCacheDir resolves where ONNX models are kept: the configured
// directory, else the user cache, else ./local_cache.
func fastEmbedCacheDir(configured string) string {
	if configured != "" {
		return configured
	}
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "outcomed", "fastembed")
	}
	return filepath.Join(".", "local_cache")
}
