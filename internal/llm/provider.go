// Package llm provides generative providers and embeddings using langchaingo.
package llm

import (
	"context"
	"encoding/json"
)

// ModelInfo describes a provider's model and its token limits.
type ModelInfo struct {
	Name            string
	MaxInputTokens  int
	MaxOutputTokens int
}

// Provider is a pluggable generative backend. Selection and fallback logic
// live in the pipeline, not in implementations.
type Provider interface {
	// Name returns the provider identifier (openai, anthropic, ollama, bedrock).
	Name() string

	// GenerateJSON prompts the model and returns a parseable JSON document.
	GenerateJSON(ctx context.Context, prompt string) (json.RawMessage, error)

	// ModelInfo returns the active model name and token limits.
	ModelInfo() ModelInfo
}

// TextEmbedder generates embedding vectors for retrieval queries.
type TextEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}
