package domain

import "context"

// Embedder turns text into a vector. Implementations are provided by model
// runners; a nil Embedder means no backend could serve the requested model.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// EmbeddingConfig selects the embedding model for a knowledge base.
type EmbeddingConfig struct {
	Model string `json:"model" mapstructure:"model"`
}

// EmbeddingSource resolves an embedding configuration into a usable Embedder,
// probing runners in order. Returns nil when no runner serves the model.
type EmbeddingSource func(cfg EmbeddingConfig) Embedder
