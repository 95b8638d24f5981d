package server

import (
	"fmt"

	"github.com/dkoess/semdex/pkg/embeddings"
)

// NewEmbedder builds the embedding backend described by the configuration.
// The dimension comes from the index section so the two can never drift
// apart.
func NewEmbedder(cfg EmbedderConfig, dim int) (embeddings.Embedder, error) {
	timeout, err := cfg.timeout()
	if err != nil {
		return nil, &ConfigError{Field: "embedder.timeout", Reason: err.Error()}
	}
	switch cfg.Type {
	case "ollama":
		return embeddings.NewOllamaEmbedder(cfg.URL, cfg.Model, dim, timeout), nil
	case "openai":
		return embeddings.NewOpenAIEmbedder(cfg.URL, cfg.Model, cfg.APIKey, dim, timeout), nil
	}
	return nil, &ConfigError{Field: "embedder.type", Reason: fmt.Sprintf("unknown type %q", cfg.Type)}
}
