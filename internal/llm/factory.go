package llm

import "fmt"

// ProviderConfig selects and configures an LLM provider.
type ProviderConfig struct {
	Provider string // "openai" or "ollama" (default)

	APIKey  string
	BaseURL string

	Model       string
	ScopeModels map[Scope]string

	EmbedModel string
	Dimension  int

	RequestsPerSecond float64

	// EmbedCacheSize is the LRU entry count for the embedding cache;
	// 0 uses the default.
	EmbedCacheSize int
}

// NewTextGenerator creates the TextGenerator for the configured provider.
func NewTextGenerator(cfg ProviderConfig) (TextGenerator, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIClient(OpenAIConfig{
			APIKey:            cfg.APIKey,
			BaseURL:           cfg.BaseURL,
			Model:             cfg.Model,
			ScopeModels:       cfg.ScopeModels,
			RequestsPerSecond: cfg.RequestsPerSecond,
		}), nil
	case "ollama", "":
		return NewOllamaClient(OllamaConfig{
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			ScopeModels: cfg.ScopeModels,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %q", cfg.Provider)
	}
}

// NewEmbedder creates the Embedder for the configured provider, wrapped
// with the LRU cache.
func NewEmbedder(cfg ProviderConfig) (Embedder, error) {
	var inner Embedder
	switch cfg.Provider {
	case "openai":
		inner = NewOpenAIEmbedder(OpenAIEmbeddingConfig{
			APIKey:            cfg.APIKey,
			BaseURL:           cfg.BaseURL,
			Model:             cfg.EmbedModel,
			Dimension:         cfg.Dimension,
			RequestsPerSecond: cfg.RequestsPerSecond,
		})
	case "ollama", "":
		inner = NewOllamaClient(OllamaConfig{
			BaseURL:    cfg.BaseURL,
			EmbedModel: cfg.EmbedModel,
			Dimension:  cfg.Dimension,
		})
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %q", cfg.Provider)
	}
	return NewCachingEmbedder(inner, cfg.EmbedCacheSize)
}
