package cli

import (
	"github.com/rs/zerolog"

	"github.com/tobyv/researchmem/internal/config"
	"github.com/tobyv/researchmem/pkg/embedding"
)

// buildEmbedder assembles the configured embedding provider behind the
// content-hash cache. An OpenAI provider without a key falls back to the
// local hashing embedder so offline commands keep working.
func buildEmbedder(cfg *config.Config, log zerolog.Logger) embedding.Provider {
	var inner embedding.Provider
	if cfg.Embedding.Provider == "openai" && cfg.Embedding.APIKey != "" {
		inner = embedding.NewOpenAIProvider(cfg.Embedding.APIKey, cfg.Embedding.Model)
	} else {
		inner = embedding.NewHashingProvider(cfg.Embedding.Dimension, "researchmem_v1")
	}
	return embedding.NewCachedProvider(inner, embedding.DefaultCacheConfig(), log)
}
