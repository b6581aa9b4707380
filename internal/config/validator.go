package config

import (
	"fmt"
)

// Validate checks the configuration for invalid values
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	switch cfg.Embedding.Provider {
	case "openai", "hashing":
	default:
		return fmt.Errorf("unknown embedding provider %q", cfg.Embedding.Provider)
	}
	if cfg.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive, got %d", cfg.Embedding.Dimension)
	}
	if cfg.Embedding.MaxRetries < 0 {
		return fmt.Errorf("embedding max_retries must be non-negative, got %d", cfg.Embedding.MaxRetries)
	}

	switch cfg.Comparator.Mode {
	case "heuristic", "model":
	default:
		return fmt.Errorf("unknown comparator mode %q", cfg.Comparator.Mode)
	}

	return ValidateMemory(cfg.Memory)
}

// ValidateMemory checks per-scope tuning knobs
func ValidateMemory(m MemoryConfig) error {
	if m.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive, got %d", m.ChunkSize)
	}
	if m.ChunkOverlap < 0 || m.ChunkOverlap >= 1 {
		return fmt.Errorf("chunk_overlap must be in [0, 1), got %v", m.ChunkOverlap)
	}
	if m.K <= 0 {
		return fmt.Errorf("k must be positive, got %d", m.K)
	}
	if m.RerankTopN <= 0 {
		return fmt.Errorf("rerank_top_n must be positive, got %d", m.RerankTopN)
	}
	if m.DiversityLambda < 0 || m.DiversityLambda > 1 {
		return fmt.Errorf("diversity_lambda must be in [0, 1], got %v", m.DiversityLambda)
	}
	if m.RelatednessThreshold < -1 || m.RelatednessThreshold > 1 {
		return fmt.Errorf("relatedness_threshold must be in [-1, 1], got %v", m.RelatednessThreshold)
	}
	if m.RelatednessMargin < 0 {
		return fmt.Errorf("relatedness_margin must be non-negative, got %v", m.RelatednessMargin)
	}
	if m.PromotionThreshold <= 0 {
		return fmt.Errorf("promotion_threshold must be positive, got %d", m.PromotionThreshold)
	}
	if m.SummaryRetentionCount <= 0 {
		return fmt.Errorf("summary_retention_count must be positive, got %d", m.SummaryRetentionCount)
	}
	return nil
}
