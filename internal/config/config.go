package config

import (
	"encoding/json"
	"fmt"
)

// Config represents the main researchmem configuration
type Config struct {
	// Data directory for persisted scopes and audit logs
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Embedding gateway
	Embedding EmbeddingConfig `json:"embedding" mapstructure:"embedding"`

	// Reranker (optional capability)
	Reranker RerankerConfig `json:"reranker" mapstructure:"reranker"`

	// Concept comparator capability
	Comparator ComparatorConfig `json:"comparator" mapstructure:"comparator"`

	// Per-scope memory defaults
	Memory MemoryConfig `json:"memory" mapstructure:"memory"`

	// SnapshotSchedule is a cron spec for periodic audit snapshots of live
	// scopes. Empty disables scheduled snapshots.
	SnapshotSchedule string `json:"snapshot_schedule" mapstructure:"snapshot_schedule"`

	// MetricsAddr exposes prometheus metrics when non-empty, e.g. ":9419"
	MetricsAddr string `json:"metrics_addr" mapstructure:"metrics_addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level   string `json:"level" mapstructure:"level"`
	File    string `json:"file" mapstructure:"file"`
	Console bool   `json:"console" mapstructure:"console"`
	Pretty  bool   `json:"pretty" mapstructure:"pretty"`
}

// EmbeddingConfig holds embedding gateway configuration
type EmbeddingConfig struct {
	Provider   string `json:"provider" mapstructure:"provider"` // openai, hashing
	Model      string `json:"model" mapstructure:"model"`
	APIKey     string `json:"api_key" mapstructure:"api_key"`
	Dimension  int    `json:"dimension" mapstructure:"dimension"`
	TimeoutMS  int    `json:"timeout_ms" mapstructure:"timeout_ms"`
	MaxRetries int    `json:"max_retries" mapstructure:"max_retries"`
}

// RerankerConfig holds reranker configuration
type RerankerConfig struct {
	Enabled   bool `json:"enabled" mapstructure:"enabled"`
	TimeoutMS int  `json:"timeout_ms" mapstructure:"timeout_ms"`
}

// ComparatorConfig selects the generality comparator implementation
type ComparatorConfig struct {
	Mode   string `json:"mode" mapstructure:"mode"` // heuristic, model
	Model  string `json:"model" mapstructure:"model"`
	APIKey string `json:"api_key" mapstructure:"api_key"`
}

// MemoryConfig holds per-scope memory tuning knobs. These are heuristic
// parameters, not contracts; they may be hot-reloaded between operations.
type MemoryConfig struct {
	Enabled               bool    `json:"enabled" mapstructure:"enabled"`
	UseConceptIndex       bool    `json:"use_concept_index" mapstructure:"use_concept_index"`
	Persist               bool    `json:"persist" mapstructure:"persist"`
	ChunkSize             int     `json:"chunk_size" mapstructure:"chunk_size"`       // target tokens per window
	ChunkOverlap          float64 `json:"chunk_overlap" mapstructure:"chunk_overlap"` // overlap fraction
	K                     int     `json:"k" mapstructure:"k"`
	RerankTopN            int     `json:"rerank_top_n" mapstructure:"rerank_top_n"`
	DiversityLambda       float64 `json:"diversity_lambda" mapstructure:"diversity_lambda"`
	RelatednessThreshold  float64 `json:"relatedness_threshold" mapstructure:"relatedness_threshold"`
	RelatednessMargin     float64 `json:"relatedness_margin" mapstructure:"relatedness_margin"`
	PromotionThreshold    int     `json:"promotion_threshold" mapstructure:"promotion_threshold"`
	SummaryRetentionCount int     `json:"summary_retention_count" mapstructure:"summary_retention_count"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			Pretty:  true,
		},
		Embedding: EmbeddingConfig{
			Provider:   "hashing",
			Dimension:  384,
			TimeoutMS:  10000,
			MaxRetries: 3,
		},
		Reranker: RerankerConfig{
			Enabled:   false,
			TimeoutMS: 5000,
		},
		Comparator: ComparatorConfig{
			Mode: "heuristic",
		},
		Memory: DefaultMemoryConfig(),
	}
}

// DefaultMemoryConfig returns the default per-scope tuning knobs
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		Enabled:               true,
		UseConceptIndex:       true,
		Persist:               false,
		ChunkSize:             800,
		ChunkOverlap:          0.2,
		K:                     8,
		RerankTopN:            5,
		DiversityLambda:       0.7,
		RelatednessThreshold:  0.35,
		RelatednessMargin:     0.05,
		PromotionThreshold:    3,
		SummaryRetentionCount: 3,
	}
}

// String returns the config as indented JSON with secrets masked
func (c *Config) String() string {
	clone := *c
	if clone.Embedding.APIKey != "" {
		clone.Embedding.APIKey = "***"
	}
	if clone.Comparator.APIKey != "" {
		clone.Comparator.APIKey = "***"
	}
	data, err := json.MarshalIndent(&clone, "", "  ")
	if err != nil {
		return fmt.Sprintf("config marshal error: %v", err)
	}
	return string(data)
}
