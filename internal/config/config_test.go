package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "hashing", cfg.Embedding.Provider)
	assert.Equal(t, 384, cfg.Embedding.Dimension)
	assert.Equal(t, "heuristic", cfg.Comparator.Mode)
	assert.Equal(t, 800, cfg.Memory.ChunkSize)
	assert.Equal(t, 0.2, cfg.Memory.ChunkOverlap)
	assert.Equal(t, 8, cfg.Memory.K)
	assert.Equal(t, 0.7, cfg.Memory.DiversityLambda)
	assert.Equal(t, 3, cfg.Memory.PromotionThreshold)
	assert.True(t, cfg.Memory.UseConceptIndex)
	assert.False(t, cfg.Memory.Persist)
}

func TestConfigStringMasksSecrets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Embedding.APIKey = "sk-secret"
	cfg.Comparator.APIKey = "ant-secret"

	s := cfg.String()
	assert.NotContains(t, s, "sk-secret")
	assert.NotContains(t, s, "ant-secret")
	assert.Contains(t, s, "***")
}

func TestLoaderMissingFileReturnsDefaults(t *testing.T) {
	loader := NewLoader(filepath.Join(t.TempDir(), "nope.json"))
	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 800, cfg.Memory.ChunkSize)
	assert.NotEmpty(t, cfg.DataDir)
}

func TestLoaderReadsFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "researchmem.json")
	content := `{
		"data_dir": "` + tmpDir + `",
		"memory": {"chunk_size": 400, "k": 4}
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := NewLoader(path).Load()
	require.NoError(t, err)
	assert.Equal(t, 400, cfg.Memory.ChunkSize)
	assert.Equal(t, 4, cfg.Memory.K)
	// untouched knobs keep defaults
	assert.Equal(t, 0.7, cfg.Memory.DiversityLambda)
	assert.Equal(t, filepath.Join(tmpDir, "researchmem.log"), cfg.Logging.File)
}

func TestLoaderRejectsInvalidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "researchmem.json")
	content := `{"memory": {"chunk_size": -1}}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	_, err := NewLoader(path).Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "chunk_size")
}
