package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 384, cfg.EmbeddingDim)
	assert.Equal(t, 16, cfg.HNSW.M)
}

func TestLoadFile_MissingIsNotError(t *testing.T) {
	cfg := Default()
	err := cfg.LoadFile(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
}

func TestLoadFile_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	content := "embedding_dim: 512\nhnsw:\n  m: 32\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg := Default()
	require.NoError(t, cfg.LoadFile(path))
	assert.Equal(t, 512, cfg.EmbeddingDim)
	assert.Equal(t, 32, cfg.HNSW.M)
	assert.Equal(t, 200, cfg.HNSW.EfConstruction) // untouched field keeps default
}

func TestApplyEnv_OverridesConfig(t *testing.T) {
	t.Setenv("RETRIEVEKIT_EMBEDDING_DIM", "768")
	t.Setenv("RETRIEVEKIT_USE_GPU", "true")

	cfg := Default()
	cfg.ApplyEnv()

	assert.Equal(t, 768, cfg.EmbeddingDim)
	assert.True(t, cfg.UseGPU)
}

func TestValidate_RejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.PQ.K = 300
	assert.Error(t, cfg.Validate())

	cfg2 := Default()
	cfg2.BM25.B = 1.5
	assert.Error(t, cfg2.Validate())

	cfg3 := Default()
	cfg3.EmbeddingDim = 0
	assert.Error(t, cfg3.Validate())
}

func TestValidate_RejectsUnknownFusionStrategy(t *testing.T) {
	cfg := Default()
	cfg.FusionStrategy = "borda-count"
	assert.Error(t, cfg.Validate())
}

func TestValidate_EmptyFusionStrategyDefaultsToWeighted(t *testing.T) {
	cfg := Default()
	cfg.FusionStrategy = ""
	require.NoError(t, cfg.Validate())
	assert.Equal(t, FusionWeighted, cfg.FusionStrategy)
}

func TestApplyEnv_OverridesFusionAndRerank(t *testing.T) {
	t.Setenv("RETRIEVEKIT_FUSION_STRATEGY", "rrf")
	t.Setenv("RETRIEVEKIT_RERANK_ENABLED", "true")

	cfg := Default()
	cfg.ApplyEnv()

	assert.Equal(t, FusionRRF, cfg.FusionStrategy)
	assert.True(t, cfg.RerankEnabled)
}

func TestString_OmitsAPIKey(t *testing.T) {
	cfg := Default()
	cfg.Embed.APIKey = "super-secret"
	assert.NotContains(t, cfg.String(), "super-secret")
}
