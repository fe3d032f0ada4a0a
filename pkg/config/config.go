// Package config loads the engine's tunables from an optional YAML file
// plus environment variable overrides, in the same layered style the
// teacher's configuration loader uses for its Neo4j-compatible settings:
// typed defaults first, then env vars win if set.
//
// Example Usage:
//
//	cfg := config.Default()
//	if err := cfg.LoadFile("retrievekit.yaml"); err != nil {
//		log.Fatalf("invalid config file: %v", err)
//	}
//	cfg.ApplyEnv()
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("invalid config: %v", err)
//	}
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// HNSWConfig controls the approximate nearest-neighbor graph.
type HNSWConfig struct {
	M              int `yaml:"m"`
	EfConstruction int `yaml:"ef_construction"`
	EfSearch       int `yaml:"ef_search"`
}

// PQConfig controls product quantization.
type PQConfig struct {
	M int `yaml:"m"`
	K int `yaml:"k"`
}

// LSHConfig controls MinHash banding.
type LSHConfig struct {
	NumBands   int `yaml:"num_bands"`
	RowsPerBand int `yaml:"rows_per_band"`
}

// BM25Config controls lexical scoring.
type BM25Config struct {
	K1 float64 `yaml:"k1"`
	B  float64 `yaml:"b"`
}

// RebuildConfig controls the drift thresholds that trigger a full index
// rebuild after a run of incremental mutations.
type RebuildConfig struct {
	DriftAbsolute int     `yaml:"drift_absolute"`
	DriftFraction float64 `yaml:"drift_fraction"`
}

// EmbedConfig controls the embedder used to turn text into vectors.
type EmbedConfig struct {
	Provider   string `yaml:"provider"`
	APIURL     string `yaml:"api_url"`
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	TimeoutSec int    `yaml:"timeout_seconds"`
}

// Config holds every recognized engine option.
//
// Configuration is organized into logical sections:
//   - HNSW, PQ, LSH, BM25: per-component index tunables
//   - Rebuild: drift thresholds for the incremental mutation layer
//   - Embed: embedding provider settings
//   - EmbeddingDim, UseGPU, IndexPath, CacheMaxSize: top-level engine options
type Config struct {
	EmbeddingDim int    `yaml:"embedding_dim"`
	UseGPU       bool   `yaml:"use_gpu"`
	IndexPath    string `yaml:"index_path"`
	CacheMaxSize int    `yaml:"cache_max_size"`

	// FusionStrategy selects how per-candidate cosine/BM25/Jaccard scores
	// are combined into a single ranking score: "weighted" (the default
	// fixed-weight convex combination) or "rrf" (reciprocal rank fusion
	// across the three per-signal rankings, scale-free and less sensitive
	// to outlier scores on any one signal).
	FusionStrategy string `yaml:"fusion_strategy"`
	// RerankEnabled gates an optional post-fusion reranking stage. It has
	// no effect unless a Reranker has also been installed via
	// Engine.SetReranker — there is no built-in reranker implementation,
	// since doing so well requires a model-serving endpoint this package
	// has no opinion on.
	RerankEnabled bool `yaml:"rerank_enabled"`

	HNSW    HNSWConfig    `yaml:"hnsw"`
	PQ      PQConfig      `yaml:"pq"`
	LSH     LSHConfig     `yaml:"lsh"`
	BM25    BM25Config    `yaml:"bm25"`
	Rebuild RebuildConfig `yaml:"rebuild"`
	Embed   EmbedConfig   `yaml:"embed"`
}

// Fusion strategy names recognized by FusionStrategy.
const (
	FusionWeighted = "weighted"
	FusionRRF      = "rrf"
)

// Default returns a Config populated with the engine's built-in defaults,
// matching the individual component packages' own DefaultConfig values.
func Default() *Config {
	return &Config{
		EmbeddingDim:   384,
		UseGPU:         false,
		IndexPath:      "./data/retrievekit",
		CacheMaxSize:   1000,
		FusionStrategy: FusionWeighted,
		RerankEnabled:  false,
		HNSW: HNSWConfig{
			M:              16,
			EfConstruction: 200,
			EfSearch:       200,
		},
		PQ: PQConfig{
			M: 8,
			K: 256,
		},
		LSH: LSHConfig{
			NumBands:    20,
			RowsPerBand: 4,
		},
		BM25: BM25Config{
			K1: 1.5,
			B:  0.75,
		},
		Rebuild: RebuildConfig{
			DriftAbsolute: 10000,
			DriftFraction: 0.1,
		},
		Embed: EmbedConfig{
			Provider:   "static",
			Model:      "static-384",
			TimeoutSec: 30,
		},
	}
}

// LoadFile merges YAML-encoded overrides from path onto the receiver. A
// missing file is not an error — callers that only want env-var
// configuration can skip LoadFile entirely.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: read %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %q: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays RETRIEVEKIT_-prefixed environment variables onto the
// receiver, following the same "env var wins if set" discipline the
// teacher's loader uses for its Neo4j-compatible settings.
func (c *Config) ApplyEnv() {
	c.EmbeddingDim = getEnvInt("RETRIEVEKIT_EMBEDDING_DIM", c.EmbeddingDim)
	c.UseGPU = getEnvBool("RETRIEVEKIT_USE_GPU", c.UseGPU)
	c.IndexPath = getEnv("RETRIEVEKIT_INDEX_PATH", c.IndexPath)
	c.CacheMaxSize = getEnvInt("RETRIEVEKIT_CACHE_MAX_SIZE", c.CacheMaxSize)
	c.FusionStrategy = getEnv("RETRIEVEKIT_FUSION_STRATEGY", c.FusionStrategy)
	c.RerankEnabled = getEnvBool("RETRIEVEKIT_RERANK_ENABLED", c.RerankEnabled)

	c.HNSW.M = getEnvInt("RETRIEVEKIT_HNSW_M", c.HNSW.M)
	c.HNSW.EfConstruction = getEnvInt("RETRIEVEKIT_HNSW_EF_CONSTRUCTION", c.HNSW.EfConstruction)
	c.HNSW.EfSearch = getEnvInt("RETRIEVEKIT_HNSW_EF_SEARCH", c.HNSW.EfSearch)

	c.PQ.M = getEnvInt("RETRIEVEKIT_PQ_M", c.PQ.M)
	c.PQ.K = getEnvInt("RETRIEVEKIT_PQ_K", c.PQ.K)

	c.LSH.NumBands = getEnvInt("RETRIEVEKIT_LSH_NUM_BANDS", c.LSH.NumBands)
	c.LSH.RowsPerBand = getEnvInt("RETRIEVEKIT_LSH_ROWS_PER_BAND", c.LSH.RowsPerBand)

	c.BM25.K1 = getEnvFloat("RETRIEVEKIT_BM25_K1", c.BM25.K1)
	c.BM25.B = getEnvFloat("RETRIEVEKIT_BM25_B", c.BM25.B)

	c.Rebuild.DriftAbsolute = getEnvInt("RETRIEVEKIT_DRIFT_ABSOLUTE", c.Rebuild.DriftAbsolute)
	c.Rebuild.DriftFraction = getEnvFloat("RETRIEVEKIT_DRIFT_FRACTION", c.Rebuild.DriftFraction)

	c.Embed.Provider = getEnv("RETRIEVEKIT_EMBED_PROVIDER", c.Embed.Provider)
	c.Embed.APIURL = getEnv("RETRIEVEKIT_EMBED_API_URL", c.Embed.APIURL)
	c.Embed.APIKey = getEnv("RETRIEVEKIT_EMBED_API_KEY", c.Embed.APIKey)
	c.Embed.Model = getEnv("RETRIEVEKIT_EMBED_MODEL", c.Embed.Model)
	c.Embed.TimeoutSec = getEnvInt("RETRIEVEKIT_EMBED_TIMEOUT_SECONDS", c.Embed.TimeoutSec)
}

// Validate checks the recognized options for obviously unusable values.
func (c *Config) Validate() error {
	if c.EmbeddingDim <= 0 {
		return fmt.Errorf("config: invalid embedding_dim: %d", c.EmbeddingDim)
	}
	if c.CacheMaxSize < 0 {
		return fmt.Errorf("config: invalid cache_max_size: %d", c.CacheMaxSize)
	}
	if c.FusionStrategy == "" {
		c.FusionStrategy = FusionWeighted
	}
	if c.FusionStrategy != FusionWeighted && c.FusionStrategy != FusionRRF {
		return fmt.Errorf("config: invalid fusion_strategy: %q", c.FusionStrategy)
	}
	if c.HNSW.M <= 0 || c.HNSW.EfConstruction <= 0 || c.HNSW.EfSearch <= 0 {
		return fmt.Errorf("config: invalid hnsw settings: %+v", c.HNSW)
	}
	if c.PQ.M <= 0 || c.PQ.K <= 0 {
		return fmt.Errorf("config: invalid pq settings: %+v", c.PQ)
	}
	if c.PQ.K > 256 {
		return fmt.Errorf("config: pq.k must fit in a byte code (<=256), got %d", c.PQ.K)
	}
	if c.LSH.NumBands <= 0 || c.LSH.RowsPerBand <= 0 {
		return fmt.Errorf("config: invalid lsh settings: %+v", c.LSH)
	}
	if c.BM25.K1 < 0 || c.BM25.B < 0 || c.BM25.B > 1 {
		return fmt.Errorf("config: invalid bm25 settings: %+v", c.BM25)
	}
	if c.Rebuild.DriftAbsolute < 0 || c.Rebuild.DriftFraction < 0 {
		return fmt.Errorf("config: invalid rebuild thresholds: %+v", c.Rebuild)
	}
	return nil
}

// String returns a safe representation for logging. The embed API key is
// deliberately omitted.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{dim: %d, gpu: %v, index_path: %s, cache: %d, embed: %s/%s}",
		c.EmbeddingDim, c.UseGPU, c.IndexPath, c.CacheMaxSize, c.Embed.Provider, c.Embed.Model,
	)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}
