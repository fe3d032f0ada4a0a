// Package embed defines the embedding collaborator contract the engine
// calls during build and query: encode(texts) -> float32[N,D]. The
// engine treats whatever implementation is wired in as an external, pure
// function — it does not know or care whether embeddings come from a
// local model server or a cloud API.
//
// Two HTTP-backed implementations are provided (Ollama, OpenAI) for
// production wiring, and a deterministic Static embedder for tests and
// offline development that never makes a network call.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"net/http"
	"time"
)

// Embedder generates vector embeddings from text. Implementations must
// be safe for concurrent use.
type Embedder interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts in one call,
	// which is the path the engine's build pipeline always uses.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding width this embedder produces.
	Dimensions() int

	// Model returns a human-readable model identifier, surfaced in
	// health/metrics for operators.
	Model() string
}

// Config holds embedding provider configuration.
type Config struct {
	Provider   string // "ollama", "openai", or "static"
	APIURL     string
	APIPath    string
	APIKey     string // OpenAI only
	Model      string
	Dimensions int
	Timeout    time.Duration
}

// DefaultOllamaConfig targets a local Ollama server running
// mxbai-embed-large (1024 dimensions).
func DefaultOllamaConfig() *Config {
	return &Config{
		Provider:   "ollama",
		APIURL:     "http://localhost:11434",
		APIPath:    "/api/embeddings",
		Model:      "mxbai-embed-large",
		Dimensions: 1024,
		Timeout:    30 * time.Second,
	}
}

// DefaultOpenAIConfig targets OpenAI's text-embedding-3-small (1536
// dimensions).
func DefaultOpenAIConfig(apiKey string) *Config {
	return &Config{
		Provider:   "openai",
		APIURL:     "https://api.openai.com",
		APIPath:    "/v1/embeddings",
		APIKey:     apiKey,
		Model:      "text-embedding-3-small",
		Dimensions: 1536,
		Timeout:    30 * time.Second,
	}
}

// DefaultStaticConfig returns the engine's baseline embedding width (384,
// per the data model's typical dimension) for the deterministic
// in-process embedder.
func DefaultStaticConfig() *Config {
	return &Config{
		Provider:   "static",
		Model:      "static-hash-384",
		Dimensions: 384,
	}
}

// NewEmbedder constructs the Embedder named by config.Provider.
func NewEmbedder(config *Config) (Embedder, error) {
	if config == nil {
		config = DefaultStaticConfig()
	}
	switch config.Provider {
	case "ollama":
		return NewOllama(config), nil
	case "openai":
		if config.APIKey == "" {
			return nil, fmt.Errorf("embed: openai provider requires an API key")
		}
		return NewOpenAI(config), nil
	case "static", "":
		return NewStatic(config), nil
	default:
		return nil, fmt.Errorf("embed: unknown provider %q", config.Provider)
	}
}

// OllamaEmbedder calls a local Ollama server's embeddings endpoint.
type OllamaEmbedder struct {
	config *Config
	client *http.Client
}

// NewOllama constructs an Ollama-backed embedder. A nil config uses
// DefaultOllamaConfig.
func NewOllama(config *Config) *OllamaEmbedder {
	if config == nil {
		config = DefaultOllamaConfig()
	}
	return &OllamaEmbedder{config: config, client: &http.Client{Timeout: config.Timeout}}
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed sends a single prompt to Ollama and returns its embedding.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaRequest{Model: e.config.Model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("embed: marshal ollama request: %w", err)
	}

	url := e.config.APIURL + e.config.APIPath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embed: build ollama request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("embed: ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embed: ollama returned %d: %s", resp.StatusCode, string(b))
	}

	var out ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("embed: decode ollama response: %w", err)
	}
	return out.Embedding, nil
}

// EmbedBatch issues one Embed call per text; Ollama has no native batch
// endpoint.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed: batch item %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// Dimensions returns the configured embedding width.
func (e *OllamaEmbedder) Dimensions() int { return e.config.Dimensions }

// Model returns the configured model name.
func (e *OllamaEmbedder) Model() string { return e.config.Model }

// OpenAIEmbedder calls OpenAI's /v1/embeddings endpoint, which natively
// batches many inputs into one request.
type OpenAIEmbedder struct {
	config *Config
	client *http.Client
}

// NewOpenAI constructs an OpenAI-backed embedder. A nil config uses
// DefaultOpenAIConfig("").
func NewOpenAI(config *Config) *OpenAIEmbedder {
	if config == nil {
		config = DefaultOpenAIConfig("")
	}
	return &OpenAIEmbedder{config: config, client: &http.Client{Timeout: config.Timeout}}
}

type openAIRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// Embed generates a single embedding via EmbedBatch.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch sends all texts in a single OpenAI request.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(openAIRequest{Model: e.config.Model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("embed: marshal openai request: %w", err)
	}

	url := e.config.APIURL + e.config.APIPath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embed: build openai request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+e.config.APIKey)

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("embed: openai request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embed: openai returned %d: %s", resp.StatusCode, string(b))
	}

	var out openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("embed: decode openai response: %w", err)
	}

	results := make([][]float32, len(texts))
	for _, d := range out.Data {
		if d.Index >= 0 && d.Index < len(results) {
			results[d.Index] = d.Embedding
		}
	}
	return results, nil
}

// Dimensions returns the configured embedding width.
func (e *OpenAIEmbedder) Dimensions() int { return e.config.Dimensions }

// Model returns the configured model name.
func (e *OpenAIEmbedder) Model() string { return e.config.Model }

// StaticEmbedder deterministically maps text to a unit-normalized
// pseudo-random vector derived from a hash of the whole text. It makes no network
// call, so it's the embedder used by the engine's own test suite and is
// a reasonable offline default when no real model is configured.
type StaticEmbedder struct {
	config *Config
}

// NewStatic constructs a deterministic embedder. A nil config uses
// DefaultStaticConfig.
func NewStatic(config *Config) *StaticEmbedder {
	if config == nil {
		config = DefaultStaticConfig()
	}
	if config.Dimensions <= 0 {
		config.Dimensions = 384
	}
	return &StaticEmbedder{config: config}
}

// Embed hashes text into config.Dimensions deterministic pseudo-random
// values and returns the unit-normalized vector.
func (e *StaticEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	dim := e.config.Dimensions
	vec := make([]float32, dim)

	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	var sumSquares float64
	state := seed
	for i := 0; i < dim; i++ {
		// xorshift64 — cheap, deterministic, and well-distributed
		// enough that independent dimensions don't correlate.
		state ^= state << 13
		state ^= state >> 7
		state ^= state << 17
		v := float32(int64(state%2000)-1000) / 1000.0
		vec[i] = v
		sumSquares += float64(v) * float64(v)
	}

	if sumSquares == 0 {
		return vec, nil
	}
	norm := float32(math.Sqrt(sumSquares))
	for i := range vec {
		vec[i] /= norm
	}
	return vec, nil
}

// EmbedBatch embeds each text independently; StaticEmbedder has no batch
// efficiency to gain since there's no network round trip to amortize.
func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Dimensions returns the configured embedding width.
func (e *StaticEmbedder) Dimensions() int { return e.config.Dimensions }

// Model returns the configured model identifier.
func (e *StaticEmbedder) Model() string { return e.config.Model }
