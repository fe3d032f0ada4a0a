package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticEmbedder_Deterministic(t *testing.T) {
	e := NewStatic(nil)
	v1, err := e.Embed(context.Background(), "python developer")
	require.NoError(t, err)
	v2, err := e.Embed(context.Background(), "python developer")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
}

func TestStaticEmbedder_DifferentTextDifferentVector(t *testing.T) {
	e := NewStatic(nil)
	v1, _ := e.Embed(context.Background(), "python")
	v2, _ := e.Embed(context.Background(), "java")
	assert.NotEqual(t, v1, v2)
}

func TestStaticEmbedder_Dimensions(t *testing.T) {
	e := NewStatic(&Config{Dimensions: 64})
	v, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Len(t, v, 64)
	assert.Equal(t, 64, e.Dimensions())
}

func TestStaticEmbedder_EmbedBatch(t *testing.T) {
	e := NewStatic(nil)
	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Len(t, vecs, 3)
}

func TestNewEmbedder_UnknownProvider(t *testing.T) {
	_, err := NewEmbedder(&Config{Provider: "carrier-pigeon"})
	assert.Error(t, err)
}

func TestNewEmbedder_OpenAIRequiresKey(t *testing.T) {
	_, err := NewEmbedder(&Config{Provider: "openai"})
	assert.Error(t, err)
}

func TestNewEmbedder_DefaultsToStatic(t *testing.T) {
	e, err := NewEmbedder(nil)
	require.NoError(t, err)
	assert.Equal(t, "static-hash-384", e.Model())
}
