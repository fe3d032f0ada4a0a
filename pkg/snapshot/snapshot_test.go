package snapshot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.bin")

	sections := Sections{
		Manifest: Manifest{
			Dimension:     384,
			HNSWM:         16,
			PQM:           8,
			PQK:           256,
			NumBands:      20,
			RowsPerBand:   4,
			Generation:    7,
			DocumentCount: 3,
		},
		HNSW:       []byte("hnsw-bytes"),
		LSH:        []byte("lsh-bytes"),
		BM25:       []byte("bm25-bytes"),
		PQ:         []byte("pq-bytes"),
		Embeddings: []byte("embeddings-bytes"),
		Metadata:   []byte("metadata-bytes"),
	}

	require.NoError(t, Write(path, sections))

	loaded, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, sections.Manifest, loaded.Manifest)
	assert.Equal(t, sections.HNSW, loaded.HNSW)
	assert.Equal(t, sections.LSH, loaded.LSH)
	assert.Equal(t, sections.BM25, loaded.BM25)
	assert.Equal(t, sections.PQ, loaded.PQ)
	assert.Equal(t, sections.Embeddings, loaded.Embeddings)
	assert.Equal(t, sections.Metadata, loaded.Metadata)
}

func TestWriteLoad_EmptySections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.bin")
	require.NoError(t, Write(path, Sections{Manifest: Manifest{Dimension: 128}}))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Nil(t, loaded.HNSW)
	assert.Equal(t, 128, loaded.Manifest.Dimension)
}

func TestLoad_CorruptedChecksum(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.bin")
	require.NoError(t, Write(path, Sections{Manifest: Manifest{Dimension: 64}, HNSW: []byte("x")}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCorrupted)
}

func TestLoad_BadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.bin")
	require.NoError(t, os.WriteFile(path, []byte("not-a-snapshot-file-at-all"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCorrupted)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.bin"))
	require.Error(t, err)
}
