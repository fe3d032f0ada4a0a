package pq

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuantizer_TrainDimensionNotDivisible(t *testing.T) {
	q := New(10, Config{M: 3, K: 4})
	err := q.Train([][]float32{{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}})
	assert.ErrorIs(t, err, ErrDimensionNotDivisible)
}

func TestQuantizer_EncodeBeforeTrain(t *testing.T) {
	q := New(8, Config{M: 4, K: 4})
	_, err := q.Encode(make([]float32, 8))
	assert.ErrorIs(t, err, ErrNotTrained)
}

func TestQuantizer_TrainEmptySample(t *testing.T) {
	q := New(8, Config{M: 4, K: 4})
	err := q.Train(nil)
	assert.ErrorIs(t, err, ErrEmptySample)
}

func TestQuantizer_TrainEncodeRoundTrip(t *testing.T) {
	dim := 8
	q := New(dim, Config{M: 4, K: 4})

	sample := make([][]float32, 50)
	r := rand.New(rand.NewSource(1))
	for i := range sample {
		v := make([]float32, dim)
		for d := range v {
			v[d] = float32(r.NormFloat64())
		}
		sample[i] = v
	}

	require.NoError(t, q.Train(sample))
	assert.True(t, q.IsTrained())

	code, err := q.Encode(sample[0])
	require.NoError(t, err)
	assert.Len(t, code, 4)
}

func TestQuantizer_DistanceTableRecall(t *testing.T) {
	dim := 16
	q := New(dim, Config{M: 8, K: 16})

	r := rand.New(rand.NewSource(42))
	sample := make([][]float32, 400)
	for i := range sample {
		v := make([]float32, dim)
		for d := range v {
			v[d] = float32(r.NormFloat64())
		}
		sample[i] = v
	}
	require.NoError(t, q.Train(sample))

	codes := make([][]byte, len(sample))
	for i, v := range sample {
		c, err := q.Encode(v)
		require.NoError(t, err)
		codes[i] = c
	}

	hits := 0
	probes := 30
	for p := 0; p < probes; p++ {
		query := sample[r.Intn(len(sample))]

		bestExact, bestExactDist := -1, 1e18
		for i, v := range sample {
			d := squaredL2(query, v)
			if d < bestExactDist {
				bestExactDist = d
				bestExact = i
			}
		}

		table, err := q.BuildDistanceTable(query)
		require.NoError(t, err)
		bestApprox, bestApproxDist := -1, 1e18
		for i, code := range codes {
			d := table.DecodeDistance(code)
			if d < bestApproxDist {
				bestApproxDist = d
				bestApprox = i
			}
		}

		if bestApprox == bestExact {
			hits++
		}
	}

	// Regression threshold, not a correctness law: recall@1 should stay
	// reasonably high on a small well-separated synthetic sample.
	assert.GreaterOrEqual(t, float64(hits)/float64(probes), 0.5)
}

func TestQuantizer_DistanceNonNegative(t *testing.T) {
	dim := 8
	q := New(dim, Config{M: 2, K: 4})
	sample := [][]float32{
		{1, 0, 0, 0, 0, 0, 0, 0},
		{0, 1, 0, 0, 0, 0, 0, 0},
		{0, 0, 1, 0, 0, 0, 0, 0},
		{0, 0, 0, 1, 0, 0, 0, 0},
	}
	require.NoError(t, q.Train(sample))
	table, err := q.BuildDistanceTable(sample[0])
	require.NoError(t, err)
	code, err := q.Encode(sample[1])
	require.NoError(t, err)
	assert.GreaterOrEqual(t, table.DecodeDistance(code), 0.0)
}
