// Package pq implements a product quantizer for memory-efficient vector
// compression and approximate distance computation.
//
// A D-dimensional vector is split into M equal-width subspaces; a
// k-means codebook with K centroids is trained independently for each
// subspace. Encoding a vector replaces each subspace slice with the
// index of its nearest centroid, producing an M-byte code (K <= 256, one
// byte per subspace). Distance between a query and a code is computed
// asymmetrically: the query is compared against the trained centroids
// once per subspace, and the per-subspace squared distances are summed
// using the code as a lookup index — no reconstruction of the original
// vector is needed.
//
// The quantizer is a reranker and memory-saver, not the engine's final
// arbiter: exact cosine similarity on the live candidate set always
// settles fusion ranking (see the engine orchestrator), so the
// quantization error here only affects optional recall experiments.
package pq

import (
	"encoding/json"
	"errors"
	"math"
	"math/rand"
)

var (
	// ErrDimensionNotDivisible is returned by Train when D is not a
	// multiple of M.
	ErrDimensionNotDivisible = errors.New("pq: dimension is not divisible by the number of subquantizers")
	// ErrNotTrained is returned by Encode/BuildDistanceTable before Train.
	ErrNotTrained = errors.New("pq: quantizer has not been trained")
	// ErrEmptySample is returned by Train with no sample vectors.
	ErrEmptySample = errors.New("pq: training sample is empty")
)

// Config controls the subspace count and centroid count per subspace.
type Config struct {
	M int // number of subquantizers (subspaces)
	K int // centroids per subspace (<=256 so a code byte fits)
}

// DefaultConfig returns M=8 subspaces with K=256 centroids (8-bit codes).
func DefaultConfig() Config {
	return Config{M: 8, K: 256}
}

// Quantizer is a trained (or untrained) product quantizer for
// fixed-dimension vectors.
type Quantizer struct {
	config    Config
	dimension int
	subDim    int // dimension / M

	trained   bool
	codebooks [][][]float32 // [subspace][centroid] -> subDim-length row
}

// New constructs an untrained quantizer for vectors of the given
// dimension. A zero-value config uses DefaultConfig.
func New(dimension int, config Config) *Quantizer {
	if config.M == 0 {
		config = DefaultConfig()
	}
	return &Quantizer{config: config, dimension: dimension}
}

// IsTrained reports whether Train has completed successfully.
func (q *Quantizer) IsTrained() bool {
	return q.trained
}

// Train partitions the embedding space into config.M subspaces and runs
// k-means (k-means++ seeding, Lloyd iteration) with config.K centroids
// independently within each subspace. Fails if the quantizer's dimension
// isn't evenly divisible by M, or the sample is empty.
func (q *Quantizer) Train(sample [][]float32) error {
	if q.dimension%q.config.M != 0 {
		return ErrDimensionNotDivisible
	}
	if len(sample) == 0 {
		return ErrEmptySample
	}

	subDim := q.dimension / q.config.M
	codebooks := make([][][]float32, q.config.M)

	for m := 0; m < q.config.M; m++ {
		slices := make([][]float32, len(sample))
		for i, vec := range sample {
			slices[i] = vec[m*subDim : (m+1)*subDim]
		}
		codebooks[m] = kmeans(slices, q.config.K, subDim)
	}

	q.subDim = subDim
	q.codebooks = codebooks
	q.trained = true
	return nil
}

// Encode returns the per-subspace nearest-centroid index for vec, one
// byte per subspace. Requires Train to have completed.
func (q *Quantizer) Encode(vec []float32) ([]byte, error) {
	if !q.trained {
		return nil, ErrNotTrained
	}
	code := make([]byte, q.config.M)
	for m := 0; m < q.config.M; m++ {
		slice := vec[m*q.subDim : (m+1)*q.subDim]
		code[m] = byte(nearestCentroid(slice, q.codebooks[m]))
	}
	return code, nil
}

// DistanceTable precomputes, for a single query vector, the per-subspace
// K-entry table of squared distances to every centroid. Passing the same
// table to DecodeDistance for many codes amortizes the per-subspace
// distance computation across a whole candidate batch.
type DistanceTable [][]float64

// BuildDistanceTable precomputes ||q_i - c_{i,:}||^2 for every subspace i
// and every centroid in that subspace's codebook.
func (q *Quantizer) BuildDistanceTable(query []float32) (DistanceTable, error) {
	if !q.trained {
		return nil, ErrNotTrained
	}
	table := make(DistanceTable, q.config.M)
	for m := 0; m < q.config.M; m++ {
		slice := query[m*q.subDim : (m+1)*q.subDim]
		centroids := q.codebooks[m]
		row := make([]float64, len(centroids))
		for c, centroid := range centroids {
			row[c] = squaredL2(slice, centroid)
		}
		table[m] = row
	}
	return table, nil
}

// DecodeDistance sums the precomputed table entries selected by code,
// giving the asymmetric squared-distance approximation between the
// table's query and the encoded vector. Distances are non-negative; ties
// are broken by the caller on doc-id.
func (table DistanceTable) DecodeDistance(code []byte) float64 {
	var sum float64
	for m, c := range code {
		if m >= len(table) {
			break
		}
		row := table[m]
		if int(c) < len(row) {
			sum += row[c]
		}
	}
	return sum
}

// nearestCentroid returns the index of the centroid in codebook closest
// to vec by squared L2 distance.
func nearestCentroid(vec []float32, codebook [][]float32) int {
	best := 0
	bestDist := math.MaxFloat64
	for i, centroid := range codebook {
		d := squaredL2(vec, centroid)
		if d < bestDist {
			bestDist = d
			best = i
		}
	}
	return best
}

func squaredL2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}

// kmeans clusters rows into k centroids of dimension dim using k-means++
// seeding followed by a fixed number of Lloyd iterations. If there are
// fewer distinct rows than k, centroids are padded by cycling the
// available rows so every subspace always yields exactly k centroids
// (keeping codes a fixed-width byte regardless of corpus size).
func kmeans(rows [][]float32, k, dim int) [][]float32 {
	if len(rows) == 0 {
		return make([][]float32, k)
	}

	centroids := kmeansPlusPlusSeed(rows, k)

	const maxIterations = 25
	assignment := make([]int, len(rows))

	for iter := 0; iter < maxIterations; iter++ {
		changed := false
		for i, row := range rows {
			best := nearestCentroid(row, centroids)
			if best != assignment[i] {
				assignment[i] = best
				changed = true
			}
		}

		sums := make([][]float64, k)
		counts := make([]int, k)
		for c := range sums {
			sums[c] = make([]float64, dim)
		}
		for i, row := range rows {
			c := assignment[i]
			counts[c]++
			for d := 0; d < dim && d < len(row); d++ {
				sums[c][d] += float64(row[d])
			}
		}

		for c := range centroids {
			if counts[c] == 0 {
				continue // keep previous centroid; an empty cluster contributes no update
			}
			updated := make([]float32, dim)
			for d := 0; d < dim; d++ {
				updated[d] = float32(sums[c][d] / float64(counts[c]))
			}
			centroids[c] = updated
		}

		if !changed && iter > 0 {
			break
		}
	}

	return centroids
}

// kmeansPlusPlusSeed picks k initial centroids from rows using k-means++
// weighted sampling, which spreads the initial seeds out and converges
// faster/more consistently than uniform random seeding.
func kmeansPlusPlusSeed(rows [][]float32, k int) [][]float32 {
	centroids := make([][]float32, 0, k)
	first := rows[rand.Intn(len(rows))]
	centroids = append(centroids, append([]float32{}, first...))

	distSq := make([]float64, len(rows))
	for len(centroids) < k {
		var total float64
		for i, row := range rows {
			d := squaredL2(row, centroids[len(centroids)-1])
			if len(centroids) == 1 || d < distSq[i] {
				distSq[i] = d
			}
			total += distSq[i]
		}

		if total == 0 {
			// All remaining points coincide with chosen centroids;
			// cycle through rows to fill out k centroids.
			centroids = append(centroids, append([]float32{}, rows[len(centroids)%len(rows)]...))
			continue
		}

		target := rand.Float64() * total
		var cum float64
		chosen := rows[len(rows)-1]
		for i, row := range rows {
			cum += distSq[i]
			if cum >= target {
				chosen = row
				break
			}
		}
		centroids = append(centroids, append([]float32{}, chosen...))
	}

	return centroids
}

// serializedQuantizer carries the trained flag and codebooks verbatim —
// centroids are the product of k-means training, not something worth
// recomputing on load, and retraining is only ever triggered explicitly
// by a full rebuild.
type serializedQuantizer struct {
	Config    Config          `json:"config"`
	Dimension int             `json:"dimension"`
	SubDim    int             `json:"sub_dim"`
	Trained   bool            `json:"trained"`
	Codebooks [][][]float32   `json:"codebooks,omitempty"`
}

// Export encodes the quantizer's trained state (or its untrained
// config, if Train has not run) for the persistence codec.
func (q *Quantizer) Export() ([]byte, error) {
	return json.Marshal(serializedQuantizer{
		Config:    q.config,
		Dimension: q.dimension,
		SubDim:    q.subDim,
		Trained:   q.trained,
		Codebooks: q.codebooks,
	})
}

// Import rebuilds a Quantizer from bytes written by Export.
func Import(data []byte) (*Quantizer, error) {
	var sq serializedQuantizer
	if err := json.Unmarshal(data, &sq); err != nil {
		return nil, err
	}
	return &Quantizer{
		config:    sq.Config,
		dimension: sq.Dimension,
		subDim:    sq.SubDim,
		trained:   sq.Trained,
		codebooks: sq.Codebooks,
	}, nil
}
