// Package pool provides the fixed-size worker pool used to fan candidate
// scoring out across goroutines, plus a small sync.Pool of reusable
// scratch buffers for the allocations that fan-out churns through on
// every query (candidate-id slices, score accumulator maps).
//
// The scoring fan-out is deliberately NOT goroutine-per-candidate: a
// query over a large candidate set would otherwise spawn thousands of
// short-lived goroutines per request. A fixed worker count bounds both
// the scheduler pressure and the memory a single slow query can hold.
package pool

import "sync"

// ScoredCandidate is one candidate's scoring result, produced by a
// worker. The caller collects every result, sorts the full slice and
// truncates it to top-k; no bounded top-k structure is kept.
type ScoredCandidate struct {
	ID    string
	Score float64
	Cos   float64
	BM25  float64
	Jac   float64
}

// ScoreFunc computes a ScoredCandidate for a single doc-id. Implementors
// swallow per-candidate errors internally (per the engine's failure
// policy, a corrupted candidate is dropped, not surfaced) and signal
// drop by returning ok=false.
type ScoreFunc func(docID string) (result ScoredCandidate, ok bool)

// Workers runs scoreFn over every id in candidateIDs using a fixed pool
// of workers goroutines, and returns the results that scored ok in no
// particular order (callers sort afterward). workers <= 0 defaults to 1.
func Workers(workers int, candidateIDs []string, scoreFn ScoreFunc) []ScoredCandidate {
	if workers <= 0 {
		workers = 1
	}
	if len(candidateIDs) == 0 {
		return nil
	}
	if workers > len(candidateIDs) {
		workers = len(candidateIDs)
	}

	jobs := make(chan string, len(candidateIDs))
	for _, id := range candidateIDs {
		jobs <- id
	}
	close(jobs)

	results := make(chan ScoredCandidate, len(candidateIDs))

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for id := range jobs {
				if scored, ok := scoreFn(id); ok {
					results <- scored
				}
			}
		}()
	}

	wg.Wait()
	close(results)

	out := make([]ScoredCandidate, 0, len(candidateIDs))
	for r := range results {
		out = append(out, r)
	}
	return out
}

// Config controls whether scratch-buffer pooling is active and how large
// a buffer may grow before it's discarded instead of recycled.
type Config struct {
	Enabled bool
	MaxSize int
}

var defaultConfig = Config{Enabled: true, MaxSize: 4096}

// Configure sets the package-level scratch-buffer pooling behavior.
// Intended to be called once during engine construction.
func Configure(cfg Config) {
	defaultConfig = cfg
}

var stringSlicePool = sync.Pool{
	New: func() any { return make([]string, 0, 64) },
}

// GetStringSlice returns a zero-length string slice from the pool.
func GetStringSlice() []string {
	if !defaultConfig.Enabled {
		return make([]string, 0, 64)
	}
	return stringSlicePool.Get().([]string)[:0]
}

// PutStringSlice returns buf to the pool, discarding it instead if it
// has grown past Config.MaxSize.
func PutStringSlice(buf []string) {
	if !defaultConfig.Enabled || cap(buf) > defaultConfig.MaxSize {
		return
	}
	stringSlicePool.Put(buf[:0])
}

var scoreMapPool = sync.Pool{
	New: func() any { return make(map[string]float64, 64) },
}

// GetScoreMap returns a cleared map[string]float64 from the pool, used
// to accumulate per-candidate scores during fusion.
func GetScoreMap() map[string]float64 {
	if !defaultConfig.Enabled {
		return make(map[string]float64, 64)
	}
	m := scoreMapPool.Get().(map[string]float64)
	for k := range m {
		delete(m, k)
	}
	return m
}

// PutScoreMap returns m to the pool.
func PutScoreMap(m map[string]float64) {
	if !defaultConfig.Enabled || m == nil || len(m) > defaultConfig.MaxSize {
		return
	}
	scoreMapPool.Put(m)
}
