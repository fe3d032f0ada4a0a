// Package engine orchestrates the hybrid retrieval engine: the build and
// query pipelines, fusion scoring across the LSH/HNSW/BM25 index family,
// the query result cache, and the persistence and health/metrics
// surfaces. It is the single entry point external callers use — the
// individual index packages (hnsw, lsh, bm25, pq, docstore) are not
// meant to be driven directly outside of tests.
package engine

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/orneryd/retrievekit/pkg/bm25"
	"github.com/orneryd/retrievekit/pkg/cache"
	"github.com/orneryd/retrievekit/pkg/config"
	"github.com/orneryd/retrievekit/pkg/docfilter"
	"github.com/orneryd/retrievekit/pkg/docstore"
	"github.com/orneryd/retrievekit/pkg/embed"
	"github.com/orneryd/retrievekit/pkg/hnsw"
	"github.com/orneryd/retrievekit/pkg/lsh"
	"github.com/orneryd/retrievekit/pkg/metrics"
	"github.com/orneryd/retrievekit/pkg/pool"
	"github.com/orneryd/retrievekit/pkg/pq"
	"github.com/orneryd/retrievekit/pkg/vector"
)

// genState tracks where a generation sits in its lifecycle. Reads are
// served from ready or mutating; only a load from disk jumps straight
// from empty to ready.
type genState int

const (
	stateEmpty genState = iota
	stateBuilding
	stateReady
	stateMutating
	stateRebuildScheduled
)

// Fusion weights: combined score S = wCos*cos + wBM25*bm25 + wJaccard*jac.
// Conservative defaults — semantically dominated by the vector score but
// rescued by exact lexical overlap on short keyword queries.
const (
	weightCosine  = 0.6
	weightBM25    = 0.3
	weightJaccard = 0.1
)

const (
	maxNumResults     = 1000
	defaultPQSampleN  = 10_000
	defaultQueryDeadline = 2 * time.Second
)

// BuildReport summarizes one BuildIndexes call.
type BuildReport struct {
	DocumentsProcessed int
	Failures           int
	Elapsed            time.Duration
}

// SearchResult is one ranked hit from Search.
type SearchResult struct {
	DocID         string
	CombinedScore float64
	Cos           float64
	BM25          float64
	Jaccard       float64
	Metadata      *docstore.Document
}

// Ack is the outcome of a mutation or persistence operation.
type Ack struct {
	Success    bool
	Generation uint64
}

// Health is a point-in-time status report.
type Health struct {
	Generation   uint64
	CorpusSize   int
	Tombstones   int
	PQTrained    bool
	CacheSize    int
	LastBuildMs  int64
}

// Engine wires together every index structure and exposes the
// programmatic surface described by the external interface: build,
// search, mutate, snapshot/load, health, metrics.
type Engine struct {
	cfg      config.Config
	embedder embed.Embedder

	mu         sync.RWMutex
	state      genState
	generation uint64
	dimension  int

	store docstore.Store
	hnsw  *hnsw.Graph
	lsh   *lsh.Index
	bm25  *bm25.Index
	pq    *pq.Quantizer
	cache *cache.Cache

	embeddings map[string][]float32
	tombstoned map[string]bool

	metrics *metrics.Registry

	mutator *Mutator

	reranker Reranker

	lastBuildMs atomic.Int64
	workerCount int
}

// New constructs an Engine from cfg and an embedder. The engine starts
// in state Empty — callers must call BuildIndexes or Load before
// issuing searches.
func New(cfg config.Config, embedder embed.Embedder) *Engine {
	return NewWithStore(cfg, embedder, newConfiguredStore(cfg))
}

// NewWithStore is New with an explicit document/metadata Store, for
// callers that want a persistent backend (docstore.BadgerStore) instead
// of the in-memory default, or a test double.
func NewWithStore(cfg config.Config, embedder embed.Embedder, store docstore.Store) *Engine {
	pool.Configure(pool.Config{Enabled: true, MaxSize: 4096})

	e := &Engine{
		cfg:         cfg,
		embedder:    embedder,
		state:       stateEmpty,
		dimension:   cfg.EmbeddingDim,
		store:       store,
		hnsw:        hnsw.New(cfg.EmbeddingDim, hnswConfigFrom(cfg)),
		lsh:         lsh.New(&lsh.Config{NumBands: cfg.LSH.NumBands, RowsPerBand: cfg.LSH.RowsPerBand}),
		bm25:        bm25.New(bm25.Config{K1: cfg.BM25.K1, B: cfg.BM25.B}),
		pq:          pq.New(cfg.EmbeddingDim, pq.Config{M: cfg.PQ.M, K: cfg.PQ.K}),
		cache:       cache.New(cfg.CacheMaxSize, 5*time.Minute),
		embeddings:  make(map[string][]float32),
		tombstoned:  make(map[string]bool),
		metrics:     metrics.New(),
		workerCount: 8,
	}
	e.mutator = newMutator(e)
	return e
}

// newConfiguredStore picks the document/metadata store backend named by
// cfg.IndexPath: a directory path opens a persistent docstore.BadgerStore
// there, an empty path falls back to the in-memory store. Callers that
// need to handle an Open failure explicitly (instead of falling back
// silently) should construct their own Store and call NewWithStore.
func newConfiguredStore(cfg config.Config) docstore.Store {
	if cfg.IndexPath == "" {
		return docstore.NewMemoryStore()
	}
	store, err := docstore.OpenBadgerStore(cfg.IndexPath)
	if err != nil {
		return docstore.NewMemoryStore()
	}
	return store
}

func hnswConfigFrom(cfg config.Config) hnsw.Config {
	base := hnsw.DefaultConfig()
	if cfg.HNSW.M > 0 {
		base.M = cfg.HNSW.M
	}
	if cfg.HNSW.EfConstruction > 0 {
		base.EfConstruction = cfg.HNSW.EfConstruction
	}
	if cfg.HNSW.EfSearch > 0 {
		base.EfSearch = cfg.HNSW.EfSearch
	}
	return base
}

// Generation returns the engine's current generation id.
func (e *Engine) Generation() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.generation
}

// BuildIndexes runs the full build pipeline over documents: canonical
// text/token derivation, a single batched embedder call, population of
// BM25/LSH/metadata, PQ training on a representative sample, and
// deterministic in-order HNSW insertion. Per-document embedding or
// tokenization failures are skipped with a warning counter; the batch
// succeeds overall if at least one document was indexed.
func (e *Engine) BuildIndexes(ctx context.Context, documents []*docstore.Document) (BuildReport, error) {
	start := time.Now()
	e.mu.Lock()
	e.state = stateBuilding
	e.mu.Unlock()

	texts := make([]string, len(documents))
	for i, doc := range documents {
		texts[i] = doc.CanonicalText()
	}

	vectors, err := e.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		e.metrics.IncIndexBuildErrors()
		e.mu.Lock()
		e.state = stateEmpty
		e.mu.Unlock()
		return BuildReport{}, embeddingError(err)
	}

	type indexed struct {
		doc *docstore.Document
		vec []float32
	}
	var ok []indexed
	failures := 0

	for i, doc := range documents {
		if i >= len(vectors) || len(vectors[i]) != e.dimension {
			failures++
			continue
		}
		tokens := doc.TokenSet()
		if doc.ID == "" {
			failures++
			continue
		}
		ok = append(ok, indexed{doc: doc, vec: vectors[i]})
		_ = tokens
	}

	if len(ok) == 0 {
		e.metrics.IncIndexBuildErrors()
		e.mu.Lock()
		e.state = stateEmpty
		e.mu.Unlock()
		return BuildReport{Failures: failures}, internalErrorf(e.generation, "no documents survived embedding")
	}

	e.mu.Lock()
	e.tombstoned = make(map[string]bool) // a full build compacts any prior tombstones
	for _, item := range ok {
		tokens := item.doc.TokenSet()
		e.store.Put(item.doc)
		e.bm25.Add(item.doc.ID, tokens)
		e.lsh.Add(item.doc.ID, tokens)
		e.embeddings[item.doc.ID] = item.vec
	}

	sort.Slice(ok, func(i, j int) bool { return ok[i].doc.ID < ok[j].doc.ID })
	for _, item := range ok {
		_ = e.hnsw.Add(item.doc.ID, item.vec)
	}

	sample := make([][]float32, 0, len(ok))
	sampleTarget := defaultPQSampleN
	if e.cfg.PQ.K*40 > sampleTarget {
		sampleTarget = e.cfg.PQ.K * 40
	}
	for i, item := range ok {
		if i >= sampleTarget {
			break
		}
		sample = append(sample, item.vec)
	}
	if err := e.pq.Train(sample); err != nil {
		// PQ is a reranker/memory-saver, not the ranking path itself;
		// a training failure (e.g. too few samples) does not fail the
		// build, it only leaves PQ untrained.
		_ = err
	}

	e.generation++
	e.state = stateReady
	e.mu.Unlock()

	e.mutator.ResetDriftCounter()
	e.cache.InvalidateAll()

	elapsed := time.Since(start)
	e.lastBuildMs.Store(elapsed.Milliseconds())
	e.metrics.IncIndexBuilds()
	e.metrics.ObserveIndexBuildTimeSeconds(elapsed.Seconds())

	return BuildReport{DocumentsProcessed: len(ok), Failures: failures, Elapsed: elapsed}, nil
}

// Search runs the query pipeline: validate, check cache, embed, gather
// LSH∪HNSW candidates, filter, fuse-score, sort, cache, return.
func (e *Engine) Search(ctx context.Context, queryText string, k int, filters *docfilter.Bag, efSearch int) ([]SearchResult, error) {
	start := time.Now()

	if queryText == "" {
		return nil, validationErrorf("query text must not be empty")
	}
	if k < 1 || k > maxNumResults {
		return nil, validationErrorf("num_results must be in [1, %d], got %d", maxNumResults, k)
	}

	e.mu.RLock()
	state := e.state
	e.mu.RUnlock()
	if state == stateEmpty {
		return nil, notReadyError("no build or load has completed")
	}

	fingerprint := filters.Fingerprint()
	cacheKey := cache.Key(queryText, k, fingerprint)
	if cached, found := e.cache.Get(cacheKey); found {
		e.metrics.IncSearchQueries()
		e.metrics.IncSearchCacheHits()
		e.metrics.ObserveSearchResponseTimeMs(float64(time.Since(start).Milliseconds()))
		return cached.([]SearchResult), nil
	}

	ctx, cancel := context.WithTimeout(ctx, defaultQueryDeadline)
	defer cancel()

	queryVec, err := e.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, embeddingError(err)
	}
	if len(queryVec) != e.dimension {
		return nil, validationErrorf("embedder returned dimension %d, expected %d", len(queryVec), e.dimension)
	}
	queryTokens := docstore.Tokenize(docstore.SanitizeText(queryText))

	if efSearch <= 0 {
		efSearch = e.cfg.HNSW.EfSearch
	}

	// One read lock spans candidate gathering through result hydration, so
	// every candidate is gathered from, scored against, and every hit
	// hydrated from the same generation of indexes/embeddings/tombstones/
	// store. A mutation's write lock (mutation.go) cannot interleave with
	// any part of this window: a query observes one consistent generation
	// of every index, never a mix of pre- and post-mutation state.
	e.mu.RLock()

	hnswResults, err := e.hnsw.Search(ctx, queryVec, efSearch, efSearch)
	if err != nil {
		e.mu.RUnlock()
		if ctx.Err() != nil {
			if ctx.Err() == context.DeadlineExceeded {
				return nil, timeoutError()
			}
			return nil, cancelledError()
		}
		return nil, internalErrorf(e.generation, "hnsw search: %v", err)
	}

	candidateSet := make(map[string]struct{}, len(hnswResults))
	for _, r := range hnswResults {
		candidateSet[r.ID] = struct{}{}
	}
	for _, id := range e.lsh.Candidates(queryTokens) {
		candidateSet[id] = struct{}{}
	}

	candidateIDs := pool.GetStringSlice()
	for id := range candidateSet {
		candidateIDs = append(candidateIDs, id)
	}

	normalizedQuery := vector.Normalize(queryVec)

	scoreFn := func(docID string) (pool.ScoredCandidate, bool) {
		if err := ctx.Err(); err != nil {
			return pool.ScoredCandidate{}, false
		}
		if e.tombstoned[docID] {
			return pool.ScoredCandidate{}, false
		}
		vec, hasVec := e.embeddings[docID]
		if !hasVec {
			return pool.ScoredCandidate{}, false
		}

		doc, found := e.store.Get(docID)
		if !found {
			return pool.ScoredCandidate{}, false
		}
		if !filters.Matches(doc) {
			return pool.ScoredCandidate{}, false
		}

		cos := vector.CosineSimilarity(normalizedQuery, vec)
		bm25Score := e.bm25.Score(queryTokens, docID)
		jac := e.lsh.Jaccard(queryTokens, docID)
		combined := weightCosine*cos + weightBM25*bm25Score + weightJaccard*jac

		return pool.ScoredCandidate{ID: docID, Score: combined, Cos: cos, BM25: bm25Score, Jac: jac}, true
	}

	scored := pool.Workers(e.workerCount, candidateIDs, scoreFn)

	if err := ctx.Err(); err != nil {
		e.mu.RUnlock()
		pool.PutStringSlice(candidateIDs)
		if err == context.DeadlineExceeded {
			return nil, timeoutError()
		}
		return nil, cancelledError()
	}

	if e.cfg.FusionStrategy == config.FusionRRF {
		applyRRF(scored)
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].ID < scored[j].ID
	})

	if len(scored) > k {
		scored = scored[:k]
	}

	results := make([]SearchResult, 0, len(scored))
	for _, c := range scored {
		doc, _ := e.store.Get(c.ID)
		results = append(results, SearchResult{
			DocID:         c.ID,
			CombinedScore: c.Score,
			Cos:           c.Cos,
			BM25:          c.BM25,
			Jaccard:       c.Jac,
			Metadata:      doc,
		})
	}

	e.mu.RUnlock()
	pool.PutStringSlice(candidateIDs)

	results = e.applyRerank(ctx, queryText, results)

	e.cache.Put(cacheKey, results)

	e.metrics.IncSearchQueries()
	e.metrics.ObserveSearchResponseTimeMs(float64(time.Since(start).Milliseconds()))

	return results, nil
}

// rrfK is the reciprocal rank fusion damping constant, the same value
// used in the original RRF paper and common across search engines that
// implement it (it flattens the score curve so the difference between
// rank 1 and rank 2 doesn't dominate the difference between rank 50 and
// rank 100).
const rrfK = 60

// applyRRF replaces each candidate's Score with a reciprocal-rank-fusion
// score computed independently over the cosine, BM25, and Jaccard
// rankings, overwriting the fixed-weight combination scoreFn computed.
// RRF trades the weighted strategy's sensitivity to each signal's raw
// scale for a purely rank-based combination — useful when one signal's
// distribution (e.g. BM25 on a short query) would otherwise swamp the
// others.
func applyRRF(candidates []pool.ScoredCandidate) {
	n := len(candidates)
	if n == 0 {
		return
	}

	rrfScore := pool.GetScoreMap()
	defer pool.PutScoreMap(rrfScore)

	for _, metric := range []func(pool.ScoredCandidate) float64{
		func(c pool.ScoredCandidate) float64 { return c.Cos },
		func(c pool.ScoredCandidate) float64 { return c.BM25 },
		func(c pool.ScoredCandidate) float64 { return c.Jac },
	} {
		order := make([]int, n)
		for i := range order {
			order[i] = i
		}
		sort.Slice(order, func(a, b int) bool { return metric(candidates[order[a]]) > metric(candidates[order[b]]) })
		for rank, idx := range order {
			rrfScore[candidates[idx].ID] += 1.0 / float64(rrfK+rank+1)
		}
	}
	for i := range candidates {
		candidates[i].Score = rrfScore[candidates[i].ID]
	}
}

// AddDocument embeds, tokenizes, and inserts doc into every live index.
func (e *Engine) AddDocument(ctx context.Context, doc *docstore.Document) (Ack, error) {
	return e.mutator.AddDocument(ctx, doc)
}

// UpdateDocument is observationally equivalent to deleting id then
// adding doc; an unknown id is treated as a plain add.
func (e *Engine) UpdateDocument(ctx context.Context, id string, doc *docstore.Document) (Ack, error) {
	return e.mutator.UpdateDocument(ctx, id, doc)
}

// DeleteDocument tombstones id in HNSW and drops it from every other
// live index.
func (e *Engine) DeleteDocument(ctx context.Context, id string) (Ack, error) {
	return e.mutator.DeleteDocument(ctx, id)
}

// RebuildScheduled reports whether accumulated drift has crossed the
// configured threshold and a full rebuild is pending.
func (e *Engine) RebuildScheduled() bool {
	return e.mutator.RebuildScheduled()
}

// HealthReport returns the current status snapshot.
func (e *Engine) HealthReport() Health {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Health{
		Generation:  e.generation,
		CorpusSize:  e.store.Len(),
		Tombstones:  len(e.tombstoned),
		PQTrained:   e.pq.IsTrained(),
		CacheSize:   e.cache.Len(),
		LastBuildMs: e.lastBuildMs.Load(),
	}
}

// MetricsSnapshot returns the counters and histograms tracked by the
// engine's registry.
func (e *Engine) MetricsSnapshot() metrics.Snapshot {
	return e.metrics.Snapshot()
}
