package engine

import (
	"context"

	"github.com/orneryd/retrievekit/pkg/docstore"
)

// Mutator applies incremental add/update/delete traffic against an
// Engine's live indexes and decides when drift has grown large enough
// to warrant scheduling a full rebuild. It holds a back-reference to
// its Engine (lookup, never ownership) — the Engine owns the Mutator,
// not the other way around, so there is no retain cycle to break on
// teardown.
type Mutator struct {
	engine *Engine

	mutationsSinceBuild int
}

func newMutator(e *Engine) *Mutator {
	return &Mutator{engine: e}
}

// AddDocument embeds, tokenizes, and inserts doc into every live index.
func (m *Mutator) AddDocument(ctx context.Context, doc *docstore.Document) (Ack, error) {
	e := m.engine
	if doc.ID == "" {
		return Ack{}, validationErrorf("document id must not be empty")
	}

	vec, err := e.embedder.Embed(ctx, doc.CanonicalText())
	if err != nil {
		return Ack{}, embeddingError(err)
	}
	if len(vec) != e.dimension {
		return Ack{}, validationErrorf("embedder returned dimension %d, expected %d", len(vec), e.dimension)
	}
	tokens := doc.TokenSet()

	e.mu.Lock()
	e.state = stateMutating
	e.store.Put(doc)
	e.bm25.Add(doc.ID, tokens)
	e.lsh.Add(doc.ID, tokens)
	e.embeddings[doc.ID] = vec
	delete(e.tombstoned, doc.ID)
	if err := e.hnsw.Add(doc.ID, vec); err != nil {
		e.mu.Unlock()
		return Ack{}, internalErrorf(e.generation, "hnsw add %q: %v", doc.ID, err)
	}
	if e.pq.IsTrained() {
		_, _ = e.pq.Encode(vec) // best-effort; PQ codes are a memory-saving side channel, not authoritative
	}
	e.generation++
	gen := e.generation
	m.mutationsSinceBuild++
	e.mu.Unlock()

	e.cache.InvalidateAll()
	m.maybeRebuild()

	return Ack{Success: true, Generation: gen}, nil
}

// UpdateDocument is observationally equivalent to DeleteDocument(id)
// followed by AddDocument(doc); an unknown id is treated as a plain add.
func (m *Mutator) UpdateDocument(ctx context.Context, id string, doc *docstore.Document) (Ack, error) {
	_, _ = m.DeleteDocument(ctx, id)
	doc.ID = id
	return m.AddDocument(ctx, doc)
}

// DeleteDocument tombstones id in HNSW and drops it from every other
// live index. Deleting an id that was never indexed is a no-op success.
func (m *Mutator) DeleteDocument(ctx context.Context, id string) (Ack, error) {
	e := m.engine

	e.mu.Lock()
	_, hasVec := e.embeddings[id]
	if _, inStore := e.store.Get(id); !hasVec && !inStore {
		gen := e.generation
		e.mu.Unlock()
		return Ack{Success: true, Generation: gen}, nil
	}
	e.state = stateMutating
	e.store.Delete(id)
	e.bm25.Remove(id)
	e.lsh.Remove(id)
	delete(e.embeddings, id)
	e.tombstoned[id] = true
	e.hnsw.Remove(id)
	e.generation++
	gen := e.generation
	m.mutationsSinceBuild++
	e.mu.Unlock()

	e.cache.InvalidateAll()
	m.maybeRebuild()

	return Ack{Success: true, Generation: gen}, nil
}

// maybeRebuild schedules a full rebuild once tombstones plus mutations
// since the last build reach max(drift_absolute, drift_fraction *
// corpus_size). Scheduling only flips the generation's state marker;
// the actual rebuild is left to the caller's maintenance loop, which
// rebuilds from the document store (the indexes are not themselves
// durable) and then calls Engine.BuildIndexes again.
func (m *Mutator) maybeRebuild() {
	e := m.engine

	e.mu.Lock()
	defer e.mu.Unlock()

	corpusSize := e.store.Len()
	threshold := e.cfg.Rebuild.DriftAbsolute
	if fractional := int(e.cfg.Rebuild.DriftFraction * float64(corpusSize)); fractional > threshold {
		threshold = fractional
	}

	drift := len(e.tombstoned) + m.mutationsSinceBuild
	if drift >= threshold && e.state == stateMutating {
		e.state = stateRebuildScheduled
	}
}

// RebuildScheduled reports whether drift has crossed the configured
// threshold and a full rebuild is pending.
func (m *Mutator) RebuildScheduled() bool {
	e := m.engine
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state == stateRebuildScheduled
}

// ResetDriftCounter is called by the engine once a scheduled rebuild has
// actually run, so drift accounting starts fresh against the new
// generation.
func (m *Mutator) ResetDriftCounter() {
	m.mutationsSinceBuild = 0
}
