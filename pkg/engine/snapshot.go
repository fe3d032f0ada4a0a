package engine

import (
	"encoding/json"

	"github.com/orneryd/retrievekit/pkg/bm25"
	"github.com/orneryd/retrievekit/pkg/docstore"
	"github.com/orneryd/retrievekit/pkg/hnsw"
	"github.com/orneryd/retrievekit/pkg/lsh"
	"github.com/orneryd/retrievekit/pkg/pq"
	"github.com/orneryd/retrievekit/pkg/snapshot"
)

// Snapshot writes the engine's current generation to path: HNSW graph,
// LSH bands, BM25 postings, PQ codebook, the embedding matrix, and the
// metadata table, framed and checksummed by the persistence codec. A
// write failure aborts without touching the previous on-disk snapshot.
func (e *Engine) Snapshot(path string) (Ack, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	hnswBytes, err := e.hnsw.Export()
	if err != nil {
		return Ack{}, ioError("encode hnsw section", err)
	}
	lshBytes, err := e.lsh.Export()
	if err != nil {
		return Ack{}, ioError("encode lsh section", err)
	}
	bm25Bytes, err := e.bm25.Export()
	if err != nil {
		return Ack{}, ioError("encode bm25 section", err)
	}
	pqBytes, err := e.pq.Export()
	if err != nil {
		return Ack{}, ioError("encode pq section", err)
	}
	embeddingsBytes, err := json.Marshal(e.embeddings)
	if err != nil {
		return Ack{}, ioError("encode embeddings section", err)
	}
	metadataBytes, err := json.Marshal(e.store.All())
	if err != nil {
		return Ack{}, ioError("encode metadata section", err)
	}

	sections := snapshot.Sections{
		Manifest: snapshot.Manifest{
			Dimension:     e.dimension,
			HNSWM:         e.cfg.HNSW.M,
			PQM:           e.cfg.PQ.M,
			PQK:           e.cfg.PQ.K,
			NumBands:      e.cfg.LSH.NumBands,
			RowsPerBand:   e.cfg.LSH.RowsPerBand,
			Generation:    e.generation,
			DocumentCount: e.store.Len(),
		},
		HNSW:       hnswBytes,
		LSH:        lshBytes,
		BM25:       bm25Bytes,
		PQ:         pqBytes,
		Embeddings: embeddingsBytes,
		Metadata:   metadataBytes,
	}

	if err := snapshot.Write(path, sections); err != nil {
		return Ack{}, ioError("write snapshot", err)
	}

	return Ack{Success: true, Generation: e.generation}, nil
}

// Load replaces the engine's live state with the snapshot at path. A
// missing or checksum-mismatched snapshot is surfaced as a KindIO
// error — per the persistence codec's contract, callers should treat
// that as "no usable snapshot" and fall back to a full rebuild rather
// than trust a partial load. On success the generation moves directly
// from Empty to Ready.
func (e *Engine) Load(path string) (Ack, error) {
	sections, err := snapshot.Load(path)
	if err != nil {
		return Ack{}, ioError("load snapshot", err)
	}

	hnswGraph, err := hnsw.Import(sections.HNSW)
	if err != nil {
		return Ack{}, ioError("decode hnsw section", err)
	}
	lshIndex, err := lsh.Import(sections.LSH)
	if err != nil {
		return Ack{}, ioError("decode lsh section", err)
	}
	bm25Index, err := bm25.Import(sections.BM25)
	if err != nil {
		return Ack{}, ioError("decode bm25 section", err)
	}
	pqQuantizer, err := pq.Import(sections.PQ)
	if err != nil {
		return Ack{}, ioError("decode pq section", err)
	}
	var embeddings map[string][]float32
	if err := json.Unmarshal(sections.Embeddings, &embeddings); err != nil {
		return Ack{}, ioError("decode embeddings section", err)
	}
	var docs []*docstore.Document
	if err := json.Unmarshal(sections.Metadata, &docs); err != nil {
		return Ack{}, ioError("decode metadata section", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Repopulate the engine's existing store in place rather than
	// swapping in a fresh MemoryStore: callers that wired a persistent
	// store via NewWithStore (docstore.BadgerStore, keyed off
	// cfg.IndexPath) expect Load to refresh its contents, not silently
	// downgrade it to memory and orphan the open handle.
	for _, doc := range e.store.All() {
		e.store.Delete(doc.ID)
	}
	for _, doc := range docs {
		e.store.Put(doc)
	}

	e.hnsw = hnswGraph
	e.lsh = lshIndex
	e.bm25 = bm25Index
	e.pq = pqQuantizer
	e.embeddings = embeddings
	e.tombstoned = make(map[string]bool)
	e.dimension = sections.Manifest.Dimension
	e.generation = sections.Manifest.Generation
	e.state = stateReady

	e.cache.InvalidateAll()

	return Ack{Success: true, Generation: e.generation}, nil
}
