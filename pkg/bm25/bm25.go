// Package bm25 implements an Okapi BM25 lexical index over tokenized
// document text. It keeps postings, per-document length, and corpus
// averages incrementally consistent under add/remove, and scores are
// computed lazily per candidate rather than through a pre-sorted top-k
// retrieval path — the engine orchestrator calls Score once per
// HNSW/LSH candidate, never the other way around.
package bm25

import (
	"encoding/json"
	"math"
	"sort"
	"sync"
)

// Config holds the two Okapi BM25 tuning constants.
type Config struct {
	K1 float64 // term-frequency saturation
	B  float64 // length normalization
}

// DefaultConfig returns k1=1.5, b=0.75.
func DefaultConfig() Config {
	return Config{K1: 1.5, B: 0.75}
}

// Index is a BM25 lexical index keyed by doc-id.
type Index struct {
	config Config

	mu sync.RWMutex

	// postings: term -> docID -> term frequency in that doc
	postings map[string]map[string]int
	// docLengths: docID -> token count
	docLengths map[string]int
	// docCount is the live corpus size N.
	docCount int
	// totalLength is the running sum of all live doc lengths, so
	// avgDocLength is O(1) to recompute on add/remove.
	totalLength int
}

// New creates an empty BM25 index. A zero-value config uses DefaultConfig.
func New(config Config) *Index {
	if config.K1 == 0 && config.B == 0 {
		config = DefaultConfig()
	}
	return &Index{
		config:     config,
		postings:   make(map[string]map[string]int),
		docLengths: make(map[string]int),
	}
}

// Add inserts or replaces docID's postings from tokens. A zero-length
// token list still records the document with length 0 (it will score 0
// against every query, per the zero-length-document edge case).
func (idx *Index) Add(docID string, tokens []string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.removeLocked(docID)

	termFreq := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		termFreq[tok]++
	}

	idx.docLengths[docID] = len(tokens)
	idx.totalLength += len(tokens)
	idx.docCount++

	for term, freq := range termFreq {
		if idx.postings[term] == nil {
			idx.postings[term] = make(map[string]int)
		}
		idx.postings[term][docID] = freq
	}
}

// Remove erases docID from every posting list and from the length table.
func (idx *Index) Remove(docID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(docID)
}

func (idx *Index) removeLocked(docID string) {
	length, ok := idx.docLengths[docID]
	if !ok {
		return
	}
	for term, docs := range idx.postings {
		if _, present := docs[docID]; present {
			delete(docs, docID)
			if len(docs) == 0 {
				delete(idx.postings, term)
			}
		}
	}
	delete(idx.docLengths, docID)
	idx.totalLength -= length
	idx.docCount--
}

// Score returns the Okapi BM25 score of queryTokens against docID. Terms
// absent from the corpus, or from docID specifically, contribute 0 — not
// a negative score. Returns 0 for an unknown docID or a zero-length
// corpus.
func (idx *Index) Score(queryTokens []string, docID string) float64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.docCount == 0 {
		return 0
	}
	docLen, ok := idx.docLengths[docID]
	if !ok {
		return 0
	}
	if docLen == 0 {
		return 0
	}

	avgLen := idx.avgDocLengthLocked()

	var score float64
	for _, term := range queryTokens {
		docs, ok := idx.postings[term]
		if !ok {
			continue
		}
		tf, ok := docs[docID]
		if !ok {
			continue
		}

		idf := idx.idfLocked(term)
		num := float64(tf) * (idx.config.K1 + 1)
		den := float64(tf) + idx.config.K1*(1-idx.config.B+idx.config.B*(float64(docLen)/avgLen))
		score += idf * (num / den)
	}

	return score
}

// idfLocked computes ln((N - df + 0.5)/(df + 0.5) + 1) for term. Callers
// must hold idx.mu (read or write).
func (idx *Index) idfLocked(term string) float64 {
	df := float64(len(idx.postings[term]))
	n := float64(idx.docCount)
	return math.Log((n-df+0.5)/(df+0.5) + 1)
}

func (idx *Index) avgDocLengthLocked() float64 {
	if idx.docCount == 0 {
		return 0
	}
	return float64(idx.totalLength) / float64(idx.docCount)
}

// Stats reports the corpus aggregates used in BM25 scoring, primarily
// for health/metrics reporting and invariant checks.
type Stats struct {
	DocCount     int
	AvgDocLength float64
}

// Stats returns the index's current corpus aggregates.
func (idx *Index) Stats() Stats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return Stats{DocCount: idx.docCount, AvgDocLength: idx.avgDocLengthLocked()}
}

// Contains reports whether docID has an entry in the length table, which
// is the BM25 side of the cross-index "d is live" invariant.
func (idx *Index) Contains(docID string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	_, ok := idx.docLengths[docID]
	return ok
}

// Len returns the live corpus size N.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.docCount
}

// serializedIndex reconstructs enough of each document's token
// multiset (term frequencies, not order) to rebuild postings, length
// and corpus aggregates via Add; term order within a document does not
// affect BM25 scoring.
type serializedIndex struct {
	Config Config              `json:"config"`
	Docs   map[string][]string `json:"docs"`
}

// Export encodes every live document's reconstructed token multiset
// plus the scoring config.
func (idx *Index) Export() ([]byte, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	docTokens := make(map[string][]string, len(idx.docLengths))
	for term, docs := range idx.postings {
		for docID, freq := range docs {
			for i := 0; i < freq; i++ {
				docTokens[docID] = append(docTokens[docID], term)
			}
		}
	}
	for docID := range idx.docLengths {
		if _, ok := docTokens[docID]; !ok {
			docTokens[docID] = []string{} // zero-length document
		}
	}
	for _, tokens := range docTokens {
		sort.Strings(tokens)
	}

	return json.Marshal(serializedIndex{Config: idx.config, Docs: docTokens})
}

// Import rebuilds an Index from bytes written by Export.
func Import(data []byte) (*Index, error) {
	var si serializedIndex
	if err := json.Unmarshal(data, &si); err != nil {
		return nil, err
	}
	idx := New(si.Config)
	ids := make([]string, 0, len(si.Docs))
	for id := range si.Docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		idx.Add(id, si.Docs[id])
	}
	return idx, nil
}
