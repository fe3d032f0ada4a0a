// Package lsh implements a MinHash locality-sensitive hash table over
// token sets. It produces candidate documents for a query token set in
// sub-linear expected time and computes exact Jaccard similarity for
// scoring once a candidate is known.
package lsh

import (
	"encoding/binary"
	"encoding/json"
	"sort"
	"sync"

	"golang.org/x/crypto/blake2b"
)

// Config controls the MinHash signature width and banding.
type Config struct {
	// NumBands is the number of LSH bands.
	NumBands int
	// RowsPerBand is the number of MinHash rows per band. The total
	// number of hash functions is NumBands * RowsPerBand.
	RowsPerBand int
}

// DefaultConfig returns the engine's default banding: 20 bands of 4 rows
// each (80 hash functions), tuned for the short keyword-style token sets
// typical of résumé/profile documents.
func DefaultConfig() *Config {
	return &Config{
		NumBands:    20,
		RowsPerBand: 4,
	}
}

// NumHashes returns NumBands * RowsPerBand.
func (c *Config) NumHashes() int {
	return c.NumBands * c.RowsPerBand
}

// signature is a MinHash signature: one uint64 per hash function.
type signature []uint64

// Index is a MinHash LSH table over token sets, keyed by doc-id.
type Index struct {
	config *Config

	mu         sync.RWMutex
	signatures map[string]signature    // doc-id -> MinHash signature
	tokenSets  map[string]map[string]struct{} // doc-id -> token set, for exact Jaccard
	bands      []map[uint64][]string   // per band: band-key -> doc-ids
}

// New creates an empty LSH index. A nil config uses DefaultConfig.
func New(config *Config) *Index {
	if config == nil {
		config = DefaultConfig()
	}
	bands := make([]map[uint64][]string, config.NumBands)
	for i := range bands {
		bands[i] = make(map[uint64][]string)
	}
	return &Index{
		config:     config,
		signatures: make(map[string]signature),
		tokenSets:  make(map[string]map[string]struct{}),
		bands:      bands,
	}
}

// Add inserts or replaces docID's signature, computed from tokens. An
// empty token set still produces a valid (trivial) signature and is
// recorded so Remove/Jaccard behave consistently.
func (idx *Index) Add(docID string, tokens []string) {
	set := toSet(tokens)
	sig := minhash(set, idx.config.NumHashes())

	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.removeLocked(docID)

	idx.signatures[docID] = sig
	idx.tokenSets[docID] = set

	for b := 0; b < idx.config.NumBands; b++ {
		key := bandKey(sig, b, idx.config.RowsPerBand)
		idx.bands[b][key] = append(idx.bands[b][key], docID)
	}
}

// Remove erases docID from every band and from the stored token set.
func (idx *Index) Remove(docID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(docID)
}

func (idx *Index) removeLocked(docID string) {
	sig, ok := idx.signatures[docID]
	if !ok {
		return
	}
	for b := 0; b < idx.config.NumBands; b++ {
		key := bandKey(sig, b, idx.config.RowsPerBand)
		bucket := idx.bands[b][key]
		for i, id := range bucket {
			if id == docID {
				idx.bands[b][key] = append(bucket[:i], bucket[i+1:]...)
				break
			}
		}
		if len(idx.bands[b][key]) == 0 {
			delete(idx.bands[b], key)
		}
	}
	delete(idx.signatures, docID)
	delete(idx.tokenSets, docID)
}

// Candidates returns every doc-id sharing at least one band signature
// with queryTokens, deduplicated. An empty token set produces no
// candidates.
func (idx *Index) Candidates(queryTokens []string) []string {
	if len(queryTokens) == 0 {
		return nil
	}
	set := toSet(queryTokens)
	sig := minhash(set, idx.config.NumHashes())

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []string
	for b := 0; b < idx.config.NumBands; b++ {
		key := bandKey(sig, b, idx.config.RowsPerBand)
		for _, id := range idx.bands[b][key] {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				out = append(out, id)
			}
		}
	}
	return out
}

// Jaccard returns the exact Jaccard similarity between queryTokens and
// docID's stored token set. Returns 0 if docID is unknown, if either set
// is empty, or if the sets have no overlap.
func (idx *Index) Jaccard(queryTokens []string, docID string) float64 {
	idx.mu.RLock()
	docSet, ok := idx.tokenSets[docID]
	idx.mu.RUnlock()
	if !ok {
		return 0
	}
	return JaccardSets(toSet(queryTokens), docSet)
}

// JaccardTokens computes exact Jaccard similarity between two raw token
// slices, for callers that don't have a docID (e.g. tests).
func JaccardTokens(a, b []string) float64 {
	return JaccardSets(toSet(a), toSet(b))
}

// JaccardSets computes |A∩B| / |A∪B|. jaccard(A,A) = 1; jaccard(A,∅) = 0.
func JaccardSets(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(large) < len(small) {
		small, large = large, small
	}
	var intersection int
	for tok := range small {
		if _, ok := large[tok]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// Len returns the number of indexed documents.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.signatures)
}

// serializedIndex carries the per-document token sets, the only state
// the banding structure needs to be rebuilt — the MinHash signatures
// and band buckets are a deterministic function of config and tokens,
// so persisting them would be redundant.
type serializedIndex struct {
	Config Config              `json:"config"`
	Docs   map[string][]string `json:"docs"`
}

// Export encodes every document's token set plus the banding config.
func (idx *Index) Export() ([]byte, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	docs := make(map[string][]string, len(idx.tokenSets))
	for id, set := range idx.tokenSets {
		tokens := make([]string, 0, len(set))
		for t := range set {
			tokens = append(tokens, t)
		}
		sort.Strings(tokens)
		docs[id] = tokens
	}
	return json.Marshal(serializedIndex{Config: *idx.config, Docs: docs})
}

// Import rebuilds an Index from bytes written by Export. Because MinHash
// and banding are deterministic functions of (config, tokens), replaying
// Add for every document reproduces an index identical in behavior to
// the one that was exported.
func Import(data []byte) (*Index, error) {
	var si serializedIndex
	if err := json.Unmarshal(data, &si); err != nil {
		return nil, err
	}
	idx := New(&si.Config)
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

func toSet(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

// minhash computes an n-function MinHash signature of set using a
// blake2b-seeded hash family: hash_i(token) is blake2b keyed with seed i
// over token. Empty sets still produce a well-defined signature (every
// slot is the max uint64 sentinel), and a one-token set's signature is
// that token's hash under each of the H functions.
func minhash(set map[string]struct{}, numHashes int) signature {
	sig := make(signature, numHashes)
	for i := range sig {
		sig[i] = ^uint64(0)
	}
	if len(set) == 0 {
		return sig
	}

	for tok := range set {
		for i := 0; i < numHashes; i++ {
			h := hashTokenSeeded(tok, uint64(i))
			if h < sig[i] {
				sig[i] = h
			}
		}
	}
	return sig
}

// hashTokenSeeded hashes a token under hash function i using blake2b
// keyed with the seed, so each of the H functions is independent.
func hashTokenSeeded(token string, seed uint64) uint64 {
	var seedBytes [8]byte
	binary.BigEndian.PutUint64(seedBytes[:], seed)

	h, _ := blake2b.New(8, seedBytes[:])
	_, _ = h.Write([]byte(token))
	sum := h.Sum(nil)
	return binary.BigEndian.Uint64(sum)
}

// bandKey folds rowsPerBand consecutive signature entries for band b into
// a single uint64 key via FNV-style mixing.
func bandKey(sig signature, band, rowsPerBand int) uint64 {
	start := band * rowsPerBand
	var key uint64 = 14695981039346656037 // FNV offset basis
	for i := start; i < start+rowsPerBand && i < len(sig); i++ {
		key ^= sig[i]
		key *= 1099511628211 // FNV prime
	}
	return key
}
