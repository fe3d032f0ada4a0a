package engine

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/orneryd/retrievekit/pkg/docstore"
	"github.com/orneryd/retrievekit/pkg/embed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewWithStore_PersistsAcrossEngineInstances checks that wiring a
// docstore.BadgerStore in via NewWithStore makes document metadata (and
// therefore filter evaluation and result hydration) survive across
// independent Engine instances pointed at the same directory, unlike the
// default in-memory store.
func TestNewWithStore_PersistsAcrossEngineInstances(t *testing.T) {
	cfg := testConfig()
	embedder, err := embed.NewEmbedder(&embed.Config{Provider: "static", Dimensions: 64, Model: "static-test"})
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "badger")
	store1, err := docstore.OpenBadgerStore(dir)
	require.NoError(t, err)

	e1 := NewWithStore(cfg, embedder, store1)
	_, err = e1.BuildIndexes(context.Background(), []*docstore.Document{
		{ID: "d1", Content: "python developer with aws experience", Skills: []string{"python", "aws"}},
	})
	require.NoError(t, err)
	require.NoError(t, store1.Close())

	store2, err := docstore.OpenBadgerStore(dir)
	require.NoError(t, err)
	defer store2.Close()

	e2 := NewWithStore(cfg, embedder, store2)
	doc, found := e2.store.Get("d1")
	require.True(t, found)
	assert.Equal(t, "python developer with aws experience", doc.Content)
}

// TestNewConfiguredStore_DirectoryIndexPathUsesBadger checks the backend
// selector New delegates to: a directory-valued IndexPath opens a
// persistent BadgerStore, and an empty IndexPath stays in-memory.
func TestNewConfiguredStore_DirectoryIndexPathUsesBadger(t *testing.T) {
	cfg := testConfig()
	cfg.IndexPath = filepath.Join(t.TempDir(), "badger")

	store := newConfiguredStore(cfg)
	badgerStore, ok := store.(*docstore.BadgerStore)
	require.True(t, ok, "expected a *docstore.BadgerStore for a non-empty IndexPath")
	defer badgerStore.Close()

	cfg.IndexPath = ""
	_, ok = newConfiguredStore(cfg).(*docstore.MemoryStore)
	assert.True(t, ok, "expected a *docstore.MemoryStore for an empty IndexPath")
}

// TestScenario4_SnapshotLoadReproducesExactRanking builds a 1,000-document
// corpus, snapshots it, loads the snapshot into a fresh engine, and checks
// that ten fixed queries return byte-identical top-5 id sequences against
// both engines. This is only guaranteed because hnsw.Import reconstructs
// the exact node/level/neighbor structure captured at Export time rather
// than replaying randomized-level insertion.
func TestScenario4_SnapshotLoadReproducesExactRanking(t *testing.T) {
	cfg := testConfig()
	embedder, err := embed.NewEmbedder(&embed.Config{Provider: "static", Dimensions: 64, Model: "static-test"})
	require.NoError(t, err)

	source := New(cfg, embedder)

	docs := make([]*docstore.Document, 0, 1000)
	keywords := []string{"python", "java", "rust", "golang", "aws", "kubernetes", "docker", "terraform"}
	for i := 0; i < 1000; i++ {
		kw1 := keywords[i%len(keywords)]
		kw2 := keywords[(i*7+3)%len(keywords)]
		docs = append(docs, &docstore.Document{
			ID:      fmt.Sprintf("doc-%04d", i),
			Content: fmt.Sprintf("engineer specializing in %s and %s, %d years experience", kw1, kw2, i%20),
		})
	}

	_, err = source.BuildIndexes(context.Background(), docs)
	require.NoError(t, err)

	snapshotPath := filepath.Join(t.TempDir(), "snapshot.bin")
	ack, err := source.Snapshot(snapshotPath)
	require.NoError(t, err)
	assert.True(t, ack.Success)

	target := New(cfg, embedder)
	loadAck, err := target.Load(snapshotPath)
	require.NoError(t, err)
	assert.True(t, loadAck.Success)
	assert.Equal(t, source.Generation(), target.Generation())

	queries := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		a := keywords[rand.Intn(len(keywords))]
		b := keywords[rand.Intn(len(keywords))]
		queries = append(queries, fmt.Sprintf("%s %s engineer", a, b))
	}

	for _, q := range queries {
		wantResults, err := source.Search(context.Background(), q, 5, nil, 0)
		require.NoError(t, err)
		gotResults, err := target.Search(context.Background(), q, 5, nil, 0)
		require.NoError(t, err)

		wantIDs := make([]string, len(wantResults))
		for i, r := range wantResults {
			wantIDs[i] = r.DocID
		}
		gotIDs := make([]string, len(gotResults))
		for i, r := range gotResults {
			gotIDs[i] = r.DocID
		}
		assert.Equal(t, wantIDs, gotIDs, "query %q: top-5 id sequence must match exactly across snapshot/load", q)
	}
}

// TestScenario6_CancelThenRetry verifies that a search issued with an
// already-cancelled context surfaces a Cancelled engine error, and that
// retrying the identical query with a live context completes normally
// (and is then served from cache on a third identical call).
func TestScenario6_CancelThenRetry(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.BuildIndexes(context.Background(), []*docstore.Document{
		{ID: "d1", Content: "python developer"},
		{ID: "d2", Content: "java developer"},
	})
	require.NoError(t, err)

	cancelledCtx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = e.Search(cancelledCtx, "python", 2, nil, 0)
	require.Error(t, err)
	engErr, ok := AsEngineError(err)
	require.True(t, ok)
	assert.Equal(t, KindCancelled, engErr.Kind)

	results, err := e.Search(context.Background(), "python", 2, nil, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, results)

	before := e.MetricsSnapshot().Counters.SearchCacheHitsTotal
	_, err = e.Search(context.Background(), "python", 2, nil, 0)
	require.NoError(t, err)
	after := e.MetricsSnapshot().Counters.SearchCacheHitsTotal
	assert.Equal(t, before+1, after)
}

// TestInvariant_CrossIndexConsistency checks that every live document is
// represented consistently across the store, BM25 length table, and
// embedding map after a build and after a subsequent mutation.
func TestInvariant_CrossIndexConsistency(t *testing.T) {
	e := newBowEngine(t)
	_, err := e.BuildIndexes(context.Background(), []*docstore.Document{
		{ID: "d1", Content: "python developer"},
		{ID: "d2", Content: "java developer"},
	})
	require.NoError(t, err)

	checkConsistent := func(id string, shouldExist bool) {
		_, inStore := e.store.Get(id)
		assert.Equal(t, shouldExist, inStore, "store membership for %s", id)
		assert.Equal(t, shouldExist, e.bm25.Contains(id), "bm25 membership for %s", id)
		e.mu.RLock()
		_, inEmbeddings := e.embeddings[id]
		e.mu.RUnlock()
		assert.Equal(t, shouldExist, inEmbeddings, "embedding membership for %s", id)
	}
	checkConsistent("d1", true)
	checkConsistent("d2", true)

	_, err = e.DeleteDocument(context.Background(), "d1")
	require.NoError(t, err)
	checkConsistent("d1", false)
	checkConsistent("d2", true)
}

// TestInvariant_CombinedScoreBounds checks that the fused score is always
// non-negative and stays under a loose upper bound: cosine and Jaccard lie
// in [0, 1] here, while BM25 is unbounded above, so the bound allows 1.0
// of headroom over the sum of the fusion weights.
func TestInvariant_CombinedScoreBounds(t *testing.T) {
	e := newBowEngine(t)
	_, err := e.BuildIndexes(context.Background(), []*docstore.Document{
		{ID: "d1", Content: "python developer with aws experience"},
		{ID: "d2", Content: "java backend engineer"},
		{ID: "d3", Content: "python data scientist"},
	})
	require.NoError(t, err)

	results, err := e.Search(context.Background(), "python aws engineer", 3, nil, 0)
	require.NoError(t, err)
	require.NotEmpty(t, results)

	for _, r := range results {
		assert.GreaterOrEqual(t, r.CombinedScore, 0.0)
		assert.LessOrEqual(t, r.CombinedScore, weightCosine+weightBM25+weightJaccard+1.0)
		assert.GreaterOrEqual(t, r.Cos, -1.0-1e-9)
		assert.LessOrEqual(t, r.Cos, 1.0+1e-9)
		assert.GreaterOrEqual(t, r.Jaccard, 0.0)
		assert.LessOrEqual(t, r.Jaccard, 1.0)
	}

	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].CombinedScore, results[i].CombinedScore, "results must be sorted descending by combined score")
	}
}

// TestInvariant_CosineSelfSimilarity checks that a document's own
// embedding scores cosine(a,a) within 1e-5 of 1 when queried with its own
// canonical text.
func TestInvariant_CosineSelfSimilarity(t *testing.T) {
	e := newBowEngine(t)
	_, err := e.BuildIndexes(context.Background(), []*docstore.Document{
		{ID: "d1", Content: "python developer with aws experience"},
	})
	require.NoError(t, err)

	results, err := e.Search(context.Background(), "python developer with aws experience", 1, nil, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 1.0, results[0].Cos, 1e-5)
}

// TestInvariant_BM25ZeroForUnknownTerms checks that querying with tokens
// absent from the corpus scores BM25 exactly 0 against every candidate.
func TestInvariant_BM25ZeroForUnknownTerms(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.BuildIndexes(context.Background(), []*docstore.Document{
		{ID: "d1", Content: "python developer"},
	})
	require.NoError(t, err)

	score := e.bm25.Score([]string{"zzznonexistentzzz"}, "d1")
	assert.Equal(t, 0.0, score)
}

// TestInvariant_PQRecallAtOne is a lightweight regression check that
// asymmetric PQ distance agrees with exact nearest-neighbor identity on a
// 200-document synthetic sample often enough to be useful as a reranking
// signal, without asserting any particular ranking order downstream (PQ
// never decides final ranking — see the engine orchestrator).
func TestInvariant_PQRecallAtOne(t *testing.T) {
	e := newTestEngine(t)
	docs := make([]*docstore.Document, 0, 200)
	for i := 0; i < 200; i++ {
		docs = append(docs, &docstore.Document{
			ID:      fmt.Sprintf("doc-%03d", i),
			Content: fmt.Sprintf("cluster member number %d", i),
		})
	}
	_, err := e.BuildIndexes(context.Background(), docs)
	require.NoError(t, err)
	require.True(t, e.pq.IsTrained())

	hits := 0
	total := 0
	e.mu.RLock()
	defer e.mu.RUnlock()
	for id, vec := range e.embeddings {
		total++
		table, err := e.pq.BuildDistanceTable(vec)
		require.NoError(t, err)

		bestID := ""
		bestDist := -1.0
		for otherID, otherVec := range e.embeddings {
			code, err := e.pq.Encode(otherVec)
			require.NoError(t, err)
			d := table.DecodeDistance(code)
			if bestDist < 0 || d < bestDist {
				bestDist = d
				bestID = otherID
			}
		}
		if bestID == id {
			hits++
		}
	}
	recall := float64(hits) / float64(total)
	assert.GreaterOrEqual(t, recall, 0.9)
}
