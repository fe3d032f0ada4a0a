package engine

import (
	"context"
	"testing"

	"github.com/orneryd/retrievekit/pkg/docstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flipReranker reverses whatever order it is given, deterministically,
// so tests can tell the reranker actually ran rather than a no-op.
type flipReranker struct {
	called bool
}

func (f *flipReranker) Rerank(_ context.Context, _ string, candidates []RerankCandidate) ([]RerankResult, error) {
	f.called = true
	out := make([]RerankResult, len(candidates))
	n := len(candidates)
	for i, c := range candidates {
		out[i] = RerankResult{DocID: c.DocID, Score: float64(n - i)}
	}
	return out, nil
}

type erroringReranker struct{}

func (erroringReranker) Rerank(context.Context, string, []RerankCandidate) ([]RerankResult, error) {
	return nil, assert.AnError
}

func TestApplyRerank_NoopWithoutRerankerOrFlag(t *testing.T) {
	e := newTestEngine(t)
	results := []SearchResult{{DocID: "a", CombinedScore: 1}, {DocID: "b", CombinedScore: 2}}

	got := e.applyRerank(context.Background(), "query", results)
	assert.Equal(t, results, got)

	e.cfg.RerankEnabled = true
	got = e.applyRerank(context.Background(), "query", results)
	assert.Equal(t, results, got, "no reranker installed, rerank_enabled alone must not change ordering")
}

func TestApplyRerank_ReordersByRerankerScore(t *testing.T) {
	e := newTestEngine(t)
	e.cfg.RerankEnabled = true
	r := &flipReranker{}
	e.SetReranker(r)

	results := []SearchResult{
		{DocID: "a", CombinedScore: 3},
		{DocID: "b", CombinedScore: 2},
		{DocID: "c", CombinedScore: 1},
	}
	got := e.applyRerank(context.Background(), "query", results)
	require.True(t, r.called)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{got[0].DocID, got[1].DocID, got[2].DocID})
}

func TestApplyRerank_FailureFallsBackToFusedOrder(t *testing.T) {
	e := newTestEngine(t)
	e.cfg.RerankEnabled = true
	e.SetReranker(erroringReranker{})

	results := []SearchResult{{DocID: "a", CombinedScore: 2}, {DocID: "b", CombinedScore: 1}}
	got := e.applyRerank(context.Background(), "query", results)
	assert.Equal(t, results, got)
}

func TestSearch_RRFStrategyProducesValidRanking(t *testing.T) {
	e := newBowEngine(t)
	e.cfg.FusionStrategy = "rrf"
	_, err := e.BuildIndexes(context.Background(), []*docstore.Document{
		{ID: "d1", Content: "python developer with aws experience"},
		{ID: "d2", Content: "java backend engineer"},
		{ID: "d3", Content: "python data scientist"},
	})
	require.NoError(t, err)

	results, err := e.Search(context.Background(), "python aws engineer", 3, nil, 0)
	require.NoError(t, err)
	require.NotEmpty(t, results)

	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].CombinedScore, results[i].CombinedScore)
	}
	// d1 shares the most vocabulary with the query under every signal, so
	// it should still come out on top under rank-based fusion.
	assert.Equal(t, "d1", results[0].DocID)
}

func TestApplyRRF_EmptyIsNoop(t *testing.T) {
	assert.NotPanics(t, func() { applyRRF(nil) })
}
