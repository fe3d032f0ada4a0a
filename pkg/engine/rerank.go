package engine

import (
	"context"
	"sort"
)

// RerankCandidate is one fused-stage result offered to a Reranker: the
// document id and the text a cross-encoder-style model would score
// against the query.
type RerankCandidate struct {
	DocID   string
	Content string
}

// RerankResult is a Reranker's verdict for one candidate.
type RerankResult struct {
	DocID string
	Score float64
}

// Reranker re-scores the fused-stage top-k candidates against the raw
// query text, typically with a model that sees query and document
// together (a cross-encoder) rather than separately (the bi-encoder
// embeddings driving the fused score). It is an optional second stage —
// an Engine with no reranker set skips straight to returning the fused
// ranking.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []RerankCandidate) ([]RerankResult, error)
}

// SetReranker installs r as the engine's optional post-fusion reranking
// stage. Intended to be called once during setup, before concurrent
// Search traffic begins — the engine does not guard this field with a
// lock, the same single-assignment-at-wiring-time convention the
// embedder field follows.
func (e *Engine) SetReranker(r Reranker) {
	e.reranker = r
}

// applyRerank re-scores results against query using e.reranker and
// reorders them by the returned score, descending. Reranker errors are
// non-fatal: results keep their original fused-score order, since the
// reranker is a refinement stage, not authoritative.
func (e *Engine) applyRerank(ctx context.Context, queryText string, results []SearchResult) []SearchResult {
	if e.reranker == nil || !e.cfg.RerankEnabled || len(results) == 0 {
		return results
	}

	candidates := make([]RerankCandidate, len(results))
	for i, r := range results {
		content := ""
		if r.Metadata != nil {
			content = r.Metadata.Content
		}
		candidates[i] = RerankCandidate{DocID: r.DocID, Content: content}
	}

	reranked, err := e.reranker.Rerank(ctx, queryText, candidates)
	if err != nil {
		return results
	}

	scoreByID := make(map[string]float64, len(reranked))
	for _, r := range reranked {
		scoreByID[r.DocID] = r.Score
	}

	out := make([]SearchResult, len(results))
	copy(out, results)
	sortByRerankScore(out, scoreByID)
	return out
}

// sortByRerankScore orders results descending by scoreByID[DocID],
// falling back to each result's existing fused CombinedScore (and then
// DocID) for any result the reranker didn't return a score for.
func sortByRerankScore(results []SearchResult, scoreByID map[string]float64) {
	score := func(r SearchResult) (float64, bool) {
		s, ok := scoreByID[r.DocID]
		return s, ok
	}
	sort.SliceStable(results, func(i, j int) bool {
		si, oki := score(results[i])
		sj, okj := score(results[j])
		switch {
		case oki && okj:
			if si != sj {
				return si > sj
			}
		case oki && !okj:
			return true
		case !oki && okj:
			return false
		}
		if results[i].CombinedScore != results[j].CombinedScore {
			return results[i].CombinedScore > results[j].CombinedScore
		}
		return results[i].DocID < results[j].DocID
	})
}
