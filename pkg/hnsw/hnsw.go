// Package hnsw implements a Hierarchical Navigable Small World graph for
// approximate cosine-nearest-neighbor search over embedding vectors.
//
// Inserts sample a node's top layer from a geometric distribution and
// greedily descend from the graph's entry point to build diverse neighbor
// lists at each layer. Search descends the same way, then runs a bounded
// best-first search at layer 0 with a dynamic candidate list (ef_search).
// Deletes are tombstones: a removed node stays in its neighbors' adjacency
// lists (so the graph remains navigable) but is filtered out of search
// results and never chosen as an entry point.
package hnsw

import (
	"container/heap"
	"context"
	"encoding/json"
	"errors"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/orneryd/retrievekit/pkg/vector"
)

// ErrDimensionMismatch is returned when a vector's length doesn't match
// the index's configured dimensionality.
var ErrDimensionMismatch = errors.New("hnsw: vector dimension mismatch")

// Config holds HNSW construction and search parameters.
type Config struct {
	M               int     // max connections per node per layer
	EfConstruction  int     // candidate list size during insert
	EfSearch        int     // default candidate list size during search
	LevelMultiplier float64 // 1/ln(M), the geometric level-sampling parameter
}

// DefaultConfig returns the engine's defaults: M=16, ef_construction=200,
// ef_search=200.
func DefaultConfig() Config {
	return Config{
		M:               16,
		EfConstruction:  200,
		EfSearch:        200,
		LevelMultiplier: 1.0 / math.Log(16.0),
	}
}

// Result is one search hit: a doc-id and its similarity score (1 -
// cosine distance, i.e. cosine similarity itself).
type Result struct {
	ID    string
	Score float64
}

type node struct {
	id        string
	vector    []float32
	level     int
	neighbors [][]string
	tombstone bool
	mu        sync.RWMutex
}

// Graph is a concurrency-safe HNSW index.
type Graph struct {
	config     Config
	dimensions int

	mu         sync.RWMutex
	nodes      map[string]*node
	entryPoint string
	maxLevel   int
}

// New creates an empty graph for vectors of the given dimensionality. A
// zero-value config uses DefaultConfig.
func New(dimensions int, config Config) *Graph {
	if config.M == 0 {
		config = DefaultConfig()
	}
	return &Graph{
		config:     config,
		dimensions: dimensions,
		nodes:      make(map[string]*node),
		maxLevel:   0,
	}
}

// Add inserts (or reinserts) a vector under id. Safe to call on an empty
// graph — the first insertion becomes the entry point.
func (g *Graph) Add(id string, vec []float32) error {
	if len(vec) != g.dimensions {
		return ErrDimensionMismatch
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	normalized := vector.Normalize(vec)
	level := g.randomLevel()

	n := &node{
		id:        id,
		vector:    normalized,
		level:     level,
		neighbors: make([][]string, level+1),
	}
	for i := range n.neighbors {
		n.neighbors[i] = make([]string, 0, g.config.M)
	}
	g.nodes[id] = n

	if g.entryPoint == "" {
		g.entryPoint = id
		g.maxLevel = level
		return nil
	}

	ep := g.entryPoint
	epLevel := g.nodes[ep].level

	for l := epLevel; l > level; l-- {
		ep = g.greedyClosest(normalized, ep, l)
	}

	for l := minInt(level, epLevel); l >= 0; l-- {
		candidates := g.searchLayer(normalized, ep, g.config.EfConstruction, l)
		neighbors := g.selectNeighbors(normalized, candidates, g.config.M)
		n.neighbors[l] = neighbors

		for _, neighborID := range neighbors {
			neighbor := g.nodes[neighborID]
			neighbor.mu.Lock()
			if len(neighbor.neighbors) > l {
				if len(neighbor.neighbors[l]) < g.config.M {
					neighbor.neighbors[l] = append(neighbor.neighbors[l], id)
				} else {
					all := append(append([]string{}, neighbor.neighbors[l]...), id)
					neighbor.neighbors[l] = g.selectNeighbors(neighbor.vector, all, g.config.M)
				}
			}
			neighbor.mu.Unlock()
		}

		if len(candidates) > 0 {
			ep = candidates[0]
		}
	}

	if level > g.maxLevel {
		g.entryPoint = id
		g.maxLevel = level
	}

	return nil
}

// Remove tombstones id: it remains in its neighbors' adjacency lists (so
// the graph stays connected) but is excluded from Search results and
// will never be chosen as a new entry point. If id is the current entry
// point, a live replacement is promoted.
func (g *Graph) Remove(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.nodes[id]
	if !ok {
		return
	}
	n.mu.Lock()
	n.tombstone = true
	n.mu.Unlock()

	if g.entryPoint == id {
		g.entryPoint = ""
		g.maxLevel = 0
		for nid, candidate := range g.nodes {
			if candidate.tombstone {
				continue
			}
			if g.entryPoint == "" || candidate.level > g.maxLevel {
				g.entryPoint = nid
				g.maxLevel = candidate.level
			}
		}
	}
}

// Contains reports whether id is a live (non-tombstoned) member of the
// graph.
func (g *Graph) Contains(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	return ok && !n.tombstone
}

// Vector returns a copy of the stored (normalized) vector for id, for
// callers that need to rescore a candidate against the query with exact
// cosine similarity rather than the graph's approximate search score.
func (g *Graph) Vector(id string) ([]float32, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok || n.tombstone {
		return nil, false
	}
	out := make([]float32, len(n.vector))
	copy(out, n.vector)
	return out, true
}

// Search returns the ef_search-bounded approximate k-nearest live
// neighbors of query by cosine similarity, descending. Ties break by
// doc-id ascending. Polls ctx between layer descents and between
// candidate scans so a caller's cancellation or deadline takes effect
// without corrupting the graph.
func (g *Graph) Search(ctx context.Context, query []float32, k, efSearch int) ([]Result, error) {
	if len(query) != g.dimensions {
		return nil, ErrDimensionMismatch
	}
	if efSearch < k {
		efSearch = k
	}
	if efSearch <= 0 {
		efSearch = g.config.EfSearch
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.entryPoint == "" {
		return []Result{}, nil
	}

	normalized := vector.Normalize(query)
	ep := g.entryPoint

	for l := g.maxLevel; l > 0; l-- {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ep = g.greedyClosest(normalized, ep, l)
	}

	candidates := g.searchLayer(normalized, ep, efSearch, 0)

	results := make([]Result, 0, len(candidates))
	for _, id := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n := g.nodes[id]
		if n.tombstone {
			continue
		}
		sim := vector.DotProduct(normalized, n.vector)
		results = append(results, Result{ID: id, Score: sim})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})

	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Size returns the number of nodes in the graph, including tombstones.
func (g *Graph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// LiveCount returns the number of non-tombstoned nodes.
func (g *Graph) LiveCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := 0
	for _, nd := range g.nodes {
		if !nd.tombstone {
			n++
		}
	}
	return n
}

func (g *Graph) greedyClosest(query []float32, entryID string, level int) string {
	current := entryID
	currentDist := 1.0 - vector.DotProduct(query, g.nodes[current].vector)

	for {
		changed := false
		n := g.nodes[current]
		n.mu.RLock()
		neighbors := n.neighbors[level]
		n.mu.RUnlock()

		for _, neighborID := range neighbors {
			neighbor := g.nodes[neighborID]
			dist := 1.0 - vector.DotProduct(query, neighbor.vector)
			if dist < currentDist {
				current = neighborID
				currentDist = dist
				changed = true
			}
		}

		if !changed {
			break
		}
	}

	return current
}

func (g *Graph) searchLayer(query []float32, entryID string, ef, level int) []string {
	visited := map[string]bool{entryID: true}

	candidates := &distHeap{}
	results := &distHeap{}
	heap.Init(candidates)
	heap.Init(results)

	entryDist := 1.0 - vector.DotProduct(query, g.nodes[entryID].vector)
	heap.Push(candidates, distItem{id: entryID, dist: entryDist, isMax: false})
	heap.Push(results, distItem{id: entryID, dist: entryDist, isMax: true})

	for candidates.Len() > 0 {
		closest := heap.Pop(candidates).(distItem)

		if results.Len() >= ef {
			furthest := (*results)[0]
			if closest.dist > furthest.dist {
				break
			}
		}

		n := g.nodes[closest.id]
		n.mu.RLock()
		neighbors := n.neighbors[level]
		n.mu.RUnlock()

		for _, neighborID := range neighbors {
			if visited[neighborID] {
				continue
			}
			visited[neighborID] = true

			neighbor := g.nodes[neighborID]
			dist := 1.0 - vector.DotProduct(query, neighbor.vector)

			if results.Len() < ef || dist < (*results)[0].dist {
				heap.Push(candidates, distItem{id: neighborID, dist: dist, isMax: false})
				heap.Push(results, distItem{id: neighborID, dist: dist, isMax: true})
				if results.Len() > ef {
					heap.Pop(results)
				}
			}
		}
	}

	out := make([]string, results.Len())
	for i := results.Len() - 1; i >= 0; i-- {
		out[i] = heap.Pop(results).(distItem).id
	}
	return out
}

// selectNeighbors implements the "diverse neighbor" heuristic: among
// candidates, prefer a candidate only if it's closer to query than to
// any neighbor already selected, falling back to the m closest overall
// once diversity can't trim further.
func (g *Graph) selectNeighbors(query []float32, candidates []string, m int) []string {
	if len(candidates) <= m {
		return candidates
	}

	type scored struct {
		id   string
		dist float64
	}
	dists := make([]scored, len(candidates))
	for i, cid := range candidates {
		dists[i] = scored{id: cid, dist: 1.0 - vector.DotProduct(query, g.nodes[cid].vector)}
	}
	sort.Slice(dists, func(i, j int) bool { return dists[i].dist < dists[j].dist })

	selected := make([]string, 0, m)
	for _, cand := range dists {
		if len(selected) >= m {
			break
		}
		diverse := true
		for _, sel := range selected {
			distToSel := 1.0 - vector.DotProduct(g.nodes[cand.id].vector, g.nodes[sel].vector)
			if distToSel < cand.dist {
				diverse = false
				break
			}
		}
		if diverse {
			selected = append(selected, cand.id)
		}
	}

	// Diversity pruning can leave fewer than m; top up with the closest
	// remaining candidates to guarantee out-degree.
	if len(selected) < m {
		have := make(map[string]bool, len(selected))
		for _, s := range selected {
			have[s] = true
		}
		for _, cand := range dists {
			if len(selected) >= m {
				break
			}
			if !have[cand.id] {
				selected = append(selected, cand.id)
			}
		}
	}

	return selected
}

func (g *Graph) randomLevel() int {
	r := rand.Float64()
	if r == 0 {
		r = 1e-12
	}
	return int(-math.Log(r) * g.config.LevelMultiplier)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

type distItem struct {
	id    string
	dist  float64
	isMax bool
}

type distHeap []distItem

func (h distHeap) Len() int { return len(h) }
func (h distHeap) Less(i, j int) bool {
	if h[i].isMax {
		return h[i].dist > h[j].dist
	}
	return h[i].dist < h[j].dist
}
func (h distHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *distHeap) Push(x any)   { *h = append(*h, x.(distItem)) }
func (h *distHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// serializedNode is the on-disk representation of one graph node. Exact
// level and neighbor-list capture (rather than replaying Add) is what
// lets Export/Import round-trip a graph byte-for-byte equivalent to the
// original, since Add's level sampling is randomized and re-inserting
// would not reproduce the same structure.
type serializedNode struct {
	ID        string     `json:"id"`
	Vector    []float32  `json:"vector"`
	Level     int        `json:"level"`
	Neighbors [][]string `json:"neighbors"`
	Tombstone bool       `json:"tombstone"`
}

type serializedGraph struct {
	Dimensions int              `json:"dimensions"`
	Config     Config           `json:"config"`
	EntryPoint string           `json:"entry_point"`
	MaxLevel   int              `json:"max_level"`
	Nodes      []serializedNode `json:"nodes"`
}

// Export encodes the full graph (every node, tombstoned or not, with its
// exact level and neighbor lists) as JSON, for the persistence codec.
func (g *Graph) Export() ([]byte, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	sg := serializedGraph{
		Dimensions: g.dimensions,
		Config:     g.config,
		EntryPoint: g.entryPoint,
		MaxLevel:   g.maxLevel,
		Nodes:      make([]serializedNode, 0, len(g.nodes)),
	}
	for id, n := range g.nodes {
		sg.Nodes = append(sg.Nodes, serializedNode{
			ID:        id,
			Vector:    n.vector,
			Level:     n.level,
			Neighbors: n.neighbors,
			Tombstone: n.tombstone,
		})
	}
	sort.Slice(sg.Nodes, func(i, j int) bool { return sg.Nodes[i].ID < sg.Nodes[j].ID })

	return json.Marshal(sg)
}

// Import replaces the graph's contents with the structure encoded by
// Export, reproducing identical search behavior without re-running
// randomized level sampling.
func Import(data []byte) (*Graph, error) {
	var sg serializedGraph
	if err := json.Unmarshal(data, &sg); err != nil {
		return nil, err
	}

	g := &Graph{
		config:     sg.Config,
		dimensions: sg.Dimensions,
		nodes:      make(map[string]*node, len(sg.Nodes)),
		entryPoint: sg.EntryPoint,
		maxLevel:   sg.MaxLevel,
	}
	for _, sn := range sg.Nodes {
		g.nodes[sn.ID] = &node{
			id:        sn.ID,
			vector:    sn.Vector,
			level:     sn.Level,
			neighbors: sn.Neighbors,
			tombstone: sn.Tombstone,
		}
	}
	return g, nil
}
