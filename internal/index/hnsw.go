package index

import (
	"math/rand"
	"slices"

	"github.com/coder/hnsw"
)

// HNSW index parameters
const (
	// HNSWMaxNeighbors (M) is the maximum number of neighbors per node.
	// Higher values improve recall but increase memory and build time.
	HNSWMaxNeighbors = 16

	// HNSWEfSearch is the search candidate pool size.
	// Higher values improve recall but slow down search.
	HNSWEfSearch = 100

	// HNSWSearchMultiplier is the factor to request more candidates from HNSW
	// to ensure we have enough after threshold filtering.
	HNSWSearchMultiplier = 3

	// hnswSeed fixes level generation so a snapshot always yields the same graph.
	hnswSeed = 42
)

// hnswGraph is an approximate nearest-neighbour view over one snapshot.
// Candidates it returns are re-scored exactly by the shard.
type hnswGraph struct {
	graph *hnsw.Graph[string]
	byID  map[string]*entry
}

// graph returns the snapshot's HNSW graph, building it on first use.
func (s *snapshot) graph() *hnswGraph {
	s.graphOnce.Do(func() {
		s.hnsw = buildGraph(s.entries)
	})
	return s.hnsw
}

func buildGraph(entries map[string]*entry) *hnswGraph {
	g := hnsw.NewGraph[string]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors) // Standard HNSW formula
	g.EfSearch = HNSWEfSearch
	g.Distance = hnsw.CosineDistance
	g.Rng = rand.New(rand.NewSource(hnswSeed))

	// Insert in id order so the graph depends only on the snapshot contents.
	ids := make([]string, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	for _, id := range ids {
		g.Add(hnsw.MakeNode(id, entries[id].descriptor))
	}

	return &hnswGraph{graph: g, byID: entries}
}

// candidates over-fetches neighbours of the probe for exact re-scoring.
func (h *hnswGraph) candidates(probe []float32, k int) []*entry {
	searchK := max(k*HNSWSearchMultiplier, 100) // Minimum search size for better recall

	neighbors := h.graph.Search(probe, searchK)
	out := make([]*entry, 0, len(neighbors))
	for _, n := range neighbors {
		if e, ok := h.byID[n.Key]; ok {
			out = append(out, e)
		}
	}
	return out
}
