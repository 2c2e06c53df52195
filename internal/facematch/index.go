package facematch

import (
	"sync"

	"github.com/coder/hnsw"
)

// HNSW parameters for signature search.
const (
	// HNSWMaxNeighbors (M) is the maximum number of neighbors per node.
	// Higher values improve recall but increase memory and build time.
	HNSWMaxNeighbors = 16

	// HNSWEfSearch is the search candidate pool size.
	// Higher values improve recall but slow down search.
	HNSWEfSearch = 100

	// HNSWSearchMultiplier is the factor to request more signature neighbors
	// than identities wanted, since one identity owns K nodes.
	HNSWSearchMultiplier = 3

	// hnswMinNeighbors is the floor on neighbors requested per search.
	hnswMinNeighbors = 32
)

// SignatureIndex wraps an HNSW graph over every signature of every candidate.
// It only narrows the candidate set; final scoring is always FindBestMatch.
type SignatureIndex struct {
	graph  *hnsw.Graph[int]
	owners []string // node key -> identity id
	byID   map[string]Candidate
	dim    int
	mu     sync.RWMutex
}

// NewSignatureIndex creates a new empty index.
func NewSignatureIndex() *SignatureIndex {
	return &SignatureIndex{byID: make(map[string]Candidate)}
}

// Build replaces the index contents with candidates. Signatures whose dimension
// differs from the first one seen are skipped since the graph needs a single dimension.
func (x *SignatureIndex) Build(candidates []Candidate) {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.graph = nil
	x.owners = nil
	x.byID = make(map[string]Candidate, len(candidates))
	x.dim = 0

	g := hnsw.NewGraph[int]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors) // Standard HNSW formula
	g.EfSearch = HNSWEfSearch
	g.Distance = hnsw.CosineDistance

	for _, c := range candidates {
		added := false
		for _, sig := range c.Signatures {
			if len(sig) == 0 {
				continue
			}
			if x.dim == 0 {
				x.dim = len(sig)
			}
			if len(sig) != x.dim {
				continue
			}
			g.Add(hnsw.MakeNode(len(x.owners), []float32(sig)))
			x.owners = append(x.owners, c.ID)
			added = true
		}
		if added {
			x.byID[c.ID] = c
		}
	}

	if len(x.owners) > 0 {
		x.graph = g
	}
}

// Len returns the number of indexed signatures.
func (x *SignatureIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.owners)
}

// Candidates returns the identities owning the signatures nearest to query,
// enough to cover roughly `identities` distinct identities.
func (x *SignatureIndex) Candidates(query Signature, identities int) []Candidate {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.graph == nil || len(query) != x.dim {
		return nil
	}

	k := max(identities*SignaturesPerIdentity*HNSWSearchMultiplier, hnswMinNeighbors)
	k = min(k, len(x.owners))

	seen := make(map[string]struct{})
	var out []Candidate
	for _, n := range x.graph.Search([]float32(query), k) {
		id := x.owners[n.Key]
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, x.byID[id])
	}
	return out
}

// Match narrows candidates through the graph and scores them exactly.
func (x *SignatureIndex) Match(query Signature) Match {
	return FindBestMatch(query, x.Candidates(query, 2))
}
