// Package search implements the SearchService (spec.md §4.9): query
// embedding, parallel vector/lexical recall, RRF fusion, reranking, and
// the Smart-TopK cutoff that turns a reranked list into a seed set.
package search

import "sort"

// DefaultK0 is the RRF smoothing constant (spec.md §4.9).
const DefaultK0 = 60

// DefaultWVec and DefaultWLex are the RRF source weights (spec.md §4.9).
const (
	DefaultWVec = 1.0
	DefaultWLex = 0.5
)

// recalled is one chunk's rank in each recall stream; 0 means absent.
type recalled struct {
	chunkID string
	rankVec int
	rankLex int
}

// FusedResult is one chunk after RRF fusion (spec.md §4.9 step 4).
type FusedResult struct {
	ChunkID  string
	RRFScore float64
	RankVec  int // 1-indexed, 0 if absent from vector recall
	RankLex  int // 1-indexed, 0 if absent from lexical recall
}

// RRF combines a vector-recall ranking and a lexical-recall ranking by
// Reciprocal Rank Fusion: rrf_score = w_vec/(k0+rank_vec) +
// w_lex/(k0+rank_lex), a chunk absent from a list contributing zero for
// that term. Returns the top fusedTopM, sorted by RRFScore descending,
// ties broken by (higher RankVec, then lexicographic ChunkID) per
// spec.md §5's determinism requirement.
func RRF(vecIDs, lexIDs []string, k0 int, wVec, wLex float64, fusedTopM int) []*FusedResult {
	if k0 <= 0 {
		k0 = DefaultK0
	}

	byID := make(map[string]*recalled, len(vecIDs)+len(lexIDs))
	order := make([]string, 0, len(vecIDs)+len(lexIDs))
	get := func(id string) *recalled {
		r, ok := byID[id]
		if !ok {
			r = &recalled{chunkID: id}
			byID[id] = r
			order = append(order, id)
		}
		return r
	}
	for i, id := range vecIDs {
		get(id).rankVec = i + 1
	}
	for i, id := range lexIDs {
		get(id).rankLex = i + 1
	}

	results := make([]*FusedResult, 0, len(order))
	for _, id := range order {
		r := byID[id]
		var score float64
		if r.rankVec > 0 {
			score += wVec / float64(k0+r.rankVec)
		}
		if r.rankLex > 0 {
			score += wLex / float64(k0+r.rankLex)
		}
		results = append(results, &FusedResult{
			ChunkID:  id,
			RRFScore: score,
			RankVec:  r.rankVec,
			RankLex:  r.rankLex,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.RRFScore != b.RRFScore {
			return a.RRFScore > b.RRFScore
		}
		if a.RankVec != b.RankVec {
			return a.RankVec > b.RankVec
		}
		return a.ChunkID < b.ChunkID
	})

	if fusedTopM > 0 && len(results) > fusedTopM {
		results = results[:fusedTopM]
	}
	return results
}
