package search

import "github.com/lyy0709/ContextWeaver/internal/store"

// RecallSource identifies which recall stream(s) surfaced a seed.
type RecallSource string

const (
	RecallVector RecallSource = "vector"
	RecallLex    RecallSource = "lex"
	RecallBoth   RecallSource = "both"
)

// Seed is one chunk that survived Smart-TopK, tagged with the recall
// source(s) it appeared in (spec.md §4.9).
type Seed struct {
	Chunk   *store.Chunk
	Score   float64 // reranked score
	RRF     *FusedResult
	Sources RecallSource
}

// Result is the outcome of one SearchService.BuildContextPack call,
// before graph expansion and packing: the seed set plus enough of the
// pipeline's intermediate state to explain how it was reached.
type Result struct {
	Query         string
	Seeds         []*Seed
	VectorHits    int
	LexHits       int
	FusedCount    int
	RerankApplied bool
}
