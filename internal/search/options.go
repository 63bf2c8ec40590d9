package search

// Config holds the tunables spec.md §4.9 names for the recall → fusion
// → rerank → Smart-TopK pipeline. Values are loaded from
// internal/config and passed in by the caller; the constants here are
// only the spec's stated defaults.
type Config struct {
	// VectorTopK is the vector recall limit (step 2).
	VectorTopK int

	// LexChunksPerFile caps lexical hits kept per file (step 3).
	LexChunksPerFile int
	// LexTotalChunks caps the total lexical recall size (step 3).
	LexTotalChunks int

	// K0, WVec, WLex parameterize RRF fusion (step 4).
	K0   int
	WVec float64
	WLex float64
	// FusedTopM is how many fused results survive to reranking (step 4).
	FusedTopM int

	// MaxRerankChars truncates each passage before reranking (step 5).
	MaxRerankChars int

	// Smart-TopK cutoff parameters (step 6).
	SmartMinK          int
	SmartMaxK          int
	SmartTopScoreRatio float64
	SmartMinScore      float64
	DeltaGuardRatio    float64
}

// DefaultConfig returns spec.md §4.9's stated defaults.
func DefaultConfig() Config {
	return Config{
		VectorTopK:         50,
		LexChunksPerFile:   3,
		LexTotalChunks:     50,
		K0:                 DefaultK0,
		WVec:               DefaultWVec,
		WLex:               DefaultWLex,
		FusedTopM:          30,
		MaxRerankChars:     2000,
		SmartMinK:          2,
		SmartMaxK:          15,
		SmartTopScoreRatio: 0.5,
		SmartMinScore:      0.25,
		DeltaGuardRatio:    0.4,
	}
}
