// Package store provides vector storage (HNSW), lexical (FTS5/BM25) index,
// and metadata persistence (SQLite). This is the persistence layer for all
// indexed data (spec.md §3 Data Model / §5 Storage Layout).
package store

import (
	"context"
	"fmt"
	"time"
)

// State keys for the metadata store's key-value pane (dimension
// mismatch handling, spec.md §4.5, §4.9).
const (
	// StateKeyIndexDimension stores the embedding dimension used for the index
	StateKeyIndexDimension = "index_embedding_dimension"
	// StateKeyIndexModel stores the embedding model name used for the index
	StateKeyIndexModel = "index_embedding_model"
)

// Chunk is the persisted form of a chunk.Chunk (spec.md §3): its
// content-addressable ID, both text representations, and its position.
type Chunk struct {
	ID           string // "{relative_path}#{content_hash}#{chunk_index}"
	RelativePath string // owning file, matches File.RelativePath
	FileHash     string // content hash of the owning file, redundant with ID
	ChunkIndex   int

	DisplayCode string // human-readable source slice
	VectorText  string // breadcrumb_joined + "\n" + display_code, embedded as-is
	Breadcrumb  string
	Language    string

	StartLine int // 1-indexed
	EndLine   int // inclusive

	Metadata  map[string]string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// File is a tracked file's row in the metadata store's File table
// (spec.md §4.5): one row per relative path, single project per store.
type File struct {
	RelativePath    string    // primary key
	ContentHash     string    // SHA256 of current content
	ModTime         time.Time
	Size            int64
	Language        string
	VectorIndexHash string // ContentHash as of the last successful vector write; "" if never written or healed-dirty
	IndexedAt       time.Time
}

// NeedsReindex reports whether f's vector-store copy is stale relative
// to its current content (spec.md §4.5's "needs reindex" subset).
func (f *File) NeedsReindex() bool {
	return f.VectorIndexHash != f.ContentHash
}

// MetadataStore persists the File table and a small state key-value
// pane (spec.md §4.5). It is single-project: one store instance per
// indexed repository, scoped by the caller (internal/project).
type MetadataStore interface {
	// UpsertFiles bulk-inserts or replaces file rows by RelativePath.
	UpsertFiles(ctx context.Context, files []*File) error
	// DeleteFiles removes rows for the given relative paths.
	DeleteFiles(ctx context.Context, paths []string) error
	// AllPaths returns every tracked relative path.
	AllPaths(ctx context.Context) ([]string, error)
	// GetFile returns the row for path, or nil if untracked.
	GetFile(ctx context.Context, path string) (*File, error)
	// NeedsReindex returns files whose VectorIndexHash != ContentHash.
	NeedsReindex(ctx context.Context) ([]*File, error)
	// SetVectorIndexHash updates the healed/written marker for path;
	// pass "" to clear it (embedding or write failure).
	SetVectorIndexHash(ctx context.Context, path, hash string) error

	// GetState/SetState is the key-value pane recording the index's
	// embedding dimension and model (spec.md §4.5, §4.9).
	GetState(ctx context.Context, key string) (string, bool, error)
	SetState(ctx context.Context, key, value string) error

	Close() error
}

// IndexInfo reports on an index's location, embedder configuration, and
// size, for the `contextweaver index info` command.
type IndexInfo struct {
	// Location paths
	Location    string // Index data directory (project state dir, internal/project)
	ProjectRoot string // Project root directory

	// Embedding configuration stored in index
	IndexModel      string // Model name used to build index
	IndexBackend    string // Backend (mlx, ollama, static)
	IndexDimensions int    // Embedding dimensions

	// Statistics
	ChunkCount    int   // Number of chunks in index
	DocumentCount int   // Number of documents (files) indexed
	IndexSizeBytes int64 // Total index size (BM25 + vector)
	BM25SizeBytes  int64 // BM25 index file size
	VectorSizeBytes int64 // Vector store file size

	// Timestamps
	CreatedAt time.Time // When index was first created
	UpdatedAt time.Time // When index was last updated

	// Current embedder (for comparison)
	CurrentModel      string // Current embedder model
	CurrentBackend    string // Current embedder backend
	CurrentDimensions int    // Current embedder dimensions
	Compatible        bool   // Whether current embedder is compatible with index
}

// CurrentSchemaVersion is the current database schema version.
const CurrentSchemaVersion = 2

// Document represents a document to be indexed in BM25.
type Document struct {
	ID      string // Chunk ID
	Content string // Text content
}

// BM25Result represents a single BM25 search result.
type BM25Result struct {
	DocID        string
	Score        float64
	MatchedTerms []string
}

// IndexStats provides statistics about the BM25 index.
type IndexStats struct {
	DocumentCount int
	TermCount     int
	AvgDocLength  float64
}

// BM25Index provides keyword search using BM25 algorithm.
type BM25Index interface {
	// Index adds documents to the index
	Index(ctx context.Context, docs []*Document) error

	// Search returns documents matching query, scored by BM25
	Search(ctx context.Context, query string, limit int) ([]*BM25Result, error)

	// Delete removes documents from index
	Delete(ctx context.Context, docIDs []string) error

	// AllIDs returns all document IDs in the index (for consistency checks)
	AllIDs() ([]string, error)

	// Stats returns index statistics
	Stats() *IndexStats

	// Persistence
	Save(path string) error
	Load(path string) error
	Close() error
}

// BM25Config configures the BM25 index.
type BM25Config struct {
	// K1 is the term frequency saturation parameter (default: 1.2)
	K1 float64

	// B is the length normalization parameter (default: 0.75)
	B float64

	// StopWords is a list of words to filter out during tokenization
	StopWords []string

	// MinTokenLength is minimum token length to index (spec.md §4.1: 3)
	MinTokenLength int
}

// DefaultBM25Config returns default BM25 configuration.
func DefaultBM25Config() BM25Config {
	return BM25Config{
		K1:             1.2,
		B:              0.75,
		StopWords:      DefaultCodeStopWords,
		MinTokenLength: MinTokenChars,
	}
}

// DefaultCodeStopWords contains programming keywords to filter out.
var DefaultCodeStopWords = []string{
	"var", "let", "const", "func", "function", "def", "class",
	"return", "if", "else", "for", "while",
	"data", "result", "value", "item", "key", "err", "ctx", "tmp",
}

// VectorResult represents a single vector search result.
type VectorResult struct {
	ID       string  // Chunk ID
	Distance float32 // Lower is more similar (0-2 for cosine)
	Score    float32 // Normalized similarity (0-1)
}

// VectorStoreConfig configures the vector store.
type VectorStoreConfig struct {
	// Dimensions is the vector dimension (768 for Hugot/EmbeddingGemma, 384 for MiniLM, 256 for static)
	Dimensions int

	// Quantization is the vector precision: "f32", "f16", "i8" (default: "f16")
	Quantization string

	// Metric is the distance metric: "cos" (cosine), "l2" (euclidean) (default: "cos")
	Metric string

	// M is HNSW max connections per layer (default: 32)
	M int

	// EfConstruction is HNSW build-time search width (default: 128)
	EfConstruction int

	// EfSearch is HNSW query-time search width (default: 64)
	EfSearch int
}

// DefaultVectorStoreConfig returns sensible defaults for vector store.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions:     dimensions,
		Quantization:   "f16",
		Metric:         "cos",
		M:              32,
		EfConstruction: 128,
		EfSearch:       64,
	}
}

// VectorStore provides semantic search using HNSW algorithm.
type VectorStore interface {
	// Add inserts vectors with their IDs. If an ID exists, it is replaced.
	Add(ctx context.Context, ids []string, vectors [][]float32) error

	// Search finds k nearest neighbors to query vector.
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)

	// Delete removes vectors by ID.
	Delete(ctx context.Context, ids []string) error

	// AllIDs returns all vector IDs in the store (for consistency checks)
	AllIDs() []string

	// Contains checks if ID exists.
	Contains(id string) bool

	// Count returns number of vectors.
	Count() int

	// Persistence
	Save(path string) error
	Load(path string) error
	Close() error
}

// ErrDimensionMismatch indicates vector dimension mismatch.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (run 'contextweaver reindex --force')", e.Expected, e.Got)
}
