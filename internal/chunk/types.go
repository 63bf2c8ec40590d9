package chunk

import "context"

// Size and splitting defaults (spec.md §4.2).
const (
	// MaxChunkChars is the display_code length above which a chunk is
	// split further along line boundaries; syntactic boundaries inside
	// the chunk are not considered, and a single line longer than this
	// is not split.
	MaxChunkChars = 4000

	// GapMaxBlankLines bounds how many consecutive blank lines may
	// separate two gap fragments before they are treated as distinct
	// synthetic chunks rather than coalesced into one.
	GapMaxBlankLines = 2

	// FallbackChunkLines is the target chunk length used by the
	// line-aligned fallback splitter for unsupported languages.
	FallbackChunkLines = 60
)

// Span is a half-open byte range [Start, End) into a file's source bytes.
type Span struct {
	Start int
	End   int
}

// Chunk is the unit produced by the Chunker (spec.md §3).
type Chunk struct {
	// ChunkID = "{relative_path}#{content_hash}#{chunk_index}".
	ChunkID string

	RelativePath string
	FileHash     string // redundant copy of the owning file's content_hash
	ChunkIndex   int    // 0-based order within the file

	DisplayCode string // human-readable source slice, unchanged text
	VectorText  string // breadcrumb_joined + "\n" + display_code
	Breadcrumb  string // e.g. "ClassA > methodB"
	Language    string

	RawSpan    Span // byte range of the node/gap this chunk covers
	VectorSpan Span // RawSpan plus any breadcrumb prefix bytes

	StartLine int // 1-based inclusive
	EndLine   int // 1-based inclusive

	Vector []float32 // populated by the Indexer after embedding, not the Chunker
}

// FileInput is the Chunker's input: one file's current bytes.
type FileInput struct {
	RelativePath string
	Content      []byte
	Language     string // "" if the extension is unrecognized
}

// Chunker splits one file's bytes into an ordered sequence of chunks.
type Chunker interface {
	// Chunk splits file into chunks with chunk_index 0..N-1 in increasing
	// start-byte order. Returns zero chunks, not an error, for empty files.
	Chunk(ctx context.Context, file *FileInput, contentHash string) ([]*Chunk, error)

	// SupportedLanguages returns the language tags this chunker's
	// syntax-tree path handles; other languages fall back to the
	// line-aligned splitter.
	SupportedLanguages() []string
}

// SymbolType classifies an extracted breadcrumb-context node.
type SymbolType string

const (
	SymbolTypeFunction  SymbolType = "function"
	SymbolTypeMethod    SymbolType = "method"
	SymbolTypeClass     SymbolType = "class"
	SymbolTypeInterface SymbolType = "interface"
	SymbolTypeStruct    SymbolType = "struct"
	SymbolTypeEnum      SymbolType = "enum"
	SymbolTypeModule    SymbolType = "module"
)

// Symbol describes one chunkable or breadcrumb-context node found while
// walking the syntax tree.
type Symbol struct {
	Name       string
	Type       SymbolType
	StartLine  int
	EndLine    int
	Signature  string
	DocComment string
}

// Tree is a parsed syntax tree with its backing source bytes.
type Tree struct {
	Root     *Node
	Source   []byte
	Language string
}

// Node is a syntax-tree node, backend-agnostic over the tree-sitter API.
type Node struct {
	Type       string
	StartByte  uint32
	EndByte    uint32
	StartPoint Point
	EndPoint   Point
	Children   []*Node
	HasError   bool
}

// Point is a row/column position in the source.
type Point struct {
	Row    uint32
	Column uint32
}

// LanguageConfig is the declarative per-language specification named in
// spec.md §4.2: which node kinds are "chunkable" and which form breadcrumb
// context.
type LanguageConfig struct {
	Name       string
	Extensions []string

	// ChunkableTypes are node kinds emitted as one chunk each (function,
	// method, class, struct, enum, module declarations).
	ChunkableTypes []string

	// ContextTypes are node kinds that contribute a breadcrumb segment
	// (classes, namespaces, modules) when they enclose a chunkable node.
	ContextTypes []string

	// NameField is the child field/node type holding an identifier's name.
	NameField string
}
