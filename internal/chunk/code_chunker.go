package chunk

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// CodeChunker implements AST-aware code chunking (spec.md §4.2): one
// chunk per chunkable symbol, plus synthetic chunks covering the
// unclaimed top-level regions between them (imports, package clauses,
// stray top-level statements).
type CodeChunker struct {
	registry  *LanguageRegistry
	pool      *ParserPool
	extractor *SymbolExtractor
}

// NewCodeChunker creates a chunker that checks parsers out of pool.
func NewCodeChunker(registry *LanguageRegistry, pool *ParserPool) *CodeChunker {
	return &CodeChunker{
		registry:  registry,
		pool:      pool,
		extractor: NewSymbolExtractor(registry),
	}
}

// SupportedLanguages reports every language this chunker's syntax-tree
// path handles.
func (c *CodeChunker) SupportedLanguages() []string {
	return c.registry.SupportedLanguages()
}

// Chunk implements Chunker.
func (c *CodeChunker) Chunk(ctx context.Context, file *FileInput, contentHash string) ([]*Chunk, error) {
	if len(file.Content) == 0 {
		return nil, nil
	}

	language := file.Language
	if language == "" {
		return c.fallbackChunks(file, contentHash, "unknown"), nil
	}

	if _, ok := c.registry.GetByName(language); !ok {
		return c.fallbackChunks(file, contentHash, language), nil
	}

	parser := c.pool.Checkout(language)
	tree, err := parser.Parse(ctx, file.Content, language)
	c.pool.Checkin(language, parser)
	if err != nil || tree == nil {
		return c.fallbackChunks(file, contentHash, language), nil
	}

	all := c.extractor.FindChunkable(tree)
	if len(all) == 0 {
		return c.fallbackChunks(file, contentHash, language), nil
	}

	rootSet := make(map[*Node]bool, len(tree.Root.Children))
	for _, child := range tree.Root.Children {
		rootSet[child] = true
	}

	var topLevel, nested []*ChunkableNode
	for _, cn := range all {
		if rootSet[cn.Node] {
			topLevel = append(topLevel, cn)
		} else {
			nested = append(nested, cn)
		}
	}
	sort.Slice(topLevel, func(i, j int) bool {
		return topLevel[i].Node.StartByte < topLevel[j].Node.StartByte
	})

	type rawChunk struct {
		span       Span
		breadcrumb string
	}
	var raws []rawChunk

	prevEnd := 0
	for _, cn := range topLevel {
		start := widenForDocComment(int(cn.Node.StartByte), file.Content, language, prevEnd)
		end := int(cn.Node.EndByte)
		if start < prevEnd {
			start = prevEnd
		}

		for _, gap := range splitGapRegion(file.Content, prevEnd, start) {
			raws = append(raws, rawChunk{span: gap})
		}

		raws = append(raws, rawChunk{
			span:       Span{Start: start, End: end},
			breadcrumb: joinBreadcrumb(cn.Breadcrumb, cn.Symbol.Name),
		})
		prevEnd = end
	}
	for _, gap := range splitGapRegion(file.Content, prevEnd, len(file.Content)) {
		raws = append(raws, rawChunk{span: gap})
	}

	for _, cn := range nested {
		raws = append(raws, rawChunk{
			span:       Span{Start: int(cn.Node.StartByte), End: int(cn.Node.EndByte)},
			breadcrumb: joinBreadcrumb(cn.Breadcrumb, cn.Symbol.Name),
		})
	}

	sort.SliceStable(raws, func(i, j int) bool { return raws[i].span.Start < raws[j].span.Start })

	var chunks []*Chunk
	index := 0
	for _, r := range raws {
		for _, piece := range splitSpanByChars(file.Content, r.span, MaxChunkChars) {
			chunk := c.buildChunk(file, contentHash, index, piece, r.breadcrumb, language)
			if chunk == nil {
				continue
			}
			chunks = append(chunks, chunk)
			index++
		}
	}

	if len(chunks) == 0 {
		return c.fallbackChunks(file, contentHash, language), nil
	}
	return chunks, nil
}

// fallbackChunks splits file into line-aligned chunks of roughly
// FallbackChunkLines lines each, for unsupported languages or files a
// parser rejected.
func (c *CodeChunker) fallbackChunks(file *FileInput, contentHash, language string) []*Chunk {
	if strings.TrimSpace(string(file.Content)) == "" {
		return nil
	}

	offsets := computeLineOffsets(file.Content)
	numLines := len(offsets) - 1

	var chunks []*Chunk
	index := 0
	for i := 0; i < numLines; i += FallbackChunkLines {
		end := i + FallbackChunkLines
		if end > numLines {
			end = numLines
		}
		span := Span{Start: offsets[i], End: offsets[end]}
		chunk := c.buildChunk(file, contentHash, index, span, "", language)
		if chunk != nil {
			chunks = append(chunks, chunk)
			index++
		}
	}
	return chunks
}

func (c *CodeChunker) buildChunk(file *FileInput, contentHash string, index int, span Span, breadcrumb, language string) *Chunk {
	if span.Start < 0 {
		span.Start = 0
	}
	if span.End > len(file.Content) {
		span.End = len(file.Content)
	}
	if span.Start >= span.End {
		return nil
	}

	displayCode := string(file.Content[span.Start:span.End])
	if strings.TrimSpace(displayCode) == "" {
		return nil
	}

	vectorText := breadcrumb + "\n" + displayCode
	extra := len(vectorText) - len(displayCode)

	endLineByte := span.End - 1
	if endLineByte < span.Start {
		endLineByte = span.Start
	}

	return &Chunk{
		ChunkID:      fmt.Sprintf("%s#%s#%d", file.RelativePath, contentHash, index),
		RelativePath: file.RelativePath,
		FileHash:     contentHash,
		ChunkIndex:   index,
		DisplayCode:  displayCode,
		VectorText:   vectorText,
		Breadcrumb:   breadcrumb,
		Language:     language,
		RawSpan:      span,
		VectorSpan:   Span{Start: span.Start, End: span.End + extra},
		StartLine:    lineForByte(file.Content, span.Start),
		EndLine:      lineForByte(file.Content, endLineByte),
	}
}

func joinBreadcrumb(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + " > " + name
}

// commentPrefix returns the single-line comment marker used by
// language's doc-comment convention, or "" if language has none that
// precedes the declaration (e.g. Python's docstrings sit inside the body).
func commentPrefix(language string) string {
	switch language {
	case "go", "typescript", "tsx", "javascript", "jsx", "java", "rust", "c", "cpp", "csharp":
		return "//"
	case "python":
		return "#"
	default:
		return ""
	}
}

// widenForDocComment walks startByte backward over contiguous preceding
// comment lines (no blank-line tolerance), never crossing floor, so a
// function's doc comment is captured inside its own chunk rather than
// left behind in the preceding gap.
func widenForDocComment(startByte int, source []byte, language string, floor int) int {
	prefix := commentPrefix(language)
	if prefix == "" {
		return startByte
	}

	pos := startByte
	for {
		lineStart := pos
		for lineStart > floor && source[lineStart-1] != '\n' {
			lineStart--
		}
		if lineStart <= floor {
			return lineStart
		}

		prevLineEnd := lineStart - 1
		prevLineStart := prevLineEnd
		for prevLineStart > floor && source[prevLineStart-1] != '\n' {
			prevLineStart--
		}

		line := strings.TrimSpace(string(source[prevLineStart:prevLineEnd]))
		if !strings.HasPrefix(line, prefix) {
			return lineStart
		}
		pos = prevLineStart
	}
}

// splitGapRegion splits the unclaimed byte range [start, end) into one
// synthetic chunk span per run of non-blank lines, breaking the run
// wherever more than GapMaxBlankLines consecutive blank lines occur so
// unrelated unclaimed fragments don't get coalesced into one chunk.
// Purely blank ranges produce no spans at all.
func splitGapRegion(source []byte, start, end int) []Span {
	if start < 0 {
		start = 0
	}
	if end > len(source) {
		end = len(source)
	}
	if start >= end {
		return nil
	}

	sub := source[start:end]
	offsets := computeLineOffsets(sub)
	for i := range offsets {
		offsets[i] += start
	}
	lines := strings.Split(string(sub), "\n")

	var spans []Span
	segStart := 0
	blankRun := 0

	flush := func(from, to int) {
		if from >= to || from >= len(offsets) {
			return
		}
		s := offsets[from]
		e := end
		if to < len(offsets) {
			e = offsets[to]
		}
		if e > end {
			e = end
		}
		if strings.TrimSpace(string(source[s:e])) == "" {
			return
		}
		spans = append(spans, Span{Start: s, End: e})
	}

	for i, l := range lines {
		if strings.TrimSpace(l) == "" {
			blankRun++
			if blankRun > GapMaxBlankLines {
				flush(segStart, i-blankRun+1)
				segStart = i + 1
			}
		} else {
			blankRun = 0
		}
	}
	flush(segStart, len(lines))

	return spans
}

// splitSpanByChars splits span into consecutive pieces no longer than
// maxChars, breaking only at line boundaries.
func splitSpanByChars(source []byte, span Span, maxChars int) []Span {
	if span.End-span.Start <= maxChars {
		return []Span{span}
	}

	var spans []Span
	segStart := span.Start
	curLen := 0
	pos := span.Start
	text := source[span.Start:span.End]

	for _, l := range strings.Split(string(text), "\n") {
		lineLen := len(l) + 1 // account for the '\n' removed by Split
		if curLen > 0 && curLen+lineLen > maxChars {
			spans = append(spans, Span{Start: segStart, End: pos})
			segStart = pos
			curLen = 0
		}
		curLen += lineLen
		pos += lineLen
	}
	if segStart < span.End {
		end := pos - 1 // last line had no trailing '\n' within span
		if end > span.End {
			end = span.End
		}
		spans = append(spans, Span{Start: segStart, End: end})
	}

	return spans
}

// computeLineOffsets returns the byte offset of the start of every line
// in b, plus a final sentinel entry equal to len(b).
func computeLineOffsets(b []byte) []int {
	offsets := []int{0}
	for i, ch := range b {
		if ch == '\n' {
			offsets = append(offsets, i+1)
		}
	}
	if offsets[len(offsets)-1] != len(b) {
		offsets = append(offsets, len(b))
	}
	return offsets
}

// lineForByte returns the 1-based line number containing byte offset.
func lineForByte(source []byte, offset int) int {
	if offset < 0 {
		offset = 0
	}
	if offset > len(source) {
		offset = len(source)
	}
	line := 1
	for i := 0; i < offset; i++ {
		if source[i] == '\n' {
			line++
		}
	}
	return line
}
