// Package graph implements the GraphExpander (spec.md §4.10): given a
// seed set from SearchService, it adds neighboring context chunks
// under a per-phase budget — same-file neighbors by chunk_index (E1),
// breadcrumb siblings (E2), and chunks from resolved import targets
// (E3) — each expanded chunk inheriting a decayed score from the seed
// that produced it.
package graph

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/lyy0709/ContextWeaver/internal/resolve"
	"github.com/lyy0709/ContextWeaver/internal/search"
	"github.com/lyy0709/ContextWeaver/internal/store"
)

// Source identifies which expansion phase produced a chunk, or that it
// was one of the original seeds.
type Source string

const (
	SourceSeed       Source = "seed"
	SourceNeighbor   Source = "neighbor"
	SourceBreadcrumb Source = "breadcrumb"
	SourceImport     Source = "import"
)

// Expanded is one chunk in the expanded set, carrying the decayed
// score it inherited from its nearest seed.
type Expanded struct {
	Chunk  *store.Chunk
	Score  float64
	Source Source
}

// Config holds the GraphExpander's tunables (spec.md §4.10). None of
// these have a spec-pinned default except ImportFilesPerSeed (0, a
// no-op, "the default for tool integration"); see DESIGN.md.
type Config struct {
	NeighborHops         int
	BreadcrumbExpandLimit int
	ImportFilesPerSeed   int
	ChunksPerImportFile  int
	NeighborDecay        float64
}

// DefaultConfig returns the GraphExpander's default tunables.
func DefaultConfig() Config {
	return Config{
		NeighborHops:          2,
		BreadcrumbExpandLimit: 3,
		ImportFilesPerSeed:    0,
		ChunksPerImportFile:   2,
		NeighborDecay:         0.85,
	}
}

// Expander runs E1/E2/E3 over a seed set.
type Expander struct {
	vector   *store.ChunkVectorStore
	resolver *resolve.Resolver // nil disables E3 regardless of cfg
	cfg      Config

	importCache map[string][]string // relative_path -> cached raw imports (spec.md §4.10: "cached per file")
}

// New creates an Expander. resolver may be nil, in which case E3 is
// always a no-op even if cfg.ImportFilesPerSeed > 0.
func New(vector *store.ChunkVectorStore, resolver *resolve.Resolver, cfg Config) *Expander {
	return &Expander{vector: vector, resolver: resolver, cfg: cfg, importCache: make(map[string][]string)}
}

// Expand returns the seed chunks plus every chunk E1/E2/E3 add,
// deduplicated against the seeds and against each other.
func (ex *Expander) Expand(ctx context.Context, seeds []*search.Seed) []*Expanded {
	seen := make(map[string]bool, len(seeds))
	out := make([]*Expanded, 0, len(seeds))
	for _, s := range seeds {
		seen[s.Chunk.ID] = true
		out = append(out, &Expanded{Chunk: s.Chunk, Score: s.Score, Source: SourceSeed})
	}

	for _, s := range seeds {
		for _, e := range ex.neighbors(s, seen) {
			seen[e.Chunk.ID] = true
			out = append(out, e)
		}
		for _, e := range ex.breadcrumbSiblings(s, seen) {
			seen[e.Chunk.ID] = true
			out = append(out, e)
		}
		for _, e := range ex.imports(ctx, s, seen) {
			seen[e.Chunk.ID] = true
			out = append(out, e)
		}
	}
	return out
}

// neighbors implements E1: up to NeighborHops chunks before and after
// the seed in the same file, ordered by chunk_index.
func (ex *Expander) neighbors(s *search.Seed, seen map[string]bool) []*Expanded {
	if ex.cfg.NeighborHops <= 0 {
		return nil
	}
	file := ex.vector.ChunksForFile(s.Chunk.RelativePath)
	pos := indexOf(file, s.Chunk.ID)
	if pos < 0 {
		return nil
	}

	var out []*Expanded
	for distance := 1; distance <= ex.cfg.NeighborHops; distance++ {
		for _, pos2 := range []int{pos - distance, pos + distance} {
			if pos2 < 0 || pos2 >= len(file) {
				continue
			}
			c := file[pos2]
			if seen[c.ID] {
				continue
			}
			out = append(out, &Expanded{
				Chunk:  c,
				Score:  s.Score * math.Pow(ex.cfg.NeighborDecay, float64(distance)),
				Source: SourceNeighbor,
			})
		}
	}
	return out
}

// breadcrumbSiblings implements E2: other chunks in the same file
// sharing a breadcrumb prefix of depth >= 1, closest chunk_index
// preferred, up to BreadcrumbExpandLimit.
func (ex *Expander) breadcrumbSiblings(s *search.Seed, seen map[string]bool) []*Expanded {
	if ex.cfg.BreadcrumbExpandLimit <= 0 || s.Chunk.Breadcrumb == "" {
		return nil
	}
	prefix := breadcrumbSegments(s.Chunk.Breadcrumb)

	type candidate struct {
		chunk *store.Chunk
		depth int
	}
	var candidates []candidate
	for _, c := range ex.vector.ChunksForFile(s.Chunk.RelativePath) {
		if c.ID == s.Chunk.ID || seen[c.ID] || c.Breadcrumb == "" {
			continue
		}
		depth := commonPrefixDepth(prefix, breadcrumbSegments(c.Breadcrumb))
		if depth < 1 {
			continue
		}
		candidates = append(candidates, candidate{chunk: c, depth: depth})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].depth != candidates[j].depth {
			return candidates[i].depth > candidates[j].depth
		}
		di := abs(candidates[i].chunk.ChunkIndex - s.Chunk.ChunkIndex)
		dj := abs(candidates[j].chunk.ChunkIndex - s.Chunk.ChunkIndex)
		return di < dj
	})

	var out []*Expanded
	for i, cand := range candidates {
		if i >= ex.cfg.BreadcrumbExpandLimit {
			break
		}
		depthDiff := len(prefix) - cand.depth
		if depthDiff < 1 {
			depthDiff = 1
		}
		out = append(out, &Expanded{
			Chunk:  cand.chunk,
			Score:  s.Score * math.Pow(ex.cfg.NeighborDecay, float64(depthDiff)),
			Source: SourceBreadcrumb,
		})
	}
	return out
}

// imports implements E3: resolve the seed file's imports (cached per
// file) and pull in chunks_per_import_file chunks from each of up to
// import_files_per_seed resolved files. A no-op when
// ImportFilesPerSeed == 0 (the default) or no resolver was configured.
func (ex *Expander) imports(ctx context.Context, s *search.Seed, seen map[string]bool) []*Expanded {
	if ex.cfg.ImportFilesPerSeed <= 0 || ex.resolver == nil {
		return nil
	}

	raw := ex.cachedImports(s.Chunk.RelativePath, s.Chunk.Language)
	if len(raw) == 0 {
		return nil
	}
	resolved := ex.resolver.Resolve(s.Chunk.Language, s.Chunk.RelativePath, raw)
	if len(resolved) > ex.cfg.ImportFilesPerSeed {
		resolved = resolved[:ex.cfg.ImportFilesPerSeed]
	}

	identifiers := coOccurringIdentifiers(s.Chunk.DisplayCode)

	var out []*Expanded
	for _, file := range resolved {
		chunks := ex.vector.ChunksForFile(file)
		picked := pickImportChunks(chunks, identifiers, ex.cfg.ChunksPerImportFile)
		for _, c := range picked {
			if seen[c.ID] {
				continue
			}
			out = append(out, &Expanded{
				Chunk:  c,
				Score:  s.Score * ex.cfg.NeighborDecay, // E3 uses a fixed distance of 1 (spec.md §4.10)
				Source: SourceImport,
			})
		}
	}
	return out
}

// cachedImports extracts and caches the raw import specifiers found in
// relativePath's import-bearing region. The chunker files imports into
// the file's first chunk (its pre-symbol "gap" region), so chunk 0's
// display_code is used as the import-extraction source.
func (ex *Expander) cachedImports(relativePath, language string) []string {
	if raw, ok := ex.importCache[relativePath]; ok {
		return raw
	}
	var raw []string
	if chunks := ex.vector.ChunksForFile(relativePath); len(chunks) > 0 {
		raw = resolve.ExtractImports(language, chunks[0].DisplayCode)
	}
	ex.importCache[relativePath] = raw
	return raw
}

// pickImportChunks prefers chunks whose breadcrumb mentions one of the
// co-occurring identifiers, ties broken by chunk_index == 0
// (spec.md §4.10 E3), else falls back to the lowest chunk_index chunks.
func pickImportChunks(chunks []*store.Chunk, identifiers map[string]bool, limit int) []*store.Chunk {
	if limit <= 0 || len(chunks) == 0 {
		return nil
	}

	var matched, rest []*store.Chunk
	for _, c := range chunks {
		if breadcrumbMatches(c.Breadcrumb, identifiers) {
			matched = append(matched, c)
		} else {
			rest = append(rest, c)
		}
	}
	rank := func(cs []*store.Chunk) {
		sort.Slice(cs, func(i, j int) bool {
			if (cs[i].ChunkIndex == 0) != (cs[j].ChunkIndex == 0) {
				return cs[i].ChunkIndex == 0
			}
			return cs[i].ChunkIndex < cs[j].ChunkIndex
		})
	}
	rank(matched)
	rank(rest)

	ordered := append(matched, rest...)
	if len(ordered) > limit {
		ordered = ordered[:limit]
	}
	return ordered
}

func breadcrumbMatches(breadcrumb string, identifiers map[string]bool) bool {
	if breadcrumb == "" || len(identifiers) == 0 {
		return false
	}
	for _, seg := range breadcrumbSegments(breadcrumb) {
		if identifiers[seg] {
			return true
		}
	}
	return false
}

// coOccurringIdentifiers is a coarse identifier extraction over a
// chunk's source text, used only to rank E3 candidates by relevance.
func coOccurringIdentifiers(code string) map[string]bool {
	out := make(map[string]bool)
	var b strings.Builder
	flush := func() {
		if b.Len() > 2 {
			out[b.String()] = true
		}
		b.Reset()
	}
	for _, r := range code {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return out
}

func breadcrumbSegments(b string) []string {
	parts := strings.Split(b, " > ")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

func commonPrefixDepth(a, b []string) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n
}

func indexOf(chunks []*store.Chunk, id string) int {
	for i, c := range chunks {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
