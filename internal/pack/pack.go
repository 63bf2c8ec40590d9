// Package pack implements the ContextPacker (spec.md §4.11): it turns
// a seed ∪ expanded chunk set into file-grouped, token-budgeted
// segments — the final shape handed back to the caller of
// build_context_pack.
package pack

import (
	"math"
	"sort"
	"strings"

	"github.com/lyy0709/ContextWeaver/internal/graph"
	"github.com/lyy0709/ContextWeaver/internal/search"
	"github.com/lyy0709/ContextWeaver/internal/store"
)

// Config holds the packer's token-budget tunables (spec.md §4.11).
type Config struct {
	TokensPerChar      float64
	MaxTotalChars      int
	MaxSegmentsPerFile int
}

// DefaultConfig returns spec.md §4.11's stated defaults.
func DefaultConfig() Config {
	return Config{TokensPerChar: 0.28, MaxTotalChars: 48000, MaxSegmentsPerFile: 3}
}

// Segment is a merged run of adjacent chunks within one file (spec.md
// §4.11 step 2).
type Segment struct {
	RelativePath  string
	StartLine     int
	EndLine       int
	Breadcrumb    string
	Text          string
	Language      string
	CharCount     int
	TokenEstimate int
	Truncated     bool
}

// ContextPack is the final output of build_context_pack.
type ContextPack struct {
	Seeds    []*search.Seed
	Expanded []*graph.Expanded
	Files    []*Segment // admitted segments, in pack order
}

// Pack groups expanded (which already contains the seeds, tagged
// graph.SourceSeed) into file segments and admits them under the
// token budget, per spec.md §4.11's four steps.
func Pack(cfg Config, seeds []*search.Seed, expanded []*graph.Expanded) *ContextPack {
	byFile := groupByFile(expanded)
	segmentsByFile := make(map[string][]*Segment, len(byFile))
	for path, chunks := range byFile {
		segmentsByFile[path] = mergeAdjacent(path, chunks, cfg)
	}

	fileScore, seedRank := seedOrdering(seeds)
	orderedPaths := orderedFilePaths(segmentsByFile, fileScore)

	var allSegments []*Segment
	for _, path := range orderedPaths {
		segs := segmentsByFile[path]
		sortSegmentsByFirstSeed(segs, seedRank)
		allSegments = append(allSegments, segs...)
	}

	files := admit(allSegments, cfg)
	return &ContextPack{Seeds: seeds, Expanded: expanded, Files: files}
}

func groupByFile(expanded []*graph.Expanded) map[string][]*store.Chunk {
	seen := make(map[string]bool)
	out := make(map[string][]*store.Chunk)
	for _, e := range expanded {
		if seen[e.Chunk.ID] {
			continue
		}
		seen[e.Chunk.ID] = true
		out[e.Chunk.RelativePath] = append(out[e.Chunk.RelativePath], e.Chunk)
	}
	for _, chunks := range out {
		sort.Slice(chunks, func(i, j int) bool { return chunks[i].ChunkIndex < chunks[j].ChunkIndex })
	}
	return out
}

// mergeAdjacent implements spec.md §4.11 step 2: chunks whose
// chunk_index differs by <= 1 merge into one segment.
func mergeAdjacent(path string, chunks []*store.Chunk, cfg Config) []*Segment {
	var segments []*Segment
	i := 0
	for i < len(chunks) {
		j := i
		for j+1 < len(chunks) && chunks[j+1].ChunkIndex-chunks[j].ChunkIndex <= 1 {
			j++
		}
		segments = append(segments, buildSegment(path, chunks[i:j+1], cfg))
		i = j + 1
	}
	return segments
}

func buildSegment(path string, run []*store.Chunk, cfg Config) *Segment {
	texts := make([]string, len(run))
	breadcrumbs := make([]string, len(run))
	startLine, endLine := run[0].StartLine, run[0].EndLine
	language := run[0].Language
	for i, c := range run {
		texts[i] = c.DisplayCode
		breadcrumbs[i] = c.Breadcrumb
		if c.StartLine < startLine {
			startLine = c.StartLine
		}
		if c.EndLine > endLine {
			endLine = c.EndLine
		}
	}
	text := strings.Join(texts, "\n")
	seg := &Segment{
		RelativePath: path,
		StartLine:    startLine,
		EndLine:      endLine,
		Breadcrumb:   longestCommonPrefix(breadcrumbs),
		Text:         text,
		Language:     language,
		CharCount:    len(text),
	}
	seg.TokenEstimate = estimateTokens(seg.CharCount, cfg.TokensPerChar)
	return seg
}

func longestCommonPrefix(breadcrumbs []string) string {
	if len(breadcrumbs) == 0 {
		return ""
	}
	segs := strings.Split(breadcrumbs[0], " > ")
	for _, b := range breadcrumbs[1:] {
		other := strings.Split(b, " > ")
		n := 0
		for n < len(segs) && n < len(other) && segs[n] == other[n] {
			n++
		}
		segs = segs[:n]
	}
	return strings.Join(segs, " > ")
}

func estimateTokens(charCount int, tokensPerChar float64) int {
	return int(math.Ceil(float64(charCount) * tokensPerChar))
}

// seedOrdering returns each file's highest seed score and each chunk
// ID's position in the seed list (its "first-seed order").
func seedOrdering(seeds []*search.Seed) (fileScore map[string]float64, seedRank map[string]int) {
	fileScore = make(map[string]float64)
	seedRank = make(map[string]int, len(seeds))
	for i, s := range seeds {
		if cur, ok := fileScore[s.Chunk.RelativePath]; !ok || s.Score > cur {
			fileScore[s.Chunk.RelativePath] = s.Score
		}
		if _, ok := seedRank[s.Chunk.ID]; !ok {
			seedRank[s.Chunk.ID] = i
		}
	}
	return
}

func orderedFilePaths(segmentsByFile map[string][]*Segment, fileScore map[string]float64) []string {
	paths := make([]string, 0, len(segmentsByFile))
	for p := range segmentsByFile {
		paths = append(paths, p)
	}
	sort.Slice(paths, func(i, j int) bool {
		si, sj := fileScore[paths[i]], fileScore[paths[j]]
		if si != sj {
			return si > sj
		}
		return paths[i] < paths[j]
	})
	return paths
}

// sortSegmentsByFirstSeed orders a file's segments by the earliest
// seed-list position among the chunks each segment covers; segments
// with no seed chunk (pure expansion) sort after those that have one.
func sortSegmentsByFirstSeed(segs []*Segment, seedRank map[string]int) {
	rank := func(seg *Segment) int {
		best := -1
		for id, r := range seedRank {
			if !strings.HasPrefix(id, seg.RelativePath+"#") {
				continue
			}
			if best == -1 || r < best {
				best = r
			}
		}
		if best == -1 {
			return len(seedRank)
		}
		return best
	}
	ranks := make([]int, len(segs))
	for i, s := range segs {
		ranks[i] = rank(s)
	}
	sort.SliceStable(segs, func(i, j int) bool { return ranks[i] < ranks[j] })
}

// admit implements spec.md §4.11 step 3's greedy budget admission:
// files and segments are already in pack order; admit segments until
// the running total would exceed MaxTotalChars, capping at
// MaxSegmentsPerFile per file. A single segment that alone exceeds the
// budget is admitted truncated at a line boundary rather than dropped.
func admit(segments []*Segment, cfg Config) []*Segment {
	var out []*Segment
	total := 0
	perFile := make(map[string]int)

	for _, seg := range segments {
		if perFile[seg.RelativePath] >= cfg.MaxSegmentsPerFile {
			continue
		}
		if total+seg.CharCount <= cfg.MaxTotalChars {
			out = append(out, seg)
			total += seg.CharCount
			perFile[seg.RelativePath]++
			continue
		}
		if len(out) == 0 {
			truncated := truncateToLineBoundary(seg, cfg.MaxTotalChars, cfg)
			out = append(out, truncated)
			total += truncated.CharCount
			perFile[seg.RelativePath]++
		}
		// Otherwise this segment doesn't fit; drop it, not truncate it.
	}
	return out
}

func truncateToLineBoundary(seg *Segment, limit int, cfg Config) *Segment {
	if seg.CharCount <= limit {
		return seg
	}
	lines := strings.Split(seg.Text, "\n")
	var kept []string
	size := 0
	for _, l := range lines {
		next := size + len(l) + 1
		if len(kept) > 0 && next > limit {
			break
		}
		kept = append(kept, l)
		size = next
	}
	if len(kept) == 0 {
		kept = []string{lines[0][:min(limit, len(lines[0]))]}
	}
	text := strings.Join(kept, "\n")
	return &Segment{
		RelativePath:  seg.RelativePath,
		StartLine:     seg.StartLine,
		EndLine:       seg.StartLine + len(kept) - 1,
		Breadcrumb:    seg.Breadcrumb,
		Text:          text,
		Language:      seg.Language,
		CharCount:     len(text),
		TokenEstimate: estimateTokens(len(text), cfg.TokensPerChar),
		Truncated:     true,
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
