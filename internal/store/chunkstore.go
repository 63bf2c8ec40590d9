package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// ChunkVectorStore is the spec.md §4.6 "Vector Store": a persistent
// store of ChunkRecord rows (every field of §3 plus the dense vector),
// searchable by approximate nearest neighbor. It composes an ANN index
// (HNSWStore) for the ranking math with a payload map holding the
// chunk records the ANN engine only knows by opaque ID.
type ChunkVectorStore struct {
	mu      sync.RWMutex
	ann     *HNSWStore
	records map[string]*Chunk  // chunk ID -> full record
	byFile  map[string][]string // relative_path -> chunk IDs currently live for it
}

// NewChunkVectorStore creates a vector store with the given ANN config.
func NewChunkVectorStore(cfg VectorStoreConfig) (*ChunkVectorStore, error) {
	ann, err := NewHNSWStore(cfg)
	if err != nil {
		return nil, err
	}
	return &ChunkVectorStore{
		ann:     ann,
		records: make(map[string]*Chunk),
		byFile:  make(map[string][]string),
	}, nil
}

// ChunkBatch is one file's replacement chunk set plus parallel vectors,
// the unit batch_upsert_files operates over (spec.md §4.6).
type ChunkBatch struct {
	RelativePath string
	Chunks       []*Chunk
	Vectors      [][]float32
}

// BatchUpsertFiles atomically replaces the chunk set for each given
// file: new rows are added before old rows for that path are removed,
// so a concurrent Search never observes a file with zero chunks
// (spec.md §4.6, §4.7's atomicity requirement).
func (s *ChunkVectorStore) BatchUpsertFiles(ctx context.Context, batches []*ChunkBatch) error {
	for _, b := range batches {
		if len(b.Chunks) != len(b.Vectors) {
			return fmt.Errorf("chunk/vector count mismatch for %s: %d vs %d", b.RelativePath, len(b.Chunks), len(b.Vectors))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range batches {
		newIDs := make([]string, len(b.Chunks))
		for i, c := range b.Chunks {
			newIDs[i] = c.ID
		}

		if err := s.ann.Add(ctx, newIDs, b.Vectors); err != nil {
			return fmt.Errorf("add vectors for %s: %w", b.RelativePath, err)
		}
		for _, c := range b.Chunks {
			s.records[c.ID] = c
		}

		stale := s.byFile[b.RelativePath]
		s.byFile[b.RelativePath] = newIDs

		var toRemove []string
		newSet := make(map[string]bool, len(newIDs))
		for _, id := range newIDs {
			newSet[id] = true
		}
		for _, id := range stale {
			if !newSet[id] {
				toRemove = append(toRemove, id)
			}
		}
		if len(toRemove) > 0 {
			if err := s.ann.Delete(ctx, toRemove); err != nil {
				return fmt.Errorf("delete stale vectors for %s: %w", b.RelativePath, err)
			}
			for _, id := range toRemove {
				delete(s.records, id)
			}
		}
	}
	return nil
}

// DeleteFiles removes every chunk row belonging to paths.
func (s *ChunkVectorStore) DeleteFiles(ctx context.Context, paths []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var allIDs []string
	for _, p := range paths {
		allIDs = append(allIDs, s.byFile[p]...)
		delete(s.byFile, p)
	}
	if len(allIDs) == 0 {
		return nil
	}
	if err := s.ann.Delete(ctx, allIDs); err != nil {
		return err
	}
	for _, id := range allIDs {
		delete(s.records, id)
	}
	return nil
}

// ChunkSearchResult pairs a full chunk record with its similarity score.
type ChunkSearchResult struct {
	Chunk    *Chunk
	Score    float32
	Distance float32
}

// ChunkFilter optionally narrows Search to chunks satisfying predicate;
// nil means no filter.
type ChunkFilter func(*Chunk) bool

// Search returns the limit nearest chunks to queryVector, each paired
// with its full record, optionally narrowed by filter (spec.md §4.6).
// Filtering over-fetches from the ANN index since HNSW has no native
// predicate pushdown.
func (s *ChunkVectorStore) Search(ctx context.Context, queryVector []float32, limit int, filter ChunkFilter) ([]*ChunkSearchResult, error) {
	fetch := limit
	if filter != nil {
		fetch = limit * 4
		if fetch < 50 {
			fetch = 50
		}
	}

	s.mu.RLock()
	raw, err := s.ann.Search(ctx, queryVector, fetch)
	if err != nil {
		s.mu.RUnlock()
		return nil, err
	}

	results := make([]*ChunkSearchResult, 0, len(raw))
	for _, r := range raw {
		c, ok := s.records[r.ID]
		if !ok {
			continue
		}
		if filter != nil && !filter(c) {
			continue
		}
		results = append(results, &ChunkSearchResult{Chunk: c, Score: r.Score, Distance: r.Distance})
		if len(results) >= limit {
			break
		}
	}
	s.mu.RUnlock()

	return results, nil
}

// Count returns the number of chunk rows currently stored.
func (s *ChunkVectorStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Clear removes every chunk row and vector.
func (s *ChunkVectorStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	if err := s.ann.Delete(ctx, ids); err != nil {
		return err
	}
	s.records = make(map[string]*Chunk)
	s.byFile = make(map[string][]string)
	return nil
}

// IDsForFile returns the chunk IDs currently live for relativePath, so
// callers can evict matching rows from a secondary index (the FTS
// index) before this store's own copy is overwritten by
// BatchUpsertFiles or DeleteFiles.
func (s *ChunkVectorStore) IDsForFile(relativePath string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byFile[relativePath]
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

// GetByID returns the full chunk record for id, if still live. The FTS
// index only stores id+content, so any caller resolving a lexical hit
// back to its chunk (relative_path, breadcrumb, display_code, ...) goes
// through here.
func (s *ChunkVectorStore) GetByID(id string) (*Chunk, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.records[id]
	return c, ok
}

// ChunksForFile returns every live chunk for relativePath, ordered by
// ChunkIndex ascending (spec.md §4.10's neighbor/breadcrumb expansion
// needs this ordering).
func (s *ChunkVectorStore) ChunksForFile(relativePath string) []*Chunk {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byFile[relativePath]
	out := make([]*Chunk, 0, len(ids))
	for _, id := range ids {
		if c, ok := s.records[id]; ok {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkIndex < out[j].ChunkIndex })
	return out
}

// AllIDs returns every live chunk ID, for consistency checks against
// the lexical (FTS) index.
func (s *ChunkVectorStore) AllIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Dimensions reports the configured vector width.
func (s *ChunkVectorStore) Dimensions() int {
	return s.ann.config.Dimensions
}

// chunkStorePayload is the on-disk form of the records/byFile maps,
// saved alongside the ANN graph (mirrors hnswMetadata's gob pattern).
type chunkStorePayload struct {
	Records map[string]*Chunk
	ByFile  map[string][]string
}

// Save persists both the ANN graph and the chunk payload map to disk.
// path names the ANN graph file; the payload is written to path+".chunks".
func (s *ChunkVectorStore) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.ann.Save(path); err != nil {
		return fmt.Errorf("save ann graph: %w", err)
	}

	payloadPath := path + ".chunks"
	if err := os.MkdirAll(filepath.Dir(payloadPath), 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tmpPath := payloadPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp chunk payload file: %w", err)
	}
	w := bufio.NewWriter(f)
	enc := gob.NewEncoder(w)
	if err := enc.Encode(chunkStorePayload{Records: s.records, ByFile: s.byFile}); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("encode chunk payload: %w", err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("flush chunk payload: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close chunk payload file: %w", err)
	}
	return os.Rename(tmpPath, payloadPath)
}

// Load restores both the ANN graph and the chunk payload map.
func (s *ChunkVectorStore) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ann.Load(path); err != nil {
		return fmt.Errorf("load ann graph: %w", err)
	}

	payloadPath := path + ".chunks"
	f, err := os.Open(payloadPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open chunk payload file: %w", err)
	}
	defer f.Close()

	var payload chunkStorePayload
	dec := gob.NewDecoder(bufio.NewReader(f))
	if err := dec.Decode(&payload); err != nil {
		return fmt.Errorf("decode chunk payload: %w", err)
	}
	s.records = payload.Records
	s.byFile = payload.ByFile
	if s.records == nil {
		s.records = make(map[string]*Chunk)
	}
	if s.byFile == nil {
		s.byFile = make(map[string][]string)
	}
	return nil
}

// Close releases the underlying ANN resources.
func (s *ChunkVectorStore) Close() error {
	return s.ann.Close()
}
