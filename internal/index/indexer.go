package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/gofrs/flock"

	"github.com/lyy0709/ContextWeaver/internal/async"
	"github.com/lyy0709/ContextWeaver/internal/chunk"
	"github.com/lyy0709/ContextWeaver/internal/config"
	"github.com/lyy0709/ContextWeaver/internal/embed"
	"github.com/lyy0709/ContextWeaver/internal/scanner"
	"github.com/lyy0709/ContextWeaver/internal/store"
)

// Deps are the Indexer's injected dependencies.
type Deps struct {
	Metadata store.MetadataStore
	BM25     store.BM25Index
	Vector   *store.ChunkVectorStore
	Embedder embed.Embedder
	Chunker  chunk.Chunker
}

// Indexer implements spec.md §4.7: given the current state of the
// repository, it brings the vector and metadata stores into agreement
// with it, self-healing any file left dirty by a prior crash.
type Indexer struct {
	root     string
	lockPath string
	paths    config.PathsConfig

	metadata store.MetadataStore
	bm25     store.BM25Index
	vector   *store.ChunkVectorStore
	embedder embed.Embedder
	chunker  chunk.Chunker
}

// New creates an Indexer rooted at root, serializing scans through the
// advisory lock at lockPath (spec.md §5).
func New(root, lockPath string, paths config.PathsConfig, deps Deps) (*Indexer, error) {
	if deps.Metadata == nil {
		return nil, fmt.Errorf("metadata store is required")
	}
	if deps.BM25 == nil {
		return nil, fmt.Errorf("bm25 index is required")
	}
	if deps.Vector == nil {
		return nil, fmt.Errorf("vector store is required")
	}
	if deps.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if deps.Chunker == nil {
		return nil, fmt.Errorf("chunker is required")
	}
	return &Indexer{
		root:     root,
		lockPath: lockPath,
		paths:    paths,
		metadata: deps.Metadata,
		bm25:     deps.BM25,
		vector:   deps.Vector,
		embedder: deps.Embedder,
		chunker:  deps.Chunker,
	}, nil
}

// fileWork is one scanned file paired with its current content and hash.
type fileWork struct {
	info *scanner.FileInfo
	hash string
}

// Scan performs one incremental indexing pass: crawl, partition, embed,
// write, self-heal, delete (spec.md §4.7). progress may be nil.
func (ix *Indexer) Scan(ctx context.Context, progress *async.IndexProgress) (*ScanResult, error) {
	start := time.Now()

	lock := flock.New(ix.lockPath)
	locked, err := lock.TryLockContext(ctx, 200*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("acquire scan lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("another scan is already running on this project")
	}
	defer lock.Unlock()

	if err := ix.reconcileDimensions(ctx); err != nil {
		slog.Warn("dimension_reconcile_failed", slog.String("error", err.Error()))
	}

	if progress != nil {
		progress.SetStage(async.StageScanning, 0)
	}
	current, ioErrors, err := ix.crawl(ctx)
	if err != nil {
		return nil, err
	}

	known, err := ix.metadata.AllPaths(ctx)
	if err != nil {
		return nil, fmt.Errorf("read known files: %w", err)
	}
	knownSet := make(map[string]bool, len(known))
	for _, p := range known {
		knownSet[p] = true
	}
	currentSet := make(map[string]bool, len(current))
	for _, fw := range current {
		currentSet[fw.info.Path] = true
	}

	var deletedPaths []string
	for _, p := range known {
		if !currentSet[p] {
			deletedPaths = append(deletedPaths, p)
		}
	}

	result := &ScanResult{Errors: ioErrors, Deleted: len(deletedPaths)}

	var toChunk []*fileWork
	clean := make(map[string]string, len(current)) // path -> vector_index_hash to preserve (skip group)
	for _, fw := range current {
		existing, err := ix.metadata.GetFile(ctx, fw.info.Path)
		if err != nil {
			return nil, fmt.Errorf("read file record for %s: %w", fw.info.Path, err)
		}
		switch {
		case existing == nil:
			result.Added++
			toChunk = append(toChunk, fw)
		case existing.ContentHash != fw.hash:
			result.Modified++
			toChunk = append(toChunk, fw)
		case existing.NeedsReindex():
			result.Unchanged++
			toChunk = append(toChunk, fw) // heal
		default:
			result.Unchanged++
			result.Skipped++
			clean[fw.info.Path] = existing.VectorIndexHash
		}
	}

	if progress != nil {
		progress.SetStage(async.StageChunking, len(toChunk))
	}

	type chunked struct {
		fw     *fileWork
		chunks []*chunk.Chunk
	}
	var indexGroup []chunked
	var clearOnly []string // added/modified files that chunked to zero, plus healed files that vanished to zero (can't happen but handled)

	for i, fw := range toChunk {
		content, err := os.ReadFile(fw.info.AbsPath)
		if err != nil {
			slog.Warn("index_read_failed", slog.String("path", fw.info.Path), slog.String("error", err.Error()))
			result.Errors++
			continue
		}
		input := &chunk.FileInput{RelativePath: fw.info.Path, Content: content, Language: fw.info.Language}
		chunks, err := ix.chunker.Chunk(ctx, input, fw.hash)
		if err != nil {
			slog.Warn("index_chunk_failed", slog.String("path", fw.info.Path), slog.String("error", err.Error()))
			result.Errors++
			continue
		}
		if len(chunks) == 0 {
			clearOnly = append(clearOnly, fw.info.Path)
		} else {
			indexGroup = append(indexGroup, chunked{fw: fw, chunks: chunks})
		}
		if progress != nil {
			progress.UpdateFiles(i + 1)
		}
	}

	// Step 2: concatenate vector_text across the union of index+heal
	// files and embed in one call.
	var allTexts []string
	for _, ig := range indexGroup {
		for _, c := range ig.chunks {
			allTexts = append(allTexts, c.VectorText)
		}
	}

	if progress != nil {
		progress.SetChunksTotal(len(allTexts))
		progress.SetStage(async.StageEmbedding, len(allTexts))
	}

	embedFailed := false
	var vectors [][]float32
	if len(allTexts) > 0 {
		vectors, err = ix.embedder.EmbedBatch(ctx, allTexts)
		if err != nil {
			slog.Warn("index_embed_failed", slog.Int("chunks", len(allTexts)), slog.String("error", err.Error()))
			embedFailed = true
			result.VectorIndex.Errors += len(indexGroup)
		}
	}

	// Delete-and-clear paths: files removed from disk plus files that
	// chunked to zero (spec.md §4.2 edge case: empty files clear prior
	// index state).
	toClear := append([]string{}, deletedPaths...)
	toClear = append(toClear, clearOnly...)

	var staleIDs []string
	for _, p := range toClear {
		staleIDs = append(staleIDs, ix.vector.IDsForFile(p)...)
	}
	for _, ig := range indexGroup {
		staleIDs = append(staleIDs, ix.vector.IDsForFile(ig.fw.info.Path)...)
	}
	if len(staleIDs) > 0 {
		if err := ix.bm25.Delete(ctx, staleIDs); err != nil {
			slog.Warn("index_fts_delete_failed", slog.Int("count", len(staleIDs)), slog.String("error", err.Error()))
		}
	}

	if progress != nil {
		progress.SetStage(async.StageIndexing, 0)
	}

	if len(toClear) > 0 {
		if err := ix.vector.DeleteFiles(ctx, toClear); err != nil {
			slog.Warn("index_vector_delete_failed", slog.String("error", err.Error()))
			result.VectorIndex.Errors += len(toClear)
		} else {
			result.VectorIndex.Deleted += len(toClear)
		}
	}

	if !embedFailed && len(indexGroup) > 0 {
		batches := make([]*store.ChunkBatch, 0, len(indexGroup))
		docs := make([]*store.Document, 0, len(allTexts))
		offset := 0
		for _, ig := range indexGroup {
			n := len(ig.chunks)
			storeChunks := make([]*store.Chunk, n)
			for i, c := range ig.chunks {
				storeChunks[i] = toStoreChunk(c)
				docs = append(docs, &store.Document{ID: c.ChunkID, Content: c.Breadcrumb + "\n" + c.DisplayCode})
			}
			batches = append(batches, &store.ChunkBatch{
				RelativePath: ig.fw.info.Path,
				Chunks:       storeChunks,
				Vectors:      vectors[offset : offset+n],
			})
			offset += n
		}

		if err := ix.vector.BatchUpsertFiles(ctx, batches); err != nil {
			slog.Warn("index_vector_write_failed", slog.String("error", err.Error()))
			result.VectorIndex.Errors += len(indexGroup)
		} else {
			result.VectorIndex.Indexed += len(allTexts)
			if err := ix.bm25.Index(ctx, docs); err != nil {
				slog.Warn("index_fts_write_failed", slog.String("error", err.Error()))
			}
			for _, ig := range indexGroup {
				if err := ix.metadata.SetVectorIndexHash(ctx, ig.fw.info.Path, ig.fw.hash); err != nil {
					slog.Warn("index_set_vector_hash_failed", slog.String("path", ig.fw.info.Path), slog.String("error", err.Error()))
				}
			}
		}
	}

	// clearOnly files are trivially consistent with zero chunks.
	for _, p := range clearOnly {
		var hash string
		for _, fw := range toChunk {
			if fw.info.Path == p {
				hash = fw.hash
				break
			}
		}
		clean[p] = hash // consistent: zero chunks matches zero-length vector state
		if err := ix.metadata.SetVectorIndexHash(ctx, p, hash); err != nil {
			slog.Warn("index_set_vector_hash_failed", slog.String("path", p), slog.String("error", err.Error()))
		}
	}
	if !embedFailed {
		for _, ig := range indexGroup {
			clean[ig.fw.info.Path] = ig.fw.hash // just written to the vector store above
		}
	}

	// Persist file records (mtime refreshed every scan, content_hash
	// updated for added/modified) for every file seen this scan. clean
	// now carries the correct vector_index_hash for every path whose
	// vector-store copy is consistent as of this scan (skip group,
	// clear-only, and successfully (re-)embedded files); anything absent
	// from it is left "" so UpsertFiles' unconditional column write
	// leaves it correctly marked dirty for the next scan to retry.
	var fileRows []*store.File
	now := time.Now()
	for _, fw := range current {
		row := &store.File{
			RelativePath: fw.info.Path,
			ContentHash:  fw.hash,
			ModTime:      fw.info.ModTime,
			Size:         fw.info.Size,
			Language:     fw.info.Language,
			IndexedAt:    now,
		}
		if hash, ok := clean[fw.info.Path]; ok {
			row.VectorIndexHash = hash
		}
		fileRows = append(fileRows, row)
	}
	if len(fileRows) > 0 {
		if err := ix.metadata.UpsertFiles(ctx, fileRows); err != nil {
			return nil, fmt.Errorf("upsert file records: %w", err)
		}
	}
	if len(deletedPaths) > 0 {
		if err := ix.metadata.DeleteFiles(ctx, deletedPaths); err != nil {
			return nil, fmt.Errorf("delete stale file records: %w", err)
		}
	}

	if err := ix.metadata.SetState(ctx, store.StateKeyIndexDimension, fmt.Sprintf("%d", ix.embedder.Dimensions())); err != nil {
		slog.Warn("index_store_dimension_failed", slog.String("error", err.Error()))
	}
	if err := ix.metadata.SetState(ctx, store.StateKeyIndexModel, ix.embedder.ModelName()); err != nil {
		slog.Warn("index_store_model_failed", slog.String("error", err.Error()))
	}

	result.Duration = time.Since(start)
	if progress != nil {
		progress.SetReady()
	}

	slog.Info("scan_complete",
		slog.Int("added", result.Added),
		slog.Int("modified", result.Modified),
		slog.Int("unchanged", result.Unchanged),
		slog.Int("deleted", result.Deleted),
		slog.Int("skipped", result.Skipped),
		slog.Int("errors", result.Errors),
		slog.Int("vector_indexed", result.VectorIndex.Indexed),
		slog.Int("vector_deleted", result.VectorIndex.Deleted),
		slog.String("duration", result.Duration.String()))

	return result, nil
}

// crawl walks the repository and computes a content hash per file.
// IOErrors (unreadable files) are counted but do not remove any
// existing index state (spec.md §7's IOError policy).
func (ix *Indexer) crawl(ctx context.Context) ([]*fileWork, int, error) {
	s, err := scanner.New()
	if err != nil {
		return nil, 0, fmt.Errorf("create scanner: %w", err)
	}

	results, err := s.Scan(ctx, &scanner.Options{
		RootDir:          ix.root,
		ExcludePatterns:  ix.paths.Exclude,
		RespectGitignore: true,
		Workers:          runtime.NumCPU(),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("start scan: %w", err)
	}

	var work []*fileWork
	var ioErrors int
	for r := range results {
		if r.Error != nil {
			slog.Warn("index_scan_error", slog.String("path", r.File.Path), slog.String("error", r.Error.Error()))
			ioErrors++
			continue
		}
		content, err := os.ReadFile(r.File.AbsPath)
		if err != nil {
			slog.Warn("index_read_failed", slog.String("path", r.File.Path), slog.String("error", err.Error()))
			ioErrors++
			continue
		}
		work = append(work, &fileWork{info: r.File, hash: hashContent(content)})
	}
	return work, ioErrors, nil
}

// reconcileDimensions clears the index when the embedder's current
// dimension no longer matches the one recorded from a prior run
// (spec.md §4.3: a dimension change invalidates and rebuilds the
// entire index).
func (ix *Indexer) reconcileDimensions(ctx context.Context) error {
	err := store.ValidateDimensions(ctx, ix.metadata, ix.embedder.Dimensions())
	if err == nil {
		return nil
	}
	var mismatch store.ErrDimensionMismatch
	if !isDimensionMismatch(err, &mismatch) {
		return err
	}

	slog.Warn("index_dimension_changed_rebuilding",
		slog.Int("previous", mismatch.Expected),
		slog.Int("current", mismatch.Got))

	if err := ix.vector.Clear(ctx); err != nil {
		return fmt.Errorf("clear vector store: %w", err)
	}
	paths, err := ix.metadata.AllPaths(ctx)
	if err != nil {
		return fmt.Errorf("read known files: %w", err)
	}
	for _, p := range paths {
		if err := ix.metadata.SetVectorIndexHash(ctx, p, ""); err != nil {
			return fmt.Errorf("mark %s dirty: %w", p, err)
		}
	}
	return nil
}

func isDimensionMismatch(err error, target *store.ErrDimensionMismatch) bool {
	m, ok := err.(store.ErrDimensionMismatch)
	if !ok {
		return false
	}
	*target = m
	return true
}

func toStoreChunk(c *chunk.Chunk) *store.Chunk {
	now := time.Now()
	return &store.Chunk{
		ID:           c.ChunkID,
		RelativePath: c.RelativePath,
		FileHash:     c.FileHash,
		ChunkIndex:   c.ChunkIndex,
		DisplayCode:  c.DisplayCode,
		VectorText:   c.VectorText,
		Breadcrumb:   c.Breadcrumb,
		Language:     c.Language,
		StartLine:    c.StartLine,
		EndLine:      c.EndLine,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func hashContent(content []byte) string {
	h := sha256.Sum256(content)
	return hex.EncodeToString(h[:])
}
