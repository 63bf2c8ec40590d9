package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lyy0709/ContextWeaver/internal/async"
	"github.com/lyy0709/ContextWeaver/internal/index"
	"github.com/lyy0709/ContextWeaver/internal/output"
)

func newScanCmd() *cobra.Command {
	var background bool

	cmd := &cobra.Command{
		Use:   "scan [path]",
		Short: "Index a repository (spec.md §4.7 incremental scan)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "."
			if len(args) == 1 {
				root = args[0]
			}
			return runScan(cmd.Context(), cmd, root, background)
		},
	}

	cmd.Flags().BoolVar(&background, "background", false, "run the scan on a goroutine with live progress, cancelable with Ctrl+C")
	return cmd
}

func runScan(ctx context.Context, cmd *cobra.Command, root string, background bool) error {
	out := output.New(cmd.OutOrStdout())

	st, err := openStack(ctx, root)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			out.Warningf("cleanup after scan: %v", cerr)
		}
	}()

	ix, err := index.New(st.proj.RootPath, st.proj.LockPath(), st.cfg.Paths, index.Deps{
		Metadata: st.metadata,
		BM25:     st.bm25,
		Vector:   st.vector,
		Embedder: st.embedder,
		Chunker:  st.chunker,
	})
	if err != nil {
		return fmt.Errorf("build indexer: %w", err)
	}

	if !background {
		return scanOnce(ctx, ix, out)
	}
	return scanInBackground(ctx, ix, out)
}

func scanOnce(ctx context.Context, ix *index.Indexer, out *output.Writer) error {
	progress := async.NewIndexProgress()
	result, err := ix.Scan(ctx, progress)
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	reportScanResult(out, result)
	return nil
}

// scanInBackground runs the scan through async.BackgroundIndexer, polling
// its progress snapshot while the scan runs and stopping it cleanly on
// SIGINT/SIGTERM — BackgroundIndexer supplies the goroutine lifecycle and
// progress tracking, index.Indexer.Scan still owns the real cross-process
// lock (see internal/async.IndexFunc's doc comment).
func scanInBackground(ctx context.Context, ix *index.Indexer, out *output.Writer) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	bg := async.NewBackgroundIndexer()
	bg.IndexFunc = func(ctx context.Context, progress *async.IndexProgress) error {
		_, err := ix.Scan(ctx, progress)
		return err
	}
	bg.Start(ctx)

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
loop:
	for bg.IsRunning() {
		select {
		case <-ticker.C:
			snap := bg.Progress().Snapshot()
			out.Progress(snap.FilesProcessed, snap.FilesTotal, snap.Stage)
		case <-ctx.Done():
			out.Status("🛑", "stopping scan...")
			bg.Stop()
			break loop
		}
	}

	if err := bg.Wait(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("background scan failed: %w", err)
	}
	out.Success("Scan complete")
	return nil
}

func reportScanResult(out *output.Writer, result *index.ScanResult) {
	out.Success("Index up to date")
	out.Statusf("📊", "added=%d modified=%d unchanged=%d deleted=%d skipped=%d errors=%d",
		result.Added, result.Modified, result.Unchanged, result.Deleted, result.Skipped, result.Errors)
	out.Statusf("⏱", "finished in %s", result.Duration)
}
