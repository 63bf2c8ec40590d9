package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lyy0709/ContextWeaver/internal/output"
	"github.com/lyy0709/ContextWeaver/internal/pack"
)

// retrieveOptions holds CLI flags for retrieve.
type retrieveOptions struct {
	path string
}

func newRetrieveCmd() *cobra.Command {
	var opts retrieveOptions

	cmd := &cobra.Command{
		Use:   "retrieve <query>",
		Short: "Build a context pack for a query (spec.md §6 retrieve)",
		Long: `Runs the full spec.md §4.9 pipeline — hybrid recall, RRF fusion,
reranking, Smart-TopK, graph expansion, and packing — and prints the
resulting context pack as fenced code blocks.

Examples:
  contextweaver retrieve "how are chunks embedded"
  contextweaver retrieve --path ./service "rate limiter"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runRetrieve(cmd.Context(), cmd, query, opts)
		},
	}

	cmd.Flags().StringVar(&opts.path, "path", ".", "repository root to query")
	return cmd
}

func runRetrieve(ctx context.Context, cmd *cobra.Command, query string, opts retrieveOptions) error {
	out := output.New(cmd.OutOrStdout())

	st, err := openStack(ctx, opts.path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			out.Warningf("cleanup after retrieve: %v", cerr)
		}
	}()

	result, err := st.engine.Search(ctx, query)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}
	if len(result.Seeds) == 0 {
		out.Warning("no relevant code found for this query")
		return nil
	}

	expanded := st.expander.Expand(ctx, result.Seeds)
	cp := pack.Pack(st.cfg.PackConfig(), result.Seeds, expanded)

	out.ContextPack(cp)
	return nil
}
