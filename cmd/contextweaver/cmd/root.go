// Package cmd provides the CLI commands for ContextWeaver.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	cwerrors "github.com/lyy0709/ContextWeaver/internal/errors"
	"github.com/lyy0709/ContextWeaver/internal/logging"
	"github.com/lyy0709/ContextWeaver/pkg/version"
)

var (
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the contextweaver CLI: a thin
// demonstration front-end over the internal index/search/graph/pack
// pipeline (spec.md §4.7, §4.9, §4.10, §6).
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "contextweaver",
		Short:   "Local-first hybrid code search and context packing",
		Version: version.Version,
		Long: `ContextWeaver indexes a repository with hybrid BM25 + semantic search
and assembles graph-expanded context packs for AI coding assistants.

  contextweaver scan .
  contextweaver retrieve "how are chunks embedded"`,
	}
	cmd.SetVersionTemplate("contextweaver version {{.Version}}\n")
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "enable debug logging to the contextweaver log file")
	cmd.PersistentPreRunE = startLogging
	cmd.PersistentPostRunE = stopLogging

	cmd.AddCommand(newScanCmd())
	cmd.AddCommand(newRetrieveCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newLogsCmd())

	return cmd
}

func startLogging(_ *cobra.Command, _ []string) error {
	if !debugMode {
		return nil
	}
	logger, cleanup, err := logging.Setup(logging.DebugConfig())
	if err != nil {
		return fmt.Errorf("setup debug logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	slog.Debug("debug logging enabled", slog.String("log_file", logging.DefaultLogPath()))
	return nil
}

func stopLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// Execute runs the root command, printing any returned error the way the
// user asked for: a debug run gets the full chain, otherwise just the
// user-facing message (internal/errors.FormatForUser).
func Execute() error {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(root.ErrOrStderr(), cwerrors.FormatForUser(err, debugMode))
		return err
	}
	return nil
}
