package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	CatalogDir string // directory holding catalog.sqlite and per-store databases
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the bsky-store CLI. Per
// spec.md's Out-of-scope list, argument parsing and output formatting are
// collaborator concerns; this wiring exists only to exercise the core
// packages end to end, not to be a polished interface.
func NewRootCommand() (*cobra.Command, *RootOptions) {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "bskystore",
		Short: "bsky-store - filtered post ingestion and storage",
		Long:  "Sync and derive filtered post stores from Bluesky timelines, feeds, and the Jetstream firehose.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.CatalogDir, "dir", ".", "directory holding the catalog and store databases")

	cmd.AddCommand(NewStoreCommand(opts))
	cmd.AddCommand(NewDeriveCommand(opts))

	return cmd, opts
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
