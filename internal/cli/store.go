package cli

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/bsky-store/internal/catalog"
	"github.com/roach88/bsky-store/internal/model"
)

// NewStoreCommand creates the "store" command group for catalog management.
func NewStoreCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Manage stores registered in the catalog",
	}
	cmd.AddCommand(newStoreCreateCommand(rootOpts))
	cmd.AddCommand(newStoreListCommand(rootOpts))
	cmd.AddCommand(newStoreDeleteCommand(rootOpts))
	return cmd
}

func openCatalog(rootOpts *RootOptions) (*catalog.Catalog, error) {
	path := filepath.Join(rootOpts.CatalogDir, "catalog.sqlite")
	return catalog.Open(path, nil)
}

func newStoreCreateCommand(rootOpts *RootOptions) *cobra.Command {
	var description string
	cmd := &cobra.Command{
		Use:           "create <name>",
		Short:         "Register a new store",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := model.NewStoreName(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid store name", err)
			}
			cat, err := openCatalog(rootOpts)
			if err != nil {
				return WrapExitError(ExitCommandError, "opening catalog", err)
			}
			defer cat.Close()

			root := filepath.Join(rootOpts.CatalogDir, args[0]+".sqlite")
			now, err := model.NewTimestamp(time.Now().UTC().Format(time.RFC3339))
			if err != nil {
				return WrapExitError(ExitFailure, "deriving timestamp", err)
			}
			rec, err := cat.Create(cmd.Context(), name, root, "{}", now)
			if err != nil {
				return WrapExitError(ExitCommandError, "creating store", err)
			}
			if description != "" {
				if err := cat.UpdateDescription(cmd.Context(), name, &description, now); err != nil {
					return WrapExitError(ExitCommandError, "setting description", err)
				}
				rec.Description = &description
			}

			formatter := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout(), Verbose: rootOpts.Verbose}
			return formatter.Success(rec)
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "human-readable description")
	return cmd
}

func newStoreListCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List registered stores",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := openCatalog(rootOpts)
			if err != nil {
				return WrapExitError(ExitCommandError, "opening catalog", err)
			}
			defer cat.Close()

			records, err := cat.List(cmd.Context())
			if err != nil {
				return WrapExitError(ExitCommandError, "listing stores", err)
			}

			formatter := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout(), Verbose: rootOpts.Verbose}
			if rootOpts.Format != "json" {
				for _, rec := range records {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", rec.Name, rec.Root, rec.UpdatedAt)
				}
				return nil
			}
			return formatter.Success(records)
		},
	}
	return cmd
}

func newStoreDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "delete <name>",
		Short:         "Remove a store's catalog registration, database file, and derivation checkpoints",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := model.NewStoreName(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid store name", err)
			}
			cat, err := openCatalog(rootOpts)
			if err != nil {
				return WrapExitError(ExitCommandError, "opening catalog", err)
			}
			defer cat.Close()

			if err := cat.Delete(cmd.Context(), name); err != nil {
				return WrapExitError(ExitCommandError, "deleting store", err)
			}
			formatter := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout(), Verbose: rootOpts.Verbose}
			return formatter.Success(fmt.Sprintf("deleted %s", name))
		},
	}
	return cmd
}
