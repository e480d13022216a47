package cli

import (
	"context"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/bsky-store/internal/catalog"
	"github.com/roach88/bsky-store/internal/derive"
	"github.com/roach88/bsky-store/internal/filter"
	"github.com/roach88/bsky-store/internal/model"
	"github.com/roach88/bsky-store/internal/poststore"
)

// NewDeriveCommand creates the "derive" command, which projects one store's
// event log into another through a filter. Filter construction from the
// command line is deliberately narrow (a single hashtag predicate): general
// filter expression parsing is collaborator territory per spec.md's
// out-of-scope list, not a core concern this CLI needs to reproduce.
func NewDeriveCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		viewName   string
		sourceName string
		targetName string
		hashtag    string
		eventTime  bool
		batchSize  int
	)

	cmd := &cobra.Command{
		Use:           "derive",
		Short:         "Project a source store's log into a target store through a filter",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			view, err := model.NewStoreName(viewName)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid view name", err)
			}
			srcName, err := model.NewStoreName(sourceName)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid source store name", err)
			}
			tgtName, err := model.NewStoreName(targetName)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid target store name", err)
			}

			cat, err := openCatalog(rootOpts)
			if err != nil {
				return WrapExitError(ExitCommandError, "opening catalog", err)
			}
			defer cat.Close()

			source, err := openRegisteredStore(cmd.Context(), cat, srcName)
			if err != nil {
				return WrapExitError(ExitCommandError, "opening source store", err)
			}
			defer source.Close()
			target, err := openRegisteredStore(cmd.Context(), cat, tgtName)
			if err != nil {
				return WrapExitError(ExitCommandError, "opening target store", err)
			}
			defer target.Close()

			var expr filter.Expr = filter.All{}
			if hashtag != "" {
				expr = filter.Hashtag{Tag: hashtag}
			}
			mode := derive.DeriveTime
			if eventTime {
				mode = derive.EventTime
			}

			engine := derive.NewEngine(cat, filter.NewRuntime(nil, nil, 4))
			result, err := engine.Run(cmd.Context(), derive.Request{
				ViewName:    view,
				SourceStore: srcName,
				TargetStore: tgtName,
				Filter:      expr,
				Mode:        mode,
				BatchSize:   batchSize,
			}, source, target)
			if err != nil {
				return WrapExitError(ExitFailure, "derivation failed", err)
			}

			formatter := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout(), Verbose: rootOpts.Verbose}
			return formatter.Success(result)
		},
	}

	cmd.Flags().StringVar(&viewName, "view", "", "name of the view being derived (required)")
	cmd.Flags().StringVar(&sourceName, "source", "", "source store name (required)")
	cmd.Flags().StringVar(&targetName, "target", "", "target store name (required)")
	cmd.Flags().StringVar(&hashtag, "hashtag", "", "keep only posts carrying this hashtag")
	cmd.Flags().BoolVar(&eventTime, "event-time", true, "reject oracle-effectful filters so the view is reproducible from the log alone")
	cmd.Flags().IntVar(&batchSize, "batch-size", 500, "events read per source page")
	_ = cmd.MarkFlagRequired("view")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("target")

	return cmd
}

// openRegisteredStore looks up name in the catalog and opens its underlying
// poststore database, creating the database file on first open if the store
// was registered but never opened before.
func openRegisteredStore(ctx context.Context, cat *catalog.Catalog, name model.StoreName) (*poststore.Store, error) {
	rec, err := cat.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	return poststore.Open(filepath.Clean(rec.Root))
}
