package cli

import (
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"basegraph.app/materializer/internal/model"
)

func newCountMissingCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "count-missing",
		Short: "Count upstream roots that have no materialized resource",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			counts, err := opts.deps.Ops.CountMissing(cmd.Context())
			if err != nil {
				return err
			}
			return opts.write(cmd.OutOrStdout(), counts, countsText(counts))
		},
	}
}

func newReconcileCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Enqueue a materialize job for every missing resource",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			counts, err := opts.deps.Ops.Reconcile(cmd.Context())
			if err != nil {
				return err
			}
			return opts.write(cmd.OutOrStdout(), counts, countsText(counts))
		},
	}
}

func newBackfillCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "backfill <resource-type>",
		Short: "Enqueue a materialize job for every root of a resource type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := opts.deps.Ops.Backfill(cmd.Context(), model.ResourceType(args[0]))
			if err != nil {
				return err
			}
			return opts.write(cmd.OutOrStdout(), res, func(w io.Writer) {
				fmt.Fprintf(w, "%s: %d roots, %d jobs enqueued\n", res.ResourceType, res.Roots, res.Enqueued)
			})
		},
	}
}

func newEnqueueCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue <resource-type> <upstream-id>",
		Short: "Enqueue a materialize job for one resource",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			created, err := opts.deps.Ops.Enqueue(cmd.Context(), model.ResourceType(args[0]), args[1])
			if err != nil {
				return err
			}
			return opts.write(cmd.OutOrStdout(), map[string]bool{"created": created}, func(w io.Writer) {
				if created {
					fmt.Fprintf(w, "enqueued %s:%s\n", args[0], args[1])
				} else {
					fmt.Fprintf(w, "%s:%s is already queued\n", args[0], args[1])
				}
			})
		},
	}
}

func newGetCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <resource-type> <upstream-id>",
		Short: "Print a materialized resource",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := opts.deps.Ops.GetResource(cmd.Context(), model.ResourceType(args[0]), args[1])
			if err != nil {
				return err
			}
			return opts.write(cmd.OutOrStdout(), res, func(w io.Writer) {
				fmt.Fprintf(w, "id:       %d\nversion:  %d\nresolved: %t\nlive:     %t\nupdated:  %s\n%s\n",
					res.ID, res.VersionID, res.Resolved, res.IsLive, res.LastUpdated.Format("2006-01-02T15:04:05Z07:00"), res.Data)
			})
		},
	}
}

func countsText(counts map[model.ResourceType]int64) func(io.Writer) {
	return func(w io.Writer) {
		var total int64
		for _, rt := range slices.Sorted(maps.Keys(counts)) {
			fmt.Fprintf(w, "%-20s %d\n", rt, counts[rt])
			total += counts[rt]
		}
		fmt.Fprintf(w, "%-20s %d\n", "total", total)
	}
}
