package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"basegraph.app/materializer/internal/model"
)

func newStatsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show queued, claimed and errored jobs per topic",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			stats, err := opts.deps.Ops.QueueStats(cmd.Context())
			if err != nil {
				return err
			}
			return opts.write(cmd.OutOrStdout(), stats, func(w io.Writer) {
				fmt.Fprintf(w, "%-12s %8s %8s %8s\n", "TOPIC", "QUEUED", "CLAIMED", "ERRORED")
				for _, s := range stats {
					fmt.Fprintf(w, "%-12s %8d %8d %8d\n", s.Topic, s.Queued, s.Claimed, s.Errored)
				}
			})
		},
	}
}

func newResolveCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve",
		Short: "Request a resolution pass over unresolved references",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.deps.Ops.Resolve(cmd.Context()); err != nil {
				return err
			}
			return opts.write(cmd.OutOrStdout(), map[string]bool{"requested": true}, func(w io.Writer) {
				fmt.Fprintln(w, "resolution requested")
			})
		},
	}
}

func newRetryFailedCommand(opts *rootOptions) *cobra.Command {
	var topic string
	cmd := &cobra.Command{
		Use:   "retry-failed",
		Short: "Requeue errored jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var filter *model.Topic
			if topic != "" {
				t := model.Topic(topic)
				filter = &t
			}
			n, err := opts.deps.Ops.RetryFailed(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return opts.write(cmd.OutOrStdout(), map[string]int64{"requeued": n}, func(w io.Writer) {
				fmt.Fprintf(w, "requeued %d jobs\n", n)
			})
		},
	}
	cmd.Flags().StringVar(&topic, "topic", "", "only requeue jobs of this topic")
	return cmd
}

func newRunTaskCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run-task <name>",
		Short: "Run a scheduled task once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.deps.RunTask == nil {
				return fmt.Errorf("scheduled tasks are not available")
			}
			if err := opts.deps.RunTask(cmd.Context(), args[0]); err != nil {
				return err
			}
			return opts.write(cmd.OutOrStdout(), map[string]string{"task": args[0], "status": "done"}, func(w io.Writer) {
				fmt.Fprintf(w, "task %s finished\n", args[0])
			})
		},
	}
}
