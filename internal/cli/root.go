// Package cli implements matctl, the operator tool for the materialization
// pipeline. Every command works through service.OpsService so the same
// operations are reachable over HTTP and from the shell.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"basegraph.app/materializer/internal/service"
)

var validFormats = []string{"text", "json"}

// Deps are the dependencies commands run against.
type Deps struct {
	Ops service.OpsService
	// RunTask runs a scheduled task once, outside its schedule.
	RunTask func(ctx context.Context, name string) error
}

// Connector opens Deps. It is called once, before the command runs, so
// help and argument errors never touch the database.
type Connector func(ctx context.Context) (*Deps, error)

type rootOptions struct {
	format  string
	connect Connector
	deps    *Deps
}

func NewRootCommand(connect Connector) *cobra.Command {
	opts := &rootOptions{connect: connect}

	cmd := &cobra.Command{
		Use:           "matctl",
		Short:         "Operate the materialization pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if !slices.Contains(validFormats, opts.format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.format, validFormats)
			}
			deps, err := opts.connect(cmd.Context())
			if err != nil {
				return err
			}
			opts.deps = deps
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.format, "format", "text", "output format (json|text)")

	cmd.AddCommand(
		newStatsCommand(opts),
		newCountMissingCommand(opts),
		newReconcileCommand(opts),
		newBackfillCommand(opts),
		newEnqueueCommand(opts),
		newGetCommand(opts),
		newResolveCommand(opts),
		newRetryFailedCommand(opts),
		newRunTaskCommand(opts),
	)
	return cmd
}

// write prints v as indented JSON, or calls text for the text format.
func (o *rootOptions) write(w io.Writer, v any, text func(io.Writer)) error {
	if o.format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}
