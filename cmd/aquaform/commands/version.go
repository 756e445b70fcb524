package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

func newVersionCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b := opts.build
			if opts.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), map[string]string{
					"version":    b.Version,
					"commit":     b.Commit,
					"build_date": b.BuildDate,
					"go":         runtime.Version(),
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "aquaform %s\n  commit: %s\n  built:  %s\n  go:     %s\n",
				b.Version, b.Commit, b.BuildDate, runtime.Version())
			return nil
		},
	}
}
