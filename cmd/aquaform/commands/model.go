package commands

import (
	"fmt"
	"os"

	"github.com/aquaform/aquaform/pkg/config"
	"github.com/aquaform/aquaform/pkg/schema"
	"github.com/spf13/cobra"
)

// defaultModelFile is where model writes when -o is not given.
const defaultModelFile = "aqua.model.yaml"

func newModelCommand(opts *globalOptions, kind schema.Kind) *cobra.Command {
	var (
		output string
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "model",
		Short: "Write an example desired-state document",
		Long: `Write an example desired-state document with users, posts and comments
tables for this backend family. Use "-o -" to print it instead.`,
		Example: fmt.Sprintf(`  # Write aqua.model.yaml
  aquaform %[1]s model

  # Print to stdout
  aquaform %[1]s model -o -`, family(kind)),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := config.MarshalModel(kind)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if output == "-" {
				_, err := out.Write(data)
				return err
			}

			if !force {
				if _, err := os.Stat(output); err == nil {
					return fmt.Errorf("%s already exists; use --force to overwrite", output)
				}
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return fmt.Errorf("failed to write model: %w", err)
			}

			green.Fprintf(out, "Wrote example model to %s\n", output)
			fmt.Fprintf(out, "\nNext steps:\n")
			fmt.Fprintf(out, "  1. Set the connection variables referenced in the file\n")
			fmt.Fprintf(out, "  2. aquaform %s init\n", family(kind))
			fmt.Fprintf(out, "  3. aquaform %s plan -c %s\n", family(kind), output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", defaultModelFile, `output file ("-" for stdout)`)
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}
