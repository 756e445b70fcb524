package commands

import (
	"context"
	"fmt"

	"github.com/aquaform/aquaform/pkg/schema"
	"github.com/spf13/cobra"
)

// BuildInfo is stamped into the binary at build time.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	statePath    string
	settingsFile string
	envFile      string
	logLevel     string
	jsonOutput   bool
	policyPaths  []string

	build BuildInfo
}

// Execute runs the root command
func Execute(ctx context.Context, build BuildInfo) error {
	return NewRootCommand(build).ExecuteContext(ctx)
}

// NewRootCommand builds the command tree.
func NewRootCommand(build BuildInfo) *cobra.Command {
	opts := &globalOptions{build: build}

	rootCmd := &cobra.Command{
		Use:   "aquaform",
		Short: "Aquaform - declarative database schema management",
		Long: `Aquaform reconciles database tables with a declarative document.

Tables are declared in YAML or CUE documents (aqua.*.yaml, *.aqua.cue).
Aquaform records what it created in a local state file, computes an ordered
plan of the differences, and applies it through one of two backend families:

  sql   MySQL, PostgreSQL or SQLite over a direct connection
  rest  a hosted PostgreSQL behind a REST endpoint`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", build.Version, build.Commit, build.BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags available to all commands
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.statePath, "state", "", "state file (default aqua.<family>.state.json)")
	flags.StringVar(&opts.settingsFile, "settings", "", "settings file (default aquaform.yaml when present)")
	flags.StringVar(&opts.envFile, "env-file", "", "dotenv file (default .env when present)")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	flags.BoolVar(&opts.jsonOutput, "json", false, "output in JSON format")
	flags.StringArrayVar(&opts.policyPaths, "policy", nil, "extra Rego policy file or directory (repeatable)")

	rootCmd.AddCommand(newFamilyCommand(opts, schema.KindSQLTable))
	rootCmd.AddCommand(newFamilyCommand(opts, schema.KindRESTTable))
	rootCmd.AddCommand(newVersionCommand(opts))

	return rootCmd
}

// newFamilyCommand groups the commands of one backend family.
func newFamilyCommand(opts *globalOptions, kind schema.Kind) *cobra.Command {
	name, short := "sql", "Manage tables in MySQL, PostgreSQL or SQLite"
	if kind == schema.KindRESTTable {
		name, short = "rest", "Manage tables behind a REST SQL endpoint"
	}

	cmd := &cobra.Command{
		Use:   name,
		Short: short,
	}

	cmd.AddCommand(newInitCommand(opts, kind))
	cmd.AddCommand(newValidateCommand(opts, kind))
	cmd.AddCommand(newPlanCommand(opts, kind))
	cmd.AddCommand(newApplyCommand(opts, kind))
	cmd.AddCommand(newDestroyCommand(opts, kind))
	cmd.AddCommand(newModelCommand(opts, kind))
	cmd.AddCommand(newGraphCommand(opts, kind))
	cmd.AddCommand(newHistoryCommand(opts, kind))

	return cmd
}

// family is the command word of kind.
func family(kind schema.Kind) string {
	if kind == schema.KindRESTTable {
		return "rest"
	}
	return "sql"
}
