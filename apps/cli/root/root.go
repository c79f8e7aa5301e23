package root

import (
	"github.com/spf13/cobra"

	"github.com/zenGate-Global/palmyra-tenancy/apps/cli/cmd/cmdutil"
)

// rootCmd is the base command for the tenancy admin CLI. Subcommands are attached in wire.go.
var rootCmd = &cobra.Command{
	Use:           "tenancy",
	Short:         "Palmyra tenancy admin CLI",
	Long:          "Administrative utilities for the tenancy control plane (bootstrap, accounts, cascades, dev tokens).",
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	rootCmd.PersistentFlags().String(cmdutil.FlagEnvFile, ".env", "dotenv file loaded before reading the environment (missing file is ignored)")
	rootCmd.PersistentFlags().String(cmdutil.FlagLogLevel, "warn", "log level for diagnostics written to stderr")
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

// Root returns the mutable root command for wiring from subpackages.
func Root() *cobra.Command {
	return rootCmd
}
