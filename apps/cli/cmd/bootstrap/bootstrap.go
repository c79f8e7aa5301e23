package bootstrap

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zenGate-Global/palmyra-tenancy/apps/cli/cmd/cmdutil"
)

// Command groups bootstrap helpers.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Bootstrap platform resources",
		Long:  "Bootstrap platform resources such as the control-plane schema and its tables.",
	}

	cmd.AddCommand(controlPlaneCommand())
	return cmd
}

// Notes/constraints:
// - The DDL is embedded and idempotent; re-running it is safe.
// - Tenant schemas are not touched here; `account provision` creates and migrates them.
func controlPlaneCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "control-plane",
		Short: "Create the control-plane schema, account registry, login directory, challenges and audit tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := cmdutil.Open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.BootstrapControlPlane(cmdutil.Context(cmd)); err != nil {
				return fmt.Errorf("bootstrap control plane: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Control plane ready in schema %q\n", a.Config.ControlPlaneSchema)
			return nil
		},
	}
}
