package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newInvalidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invalidate <pattern>",
		Short: "Expire cached resources matching a glob pattern",
		Long: `Mark cached resources whose ID matches the '*' glob pattern as
expired, and drop all cached list results. The stored data is kept;
the next read goes back to the provider.`,
		Example: `  # Everything
  azkit invalidate '*'

  # All VMs
  azkit invalidate '*/virtualMachines/*'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, cleanup, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			count, err := a.queries.Invalidate(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("invalidated %d cached resources\n", count)
			return nil
		},
	}
	return cmd
}
