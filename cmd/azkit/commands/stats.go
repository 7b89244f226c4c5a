package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newStatsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show store statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, cleanup, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := a.store.Stats(ctx)
			if err != nil {
				return err
			}

			if jsonOutput {
				out, err := json.MarshalIndent(stats, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(out))
				return nil
			}

			fmt.Printf("active resources:   %d\n", stats.ActiveResources)
			fmt.Printf("deleted resources:  %d\n", stats.DeletedResources)
			fmt.Printf("managed resources:  %d\n", stats.ManagedResources)
			fmt.Printf("dependency edges:   %d\n", stats.DependencyEdges)
			fmt.Printf("operations:         %d\n", stats.Operations)
			fmt.Printf("running operations: %d\n", stats.RunningOperations)
			fmt.Printf("failed operations:  %d\n", stats.FailedOperations)
			return nil
		},
	}
	return cmd
}
