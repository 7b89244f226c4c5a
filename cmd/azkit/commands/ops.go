package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/azkit/azkit/pkg/stores"
)

func newOpsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ops",
		Short: "Inspect recorded operations",
	}

	cmd.AddCommand(newOpsListCommand())
	cmd.AddCommand(newOpsShowCommand())
	cmd.AddCommand(newOpsLogsCommand())

	return cmd
}

func newOpsListCommand() *cobra.Command {
	var (
		status string
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List operations, newest first",
		Example: `  azkit ops list
  azkit ops list --status failed --limit 10`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, cleanup, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			ops, err := a.store.ListOperations(ctx, stores.OperationStatus(status), limit, offset)
			if err != nil {
				return err
			}

			if jsonOutput {
				out, err := json.MarshalIndent(ops, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(out))
				return nil
			}

			for _, op := range ops {
				line := fmt.Sprintf("%s  %-9s  %s/%s", op.OperationID, op.Status, op.Capability, op.OperationName)
				if op.Status == stores.OperationRunning {
					line += fmt.Sprintf("  step %d/%d", op.CurrentStep, op.TotalSteps)
				}
				if op.ErrorMessage != nil {
					line += "  " + *op.ErrorMessage
				}
				fmt.Println(line)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&status, "status", "s", "", "filter by status (pending, running, completed, failed, blocked)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum operations to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "offset into the result set")
	return cmd
}

func newOpsShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <operation-id>",
		Short: "Show one operation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, cleanup, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			op, err := a.store.GetOperation(ctx, args[0])
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(op, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
	return cmd
}

func newOpsLogsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs <operation-id>",
		Short: "Print an operation's log lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, cleanup, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			logs, err := a.store.ListOperationLogs(ctx, args[0])
			if err != nil {
				return err
			}
			for _, line := range logs {
				fmt.Printf("%s  %-7s  %s\n",
					line.Timestamp.Format("2006-01-02T15:04:05Z07:00"), line.Level, line.Message)
			}
			return nil
		},
	}
	return cmd
}
