package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/azkit/azkit/pkg/engine"
)

func newRunCommand() *cobra.Command {
	var (
		operationID string
		resourceID  string
		params      []string
	)

	cmd := &cobra.Command{
		Use:   "run <definition.yaml>",
		Short: "Execute an operation definition",
		Long: `Load a YAML operation definition and execute it: policy gate,
idempotency check, prerequisite validation, then the steps in order.
A failing step triggers LIFO rollback and leaves a recovery script.`,
		Example: `  # Run with explicit parameters
  azkit run operations/vm-restart.yaml --param VM_NAME=vm1 --param RESOURCE_GROUP=rg-prod

  # Target a specific resource so ownership policies apply
  azkit run operations/vm-delete.yaml --resource-id /subscriptions/.../virtualMachines/vm1`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, cleanup, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			def, err := engine.NewLoader().Load(args[0])
			if err != nil {
				return err
			}

			explicit := make(map[string]string, len(params))
			for _, p := range params {
				key, value, found := strings.Cut(p, "=")
				if !found {
					return fmt.Errorf("invalid --param %q, expected KEY=VALUE", p)
				}
				explicit[key] = value
			}

			executor, err := a.newExecutor(ctx)
			if err != nil {
				return err
			}

			result, err := executor.Execute(ctx, engine.ExecuteRequest{
				Definition:  def,
				OperationID: operationID,
				ResourceID:  resourceID,
				Parameters:  explicit,
			})
			if err != nil {
				return err
			}

			fmt.Printf("operation %s: %s\n", result.OperationID, result.Status)
			if result.Skipped {
				fmt.Println("skipped: target already exists")
			}
			if len(result.Missing) > 0 {
				fmt.Println("missing prerequisites:")
				for _, m := range result.Missing {
					fmt.Printf("  - %s\n", m)
				}
			}
			if result.RecoveryScript != "" {
				fmt.Printf("recovery script: %s\n", result.RecoveryScript)
			}
			if result.Err != nil {
				return result.Err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&operationID, "id", "", "operation ID (generated when empty)")
	cmd.Flags().StringVar(&resourceID, "resource-id", "", "target resource ID")
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "parameter as KEY=VALUE (repeatable)")

	return cmd
}
