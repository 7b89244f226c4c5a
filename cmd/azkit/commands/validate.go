package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/azkit/azkit/pkg/engine"
	"github.com/azkit/azkit/pkg/policy"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <file-or-directory>",
		Short: "Validate operation definitions against schema and policy",
		Long: `Parse and validate one definition file or a directory of
definitions, then evaluate the policy guardrails against each. Blocking
violations fail the command; warnings are printed.`,
		Example: `  azkit validate operations/
  azkit validate operations/vm-restart.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, cleanup, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			loader := engine.NewLoader()

			var defs []*engine.OperationDefinition
			info, err := os.Stat(args[0])
			if err != nil {
				return err
			}
			if info.IsDir() {
				defs, err = loader.LoadDir(args[0])
			} else {
				var def *engine.OperationDefinition
				def, err = loader.Load(args[0])
				defs = []*engine.OperationDefinition{def}
			}
			if err != nil {
				return err
			}

			policyEngine, err := policy.NewEngine(a.logger.Zerolog())
			if err != nil {
				return err
			}
			if paths := a.cfg.GetStringSlice("policies.paths"); len(paths) > 0 {
				if err := policyEngine.LoadPolicies(ctx, paths); err != nil {
					return err
				}
			}

			blocked := 0
			for _, def := range defs {
				result, err := policyEngine.Evaluate(ctx, def, nil)
				if err != nil {
					return err
				}

				if result.Allowed && len(result.Violations) == 0 {
					fmt.Printf("%s: ok\n", def.ID)
					continue
				}
				for _, v := range result.Violations {
					fmt.Printf("%s: [%s] %s: %s\n", def.ID, v.Severity, v.Policy, v.Message)
				}
				if !result.Allowed {
					blocked++
				}
			}

			if blocked > 0 {
				return fmt.Errorf("%d of %d definitions violate blocking policies", blocked, len(defs))
			}
			fmt.Printf("%d definitions valid\n", len(defs))
			return nil
		},
	}
	return cmd
}
