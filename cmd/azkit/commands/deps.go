package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/azkit/azkit/pkg/graph"
)

func newDepsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deps",
		Short: "Inspect the dependency graph",
	}

	cmd.AddCommand(newDepsDetectCommand())
	cmd.AddCommand(newDepsTreeCommand())
	cmd.AddCommand(newDepsPathCommand())
	cmd.AddCommand(newDepsCyclesCommand())
	cmd.AddCommand(newDepsValidateCommand())
	cmd.AddCommand(newDepsExportCommand())

	return cmd
}

func newDepsDetectCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "detect <resource-id>",
		Short: "Detect dependencies of a cached resource",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, cleanup, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			r, err := a.store.GetResourceByID(ctx, args[0])
			if err != nil {
				return err
			}
			n, err := a.graph.DetectDependencies(ctx, r)
			if err != nil {
				return err
			}
			fmt.Printf("detected %d dependency edges for %s\n", n, r.ResourceID)
			return nil
		},
	}
	return cmd
}

func newDepsTreeCommand() *cobra.Command {
	var maxDepth int

	cmd := &cobra.Command{
		Use:   "tree <resource-id>",
		Short: "Print the dependency tree rooted at a resource",
		Example: `  azkit deps tree /subscriptions/.../virtualMachines/vm1 --depth 3`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, cleanup, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			tree, err := a.graph.DependencyTree(ctx, args[0], maxDepth)
			if err != nil {
				return err
			}

			if jsonOutput {
				out, err := json.MarshalIndent(tree, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(out))
				return nil
			}

			printTree(tree, 0)
			return nil
		},
	}

	cmd.Flags().IntVar(&maxDepth, "depth", 5, "maximum traversal depth")
	return cmd
}

func printTree(node *graph.TreeNode, depth int) {
	indent := strings.Repeat("  ", depth)
	line := indent + node.ResourceID
	if node.DependencyType != "" {
		line += fmt.Sprintf(" [%s/%s]", node.DependencyType, node.Relationship)
	}
	if node.Truncated != "" {
		line += fmt.Sprintf(" (truncated: %s)", node.Truncated)
	}
	fmt.Println(line)
	for _, child := range node.Children {
		printTree(child, depth+1)
	}
}

func newDepsPathCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "path <from-resource-id> <to-resource-id>",
		Short: "Find the shortest dependency path between two resources",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, cleanup, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			path, err := a.graph.DependencyPath(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Println(strings.Join(path, " -> "))
			return nil
		},
	}
	return cmd
}

func newDepsCyclesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cycles",
		Short: "Detect required-dependency cycles",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, cleanup, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			cycles, err := a.graph.DetectCycles(ctx)
			if err != nil {
				return err
			}
			if len(cycles) == 0 {
				fmt.Println("no cycles detected")
				return nil
			}
			for _, cycle := range cycles {
				fmt.Println(graph.FormatCycle(cycle))
			}
			return fmt.Errorf("%d dependency cycle(s) detected", len(cycles))
		},
	}
	return cmd
}

func newDepsValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <resource-id>",
		Short: "Check that a resource's required dependencies are satisfied",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, cleanup, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			issues, err := a.graph.ValidateDependencies(ctx, args[0])
			if err != nil {
				return err
			}
			if len(issues) == 0 {
				fmt.Println("all required dependencies satisfied")
				return nil
			}
			for _, issue := range issues {
				line := fmt.Sprintf("%s: %s", issue.Reason, issue.DependsOnResourceID)
				if issue.Detail != "" {
					line += " (" + issue.Detail + ")"
				}
				fmt.Println(line)
			}
			return fmt.Errorf("%d unsatisfied dependencies", len(issues))
		},
		Args: cobra.ExactArgs(1),
	}
	return cmd
}

func newDepsExportCommand() *cobra.Command {
	var (
		format string
		output string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the dependency graph as DOT or JSON",
		Example: `  azkit deps export --format dot --output graph.dot
  azkit deps export --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, cleanup, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			var out []byte
			switch format {
			case "dot":
				s, err := a.graph.ExportDOT(ctx)
				if err != nil {
					return err
				}
				out = []byte(s)
			case "json":
				out, err = a.graph.ExportJSON(ctx)
				if err != nil {
					return err
				}
			default:
				return fmt.Errorf("unknown export format %q", format)
			}

			if output == "" {
				fmt.Println(string(out))
				return nil
			}
			return os.WriteFile(output, out, 0o644)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "dot", "export format: dot or json")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (stdout when empty)")
	return cmd
}
