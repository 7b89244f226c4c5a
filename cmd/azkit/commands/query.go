package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/azkit/azkit/pkg/query"
	"github.com/azkit/azkit/pkg/stores"
)

func newQueryCommand() *cobra.Command {
	var (
		resourceType string
		name         string
		group        string
		format       string
	)

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Query resources, cache-first",
		Long: `Query a single resource or list resources of a type. Fresh cached
rows are served locally; anything stale goes to the provider and the
result is written back to the cache.`,
		Example: `  # One resource
  azkit query --type Microsoft.Compute/virtualMachines --name vm1 --group rg-prod

  # All virtual networks, condensed output
  azkit query --type Microsoft.Network/virtualNetworks --format summary`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, cleanup, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			var resources []*stores.Resource
			if name != "" {
				r, err := a.queries.QueryResource(ctx, resourceType, name, group)
				if err != nil {
					return err
				}
				resources = []*stores.Resource{r}
			} else {
				resources, err = a.queries.QueryResources(ctx, resourceType, group)
				if err != nil {
					return err
				}
			}

			out, err := query.Format(resources, format)
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}

	cmd.Flags().StringVarP(&resourceType, "type", "t", "", "resource type")
	cmd.Flags().StringVarP(&name, "name", "n", "", "resource name (single lookup)")
	cmd.Flags().StringVarP(&group, "group", "g", "", "resource group")
	cmd.Flags().StringVarP(&format, "format", "f", query.FormatFull, "output projection: full or summary")
	_ = cmd.MarkFlagRequired("type")

	return cmd
}
