package query

import (
	"encoding/json"
	"fmt"

	"github.com/azkit/azkit/pkg/stores"
)

// Output formats. Projection only; both render the same cached rows.
const (
	FormatFull    = "full"
	FormatSummary = "summary"
)

// summaryRow is the condensed projection of a resource, without the
// opaque properties payload or cache bookkeeping.
type summaryRow struct {
	ResourceID        string `json:"resource_id"`
	ResourceType      string `json:"resource_type"`
	Name              string `json:"name"`
	ResourceGroup     string `json:"resource_group"`
	Location          string `json:"location"`
	ProvisioningState string `json:"provisioning_state"`
	ManagedByToolkit  bool   `json:"managed_by_toolkit"`
}

// Format renders resources as JSON in the requested projection.
func Format(resources []*stores.Resource, format string) ([]byte, error) {
	switch format {
	case FormatFull, "":
		return json.MarshalIndent(resources, "", "  ")

	case FormatSummary:
		rows := make([]summaryRow, 0, len(resources))
		for _, r := range resources {
			rows = append(rows, summaryRow{
				ResourceID:        r.ResourceID,
				ResourceType:      r.ResourceType,
				Name:              r.Name,
				ResourceGroup:     r.ResourceGroup,
				Location:          r.Location,
				ProvisioningState: r.ProvisioningState,
				ManagedByToolkit:  r.ManagedByToolkit,
			})
		}
		return json.MarshalIndent(rows, "", "  ")

	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
}
