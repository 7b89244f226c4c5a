package graph

import (
	"errors"

	"github.com/azkit/azkit/pkg/stores"
)

// ErrNoPath indicates no dependency path exists between two resources.
var ErrNoPath = errors.New("no dependency path")

// Node is a resource as it appears in the materialized graph.
type Node struct {
	ResourceID        string `json:"resource_id"`
	ResourceType      string `json:"resource_type"`
	Name              string `json:"name"`
	ResourceGroup     string `json:"resource_group"`
	ProvisioningState string `json:"provisioning_state"`
	Managed           bool   `json:"managed"`
}

// Edge is a directed dependency edge in the materialized graph.
type Edge struct {
	From           string                `json:"from"`
	To             string                `json:"to"`
	DependencyType stores.DependencyType `json:"dependency_type"`
	Relationship   stores.Relationship   `json:"relationship"`
}

// Graph is the full materialized dependency graph.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Truncation markers on tree nodes whose subtree was not expanded.
const (
	TruncatedCycle    = "cycle"
	TruncatedMaxDepth = "max-depth"
)

// TreeNode is one level of a bounded dependency tree.
type TreeNode struct {
	ResourceID     string                `json:"resource_id"`
	DependencyType stores.DependencyType `json:"dependency_type,omitempty"`
	Relationship   stores.Relationship   `json:"relationship,omitempty"`

	// Truncated is set when the subtree below this node was cut off,
	// either because the node was already on the current path or because
	// the depth bound was reached.
	Truncated string      `json:"truncated,omitempty"`
	Children  []*TreeNode `json:"children,omitempty"`
}

// Issue reasons reported by ValidateDependencies.
const (
	IssueMissing        = "missing"
	IssueDeleted        = "deleted"
	IssueNotProvisioned = "not-provisioned"
)

// Issue is one unsatisfied required dependency.
type Issue struct {
	ResourceID          string `json:"resource_id"`
	DependsOnResourceID string `json:"depends_on_resource_id"`
	Reason              string `json:"reason"`
	Detail              string `json:"detail,omitempty"`
}
