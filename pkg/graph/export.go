package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/azkit/azkit/pkg/stores"
)

func sortGraph(g *Graph) {
	sort.Slice(g.Nodes, func(i, j int) bool {
		return g.Nodes[i].ResourceID < g.Nodes[j].ResourceID
	})
	sort.Slice(g.Edges, func(i, j int) bool {
		if g.Edges[i].From != g.Edges[j].From {
			return g.Edges[i].From < g.Edges[j].From
		}
		return g.Edges[i].To < g.Edges[j].To
	})
}

// ExportJSON renders the full graph as indented JSON with nodes and edges
// in sorted order, so repeated exports of the same store are
// byte-identical.
func (e *Engine) ExportJSON(ctx context.Context) ([]byte, error) {
	g, err := e.BuildGraph(ctx)
	if err != nil {
		return nil, err
	}

	out, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal graph: %w", err)
	}
	return out, nil
}

// ExportDOT renders the full graph in Graphviz DOT format. Node labels
// carry the resource name and type; edge styles encode the dependency
// type. Output order is deterministic.
func (e *Engine) ExportDOT(ctx context.Context) (string, error) {
	g, err := e.BuildGraph(ctx)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("digraph dependencies {\n")
	sb.WriteString("  rankdir=LR;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for _, n := range g.Nodes {
		label := n.ResourceID
		if n.Name != "" {
			label = fmt.Sprintf("%s\\n%s", n.Name, n.ResourceType)
		}
		attrs := fmt.Sprintf("label=\"%s\"", label)
		if n.Managed {
			attrs += ", fillcolor=\"lightgreen\", style=\"filled,rounded\""
		}
		sb.WriteString(fmt.Sprintf("  %q [%s];\n", n.ResourceID, attrs))
	}

	sb.WriteString("\n")
	for _, d := range g.Edges {
		sb.WriteString(fmt.Sprintf("  %q -> %q [%s, label=%q];\n",
			d.From, d.To, edgeStyle(d.DependencyType), string(d.Relationship)))
	}

	sb.WriteString("}\n")
	return sb.String(), nil
}

func edgeStyle(dt stores.DependencyType) string {
	switch dt {
	case stores.DependencyRequired:
		return "style=solid, color=black"
	case stores.DependencyOptional:
		return "style=dashed, color=blue"
	case stores.DependencyReference:
		return "style=dotted, color=gray"
	default:
		return "style=solid, color=black"
	}
}
