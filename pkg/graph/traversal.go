package graph

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/azkit/azkit/pkg/stores"
)

// adjacency is a forward edge index keyed case-insensitively, preserving
// the original casing for display.
type adjacency struct {
	next  map[string][]*stores.Dependency
	label map[string]string
}

func key(id string) string { return strings.ToLower(id) }

func buildAdjacency(deps []*stores.Dependency, requiredOnly bool) *adjacency {
	a := &adjacency{
		next:  map[string][]*stores.Dependency{},
		label: map[string]string{},
	}
	for _, d := range deps {
		if requiredOnly && d.DependencyType != stores.DependencyRequired {
			continue
		}
		from := key(d.ResourceID)
		a.next[from] = append(a.next[from], d)
		if _, ok := a.label[from]; !ok {
			a.label[from] = d.ResourceID
		}
		if _, ok := a.label[key(d.DependsOnResourceID)]; !ok {
			a.label[key(d.DependsOnResourceID)] = d.DependsOnResourceID
		}
	}
	// Deterministic neighbor order.
	for _, edges := range a.next {
		sort.Slice(edges, func(i, j int) bool {
			return edges[i].DependsOnResourceID < edges[j].DependsOnResourceID
		})
	}
	return a
}

// DetectCycles finds circular chains among required dependency edges.
// Optional and reference edges never participate. Each cycle is returned
// as a path closing on its first element; an empty result means the
// required subgraph is acyclic.
func (e *Engine) DetectCycles(ctx context.Context) ([][]string, error) {
	deps, err := e.store.ListAllDependencies(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list dependencies: %w", err)
	}

	adj := buildAdjacency(deps, true)

	nodes := make([]string, 0, len(adj.label))
	for k := range adj.label {
		nodes = append(nodes, k)
	}
	sort.Strings(nodes)

	visited := map[string]bool{}
	recStack := map[string]bool{}
	cycles := [][]string{}

	var walk func(node string, path []string)
	walk = func(node string, path []string) {
		visited[node] = true
		recStack[node] = true
		path = append(path, node)

		for _, d := range adj.next[node] {
			target := key(d.DependsOnResourceID)
			if !visited[target] {
				walk(target, path)
			} else if recStack[target] {
				start := -1
				for i, id := range path {
					if id == target {
						start = i
						break
					}
				}
				if start >= 0 {
					cycle := make([]string, 0, len(path)-start+1)
					for _, id := range path[start:] {
						cycle = append(cycle, adj.label[id])
					}
					cycle = append(cycle, adj.label[target])
					cycles = append(cycles, cycle)
				}
			}
		}

		recStack[node] = false
	}

	for _, node := range nodes {
		if !visited[node] {
			walk(node, nil)
		}
	}

	return cycles, nil
}

// FormatCycle renders a cycle path for error messages.
func FormatCycle(cycle []string) string {
	return strings.Join(cycle, " -> ")
}

// DependencyTree expands the transitive dependencies of a resource into a
// tree, bounded by maxDepth. A node already on the current path is marked
// truncated "cycle"; a node at the depth bound with further edges is
// marked "max-depth". maxDepth <= 0 means only the root is expanded.
func (e *Engine) DependencyTree(ctx context.Context, resourceID string, maxDepth int) (*TreeNode, error) {
	root := &TreeNode{ResourceID: resourceID}

	onPath := map[string]bool{key(resourceID): true}
	if err := e.expandTree(ctx, root, onPath, 0, maxDepth); err != nil {
		return nil, err
	}

	return root, nil
}

func (e *Engine) expandTree(ctx context.Context, node *TreeNode, onPath map[string]bool, depth, maxDepth int) error {
	deps, err := e.store.ListDependenciesFrom(ctx, node.ResourceID)
	if err != nil {
		return fmt.Errorf("failed to list dependencies: %w", err)
	}
	if len(deps) == 0 {
		return nil
	}
	if depth >= maxDepth {
		node.Truncated = TruncatedMaxDepth
		return nil
	}

	for _, d := range deps {
		child := &TreeNode{
			ResourceID:     d.DependsOnResourceID,
			DependencyType: d.DependencyType,
			Relationship:   d.Relationship,
		}
		node.Children = append(node.Children, child)

		k := key(d.DependsOnResourceID)
		if onPath[k] {
			child.Truncated = TruncatedCycle
			continue
		}

		onPath[k] = true
		if err := e.expandTree(ctx, child, onPath, depth+1, maxDepth); err != nil {
			return err
		}
		delete(onPath, k)
	}

	return nil
}

// DependencyPath finds the shortest dependency chain from one resource to
// another, following edges of any type in their stored direction. Returns
// ErrNoPath when the target is unreachable.
func (e *Engine) DependencyPath(ctx context.Context, from, to string) ([]string, error) {
	if key(from) == key(to) {
		return []string{from}, nil
	}

	deps, err := e.store.ListAllDependencies(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list dependencies: %w", err)
	}

	adj := buildAdjacency(deps, false)

	start, goal := key(from), key(to)
	parent := map[string]string{start: start}
	queue := []string{start}

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]

		for _, d := range adj.next[node] {
			target := key(d.DependsOnResourceID)
			if _, seen := parent[target]; seen {
				continue
			}
			parent[target] = node

			if target == goal {
				path := []string{adj.label[target]}
				for at := node; ; at = parent[at] {
					label := adj.label[at]
					if at == start {
						label = from
					}
					path = append([]string{label}, path...)
					if at == start {
						break
					}
				}
				return path, nil
			}
			queue = append(queue, target)
		}
	}

	return nil, fmt.Errorf("%s to %s: %w", from, to, ErrNoPath)
}
