package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/azkit/azkit/pkg/stores"
)

// Engine maintains the dependency graph persisted in the store. It owns
// detection, traversal, validation, and export; all graph state lives in
// the dependencies table.
type Engine struct {
	store  stores.Store
	logger zerolog.Logger
}

// NewEngine creates a graph engine backed by the given store.
func NewEngine(store stores.Store, logger zerolog.Logger) *Engine {
	return &Engine{
		store:  store,
		logger: logger.With().Str("component", "graph").Logger(),
	}
}

// DetectDependencies runs the typed detector for the resource's type over
// its properties payload and upserts every detected edge. Returns the
// number of edges detected. Malformed properties yield zero edges.
func (e *Engine) DetectDependencies(ctx context.Context, r *stores.Resource) (int, error) {
	props := map[string]interface{}{}
	if len(r.Properties) > 0 {
		if err := json.Unmarshal(r.Properties, &props); err != nil {
			e.logger.Warn().
				Str("resource_id", r.ResourceID).
				Err(err).
				Msg("unparseable properties payload, no edges detected")
			return 0, nil
		}
	}

	deps := detectorFor(r.ResourceType)(r, props)
	for i := range deps {
		if err := e.store.UpsertDependency(ctx, &deps[i]); err != nil {
			return 0, fmt.Errorf("failed to store dependency %s -> %s: %w",
				deps[i].ResourceID, deps[i].DependsOnResourceID, err)
		}
	}

	e.logger.Debug().
		Str("resource_id", r.ResourceID).
		Str("resource_type", r.ResourceType).
		Int("edges", len(deps)).
		Msg("dependencies detected")

	return len(deps), nil
}

// BuildGraph materializes the full dependency graph. Edge endpoints
// without a stored resource row still appear as bare nodes so exports
// show the complete edge set.
func (e *Engine) BuildGraph(ctx context.Context) (*Graph, error) {
	resources, err := e.store.ListResources(ctx, "", "")
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}

	edges, err := e.store.ListAllDependencies(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list dependencies: %w", err)
	}

	g := &Graph{
		Nodes: make([]Node, 0, len(resources)),
		Edges: make([]Edge, 0, len(edges)),
	}

	known := map[string]bool{}
	for _, r := range resources {
		known[strings.ToLower(r.ResourceID)] = true
		g.Nodes = append(g.Nodes, Node{
			ResourceID:        r.ResourceID,
			ResourceType:      r.ResourceType,
			Name:              r.Name,
			ResourceGroup:     r.ResourceGroup,
			ProvisioningState: r.ProvisioningState,
			Managed:           r.ManagedByToolkit,
		})
	}

	for _, d := range edges {
		g.Edges = append(g.Edges, Edge{
			From:           d.ResourceID,
			To:             d.DependsOnResourceID,
			DependencyType: d.DependencyType,
			Relationship:   d.Relationship,
		})
		for _, id := range []string{d.ResourceID, d.DependsOnResourceID} {
			if !known[strings.ToLower(id)] {
				known[strings.ToLower(id)] = true
				g.Nodes = append(g.Nodes, Node{ResourceID: id})
			}
		}
	}

	sortGraph(g)
	return g, nil
}

// ValidateDependencies enumerates the unsatisfied required edges of a
// resource. An edge is unsatisfied when its target is absent from the
// store, soft-deleted, or not provisioned successfully. Optional and
// reference edges are never reported.
func (e *Engine) ValidateDependencies(ctx context.Context, resourceID string) ([]Issue, error) {
	deps, err := e.store.ListDependenciesFrom(ctx, resourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list dependencies: %w", err)
	}

	issues := []Issue{}
	for _, d := range deps {
		if d.DependencyType != stores.DependencyRequired {
			continue
		}

		target, err := e.store.GetResourceByID(ctx, d.DependsOnResourceID)
		if errors.Is(err, stores.ErrNotFound) {
			issue := Issue{
				ResourceID:          d.ResourceID,
				DependsOnResourceID: d.DependsOnResourceID,
				Reason:              IssueMissing,
			}
			// Distinguish never-seen from soft-deleted.
			if hist, herr := e.store.GetResourceHistory(ctx, d.DependsOnResourceID); herr == nil && hist.DeletedAt != nil {
				issue.Reason = IssueDeleted
			}
			issues = append(issues, issue)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to resolve dependency target: %w", err)
		}

		if !strings.EqualFold(target.ProvisioningState, "Succeeded") {
			issues = append(issues, Issue{
				ResourceID:          d.ResourceID,
				DependsOnResourceID: d.DependsOnResourceID,
				Reason:              IssueNotProvisioned,
				Detail:              target.ProvisioningState,
			})
		}
	}

	return issues, nil
}
