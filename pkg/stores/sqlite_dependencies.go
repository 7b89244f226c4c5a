package stores

import (
	"context"
	"fmt"
	"time"

	"github.com/azkit/azkit/pkg/arm"
)

// UpsertDependency inserts a dependency edge or, when the
// (resource_id, depends_on_resource_id) pair already exists, refreshes its
// validated_at timestamp. Re-detection therefore never duplicates edges.
func (s *SQLiteStore) UpsertDependency(ctx context.Context, d *Dependency) error {
	if err := arm.Validate(d.ResourceID); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResourceID, err)
	}
	if err := arm.Validate(d.DependsOnResourceID); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResourceID, err)
	}

	now := time.Now().UTC()
	if d.DiscoveredAt.IsZero() {
		d.DiscoveredAt = now
	}
	validated := now
	d.ValidatedAt = &validated

	query := `
		INSERT INTO dependencies (
			resource_id, depends_on_resource_id, dependency_type,
			relationship, discovered_at, validated_at
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(resource_id, depends_on_resource_id) DO UPDATE SET
			dependency_type = excluded.dependency_type,
			relationship = excluded.relationship,
			validated_at = excluded.validated_at
	`

	_, err := s.execRetry(ctx, query,
		d.ResourceID,
		d.DependsOnResourceID,
		d.DependencyType,
		d.Relationship,
		d.DiscoveredAt,
		d.ValidatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert dependency: %w", err)
	}

	return nil
}

const dependencyColumns = `
	resource_id, depends_on_resource_id, dependency_type,
	relationship, discovered_at, validated_at
`

func (s *SQLiteStore) listDependencies(ctx context.Context, query string, args ...interface{}) ([]*Dependency, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list dependencies: %w", err)
	}
	defer rows.Close()

	deps := []*Dependency{}
	for rows.Next() {
		d := &Dependency{}
		err := rows.Scan(
			&d.ResourceID,
			&d.DependsOnResourceID,
			&d.DependencyType,
			&d.Relationship,
			&d.DiscoveredAt,
			&d.ValidatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dependency: %w", err)
		}
		deps = append(deps, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dependencies: %w", err)
	}

	return deps, nil
}

// ListDependenciesFrom returns the outgoing edges of a resource (what it
// depends on). Edges whose target was soft-deleted are still returned;
// orphaned edges are an observable state surfaced by validation.
func (s *SQLiteStore) ListDependenciesFrom(ctx context.Context, resourceID string) ([]*Dependency, error) {
	query := `
		SELECT ` + dependencyColumns + `
		FROM dependencies
		WHERE resource_id = ?
		ORDER BY depends_on_resource_id
	`
	return s.listDependencies(ctx, query, resourceID)
}

// ListDependenciesTo returns the incoming edges of a resource (its
// dependents).
func (s *SQLiteStore) ListDependenciesTo(ctx context.Context, resourceID string) ([]*Dependency, error) {
	query := `
		SELECT ` + dependencyColumns + `
		FROM dependencies
		WHERE depends_on_resource_id = ?
		ORDER BY resource_id
	`
	return s.listDependencies(ctx, query, resourceID)
}

// ListAllDependencies returns every edge in the graph, ordered for
// deterministic export.
func (s *SQLiteStore) ListAllDependencies(ctx context.Context) ([]*Dependency, error) {
	query := `
		SELECT ` + dependencyColumns + `
		FROM dependencies
		ORDER BY resource_id, depends_on_resource_id
	`
	return s.listDependencies(ctx, query)
}
