package stores

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testDependency(from, to string) *Dependency {
	return &Dependency{
		ResourceID:          from,
		DependsOnResourceID: to,
		DependencyType:      DependencyRequired,
		Relationship:        RelationshipUses,
	}
}

func TestUpsertDependencyNoDuplicates(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	d := testDependency(testVMID, testNICID)
	if err := store.UpsertDependency(ctx, d); err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}
	firstValidated := d.ValidatedAt

	time.Sleep(5 * time.Millisecond)
	if err := store.UpsertDependency(ctx, d); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}

	deps, err := store.ListDependenciesFrom(ctx, testVMID)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(deps) != 1 {
		t.Fatalf("expected a single edge after re-detection, got %d", len(deps))
	}
	if deps[0].ValidatedAt == nil || !deps[0].ValidatedAt.After(*firstValidated) {
		t.Error("validated_at should advance on re-detection")
	}
}

func TestUpsertDependencyRejectsMalformedIDs(t *testing.T) {
	store := setupTestStore(t)

	d := testDependency(testVMID, "bogus")
	err := store.UpsertDependency(context.Background(), d)
	if !errors.Is(err, ErrInvalidResourceID) {
		t.Fatalf("expected ErrInvalidResourceID, got %v", err)
	}
}

func TestListDependenciesBothDirections(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	vnetID := "/subscriptions/sub1/resourceGroups/rg1/providers/Microsoft.Network/virtualNetworks/vnet1"
	edges := []*Dependency{
		testDependency(testVMID, testNICID),
		testDependency(testNICID, vnetID),
	}
	for _, d := range edges {
		if err := store.UpsertDependency(ctx, d); err != nil {
			t.Fatalf("upsert failed: %v", err)
		}
	}

	from, err := store.ListDependenciesFrom(ctx, testNICID)
	if err != nil {
		t.Fatalf("list from failed: %v", err)
	}
	if len(from) != 1 || from[0].DependsOnResourceID != vnetID {
		t.Errorf("unexpected outgoing edges: %+v", from)
	}

	to, err := store.ListDependenciesTo(ctx, testNICID)
	if err != nil {
		t.Fatalf("list to failed: %v", err)
	}
	if len(to) != 1 || to[0].ResourceID != testVMID {
		t.Errorf("unexpected incoming edges: %+v", to)
	}

	all, err := store.ListAllDependencies(ctx)
	if err != nil {
		t.Fatalf("list all failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 edges, got %d", len(all))
	}
	// Deterministic ordering by (resource_id, depends_on_resource_id).
	if all[0].ResourceID > all[1].ResourceID {
		t.Error("edges should be ordered by resource_id")
	}
}
