package graph

import (
	"sort"
	"strings"

	"github.com/azkit/azkit/pkg/arm"
	"github.com/azkit/azkit/pkg/stores"
)

// A detector inspects a resource's properties payload and emits the
// dependency edges it implies. Detectors are defensive: a malformed or
// unexpected payload yields zero edges, never an error.
type detector func(r *stores.Resource, props map[string]interface{}) []stores.Dependency

// detectors maps lowercased resource types to their typed detector.
// Types without an entry fall back to the generic scan.
var detectors = map[string]detector{
	"microsoft.compute/virtualmachines":                 detectVirtualMachine,
	"microsoft.network/networkinterfaces":               detectNetworkInterface,
	"microsoft.network/virtualnetworks":                 detectVirtualNetwork,
	"microsoft.storage/storageaccounts":                 detectStorageAccount,
	"microsoft.desktopvirtualization/hostpools":         detectGeneric,
	"microsoft.desktopvirtualization/applicationgroups": detectApplicationGroup,
	"microsoft.desktopvirtualization/workspaces":        detectWorkspace,
}

func detectorFor(resourceType string) detector {
	if d, ok := detectors[strings.ToLower(resourceType)]; ok {
		return d
	}
	return detectGeneric
}

// lookup descends a decoded JSON object along a key path. Returns nil as
// soon as a step is not an object.
func lookup(v interface{}, path ...string) interface{} {
	for _, key := range path {
		m, ok := v.(map[string]interface{})
		if !ok {
			return nil
		}
		v = m[key]
	}
	return v
}

func asSlice(v interface{}) []interface{} {
	s, _ := v.([]interface{})
	return s
}

// refAt extracts an ARM resource ID string at the given path, or "" when
// absent or malformed.
func refAt(v interface{}, path ...string) string {
	s, ok := lookup(v, path...).(string)
	if !ok || !arm.IsResourceID(s) {
		return ""
	}
	return s
}

func edge(r *stores.Resource, target string, dt stores.DependencyType, rel stores.Relationship) stores.Dependency {
	return stores.Dependency{
		ResourceID:          r.ResourceID,
		DependsOnResourceID: target,
		DependencyType:      dt,
		Relationship:        rel,
	}
}

func detectVirtualMachine(r *stores.Resource, props map[string]interface{}) []stores.Dependency {
	var deps []stores.Dependency

	for _, nic := range asSlice(lookup(props, "networkProfile", "networkInterfaces")) {
		if id := refAt(nic, "id"); id != "" {
			deps = append(deps, edge(r, id, stores.DependencyRequired, stores.RelationshipUses))
		}
	}

	if id := refAt(props, "availabilitySet", "id"); id != "" {
		deps = append(deps, edge(r, id, stores.DependencyOptional, stores.RelationshipReferences))
	}

	if id := refAt(props, "storageProfile", "osDisk", "managedDisk", "id"); id != "" {
		deps = append(deps, edge(r, id, stores.DependencyRequired, stores.RelationshipUses))
	}
	for _, disk := range asSlice(lookup(props, "storageProfile", "dataDisks")) {
		if id := refAt(disk, "managedDisk", "id"); id != "" {
			deps = append(deps, edge(r, id, stores.DependencyRequired, stores.RelationshipUses))
		}
	}

	return deps
}

func detectNetworkInterface(r *stores.Resource, props map[string]interface{}) []stores.Dependency {
	var deps []stores.Dependency

	for _, ipc := range asSlice(lookup(props, "ipConfigurations")) {
		if id := refAt(ipc, "properties", "subnet", "id"); id != "" {
			deps = append(deps, edge(r, id, stores.DependencyRequired, stores.RelationshipUses))
		}
		if id := refAt(ipc, "properties", "publicIPAddress", "id"); id != "" {
			deps = append(deps, edge(r, id, stores.DependencyOptional, stores.RelationshipReferences))
		}
	}

	if id := refAt(props, "networkSecurityGroup", "id"); id != "" {
		deps = append(deps, edge(r, id, stores.DependencyOptional, stores.RelationshipReferences))
	}

	return deps
}

func detectVirtualNetwork(r *stores.Resource, props map[string]interface{}) []stores.Dependency {
	var deps []stores.Dependency

	for _, subnet := range asSlice(lookup(props, "subnets")) {
		if id := refAt(subnet, "id"); id != "" {
			deps = append(deps, edge(r, id, stores.DependencyRequired, stores.RelationshipContains))
		}
	}

	for _, peering := range asSlice(lookup(props, "virtualNetworkPeerings")) {
		if id := refAt(peering, "properties", "remoteVirtualNetwork", "id"); id != "" {
			deps = append(deps, edge(r, id, stores.DependencyOptional, stores.RelationshipPeersWith))
		}
	}

	return deps
}

func detectStorageAccount(r *stores.Resource, props map[string]interface{}) []stores.Dependency {
	var deps []stores.Dependency

	for _, pec := range asSlice(lookup(props, "privateEndpointConnections")) {
		if id := refAt(pec, "properties", "privateEndpoint", "id"); id != "" {
			deps = append(deps, edge(r, id, stores.DependencyOptional, stores.RelationshipReferences))
		}
	}

	return deps
}

func detectApplicationGroup(r *stores.Resource, props map[string]interface{}) []stores.Dependency {
	var deps []stores.Dependency

	if id := refAt(props, "hostPoolArmPath"); id != "" {
		deps = append(deps, edge(r, id, stores.DependencyRequired, stores.RelationshipReferences))
	}

	return deps
}

func detectWorkspace(r *stores.Resource, props map[string]interface{}) []stores.Dependency {
	var deps []stores.Dependency

	for _, ref := range asSlice(lookup(props, "applicationGroupReferences")) {
		if id, ok := ref.(string); ok && arm.IsResourceID(id) {
			deps = append(deps, edge(r, id, stores.DependencyRequired, stores.RelationshipContains))
		}
	}

	return deps
}

// detectGeneric recursively scans the properties payload for ARM-ID-shaped
// strings and emits a weak reference edge for each distinct one. Used for
// resource types without a typed detector.
func detectGeneric(r *stores.Resource, props map[string]interface{}) []stores.Dependency {
	// Dedupe case-insensitively but preserve the original casing.
	seen := map[string]string{}
	collectResourceIDs(props, seen)

	ids := make([]string, 0, len(seen))
	for _, id := range seen {
		if arm.Equal(id, r.ResourceID) {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)

	deps := make([]stores.Dependency, 0, len(ids))
	for _, id := range ids {
		deps = append(deps, edge(r, id, stores.DependencyReference, stores.RelationshipReferences))
	}
	return deps
}

func collectResourceIDs(v interface{}, out map[string]string) {
	switch t := v.(type) {
	case string:
		if arm.IsResourceID(t) {
			key := strings.ToLower(t)
			if _, ok := out[key]; !ok {
				out[key] = t
			}
		}
	case map[string]interface{}:
		for _, child := range t {
			collectResourceIDs(child, out)
		}
	case []interface{}:
		for _, child := range t {
			collectResourceIDs(child, out)
		}
	}
}
