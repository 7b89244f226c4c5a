// Package arm implements the Azure Resource Manager resource ID grammar.
// Resource IDs are hierarchical path strings of the form
// /subscriptions/{sub}/resourceGroups/{rg}/providers/{namespace}/{type}/{name}
// optionally followed by child type/name pairs. They are the primary keys of
// the resource store, so malformed IDs are rejected before they ever reach it.
package arm

import (
	"fmt"
	"strings"
)

// ResourceID is a parsed Azure resource identifier.
type ResourceID struct {
	// Raw is the original ID string as supplied.
	Raw string `json:"raw"`

	// SubscriptionID is the subscription GUID segment.
	SubscriptionID string `json:"subscription_id"`

	// ResourceGroup is the resource group name, empty for subscription-level IDs.
	ResourceGroup string `json:"resource_group,omitempty"`

	// Provider is the resource provider namespace (e.g. "Microsoft.Compute").
	Provider string `json:"provider,omitempty"`

	// Type is the full resource type including the provider namespace
	// (e.g. "Microsoft.Compute/virtualMachines" or
	// "Microsoft.Network/virtualNetworks/subnets" for child resources).
	Type string `json:"type,omitempty"`

	// Name is the leaf resource name.
	Name string `json:"name,omitempty"`

	// Parent is the ID of the parent resource for child resources
	// (e.g. the VNet ID for a subnet), empty otherwise.
	Parent string `json:"parent,omitempty"`
}

// Parse parses a resource ID string. It accepts subscription-level,
// resource-group-level and full resource IDs, including nested child
// resources. The empty string and anything not rooted at /subscriptions
// fail with an error.
func Parse(id string) (*ResourceID, error) {
	if id == "" {
		return nil, fmt.Errorf("resource ID is empty")
	}
	if !strings.HasPrefix(id, "/") {
		return nil, fmt.Errorf("resource ID %q must start with '/'", id)
	}

	segments := strings.Split(strings.Trim(id, "/"), "/")
	if len(segments) < 2 || !strings.EqualFold(segments[0], "subscriptions") {
		return nil, fmt.Errorf("resource ID %q must start with /subscriptions/{id}", id)
	}
	for i, seg := range segments {
		if seg == "" {
			return nil, fmt.Errorf("resource ID %q has an empty segment at position %d", id, i)
		}
	}

	rid := &ResourceID{
		Raw:            id,
		SubscriptionID: segments[1],
	}
	if len(segments) == 2 {
		return rid, nil
	}

	if !strings.EqualFold(segments[2], "resourceGroups") {
		return nil, fmt.Errorf("resource ID %q: expected resourceGroups segment, got %q", id, segments[2])
	}
	if len(segments) < 4 {
		return nil, fmt.Errorf("resource ID %q is missing the resource group name", id)
	}
	rid.ResourceGroup = segments[3]
	if len(segments) == 4 {
		return rid, nil
	}

	if !strings.EqualFold(segments[4], "providers") {
		return nil, fmt.Errorf("resource ID %q: expected providers segment, got %q", id, segments[4])
	}
	// providers/{namespace}/{type}/{name} plus optional child pairs
	rest := segments[5:]
	if len(rest) < 3 {
		return nil, fmt.Errorf("resource ID %q is missing the provider, type or name segment", id)
	}
	if !strings.Contains(rest[0], ".") {
		return nil, fmt.Errorf("resource ID %q: provider namespace %q is not dotted", id, rest[0])
	}
	// After the namespace, segments alternate type/name.
	if len(rest)%2 == 0 {
		return nil, fmt.Errorf("resource ID %q has an unpaired type segment", id)
	}

	rid.Provider = rest[0]
	typeParts := []string{rest[0]}
	for i := 1; i < len(rest); i += 2 {
		typeParts = append(typeParts, rest[i])
		rid.Name = rest[i+1]
	}
	rid.Type = strings.Join(typeParts, "/")

	// Child resources keep a handle on their parent ID.
	if len(rest) > 3 {
		cut := strings.LastIndex(id, "/"+rest[len(rest)-2]+"/"+rest[len(rest)-1])
		if cut > 0 {
			rid.Parent = id[:cut]
		}
	}

	return rid, nil
}

// Validate reports whether id is a well-formed resource ID.
func Validate(id string) error {
	_, err := Parse(id)
	return err
}

// IsResourceID reports whether s looks like a full resource ID. It is the
// predicate the generic dependency scanner applies to property values, so it
// requires at least a provider-level resource (subscription and resource
// group IDs alone do not form dependency edges).
func IsResourceID(s string) bool {
	rid, err := Parse(s)
	if err != nil {
		return false
	}
	return rid.Type != "" && rid.Name != ""
}

// Equal compares two resource IDs case-insensitively, the way ARM does.
func Equal(a, b string) bool {
	return strings.EqualFold(strings.TrimRight(a, "/"), strings.TrimRight(b, "/"))
}

// Match reports whether id matches a glob pattern. Only '*' wildcards are
// supported; matching is case-insensitive. An empty pattern matches nothing,
// a bare "*" matches everything.
func Match(pattern, id string) bool {
	if pattern == "" {
		return false
	}
	p := strings.ToLower(pattern)
	s := strings.ToLower(id)

	parts := strings.Split(p, "*")
	if len(parts) == 1 {
		return p == s
	}
	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]
	for i := 1; i < len(parts)-1; i++ {
		idx := strings.Index(s, parts[i])
		if idx < 0 {
			return false
		}
		s = s[idx+len(parts[i]):]
	}
	return strings.HasSuffix(s, parts[len(parts)-1])
}

// GlobToLike translates a '*' glob pattern into a SQL LIKE pattern.
// Literal '%' and '_' are escaped with '\'.
func GlobToLike(pattern string) string {
	var b strings.Builder
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteByte('%')
		case '%', '_', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
