package rbac

import (
	"context"
	"sort"
)

// OrgUnitSource provides the full unit list for scope resolution.
type OrgUnitSource interface {
	ListOrgUnits(ctx context.Context) ([]OrgUnit, error)
}

// ScopeResolver computes the closed set of an org unit plus all transitive
// descendants. It is stateless and recomputes on demand; caching happens one
// layer up in the session cache. The tree is assumed acyclic and of finite
// depth.
type ScopeResolver struct {
	units OrgUnitSource
}

// NewScopeResolver constructs a resolver over the given unit source.
func NewScopeResolver(units OrgUnitSource) *ScopeResolver {
	return &ScopeResolver{units: units}
}

// AccessibleUnits returns rootID plus every transitive descendant, sorted.
// A leaf unit yields a singleton set.
func (r *ScopeResolver) AccessibleUnits(ctx context.Context, rootID string) ([]string, error) {
	if rootID == "" {
		return nil, nil
	}
	all, err := r.units.ListOrgUnits(ctx)
	if err != nil {
		return nil, err
	}
	return DescendantSet(all, rootID), nil
}

// DescendantSet performs a breadth-first traversal over the adjacency list
// derived from units and returns the closed descendant set of rootID. The
// root is always included, even when absent from units.
func DescendantSet(units []OrgUnit, rootID string) []string {
	children := make(map[string][]string, len(units))
	for _, u := range units {
		if u.ParentID == nil {
			continue
		}
		children[*u.ParentID] = append(children[*u.ParentID], u.ID)
	}

	seen := map[string]struct{}{rootID: {}}
	queue := []string{rootID}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, child := range children[current] {
			if _, ok := seen[child]; ok {
				continue
			}
			seen[child] = struct{}{}
			queue = append(queue, child)
		}
	}

	result := make([]string, 0, len(seen))
	for id := range seen {
		result = append(result, id)
	}
	sort.Strings(result)
	return result
}
