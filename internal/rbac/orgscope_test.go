package rbac

import (
	"context"
	"slices"
	"testing"
)

func ptr(s string) *string { return &s }

// four levels: hq -> {ops, eng}; ops -> {ops-west}; ops-west -> {ops-west-1}
func testUnits() []OrgUnit {
	return []OrgUnit{
		{ID: "hq"},
		{ID: "ops", ParentID: ptr("hq")},
		{ID: "eng", ParentID: ptr("hq")},
		{ID: "ops-west", ParentID: ptr("ops")},
		{ID: "ops-west-1", ParentID: ptr("ops-west")},
	}
}

func TestDescendantSetFullTree(t *testing.T) {
	got := DescendantSet(testUnits(), "hq")
	want := []string{"eng", "hq", "ops", "ops-west", "ops-west-1"}
	if !slices.Equal(got, want) {
		t.Fatalf("descendants of hq = %v, want %v", got, want)
	}
}

func TestDescendantSetSubtree(t *testing.T) {
	got := DescendantSet(testUnits(), "ops")
	want := []string{"ops", "ops-west", "ops-west-1"}
	if !slices.Equal(got, want) {
		t.Fatalf("descendants of ops = %v, want %v", got, want)
	}
}

func TestDescendantSetLeafIsSingleton(t *testing.T) {
	got := DescendantSet(testUnits(), "ops-west-1")
	if len(got) != 1 || got[0] != "ops-west-1" {
		t.Fatalf("expected singleton set for leaf, got %v", got)
	}
}

type stubUnitSource struct {
	units []OrgUnit
	err   error
}

func (s *stubUnitSource) ListOrgUnits(context.Context) ([]OrgUnit, error) {
	return s.units, s.err
}

func TestScopeResolverEmptyRoot(t *testing.T) {
	r := NewScopeResolver(&stubUnitSource{units: testUnits()})
	got, err := r.AccessibleUnits(context.Background(), "")
	if err != nil {
		t.Fatalf("AccessibleUnits: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil set for empty root, got %v", got)
	}
}

func TestScopeResolverResolvesOnDemand(t *testing.T) {
	src := &stubUnitSource{units: testUnits()}
	r := NewScopeResolver(src)

	got, err := r.AccessibleUnits(context.Background(), "eng")
	if err != nil {
		t.Fatalf("AccessibleUnits: %v", err)
	}
	if len(got) != 1 || got[0] != "eng" {
		t.Fatalf("expected {eng}, got %v", got)
	}

	// a unit added later must show up on the next resolution
	src.units = append(src.units, OrgUnit{ID: "eng-1", ParentID: ptr("eng")})
	got, err = r.AccessibleUnits(context.Background(), "eng")
	if err != nil {
		t.Fatalf("AccessibleUnits: %v", err)
	}
	want := []string{"eng", "eng-1"}
	if !slices.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}
