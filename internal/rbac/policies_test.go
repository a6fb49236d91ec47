package rbac

import "testing"

func TestValidPolicyKey(t *testing.T) {
	cases := map[string]bool{
		"users.view":             true,
		"users.assign_role":      true,
		"admin.panel":            true,
		"reports.export.csv":     true,
		"a.b":                    true,
		"org-units.manage":       true,
		"users":                  false,
		"Users.view":             false,
		".view":                  false,
		"users.":                 false,
		"users..view":            false,
		"users.view.extra.deep":  false,
		"1users.view":            false,
		"users.View":             false,
		"users.view ":            false,
		"":                       false,
		"users.view.sub_section": true,
	}
	for key, want := range cases {
		if got := ValidPolicyKey(key); got != want {
			t.Fatalf("ValidPolicyKey(%q)=%v, want %v", key, got, want)
		}
	}
}

func TestBuiltinPoliciesAreValidAndKnown(t *testing.T) {
	for _, p := range BuiltinPolicies {
		if !ValidPolicyKey(p.Key) {
			t.Fatalf("builtin policy %q fails key validation", p.Key)
		}
		if !KnownPolicyKey(p.Key) {
			t.Fatalf("builtin policy %q not reported as known", p.Key)
		}
	}
	if KnownPolicyKey("made.up") {
		t.Fatal("unexpected known policy")
	}
}

func TestDefaultClassification(t *testing.T) {
	class := DefaultClassification()
	for _, key := range []string{PolicyRolesCreate, PolicyPoliciesManage, PolicyAdminPanel, PolicySettingsGlobal, PolicyUsersAssignRole} {
		if !class.IsPrivileged(key) {
			t.Fatalf("expected %q to be privileged", key)
		}
	}
	for _, key := range []string{PolicyStaffView, PolicyStaffManage, PolicyReportsView, PolicyOrgUnitsView} {
		if class.IsPrivileged(key) {
			t.Fatalf("expected %q to be org-scoped", key)
		}
	}
}
