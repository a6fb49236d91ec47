package rbac

import "regexp"

// Policy keys follow resource.action[.subaction].
const (
	PolicyUsersView       = "users.view"
	PolicyUsersManage     = "users.manage"
	PolicyUsersAssignRole = "users.assign_role"
	PolicyRolesCreate     = "roles.create"
	PolicyRolesUpdate     = "roles.update"
	PolicyRolesDelete     = "roles.delete"
	PolicyPoliciesManage  = "policies.manage"
	PolicyAdminPanel      = "admin.panel"
	PolicySettingsGlobal  = "settings.global"
	PolicyOrgUnitsView    = "orgunits.view"
	PolicyOrgUnitsManage  = "orgunits.manage"
	PolicyStaffView       = "staff.view"
	PolicyStaffManage     = "staff.manage"
	PolicyReportsView     = "reports.view"
)

const (
	CategoryAdministration = "administration"
	CategoryOperations     = "operations"
)

// BuiltinPolicies is the catalog seeded at startup. Keys are immutable after
// creation; EnsureBuiltins only inserts missing rows.
var BuiltinPolicies = []Policy{
	{Key: PolicyUsersView, Category: CategoryOperations, IsActive: true},
	{Key: PolicyUsersManage, Category: CategoryAdministration, IsActive: true},
	{Key: PolicyUsersAssignRole, Category: CategoryAdministration, IsActive: true},
	{Key: PolicyRolesCreate, Category: CategoryAdministration, IsActive: true},
	{Key: PolicyRolesUpdate, Category: CategoryAdministration, IsActive: true},
	{Key: PolicyRolesDelete, Category: CategoryAdministration, IsActive: true},
	{Key: PolicyPoliciesManage, Category: CategoryAdministration, IsActive: true},
	{Key: PolicyAdminPanel, Category: CategoryAdministration, IsActive: true},
	{Key: PolicySettingsGlobal, Category: CategoryAdministration, IsActive: true},
	{Key: PolicyOrgUnitsView, Category: CategoryOperations, IsActive: true},
	{Key: PolicyOrgUnitsManage, Category: CategoryAdministration, IsActive: true},
	{Key: PolicyStaffView, Category: CategoryOperations, IsActive: true},
	{Key: PolicyStaffManage, Category: CategoryOperations, IsActive: true},
	{Key: PolicyReportsView, Category: CategoryOperations, IsActive: true},
}

var policyKeyPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*(\.[a-z][a-z0-9_-]*){1,2}$`)

// ValidPolicyKey reports whether key matches resource.action[.subaction].
func ValidPolicyKey(key string) bool {
	return policyKeyPattern.MatchString(key)
}

// Classification partitions policy keys into privileged (global, subject to
// the anti-escalation dominance rule) and org-scoped (delegable within the
// actor's org scope). It is fixed configuration; nothing is ever inferred
// from key naming at runtime.
type Classification struct {
	privileged map[string]struct{}
}

// NewClassification builds a classification from an explicit privileged key
// list.
func NewClassification(privilegedKeys []string) Classification {
	set := make(map[string]struct{}, len(privilegedKeys))
	for _, k := range privilegedKeys {
		set[k] = struct{}{}
	}
	return Classification{privileged: set}
}

// DefaultClassification marks role/policy management, user administration,
// the global admin panel and global settings as privileged.
func DefaultClassification() Classification {
	return NewClassification([]string{
		PolicyUsersManage,
		PolicyUsersAssignRole,
		PolicyRolesCreate,
		PolicyRolesUpdate,
		PolicyRolesDelete,
		PolicyPoliciesManage,
		PolicyAdminPanel,
		PolicySettingsGlobal,
		PolicyOrgUnitsManage,
	})
}

// IsPrivileged reports whether the key is classified as privileged.
func (c Classification) IsPrivileged(key string) bool {
	_, ok := c.privileged[key]
	return ok
}

// KnownPolicyKey reports whether key belongs to the builtin catalog. Gates
// referencing keys outside the catalog are misconfigured.
func KnownPolicyKey(key string) bool {
	for _, p := range BuiltinPolicies {
		if p.Key == key {
			return true
		}
	}
	return false
}
