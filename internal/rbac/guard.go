package rbac

// Decision is the outcome of a delegation check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`

	// SuperAdminBypass marks a decision that succeeded only because the
	// actor is a SuperAdmin. Callers must audit such decisions as
	// privileged bypasses.
	SuperAdminBypass bool `json:"-"`
}

// Denial reasons. Stable strings surfaced to API callers.
const (
	ReasonMissingDelegationPolicy = "missing_delegation_policy"
	ReasonPrivilegedEscalation    = "privileged_escalation"
	ReasonOutsideOrgScope         = "outside_org_scope"
)

// DenialError maps a denial reason to the engine error taxonomy.
func (d Decision) DenialError() error {
	if d.Allowed {
		return nil
	}
	switch d.Reason {
	case ReasonMissingDelegationPolicy:
		return ErrNoPolicy
	case ReasonPrivilegedEscalation:
		return ErrEscalation
	case ReasonOutsideOrgScope:
		return ErrOrgScope
	default:
		return ErrNoPolicy
	}
}

// EvaluateDelegation decides whether the actor may grant or revoke a role
// carrying rolePolicies on the target user.
//
// The privileged subset of the role's policies must be dominated by the
// actor's own policy set: nobody hands out a global capability they do not
// hold. Org-scoped policies are exempt from dominance — a manager may grant
// a subordinate an operational policy the manager does not personally need —
// but the target must sit inside the actor's accessible org units.
// Inactive policies still count: a disabled policy can be re-enabled later,
// so granting it is granting the capability.
func EvaluateDelegation(actor *AuthSnapshot, target User, rolePolicies []Policy, class Classification) Decision {
	if actor != nil && actor.IsSuperAdmin {
		return Decision{Allowed: true, SuperAdminBypass: true}
	}
	if !actor.HasPolicy(PolicyUsersAssignRole) {
		return Decision{Reason: ReasonMissingDelegationPolicy}
	}
	for _, p := range rolePolicies {
		if !class.IsPrivileged(p.Key) {
			continue
		}
		if !actor.HasPolicy(p.Key) {
			return Decision{Reason: ReasonPrivilegedEscalation}
		}
	}
	if target.OrgUnitID == nil || !actor.CanAccessOrgUnit(*target.OrgUnitID) {
		return Decision{Reason: ReasonOutsideOrgScope}
	}
	return Decision{Allowed: true}
}
