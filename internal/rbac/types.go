package rbac

import "time"

// User is an authenticated actor. PolicyVersion is a monotonic counter bumped
// on every mutation that changes what the user is allowed to do; cached
// snapshots compare it against the stored value to detect staleness.
type User struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	EmployeeID    string    `json:"employee_id,omitempty"`
	OrgUnitID     *string   `json:"org_unit_id,omitempty"`
	PolicyVersion int64     `json:"policy_version"`
	IsSuperAdmin  bool      `json:"is_super_admin"`
	PasswordHash  string    `json:"-"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

const (
	UserStatusActive   = "active"
	UserStatusDisabled = "disabled"
)

// Role is a named, reusable bundle of policies.
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Level       int       `json:"level,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Policy is an atomic permission key. Keys are immutable once created;
// IsActive soft-disables the policy everywhere without touching role links.
type Policy struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	Category  string    `json:"category,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserRole links a user to a role. Removal is a hard delete.
type UserRole struct {
	UserID    string    `json:"user_id"`
	RoleID    string    `json:"role_id"`
	CreatedAt time.Time `json:"created_at"`
}

// OrgUnit is a node in the organizational tree. The tree must stay acyclic
// and of finite depth; a malformed tree is an operator error, not a guarded
// case.
type OrgUnit struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	ParentID  *string   `json:"parent_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is a server-issued bearer credential. Its ID is the opaque token
// presented by callers; validity is always store-backed.
type Session struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	LoginType  string    `json:"login_type"`
	Identifier string    `json:"identifier"`
	ExpiresAt  time.Time `json:"expires_at"`
	CreatedAt  time.Time `json:"created_at"`
}

const LoginTypePassword = "password"

// AuditEntry records a single RBAC mutation. Entries are append-only.
type AuditEntry struct {
	ID          string         `json:"id"`
	ActorUserID string         `json:"actor_user_id"`
	Action      string         `json:"action"`
	Entity      string         `json:"entity"`
	EntityID    string         `json:"entity_id"`
	Meta        map[string]any `json:"meta,omitempty"`
	OccurredAt  time.Time      `json:"occurred_at"`
}

// AuthSnapshot is the resolved, cacheable projection of a user's roles,
// active policies and org scope at a point in time. It is a pure function of
// the store state and is never edited piecemeal.
type AuthSnapshot struct {
	UserID               string    `json:"user_id"`
	Name                 string    `json:"name"`
	Email                string    `json:"email"`
	EmployeeID           string    `json:"employee_id,omitempty"`
	OrgUnitID            *string   `json:"org_unit_id,omitempty"`
	Roles                []Role    `json:"roles"`
	Policies             []string  `json:"policies"`
	AccessibleOrgUnitIDs []string  `json:"accessible_org_unit_ids"`
	IsSuperAdmin         bool      `json:"is_super_admin"`
	PolicyVersion        int64     `json:"policy_version"`
	ResolvedAt           time.Time `json:"resolved_at"`
}

// HasPolicy reports whether the snapshot carries the given active policy key.
// SuperAdmin bypass is handled by callers, not here.
func (s *AuthSnapshot) HasPolicy(key string) bool {
	if s == nil {
		return false
	}
	for _, p := range s.Policies {
		if p == key {
			return true
		}
	}
	return false
}

// CanAccessOrgUnit reports whether unitID is inside the snapshot's accessible
// org scope.
func (s *AuthSnapshot) CanAccessOrgUnit(unitID string) bool {
	if s == nil || unitID == "" {
		return false
	}
	for _, id := range s.AccessibleOrgUnitIDs {
		if id == unitID {
			return true
		}
	}
	return false
}
