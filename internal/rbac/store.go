package rbac

import (
	"context"
	"time"
)

// Store describes the authoritative relational store consumed by the engine.
// Implementations must be safe for concurrent use; the engine never holds
// locks across these calls.
type Store interface {
	// Users.
	GetUser(ctx context.Context, userID string) (User, error)
	FindUserByIdentifier(ctx context.Context, identifier string) (User, error)
	UserRoles(ctx context.Context, userID string) ([]Role, error)
	PolicyVersion(ctx context.Context, userID string) (int64, error)

	// Policy version fan-out. Each bump is a single statement against the
	// affected user set; versions only increase.
	BumpPolicyVersion(ctx context.Context, userID string) error
	BumpPolicyVersionForRole(ctx context.Context, roleID string) error
	BumpPolicyVersionForPolicy(ctx context.Context, policyID string) error

	// Roles.
	CreateRole(ctx context.Context, name, description string, level int) (Role, error)
	GetRole(ctx context.Context, roleID string) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	UpdateRole(ctx context.Context, roleID string, upd RoleUpdate) (Role, error)
	DeleteRole(ctx context.Context, roleID string) error
	RolePolicies(ctx context.Context, roleID string) ([]Policy, error)
	SetRolePolicies(ctx context.Context, roleID string, policyKeys []string) error
	AssignRole(ctx context.Context, userID, roleID string) (UserRole, error)
	RemoveRole(ctx context.Context, userID, roleID string) error

	// Policies.
	CreatePolicy(ctx context.Context, key, category string) (Policy, error)
	GetPolicy(ctx context.Context, policyID string) (Policy, error)
	ListPolicies(ctx context.Context) ([]Policy, error)
	SetPolicyActive(ctx context.Context, policyID string, active bool) error
	EnsurePolicies(ctx context.Context, policies []Policy) error

	// Org units.
	ListOrgUnits(ctx context.Context) ([]OrgUnit, error)
	CreateOrgUnit(ctx context.Context, name string, parentID *string) (OrgUnit, error)

	// Sessions.
	CreateSession(ctx context.Context, sess Session) error
	GetSession(ctx context.Context, sessionID string) (Session, error)
	SessionExpiry(ctx context.Context, sessionID string) (time.Time, error)
	DeleteSession(ctx context.Context, sessionID string) error
	DeleteSessionsForUser(ctx context.Context, userID string) ([]string, error)

	// Audit.
	AppendAudit(ctx context.Context, entry *AuditEntry) error
}

// RoleUpdate carries optional role field changes.
type RoleUpdate struct {
	Name        *string
	Description *string
	Level       *int
}

// SessionCache is the derived, disposable cache consulted before full
// resolution. A miss is always recoverable by resolving from the store.
type SessionCache interface {
	Get(ctx context.Context, sessionID string) (*AuthSnapshot, Session, bool)
	Put(sessionID string, snap *AuthSnapshot, sess Session)
	Evict(sessionID string)
}

// AuditSink records RBAC mutations best-effort. Implementations must never
// fail the governing mutation; errors are logged and swallowed internally.
type AuditSink interface {
	Emit(ctx context.Context, entry AuditEntry)
}
