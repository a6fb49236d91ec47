package rbac

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"orgcore.io/internal/ids"
)

const defaultSessionTTL = 12 * time.Hour

// Service provides the authorization engine: snapshot resolution, session
// handling, delegation checks and every RBAC mutation with its policy
// version fan-out.
type Service struct {
	store Store
	cache SessionCache
	audit AuditSink
	class Classification

	sessionTTL time.Duration
	now        func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithSessionCache attaches the session-keyed snapshot cache. Without it the
// engine resolves every request from the store, which is valid but slow.
func WithSessionCache(cache SessionCache) ServiceOption {
	return func(s *Service) { s.cache = cache }
}

// WithAuditSink attaches the best-effort mutation recorder.
func WithAuditSink(sink AuditSink) ServiceOption {
	return func(s *Service) { s.audit = sink }
}

// WithClassification overrides the privileged policy classification.
func WithClassification(class Classification) ServiceOption {
	return func(s *Service) { s.class = class }
}

// WithSessionTTL configures the lifetime of newly created sessions.
func WithSessionTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.sessionTTL = ttl
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the engine over the authoritative store.
func NewService(store Store, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("rbac: store is required")
	}
	svc := &Service{
		store:      store,
		class:      DefaultClassification(),
		sessionTTL: defaultSessionTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// EnsureBuiltins seeds the policy catalog. Existing rows are left untouched.
func (s *Service) EnsureBuiltins(ctx context.Context) error {
	return s.store.EnsurePolicies(ctx, BuiltinPolicies)
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

// Snapshot resolves the user's current authorization state. It has no side
// effects and is safe to call concurrently and repeatedly. Returns
// ErrNotFound when the user no longer exists.
func (s *Service) Snapshot(ctx context.Context, userID string) (*AuthSnapshot, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, unavailable(err)
	}

	roles, err := s.store.UserRoles(ctx, userID)
	if err != nil {
		return nil, unavailable(err)
	}

	policySet := make(map[string]struct{})
	for _, role := range roles {
		policies, err := s.store.RolePolicies(ctx, role.ID)
		if err != nil {
			return nil, unavailable(err)
		}
		for _, p := range policies {
			// Disabling a policy takes effect here, without touching
			// any role-policy link.
			if !p.IsActive {
				continue
			}
			policySet[p.Key] = struct{}{}
		}
	}
	policyKeys := make([]string, 0, len(policySet))
	for k := range policySet {
		policyKeys = append(policyKeys, k)
	}
	sort.Strings(policyKeys)

	var accessible []string
	if user.OrgUnitID != nil {
		resolver := NewScopeResolver(s.store)
		accessible, err = resolver.AccessibleUnits(ctx, *user.OrgUnitID)
		if err != nil {
			return nil, unavailable(err)
		}
	}

	return &AuthSnapshot{
		UserID:               user.ID,
		Name:                 user.Name,
		Email:                user.Email,
		EmployeeID:           user.EmployeeID,
		OrgUnitID:            user.OrgUnitID,
		Roles:                roles,
		Policies:             policyKeys,
		AccessibleOrgUnitIDs: accessible,
		IsSuperAdmin:         user.IsSuperAdmin,
		PolicyVersion:        user.PolicyVersion,
		ResolvedAt:           s.now().UTC(),
	}, nil
}

// Authenticate verifies credentials and returns the user's snapshot. The
// identifier is an email or employee id.
func (s *Service) Authenticate(ctx context.Context, identifier, secret string) (*AuthSnapshot, error) {
	identifier = strings.TrimSpace(strings.ToLower(identifier))
	if identifier == "" || secret == "" {
		return nil, ErrUnauthenticated
	}
	user, err := s.store.FindUserByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, unavailable(err)
	}
	if user.Status != UserStatusActive {
		return nil, ErrUnauthenticated
	}
	if err := VerifyPassword(user.PasswordHash, secret); err != nil {
		return nil, ErrUnauthenticated
	}
	return s.Snapshot(ctx, user.ID)
}

// Login authenticates and opens a session. The returned session ID is the
// opaque bearer token.
func (s *Service) Login(ctx context.Context, identifier, secret string) (Session, *AuthSnapshot, error) {
	snap, err := s.Authenticate(ctx, identifier, secret)
	if err != nil {
		return Session{}, nil, err
	}
	now := s.now().UTC()
	sess := Session{
		ID:         ids.NewToken(),
		UserID:     snap.UserID,
		LoginType:  LoginTypePassword,
		Identifier: identifier,
		ExpiresAt:  now.Add(s.sessionTTL),
		CreatedAt:  now,
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return Session{}, nil, unavailable(err)
	}
	if s.cache != nil {
		s.cache.Put(sess.ID, snap, sess)
	}
	s.emit(ctx, AuditEntry{
		ActorUserID: snap.UserID,
		Action:      "session.login",
		Entity:      "session",
		EntityID:    sess.ID,
		Meta:        map[string]any{"login_type": sess.LoginType},
	})
	return sess, snap, nil
}

// ResolveSession maps a bearer token to a snapshot, consulting the cache
// first. Cache failures degrade to full resolution, never to "fail open".
func (s *Service) ResolveSession(ctx context.Context, token string) (*AuthSnapshot, Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, Session{}, ErrUnauthenticated
	}
	if s.cache != nil {
		if snap, sess, ok := s.cache.Get(ctx, token); ok {
			return snap, sess, nil
		}
	}

	sess, err := s.store.GetSession(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, Session{}, ErrUnauthenticated
		}
		return nil, Session{}, unavailable(err)
	}
	if s.now().After(sess.ExpiresAt) {
		return nil, Session{}, ErrUnauthenticated
	}
	snap, err := s.Snapshot(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, Session{}, ErrUnauthenticated
		}
		return nil, Session{}, err
	}
	if s.cache != nil {
		s.cache.Put(token, snap, sess)
	}
	return snap, sess, nil
}

// Authorize enforces a policy gate against the snapshot attached to ctx.
// Unknown policy keys are a configuration error and fail loudly. SuperAdmin
// bypasses the membership check but is always audited.
func (s *Service) Authorize(ctx context.Context, policyKey string) (*AuthSnapshot, error) {
	if !KnownPolicyKey(policyKey) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPolicy, policyKey)
	}
	snap, ok := SnapshotFromContext(ctx)
	if !ok {
		return nil, ErrUnauthenticated
	}
	if snap.IsSuperAdmin {
		s.emit(ctx, AuditEntry{
			ActorUserID: snap.UserID,
			Action:      "authz.superadmin_bypass",
			Entity:      "policy",
			EntityID:    policyKey,
			Meta:        map[string]any{"super_admin_bypass": true},
		})
		return snap, nil
	}
	if !snap.HasPolicy(policyKey) {
		return nil, fmt.Errorf("%w: %s", ErrNoPolicy, policyKey)
	}
	return snap, nil
}

// RequireAuthenticated returns the request snapshot or fails closed.
func (s *Service) RequireAuthenticated(ctx context.Context) (*AuthSnapshot, error) {
	snap, ok := SnapshotFromContext(ctx)
	if !ok {
		return nil, ErrUnauthenticated
	}
	return snap, nil
}

// InvalidateSession terminates one session in the store and the cache.
func (s *Service) InvalidateSession(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("%w: session token is required", ErrInvalidInput)
	}
	// A session already deleted server-side is a successful invalidation,
	// not a caller error.
	if err := s.store.DeleteSession(ctx, token); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if s.cache != nil {
		s.cache.Evict(token)
	}
	s.emit(ctx, AuditEntry{
		ActorUserID: actorID(ctx),
		Action:      "session.invalidate",
		Entity:      "session",
		EntityID:    token,
	})
	return nil
}

// InvalidateAllSessionsForUser force-terminates every session of the user:
// rows are deleted and each cached entry is evicted, so the very next lookup
// misses with zero wait. This is the explicit half of the invalidation
// protocol; the implicit half is the cache's periodic policy version check.
func (s *Service) InvalidateAllSessionsForUser(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	tokens, err := s.store.DeleteSessionsForUser(ctx, userID)
	if err != nil {
		return err
	}
	if s.cache != nil {
		for _, t := range tokens {
			s.cache.Evict(t)
		}
	}
	s.emit(ctx, AuditEntry{
		ActorUserID: actorID(ctx),
		Action:      "session.invalidate_all",
		Entity:      "user",
		EntityID:    userID,
		Meta:        map[string]any{"sessions": len(tokens)},
	})
	return nil
}

// CanAssignRole evaluates the delegation guard without mutating anything.
func (s *Service) CanAssignRole(ctx context.Context, actorID, targetID, roleID string) (Decision, error) {
	return s.evaluateDelegation(ctx, actorID, targetID, roleID)
}

// CanRemoveRole mirrors CanAssignRole: revoking somebody's role is the same
// delegated power as granting it.
func (s *Service) CanRemoveRole(ctx context.Context, actorID, targetID, roleID string) (Decision, error) {
	return s.evaluateDelegation(ctx, actorID, targetID, roleID)
}

func (s *Service) evaluateDelegation(ctx context.Context, actorUserID, targetID, roleID string) (Decision, error) {
	actor, err := s.Snapshot(ctx, actorUserID)
	if err != nil {
		return Decision{}, err
	}
	target, err := s.store.GetUser(ctx, targetID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Decision{}, err
		}
		return Decision{}, unavailable(err)
	}
	if _, err := s.store.GetRole(ctx, roleID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return Decision{}, err
		}
		return Decision{}, unavailable(err)
	}
	rolePolicies, err := s.store.RolePolicies(ctx, roleID)
	if err != nil {
		return Decision{}, unavailable(err)
	}
	return EvaluateDelegation(actor, target, rolePolicies, s.class), nil
}

// AssignRole grants roleID to targetID after the delegation guard passes,
// bumps the target's policy version and records the mutation.
func (s *Service) AssignRole(ctx context.Context, actorUserID, targetID, roleID string) error {
	decision, err := s.evaluateDelegation(ctx, actorUserID, targetID, roleID)
	if err != nil {
		return err
	}
	if !decision.Allowed {
		return decision.DenialError()
	}
	if _, err := s.store.AssignRole(ctx, targetID, roleID); err != nil {
		return err
	}
	if err := s.store.BumpPolicyVersion(ctx, targetID); err != nil {
		return err
	}
	s.emit(ctx, AuditEntry{
		ActorUserID: actorUserID,
		Action:      "rbac.role.assign",
		Entity:      "user_role",
		EntityID:    targetID,
		Meta: map[string]any{
			"role_id":            roleID,
			"super_admin_bypass": decision.SuperAdminBypass,
		},
	})
	return nil
}

// RemoveRole revokes roleID from targetID with the same guard semantics.
func (s *Service) RemoveRole(ctx context.Context, actorUserID, targetID, roleID string) error {
	decision, err := s.evaluateDelegation(ctx, actorUserID, targetID, roleID)
	if err != nil {
		return err
	}
	if !decision.Allowed {
		return decision.DenialError()
	}
	if err := s.store.RemoveRole(ctx, targetID, roleID); err != nil {
		return err
	}
	if err := s.store.BumpPolicyVersion(ctx, targetID); err != nil {
		return err
	}
	s.emit(ctx, AuditEntry{
		ActorUserID: actorUserID,
		Action:      "rbac.role.remove",
		Entity:      "user_role",
		EntityID:    targetID,
		Meta: map[string]any{
			"role_id":            roleID,
			"super_admin_bypass": decision.SuperAdminBypass,
		},
	})
	return nil
}

// CreateRole creates an empty role.
func (s *Service) CreateRole(ctx context.Context, name, description string, level int) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	role, err := s.store.CreateRole(ctx, name, strings.TrimSpace(description), level)
	if err != nil {
		return Role{}, err
	}
	s.emit(ctx, AuditEntry{
		ActorUserID: actorID(ctx),
		Action:      "rbac.role.create",
		Entity:      "role",
		EntityID:    role.ID,
		Meta:        map[string]any{"name": role.Name},
	})
	return role, nil
}

// UpdateRole edits role metadata. Metadata changes do not alter anyone's
// capabilities, so no version bump happens here.
func (s *Service) UpdateRole(ctx context.Context, roleID string, upd RoleUpdate) (Role, error) {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return Role{}, fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	if upd.Name != nil {
		trimmed := strings.TrimSpace(*upd.Name)
		if trimmed == "" {
			return Role{}, fmt.Errorf("%w: role name is required", ErrInvalidInput)
		}
		upd.Name = &trimmed
	}
	role, err := s.store.UpdateRole(ctx, roleID, upd)
	if err != nil {
		return Role{}, err
	}
	s.emit(ctx, AuditEntry{
		ActorUserID: actorID(ctx),
		Action:      "rbac.role.update",
		Entity:      "role",
		EntityID:    role.ID,
	})
	return role, nil
}

// DeleteRole removes a role. Every holder's policy version is bumped before
// the role row disappears, so their cached snapshots go stale even though
// the assignment rows are already gone afterwards.
func (s *Service) DeleteRole(ctx context.Context, roleID string) error {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	if err := s.store.BumpPolicyVersionForRole(ctx, roleID); err != nil {
		return err
	}
	if err := s.store.DeleteRole(ctx, roleID); err != nil {
		return err
	}
	s.emit(ctx, AuditEntry{
		ActorUserID: actorID(ctx),
		Action:      "rbac.role.delete",
		Entity:      "role",
		EntityID:    roleID,
	})
	return nil
}

// SetRolePolicies replaces the role's policy set and bumps every holder.
func (s *Service) SetRolePolicies(ctx context.Context, roleID string, policyKeys []string) error {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	keys := dedupeKeys(policyKeys)
	for _, key := range keys {
		if !ValidPolicyKey(key) {
			return fmt.Errorf("%w: malformed policy key %s", ErrInvalidInput, key)
		}
	}
	if err := s.store.SetRolePolicies(ctx, roleID, keys); err != nil {
		return err
	}
	if err := s.store.BumpPolicyVersionForRole(ctx, roleID); err != nil {
		return err
	}
	s.emit(ctx, AuditEntry{
		ActorUserID: actorID(ctx),
		Action:      "rbac.role.set_policies",
		Entity:      "role",
		EntityID:    roleID,
		Meta:        map[string]any{"policies": keys},
	})
	return nil
}

// ListRoles lists all roles.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.store.ListRoles(ctx)
}

// GetRole fetches a single role.
func (s *Service) GetRole(ctx context.Context, roleID string) (Role, error) {
	return s.store.GetRole(ctx, roleID)
}

// RolePolicies lists the role's policy links, active or not.
func (s *Service) RolePolicies(ctx context.Context, roleID string) ([]Policy, error) {
	return s.store.RolePolicies(ctx, roleID)
}

// CreatePolicy adds a policy to the catalog. Keys are validated and
// immutable afterwards.
func (s *Service) CreatePolicy(ctx context.Context, key, category string) (Policy, error) {
	key = strings.TrimSpace(key)
	if !ValidPolicyKey(key) {
		return Policy{}, fmt.Errorf("%w: malformed policy key %q", ErrInvalidInput, key)
	}
	policy, err := s.store.CreatePolicy(ctx, key, strings.TrimSpace(category))
	if err != nil {
		return Policy{}, err
	}
	s.emit(ctx, AuditEntry{
		ActorUserID: actorID(ctx),
		Action:      "rbac.policy.create",
		Entity:      "policy",
		EntityID:    policy.ID,
		Meta:        map[string]any{"key": policy.Key},
	})
	return policy, nil
}

// SetPolicyActive flips the policy's soft-disable flag and bumps every user
// holding any role containing it. Both directions change effective
// permissions, so both fan out.
func (s *Service) SetPolicyActive(ctx context.Context, policyID string, active bool) error {
	policyID = strings.TrimSpace(policyID)
	if policyID == "" {
		return fmt.Errorf("%w: policy_id is required", ErrInvalidInput)
	}
	if err := s.store.SetPolicyActive(ctx, policyID, active); err != nil {
		return err
	}
	if err := s.store.BumpPolicyVersionForPolicy(ctx, policyID); err != nil {
		return err
	}
	action := "rbac.policy.disable"
	if active {
		action = "rbac.policy.enable"
	}
	s.emit(ctx, AuditEntry{
		ActorUserID: actorID(ctx),
		Action:      action,
		Entity:      "policy",
		EntityID:    policyID,
	})
	return nil
}

// ListPolicies lists the policy catalog.
func (s *Service) ListPolicies(ctx context.Context) ([]Policy, error) {
	return s.store.ListPolicies(ctx)
}

// CreateOrgUnit adds a node to the organizational tree.
func (s *Service) CreateOrgUnit(ctx context.Context, name string, parentID *string) (OrgUnit, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return OrgUnit{}, fmt.Errorf("%w: org unit name is required", ErrInvalidInput)
	}
	unit, err := s.store.CreateOrgUnit(ctx, name, parentID)
	if err != nil {
		return OrgUnit{}, err
	}
	s.emit(ctx, AuditEntry{
		ActorUserID: actorID(ctx),
		Action:      "rbac.orgunit.create",
		Entity:      "org_unit",
		EntityID:    unit.ID,
		Meta:        map[string]any{"name": unit.Name},
	})
	return unit, nil
}

// ListOrgUnits lists the organizational tree.
func (s *Service) ListOrgUnits(ctx context.Context) ([]OrgUnit, error) {
	return s.store.ListOrgUnits(ctx)
}

// OrgUnitDescendants returns the closed descendant set of a unit.
func (s *Service) OrgUnitDescendants(ctx context.Context, unitID string) ([]string, error) {
	unitID = strings.TrimSpace(unitID)
	if unitID == "" {
		return nil, fmt.Errorf("%w: org_unit_id is required", ErrInvalidInput)
	}
	return NewScopeResolver(s.store).AccessibleUnits(ctx, unitID)
}

func (s *Service) emit(ctx context.Context, entry AuditEntry) {
	if s.audit == nil {
		return
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = s.now().UTC()
	}
	s.audit.Emit(ctx, entry)
}

func actorID(ctx context.Context) string {
	if snap, ok := SnapshotFromContext(ctx); ok {
		return snap.UserID
	}
	return ""
}

func dedupeKeys(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := set[v]; ok {
			continue
		}
		set[v] = struct{}{}
		result = append(result, v)
	}
	return result
}
