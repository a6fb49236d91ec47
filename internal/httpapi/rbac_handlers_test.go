package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"orgcore.io/internal/rbac"
)

func TestCreateRoleRequiresPolicy(t *testing.T) {
	// session holds only staff.view, not roles.create
	store := sessionStubStore([]rbac.Policy{{Key: rbac.PolicyStaffView, IsActive: true}}, false)
	a := newTestAPI(t, store)

	rr := doRequest(t, a, http.MethodPost, "/v1/roles", "tok-good", map[string]any{
		"name": "Manager",
	})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestCreateRoleWithPolicy(t *testing.T) {
	store := sessionStubStore([]rbac.Policy{{Key: rbac.PolicyRolesCreate, IsActive: true}}, false)
	a := newTestAPI(t, store)

	rr := doRequest(t, a, http.MethodPost, "/v1/roles", "tok-good", map[string]any{
		"name":  "Manager",
		"level": 10,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if loc := rr.Header().Get("Location"); loc != "/v1/roles/role-1" {
		t.Fatalf("unexpected Location %q", loc)
	}
}

func TestSuperAdminBypassesPolicyGate(t *testing.T) {
	store := sessionStubStore(nil, true)
	a := newTestAPI(t, store)

	rr := doRequest(t, a, http.MethodPost, "/v1/roles", "tok-good", map[string]any{
		"name": "Manager",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201 for SuperAdmin, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestDeleteRoleBumpsHolders(t *testing.T) {
	store := sessionStubStore([]rbac.Policy{{Key: rbac.PolicyRolesDelete, IsActive: true}}, false)
	var calls []string
	store.bumpRoleFn = func(_ context.Context, id string) error {
		calls = append(calls, "bump:"+id)
		return nil
	}
	store.deleteRoleFn = func(_ context.Context, id string) error {
		calls = append(calls, "delete:"+id)
		return nil
	}
	a := newTestAPI(t, store)

	rr := doRequest(t, a, http.MethodDelete, "/v1/roles/r9", "tok-good", nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(calls) != 2 || calls[0] != "bump:r9" || calls[1] != "delete:r9" {
		t.Fatalf("unexpected call order %v", calls)
	}
}

func TestAssignRoleViaDelegationGuard(t *testing.T) {
	ops := "ops"
	actor := rbac.User{ID: "u1", Status: rbac.UserStatusActive, OrgUnitID: &ops}
	target := rbac.User{ID: "t1", Status: rbac.UserStatusActive, OrgUnitID: &ops}

	store := sessionStubStore(nil, false)
	store.getUserFn = func(_ context.Context, id string) (rbac.User, error) {
		switch id {
		case "u1":
			return actor, nil
		case "t1":
			return target, nil
		}
		return rbac.User{}, rbac.ErrNotFound
	}
	store.userRolesFn = func(_ context.Context, id string) ([]rbac.Role, error) {
		if id == "u1" {
			return []rbac.Role{{ID: "actor-role"}}, nil
		}
		return nil, nil
	}
	store.rolePoliciesFn = func(_ context.Context, roleID string) ([]rbac.Policy, error) {
		if roleID == "actor-role" {
			return []rbac.Policy{{Key: rbac.PolicyUsersAssignRole, IsActive: true}}, nil
		}
		return []rbac.Policy{{Key: rbac.PolicyStaffView, IsActive: true}}, nil
	}
	store.listOrgUnitsFn = func(context.Context) ([]rbac.OrgUnit, error) {
		return []rbac.OrgUnit{{ID: "ops"}}, nil
	}
	var bumped string
	store.bumpUserFn = func(_ context.Context, id string) error {
		bumped = id
		return nil
	}
	a := newTestAPI(t, store)

	rr := doRequest(t, a, http.MethodPost, "/v1/users/t1/roles", "tok-good", map[string]any{
		"role_id": "grantable",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if bumped != "t1" {
		t.Fatalf("expected target version bump, got %q", bumped)
	}
}

func TestAssignRoleEscalationForbidden(t *testing.T) {
	ops := "ops"
	actor := rbac.User{ID: "u1", Status: rbac.UserStatusActive, OrgUnitID: &ops}
	target := rbac.User{ID: "t1", Status: rbac.UserStatusActive, OrgUnitID: &ops}

	store := sessionStubStore(nil, false)
	store.getUserFn = func(_ context.Context, id string) (rbac.User, error) {
		switch id {
		case "u1":
			return actor, nil
		case "t1":
			return target, nil
		}
		return rbac.User{}, rbac.ErrNotFound
	}
	store.userRolesFn = func(_ context.Context, id string) ([]rbac.Role, error) {
		if id == "u1" {
			return []rbac.Role{{ID: "actor-role"}}, nil
		}
		return nil, nil
	}
	store.rolePoliciesFn = func(_ context.Context, roleID string) ([]rbac.Policy, error) {
		if roleID == "actor-role" {
			return []rbac.Policy{{Key: rbac.PolicyUsersAssignRole, IsActive: true}}, nil
		}
		// the granted role carries a privileged policy the actor lacks
		return []rbac.Policy{{Key: rbac.PolicySettingsGlobal, IsActive: true}}, nil
	}
	store.listOrgUnitsFn = func(context.Context) ([]rbac.OrgUnit, error) {
		return []rbac.OrgUnit{{ID: "ops"}}, nil
	}
	a := newTestAPI(t, store)

	rr := doRequest(t, a, http.MethodPost, "/v1/users/t1/roles", "tok-good", map[string]any{
		"role_id": "dangerous",
	})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestLogoutAllGatedAndEffective(t *testing.T) {
	store := sessionStubStore([]rbac.Policy{{Key: rbac.PolicyUsersManage, IsActive: true}}, false)
	var requested string
	store.deleteSessionsForUserFn = func(_ context.Context, userID string) ([]string, error) {
		requested = userID
		return []string{"tok-a", "tok-b"}, nil
	}
	a := newTestAPI(t, store)

	rr := doRequest(t, a, http.MethodPost, "/v1/users/t1/logout-all", "tok-good", nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rr.Code, rr.Body.String())
	}
	if requested != "t1" {
		t.Fatalf("expected invalidation for t1, got %q", requested)
	}

	// without users.manage the endpoint is forbidden
	store2 := sessionStubStore([]rbac.Policy{{Key: rbac.PolicyStaffView, IsActive: true}}, false)
	a2 := newTestAPI(t, store2)
	rr = doRequest(t, a2, http.MethodPost, "/v1/users/t1/logout-all", "tok-good", nil)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestAuthzCheck(t *testing.T) {
	store := sessionStubStore([]rbac.Policy{{Key: rbac.PolicyStaffView, IsActive: true}}, false)
	a := newTestAPI(t, store)

	rr := doRequest(t, a, http.MethodGet, "/v1/authz/check?policy=staff.view", "tok-good", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["allowed"] != true {
		t.Fatalf("expected allowed=true, got %v", body)
	}

	rr = doRequest(t, a, http.MethodGet, "/v1/authz/check?policy=admin.panel", "tok-good", nil)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for missing policy, got %d", rr.Code)
	}

	// unknown key is a configuration error and fails loudly
	rr = doRequest(t, a, http.MethodGet, "/v1/authz/check?policy=made.up", "tok-good", nil)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for unknown policy key, got %d", rr.Code)
	}
}
