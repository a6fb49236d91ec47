package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"orgcore.io/internal/rbac"
)

type createRoleRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Level       int    `json:"level"`
}

type updateRoleRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Level       *int    `json:"level"`
}

type setRolePoliciesRequest struct {
	Policies []string `json:"policies"`
}

type createPolicyRequest struct {
	Key      string `json:"key"`
	Category string `json:"category"`
}

type setPolicyActiveRequest struct {
	Active bool `json:"active"`
}

type createOrgUnitRequest struct {
	Name     string  `json:"name"`
	ParentID *string `json:"parent_id"`
}

type assignRoleRequest struct {
	RoleID string `json:"role_id"`
}

func (a *API) handleRoles(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !a.requirePolicy(w, r, rbac.PolicyUsersView) {
			return
		}
		roles, err := a.svc.ListRoles(r.Context())
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
	case http.MethodPost:
		if !a.requirePolicy(w, r, rbac.PolicyRolesCreate) {
			return
		}
		var req createRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		role, err := a.svc.CreateRole(r.Context(), req.Name, req.Description, req.Level)
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		w.Header().Set("Location", fmt.Sprintf("/v1/roles/%s", role.ID))
		writeJSON(w, http.StatusCreated, role)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleRoleResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/roles/")
	path = strings.Trim(path, "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	roleID := parts[0]

	switch {
	case len(parts) == 1:
		a.handleRole(w, r, roleID)
	case len(parts) == 2 && parts[1] == "policies":
		a.handleRolePolicies(w, r, roleID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleRole(w http.ResponseWriter, r *http.Request, roleID string) {
	switch r.Method {
	case http.MethodGet:
		if !a.requirePolicy(w, r, rbac.PolicyUsersView) {
			return
		}
		role, err := a.svc.GetRole(r.Context(), roleID)
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, role)
	case http.MethodPatch:
		if !a.requirePolicy(w, r, rbac.PolicyRolesUpdate) {
			return
		}
		var req updateRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		role, err := a.svc.UpdateRole(r.Context(), roleID, rbac.RoleUpdate{
			Name:        req.Name,
			Description: req.Description,
			Level:       req.Level,
		})
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, role)
	case http.MethodDelete:
		if !a.requirePolicy(w, r, rbac.PolicyRolesDelete) {
			return
		}
		if err := a.svc.DeleteRole(r.Context(), roleID); err != nil {
			handleRBACError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) handleRolePolicies(w http.ResponseWriter, r *http.Request, roleID string) {
	switch r.Method {
	case http.MethodGet:
		if !a.requirePolicy(w, r, rbac.PolicyUsersView) {
			return
		}
		policies, err := a.svc.RolePolicies(r.Context(), roleID)
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"policies": policies})
	case http.MethodPut:
		if !a.requirePolicy(w, r, rbac.PolicyPoliciesManage) {
			return
		}
		var req setRolePoliciesRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.svc.SetRolePolicies(r.Context(), roleID, req.Policies); err != nil {
			handleRBACError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
	}
}

func (a *API) handlePolicies(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !a.requirePolicy(w, r, rbac.PolicyUsersView) {
			return
		}
		policies, err := a.svc.ListPolicies(r.Context())
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"policies": policies})
	case http.MethodPost:
		if !a.requirePolicy(w, r, rbac.PolicyPoliciesManage) {
			return
		}
		var req createPolicyRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		policy, err := a.svc.CreatePolicy(r.Context(), req.Key, req.Category)
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		w.Header().Set("Location", fmt.Sprintf("/v1/policies/%s", policy.ID))
		writeJSON(w, http.StatusCreated, policy)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handlePolicyResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/policies/")
	path = strings.Trim(path, "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[1] != "active" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	if !a.requirePolicy(w, r, rbac.PolicyPoliciesManage) {
		return
	}
	var req setPolicyActiveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.SetPolicyActive(r.Context(), parts[0], req.Active); err != nil {
		handleRBACError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleOrgUnits(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !a.requirePolicy(w, r, rbac.PolicyOrgUnitsView) {
			return
		}
		units, err := a.svc.ListOrgUnits(r.Context())
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"org_units": units})
	case http.MethodPost:
		if !a.requirePolicy(w, r, rbac.PolicyOrgUnitsManage) {
			return
		}
		var req createOrgUnitRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		unit, err := a.svc.CreateOrgUnit(r.Context(), req.Name, req.ParentID)
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		w.Header().Set("Location", fmt.Sprintf("/v1/org-units/%s", unit.ID))
		writeJSON(w, http.StatusCreated, unit)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleOrgUnitResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/org-units/")
	path = strings.Trim(path, "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[1] != "descendants" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.requirePolicy(w, r, rbac.PolicyOrgUnitsView) {
		return
	}
	descendants, err := a.svc.OrgUnitDescendants(r.Context(), parts[0])
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"org_unit_ids": descendants})
}

func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/users/")
	path = strings.Trim(path, "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	userID := parts[0]

	switch {
	case len(parts) == 2 && parts[1] == "roles":
		a.handleUserRoles(w, r, userID)
	case len(parts) == 3 && parts[1] == "roles":
		a.handleUserRole(w, r, userID, parts[2])
	case len(parts) == 2 && parts[1] == "logout-all":
		a.handleLogoutAll(w, r, userID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

// handleUserRoles grants a role. The delegation guard inside the engine is
// the authorization here; no separate policy gate applies.
func (a *API) handleUserRoles(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	snap, err := a.svc.RequireAuthenticated(r.Context())
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	var req assignRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.RoleID = strings.TrimSpace(req.RoleID)
	if req.RoleID == "" {
		writeError(w, r, http.StatusBadRequest, "role_id is required")
		return
	}
	if err := a.svc.AssignRole(r.Context(), snap.UserID, userID, req.RoleID); err != nil {
		handleRBACError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"user_id": userID,
		"role_id": req.RoleID,
	})
}

func (a *API) handleUserRole(w http.ResponseWriter, r *http.Request, userID, roleID string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	snap, err := a.svc.RequireAuthenticated(r.Context())
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	if err := a.svc.RemoveRole(r.Context(), snap.UserID, userID, roleID); err != nil {
		handleRBACError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleLogoutAll(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.requirePolicy(w, r, rbac.PolicyUsersManage) {
		return
	}
	if err := a.svc.InvalidateAllSessionsForUser(r.Context(), userID); err != nil {
		handleRBACError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleAuthzCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	key := strings.TrimSpace(r.URL.Query().Get("policy"))
	if key == "" {
		writeError(w, r, http.StatusBadRequest, "policy query parameter is required")
		return
	}
	if _, err := a.svc.Authorize(r.Context(), key); err != nil {
		handleRBACError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"allowed": true, "policy": key})
}
