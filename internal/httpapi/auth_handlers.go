package httpapi

import (
	"net/http"
	"strings"
	"time"

	"orgcore.io/internal/rbac"
)

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type loginResponse struct {
	Token     string             `json:"token"`
	ExpiresAt time.Time          `json:"expires_at"`
	User      *rbac.AuthSnapshot `json:"user"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Identifier) == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "identifier and password are required")
		return
	}

	sess, snap, err := a.svc.Login(r.Context(), req.Identifier, req.Password)
	if err != nil {
		handleRBACError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     sess.ID,
		ExpiresAt: sess.ExpiresAt,
		User:      snap,
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	sess, ok := rbac.SessionFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	if err := a.svc.InvalidateSession(r.Context(), sess.ID); err != nil {
		handleRBACError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	snap, err := a.svc.RequireAuthenticated(r.Context())
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
