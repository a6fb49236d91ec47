package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"orgcore.io/internal/rbac"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/v1/auth/login",
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
	"/",
}

// withSession resolves the bearer token into an auth snapshot and attaches
// both to the request context. Everything outside the public set requires a
// live session.
func (a *API) withSession(next http.Handler) http.Handler {
	if a == nil || a.svc == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		snap, sess, err := a.svc.ResolveSession(r.Context(), token)
		if err != nil {
			switch {
			case errors.Is(err, rbac.ErrUnauthenticated):
				writeError(w, r, http.StatusUnauthorized, "invalid or expired session")
			case errors.Is(err, rbac.ErrUnavailable):
				writeError(w, r, http.StatusServiceUnavailable, "store unavailable")
			default:
				writeError(w, r, http.StatusInternalServerError, "authentication error")
			}
			return
		}

		ctx := rbac.ContextWithSnapshot(r.Context(), snap)
		ctx = rbac.ContextWithSession(ctx, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
