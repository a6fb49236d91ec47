package rbac

import "context"

type snapshotContextKey struct{}
type sessionContextKey struct{}

// ContextWithSnapshot attaches the resolved snapshot to the request context.
// The snapshot is constructed once per request and never mutated afterwards.
func ContextWithSnapshot(ctx context.Context, snap *AuthSnapshot) context.Context {
	if snap == nil {
		return ctx
	}
	return context.WithValue(ctx, snapshotContextKey{}, snap)
}

// SnapshotFromContext extracts the authenticated snapshot from the context.
func SnapshotFromContext(ctx context.Context) (*AuthSnapshot, bool) {
	if ctx == nil {
		return nil, false
	}
	v, ok := ctx.Value(snapshotContextKey{}).(*AuthSnapshot)
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// ContextWithSession stores the resolved session alongside the snapshot.
func ContextWithSession(ctx context.Context, sess Session) context.Context {
	if sess.ID == "" {
		return ctx
	}
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// SessionFromContext returns the session attached by the request middleware.
func SessionFromContext(ctx context.Context) (Session, bool) {
	if ctx == nil {
		return Session{}, false
	}
	v, ok := ctx.Value(sessionContextKey{}).(Session)
	if !ok || v.ID == "" {
		return Session{}, false
	}
	return v, true
}
