// Package audit records RBAC mutations. Every entry goes to the JSON log
// stream; when a store is attached the entry is persisted as well. Writes
// are best-effort: an audit failure must never abort the mutation it
// describes.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"orgcore.io/internal/ids"
	"orgcore.io/internal/obs"
	"orgcore.io/internal/rbac"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// requestIDFromContext extracts the audit request id from context if present.
func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Store persists audit entries.
type Store interface {
	AppendAudit(ctx context.Context, entry *rbac.AuditEntry) error
}

// Broadcaster pushes entries to live subscribers, e.g. the SSE audit feed.
type Broadcaster interface {
	Publish(entry rbac.AuditEntry)
}

// Emitter is the rbac.AuditSink wired into the engine.
type Emitter struct {
	store     Store
	broadcast Broadcaster
	now       func() time.Time
}

var _ rbac.AuditSink = (*Emitter)(nil)

// Option configures the emitter.
type Option func(*Emitter)

// WithBroadcaster attaches a live audit feed.
func WithBroadcaster(b Broadcaster) Option {
	return func(e *Emitter) { e.broadcast = b }
}

// NewEmitter builds an emitter. A nil store keeps log-only behavior.
func NewEmitter(store Store, opts ...Option) *Emitter {
	e := &Emitter{store: store, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Emit logs the entry and appends it to the store. Failures are logged and
// swallowed.
func (e *Emitter) Emit(ctx context.Context, entry rbac.AuditEntry) {
	if entry.ID == "" {
		entry.ID = ids.New()
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = e.now().UTC()
	}

	fields := map[string]any{
		"entity":    entry.Entity,
		"entity_id": entry.EntityID,
	}
	if entry.ActorUserID != "" {
		fields["actor_user_id"] = entry.ActorUserID
	}
	for k, v := range entry.Meta {
		fields[k] = v
	}
	_ = LogEvent(ctx, entry.Action, fields)

	if bypass, ok := entry.Meta["super_admin_bypass"].(bool); ok && bypass {
		obs.AuthzBypassed()
	}

	if e.broadcast != nil {
		e.broadcast.Publish(entry)
	}

	if e.store == nil {
		return
	}
	if err := e.store.AppendAudit(ctx, &entry); err != nil {
		obs.LogEvent("error", "audit_append_failed", map[string]any{
			"audit_id": entry.ID,
			"action":   entry.Action,
			"error":    err.Error(),
		})
	}
}

// LogEvent writes an audit log entry enriched with request and actor context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	entry := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"type":  "audit",
		"event": event,
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
	}
	if snap, ok := rbac.SnapshotFromContext(ctx); ok {
		entry["user_id"] = snap.UserID
	}
	if len(fields) > 0 {
		copyFields := make(map[string]any, len(fields))
		for k, v := range fields {
			copyFields[k] = v
		}
		entry["fields"] = copyFields
	} else {
		entry["fields"] = map[string]any{}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}
