package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"orgcore.io/internal/obs"
	"orgcore.io/internal/rbac"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	logger := obs.Logger()
	original := logger.Writer()
	logger.SetFlags(0)
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	t.Cleanup(func() { logger.SetOutput(original) })
	return &buf
}

func TestLogEvent(t *testing.T) {
	buf := captureLog(t)

	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-123")
	ctx = rbac.ContextWithSnapshot(ctx, &rbac.AuthSnapshot{UserID: "user-42"})

	if err := LogEvent(ctx, "audit.test", map[string]any{"foo": "bar"}); err != nil {
		t.Fatalf("LogEvent failed: %v", err)
	}

	line := buf.String()
	if line == "" {
		t.Fatal("expected log output")
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["type"] != "audit" {
		t.Fatalf("unexpected type: %v", entry["type"])
	}
	if entry["event"] != "audit.test" {
		t.Fatalf("unexpected event: %v", entry["event"])
	}
	if entry["request_id"] != "req-123" {
		t.Fatalf("unexpected request id: %v", entry["request_id"])
	}
	if entry["user_id"] != "user-42" {
		t.Fatalf("unexpected user id: %v", entry["user_id"])
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok || fields["foo"] != "bar" {
		t.Fatalf("fields missing or incorrect: %v", entry["fields"])
	}
}

type appendStore struct {
	entries []*rbac.AuditEntry
	err     error
}

func (s *appendStore) AppendAudit(_ context.Context, entry *rbac.AuditEntry) error {
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, entry)
	return nil
}

func TestEmitterPersistsEntry(t *testing.T) {
	captureLog(t)

	store := &appendStore{}
	e := NewEmitter(store)
	e.Emit(context.Background(), rbac.AuditEntry{
		ActorUserID: "u1",
		Action:      "rbac.role.assign",
		Entity:      "user_role",
		EntityID:    "t1",
		Meta:        map[string]any{"role_id": "r1"},
	})

	if len(store.entries) != 1 {
		t.Fatalf("expected one persisted entry, got %d", len(store.entries))
	}
	got := store.entries[0]
	if got.ID == "" {
		t.Fatal("expected generated entry id")
	}
	if got.OccurredAt.IsZero() {
		t.Fatal("expected occurred_at to be filled")
	}
}

func TestEmitterSwallowsStoreFailure(t *testing.T) {
	buf := captureLog(t)

	e := NewEmitter(&appendStore{err: errors.New("disk full")})
	e.Emit(context.Background(), rbac.AuditEntry{Action: "rbac.role.delete", Entity: "role", EntityID: "r1"})

	if !strings.Contains(buf.String(), "audit_append_failed") {
		t.Fatalf("expected failure log line, got %q", buf.String())
	}
}

func TestEmitterWithoutStoreLogsOnly(t *testing.T) {
	buf := captureLog(t)

	e := NewEmitter(nil)
	e.Emit(context.Background(), rbac.AuditEntry{Action: "session.login", Entity: "session", EntityID: "tok"})

	if !strings.Contains(buf.String(), "session.login") {
		t.Fatalf("expected log line, got %q", buf.String())
	}
}
