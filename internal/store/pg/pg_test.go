package pg

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"orgcore.io/internal/rbac"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(db), mock
}

func verify(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetUserNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("select (.+) from users").WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.GetUser(context.Background(), "ghost")
	if !errors.Is(err, rbac.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	verify(t, mock)
}

func TestBumpPolicyVersion(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("policy_version = policy_version + 1")).
		WithArgs("u1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.BumpPolicyVersion(context.Background(), "u1"); err != nil {
		t.Fatalf("BumpPolicyVersion: %v", err)
	}
	verify(t, mock)
}

func TestBumpPolicyVersionMissingUser(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("policy_version = policy_version + 1")).
		WithArgs("ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.BumpPolicyVersion(context.Background(), "ghost"); !errors.Is(err, rbac.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	verify(t, mock)
}

func TestBumpPolicyVersionForRoleFansOut(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("where id in (select user_id from user_roles where role_id = $1)")).
		WithArgs("r1").
		WillReturnResult(sqlmock.NewResult(0, 4))

	if err := store.BumpPolicyVersionForRole(context.Background(), "r1"); err != nil {
		t.Fatalf("BumpPolicyVersionForRole: %v", err)
	}
	verify(t, mock)
}

func TestBumpPolicyVersionForPolicyFansOut(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("join role_policies rp on rp.role_id = ur.role_id")).
		WithArgs("p1").
		WillReturnResult(sqlmock.NewResult(0, 2))

	if err := store.BumpPolicyVersionForPolicy(context.Background(), "p1"); err != nil {
		t.Fatalf("BumpPolicyVersionForPolicy: %v", err)
	}
	verify(t, mock)
}

func TestCreateRoleConflict(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("insert into roles").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	_, err := store.CreateRole(context.Background(), "Manager", "", 10)
	if !errors.Is(err, rbac.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	verify(t, mock)
}

func TestAssignRoleForeignKeyMapsToNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("insert into user_roles").
		WithArgs("ghost", "r1").
		WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation})

	_, err := store.AssignRole(context.Background(), "ghost", "r1")
	if !errors.Is(err, rbac.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	verify(t, mock)
}

func TestAssignRoleDuplicateConflict(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("insert into user_roles").
		WithArgs("u1", "r1").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	_, err := store.AssignRole(context.Background(), "u1", "r1")
	if !errors.Is(err, rbac.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	verify(t, mock)
}

func TestSetRolePoliciesReplacesLinks(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("select 1 from roles").WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectExec("delete from role_policies").WithArgs("r1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectQuery("select id from policies").WithArgs("staff.view").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("p1"))
	mock.ExpectExec("insert into role_policies").WithArgs("r1", "p1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := store.SetRolePolicies(context.Background(), "r1", []string{"staff.view"}); err != nil {
		t.Fatalf("SetRolePolicies: %v", err)
	}
	verify(t, mock)
}

func TestSetRolePoliciesUnknownKey(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("select 1 from roles").WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectExec("delete from role_policies").WithArgs("r1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select id from policies").WithArgs("made.up").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	err := store.SetRolePolicies(context.Background(), "r1", []string{"made.up"})
	if !errors.Is(err, rbac.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	verify(t, mock)
}

func TestDeleteSessionsForUserReturnsIDs(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("delete from sessions where user_id = $1 returning id")).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("tok-1").AddRow("tok-2"))

	deleted, err := store.DeleteSessionsForUser(context.Background(), "u1")
	if err != nil {
		t.Fatalf("DeleteSessionsForUser: %v", err)
	}
	if len(deleted) != 2 || deleted[0] != "tok-1" || deleted[1] != "tok-2" {
		t.Fatalf("unexpected ids %v", deleted)
	}
	verify(t, mock)
}

func TestSessionExpiry(t *testing.T) {
	store, mock := newMockStore(t)
	expiry := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery("select expires_at from sessions").WithArgs("tok-1").
		WillReturnRows(sqlmock.NewRows([]string{"expires_at"}).AddRow(expiry))

	got, err := store.SessionExpiry(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("SessionExpiry: %v", err)
	}
	if !got.Equal(expiry) {
		t.Fatalf("expiry = %v, want %v", got, expiry)
	}

	mock.ExpectQuery("select expires_at from sessions").WithArgs("gone").
		WillReturnRows(sqlmock.NewRows([]string{"expires_at"}))
	if _, err := store.SessionExpiry(context.Background(), "gone"); !errors.Is(err, rbac.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	verify(t, mock)
}

func TestEnsurePoliciesIdempotent(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("insert into policies").
		WithArgs(sqlmock.AnyArg(), "users.view", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into policies").
		WithArgs(sqlmock.AnyArg(), "users.manage", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := store.EnsurePolicies(context.Background(), []rbac.Policy{
		{Key: "users.view", Category: "administration"},
		{Key: "users.manage", Category: "administration"},
	})
	if err != nil {
		t.Fatalf("EnsurePolicies: %v", err)
	}
	verify(t, mock)
}

func TestAppendAudit(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("insert into audit_log").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "rbac.role.assign", "user_role", "t1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	entry := &rbac.AuditEntry{
		ActorUserID: "a1",
		Action:      "rbac.role.assign",
		Entity:      "user_role",
		EntityID:    "t1",
		Meta:        map[string]any{"role_id": "r1"},
		OccurredAt:  time.Now().UTC(),
	}
	if err := store.AppendAudit(context.Background(), entry); err != nil {
		t.Fatalf("AppendAudit: %v", err)
	}
	if entry.ID == "" {
		t.Fatal("expected generated audit id")
	}
	verify(t, mock)
}
