package tenancy

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	_ "github.com/mattn/go-sqlite3" // SQLite driver for testing

	"github.com/wardenhq/warden/pkg/audit"
	"github.com/wardenhq/warden/pkg/errdefs"
	"github.com/wardenhq/warden/pkg/observability"
	"github.com/wardenhq/warden/pkg/storage"
)

// setupTestDB creates an in-memory SQLite database with the full schema.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := storage.RunMigrations(context.Background(), db, storage.DialectSQLite); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}
	return db
}

func newTestService(t *testing.T) (*Service, *sql.DB) {
	t.Helper()

	db := setupTestDB(t)
	registry := audit.NewRegistry()
	if err := registry.Register(BusinessType, audit.Registration{Label: "tenant membership"}); err != nil {
		t.Fatalf("registering audit type: %v", err)
	}
	logger := observability.NewLogger(observability.WarnLevel, &bytes.Buffer{})
	recorder := audit.NewRecorder(audit.NewStore(), registry, logger, nil, audit.RecorderOptions{})

	seed := []string{
		`INSERT INTO tenants (code, name, is_enabled, created_at, updated_at) VALUES ('acme', 'Acme', TRUE, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`,
		`INSERT INTO tenants (code, name, is_enabled, created_at, updated_at) VALUES ('globex', 'Globex', TRUE, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`,
		`INSERT INTO tenants (code, name, is_enabled, created_at, updated_at) VALUES ('dormant', 'Dormant', FALSE, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`,
		`INSERT INTO users (username, created_at, updated_at) VALUES ('alice', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`,
		`INSERT INTO users (username, created_at, updated_at) VALUES ('bob', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`,
	}
	for _, stmt := range seed {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}

	return NewService(db, storage.DialectSQLite, recorder), db
}

const (
	tenantAcme    = int64(1)
	tenantGlobex  = int64(2)
	tenantDormant = int64(3)
	userAlice     = int64(1)
	userBob       = int64(2)
)

func assignCtx(op string) context.Context {
	return audit.WithOperation(context.Background(), &audit.OperationContext{
		BusinessType:  BusinessType,
		OperationType: op,
	})
}

func TestAssignUser(t *testing.T) {
	svc, db := newTestService(t)

	m, err := svc.AssignUser(assignCtx(audit.OpAssign), tenantAcme, userAlice, true, nil)
	if err != nil {
		t.Fatalf("AssignUser() error = %v", err)
	}
	if !m.IsPrimary || !m.IsAssigned {
		t.Errorf("unexpected membership flags: %+v", m)
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM audit_records WHERE business_type = 'tenant_user'`).Scan(&count); err != nil {
		t.Fatalf("counting audit records: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 audit record, got %d", count)
	}

	t.Run("missing tenant", func(t *testing.T) {
		_, err := svc.AssignUser(assignCtx(audit.OpAssign), 999, userAlice, false, nil)
		if !errdefs.IsNotFound(err) {
			t.Errorf("expected NotFoundError, got %v", err)
		}
	})

	t.Run("disabled tenant", func(t *testing.T) {
		_, err := svc.AssignUser(assignCtx(audit.OpAssign), tenantDormant, userAlice, false, nil)
		if !errdefs.IsValidation(err) {
			t.Errorf("expected ValidationError, got %v", err)
		}
	})

	t.Run("missing user", func(t *testing.T) {
		_, err := svc.AssignUser(assignCtx(audit.OpAssign), tenantAcme, 999, false, nil)
		if !errdefs.IsNotFound(err) {
			t.Errorf("expected NotFoundError, got %v", err)
		}
	})
}

func TestAssignUser_PrimaryMoves(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.AssignUser(assignCtx(audit.OpAssign), tenantAcme, userAlice, true, nil); err != nil {
		t.Fatalf("first assign: %v", err)
	}

	// Making a second tenant primary clears the first in the same
	// transaction, never tripping the single-primary index.
	if _, err := svc.AssignUser(assignCtx(audit.OpAssign), tenantGlobex, userAlice, true, nil); err != nil {
		t.Fatalf("second assign: %v", err)
	}

	primary, err := svc.PrimaryTenant(ctx, userAlice)
	if err != nil {
		t.Fatalf("PrimaryTenant() error = %v", err)
	}
	if primary.TenantID != tenantGlobex {
		t.Errorf("expected primary tenant %d, got %d", tenantGlobex, primary.TenantID)
	}

	memberships, err := svc.UserMemberships(ctx, userAlice)
	if err != nil {
		t.Fatalf("UserMemberships() error = %v", err)
	}
	if len(memberships) != 2 {
		t.Fatalf("expected 2 memberships, got %d", len(memberships))
	}
	for _, m := range memberships {
		if m.TenantID == tenantAcme && m.IsPrimary {
			t.Error("previous primary was not cleared")
		}
	}
}

func TestRevokeUser(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.AssignUser(assignCtx(audit.OpAssign), tenantAcme, userAlice, true, nil); err != nil {
		t.Fatalf("assign: %v", err)
	}

	changed, err := svc.RevokeUser(assignCtx(audit.OpRevoke), tenantAcme, userAlice)
	if err != nil {
		t.Fatalf("RevokeUser() error = %v", err)
	}
	if !changed {
		t.Error("expected revoke to report a change")
	}

	// Idempotent: a second revoke is a clean no-op.
	changed, err = svc.RevokeUser(assignCtx(audit.OpRevoke), tenantAcme, userAlice)
	if err != nil {
		t.Fatalf("second RevokeUser() error = %v", err)
	}
	if changed {
		t.Error("expected second revoke to be a no-op")
	}

	if _, err := svc.PrimaryTenant(ctx, userAlice); !errdefs.IsNotFound(err) {
		t.Errorf("expected NotFoundError after revoke, got %v", err)
	}
	if ok, _ := svc.IsMember(ctx, tenantAcme, userAlice, time.Now()); ok {
		t.Error("revoked user should not be a member")
	}
}

func TestAssignUser_RevivesRevokedRow(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	first, err := svc.AssignUser(assignCtx(audit.OpAssign), tenantAcme, userAlice, false, nil)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := svc.RevokeUser(assignCtx(audit.OpRevoke), tenantAcme, userAlice); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	revived, err := svc.AssignUser(assignCtx(audit.OpAssign), tenantAcme, userAlice, false, nil)
	if err != nil {
		t.Fatalf("re-assign: %v", err)
	}
	if revived.ID != first.ID {
		t.Errorf("expected row %d to be revived, got new row %d", first.ID, revived.ID)
	}

	var rowCount int
	if err := db.QueryRow(`SELECT COUNT(*) FROM tenant_users`).Scan(&rowCount); err != nil {
		t.Fatal(err)
	}
	if rowCount != 1 {
		t.Errorf("expected a single membership row, got %d", rowCount)
	}

	if ok, _ := svc.IsMember(ctx, tenantAcme, userAlice, time.Now()); !ok {
		t.Error("revived membership should be active")
	}
}

func TestIsMember_Expiry(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	expires := time.Now().UTC().Add(time.Hour)
	if _, err := svc.AssignUser(assignCtx(audit.OpAssign), tenantAcme, userBob, false, &expires); err != nil {
		t.Fatalf("assign: %v", err)
	}

	if ok, err := svc.IsMember(ctx, tenantAcme, userBob, time.Now()); err != nil || !ok {
		t.Errorf("expected active membership before expiry, ok=%v err=%v", ok, err)
	}
	if ok, err := svc.IsMember(ctx, tenantAcme, userBob, expires.Add(time.Minute)); err != nil || ok {
		t.Errorf("expected inactive membership after expiry, ok=%v err=%v", ok, err)
	}
	// The boundary instant itself is already expired.
	if ok, _ := svc.IsMember(ctx, tenantAcme, userBob, expires); ok {
		t.Error("membership should expire exactly at expires_at")
	}
}

func TestAssignUser_PrimaryLockReadFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT is_enabled FROM tenants").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"is_enabled"}).AddRow(true))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM tenant_users").
		WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).
			AddRow(int64(7)).
			RowError(0, errors.New("canceling statement due to lock timeout")))
	mock.ExpectRollback()

	svc := NewService(db, storage.DialectPostgres, nil)
	_, err = svc.AssignUser(context.Background(), 1, 2, true, nil)
	if err == nil || !strings.Contains(err.Error(), "failed to lock primary membership") {
		t.Fatalf("expected lock read failure to abort the assign, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
