package rbac

import (
	"bytes"
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for testing

	"github.com/wardenhq/warden/pkg/audit"
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

type testEnv struct {
	db     *sql.DB
	engine *Engine
	logBuf *bytes.Buffer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := setupTestDB(t)
	registry := audit.NewRegistry()
	if err := RegisterAuditTypes(registry); err != nil {
		t.Fatalf("registering audit types: %v", err)
	}
	if err := registry.Register("tenant_user", audit.Registration{Label: "tenant membership"}); err != nil {
		t.Fatalf("registering tenant_user: %v", err)
	}

	logBuf := &bytes.Buffer{}
	logger := observability.NewLogger(observability.WarnLevel, logBuf)
	recorder := audit.NewRecorder(audit.NewStore(), registry, logger, nil, audit.RecorderOptions{})
	engine := NewEngine(db, NewStore(storage.DialectSQLite), recorder, logger, nil)

	return &testEnv{db: db, engine: engine, logBuf: logBuf}
}

func opCtx(businessType, operationType string) context.Context {
	return audit.WithOperation(context.Background(), &audit.OperationContext{
		BusinessType:  businessType,
		OperationType: operationType,
		ActorName:     "test",
	})
}

func (env *testEnv) createTenant(t *testing.T, code string) int64 {
	t.Helper()
	var id int64
	err := env.db.QueryRow(`
		INSERT INTO tenants (code, name, is_enabled, created_at, updated_at)
		VALUES ($1, $1, TRUE, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		RETURNING id`, code).Scan(&id)
	if err != nil {
		t.Fatalf("creating tenant %s: %v", code, err)
	}
	return id
}

func (env *testEnv) createUser(t *testing.T, username string) int64 {
	t.Helper()
	var id int64
	err := env.db.QueryRow(`
		INSERT INTO users (username, created_at, updated_at)
		VALUES ($1, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		RETURNING id`, username).Scan(&id)
	if err != nil {
		t.Fatalf("creating user %s: %v", username, err)
	}
	return id
}

func (env *testEnv) addMembership(t *testing.T, tenantID, userID int64) {
	t.Helper()
	_, err := env.db.Exec(`
		INSERT INTO tenant_users (tenant_id, user_id, is_assigned, created_at, updated_at)
		VALUES ($1, $2, TRUE, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`, tenantID, userID)
	if err != nil {
		t.Fatalf("adding membership: %v", err)
	}
}

// createPermission inserts a permission; tenantID nil makes it global.
func (env *testEnv) createPermission(t *testing.T, tenantID *int64, code string) int64 {
	t.Helper()
	var id int64
	err := env.db.QueryRow(`
		INSERT INTO permissions (tenant_id, code, name, action, resource_type, is_enabled, created_at, updated_at)
		VALUES ($1, $2, $2, 'x', 'x', TRUE, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		RETURNING id`, tenantID, code).Scan(&id)
	if err != nil {
		t.Fatalf("creating permission %s: %v", code, err)
	}
	return id
}

func (env *testEnv) createRole(t *testing.T, tenantID int64, code string, level int, parentID *int64) *Role {
	t.Helper()
	role := &Role{
		TenantID:  tenantID,
		Code:      code,
		Name:      code,
		Level:     level,
		ParentID:  parentID,
		IsEnabled: true,
	}
	if err := env.engine.CreateRole(opCtx(BusinessTypeRole, audit.OpCreate), role); err != nil {
		t.Fatalf("creating role %s: %v", code, err)
	}
	return role
}

func (env *testEnv) grant(t *testing.T, roleID, permissionID int64, opts GrantOptions) *RolePermission {
	t.Helper()
	g, err := env.engine.GrantRolePermission(opCtx(BusinessTypeRolePermission, audit.OpGrant), roleID, permissionID, opts)
	if err != nil {
		t.Fatalf("granting permission %d to role %d: %v", permissionID, roleID, err)
	}
	return g
}

func (env *testEnv) assign(t *testing.T, userID, roleID int64, opts GrantOptions) *UserRole {
	t.Helper()
	a, err := env.engine.AssignUserRole(opCtx(BusinessTypeUserRole, audit.OpAssign), userID, roleID, opts)
	if err != nil {
		t.Fatalf("assigning role %d to user %d: %v", roleID, userID, err)
	}
	return a
}

func (env *testEnv) auditCount(t *testing.T, businessType string) int {
	t.Helper()
	var n int
	if err := env.db.QueryRow(
		`SELECT COUNT(*) FROM audit_records WHERE business_type = $1`, businessType).Scan(&n); err != nil {
		t.Fatalf("counting audit records: %v", err)
	}
	return n
}

func ptr[T any](v T) *T { return &v }
