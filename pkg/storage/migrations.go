package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration is one versioned schema change. Statements run in order inside
// a single transaction.
type Migration struct {
	Version    int
	Name       string
	Statements []string
}

// serialPK returns the auto-incrementing primary key column for the dialect.
func serialPK(d Dialect) string {
	if d == DialectPostgres {
		return "id BIGSERIAL PRIMARY KEY"
	}
	return "id INTEGER PRIMARY KEY AUTOINCREMENT"
}

// baseColumns are the bookkeeping columns every table carries.
const baseColumns = `
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
	deleted_at TIMESTAMP`

// Migrations returns the ordered schema migrations for the dialect.
func Migrations(d Dialect) []Migration {
	migrations := []Migration{
		{
			Version: 1,
			Name:    "create_catalog_tables",
			Statements: []string{
				fmt.Sprintf(`CREATE TABLE IF NOT EXISTS tenants (
	%s,
	code VARCHAR(64) NOT NULL,
	name VARCHAR(255) NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	is_enabled BOOLEAN NOT NULL DEFAULT TRUE,
	is_system BOOLEAN NOT NULL DEFAULT FALSE,
	expires_at TIMESTAMP,
	%s
)`, serialPK(d), baseColumns),
				`CREATE UNIQUE INDEX IF NOT EXISTS uq_tenants_code
	ON tenants (code) WHERE NOT is_deleted`,

				fmt.Sprintf(`CREATE TABLE IF NOT EXISTS users (
	%s,
	username VARCHAR(64) NOT NULL,
	email VARCHAR(255),
	mobile VARCHAR(32),
	display_name VARCHAR(255) NOT NULL DEFAULT '',
	status VARCHAR(16) NOT NULL DEFAULT 'active',
	%s
)`, serialPK(d), baseColumns),
				`CREATE UNIQUE INDEX IF NOT EXISTS uq_users_username
	ON users (username) WHERE NOT is_deleted`,
				`CREATE UNIQUE INDEX IF NOT EXISTS uq_users_email
	ON users (email) WHERE email IS NOT NULL AND NOT is_deleted`,
				`CREATE UNIQUE INDEX IF NOT EXISTS uq_users_mobile
	ON users (mobile) WHERE mobile IS NOT NULL AND NOT is_deleted`,

				fmt.Sprintf(`CREATE TABLE IF NOT EXISTS permissions (
	%s,
	tenant_id BIGINT REFERENCES tenants(id),
	code VARCHAR(128) NOT NULL,
	name VARCHAR(255) NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	action VARCHAR(64) NOT NULL,
	resource_type VARCHAR(64) NOT NULL,
	is_enabled BOOLEAN NOT NULL DEFAULT TRUE,
	is_system BOOLEAN NOT NULL DEFAULT FALSE,
	%s
)`, serialPK(d), baseColumns),
				`CREATE UNIQUE INDEX IF NOT EXISTS uq_permissions_tenant_code
	ON permissions (tenant_id, code) WHERE tenant_id IS NOT NULL AND NOT is_deleted`,
				`CREATE UNIQUE INDEX IF NOT EXISTS uq_permissions_global_code
	ON permissions (code) WHERE tenant_id IS NULL AND NOT is_deleted`,
			},
		},
		{
			Version: 2,
			Name:    "create_role_tables",
			Statements: []string{
				fmt.Sprintf(`CREATE TABLE IF NOT EXISTS roles (
	%s,
	tenant_id BIGINT NOT NULL REFERENCES tenants(id),
	code VARCHAR(50) NOT NULL,
	name VARCHAR(255) NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	level INTEGER NOT NULL DEFAULT 0,
	parent_id BIGINT REFERENCES roles(id),
	is_enabled BOOLEAN NOT NULL DEFAULT TRUE,
	is_system BOOLEAN NOT NULL DEFAULT FALSE,
	is_default BOOLEAN NOT NULL DEFAULT FALSE,
	%s
)`, serialPK(d), baseColumns),
				`CREATE UNIQUE INDEX IF NOT EXISTS uq_roles_tenant_code
	ON roles (tenant_id, code) WHERE NOT is_deleted`,
				`CREATE INDEX IF NOT EXISTS ix_roles_parent ON roles (parent_id)`,

				fmt.Sprintf(`CREATE TABLE IF NOT EXISTS role_permissions (
	%s,
	role_id BIGINT NOT NULL REFERENCES roles(id),
	permission_id BIGINT NOT NULL REFERENCES permissions(id),
	tenant_id BIGINT NOT NULL REFERENCES tenants(id),
	is_granted BOOLEAN NOT NULL DEFAULT TRUE,
	granted_by BIGINT,
	granted_at TIMESTAMP,
	revoked_by BIGINT,
	revoked_at TIMESTAMP,
	effective_from TIMESTAMP,
	effective_to TIMESTAMP,
	reason TEXT NOT NULL DEFAULT '',
	metadata JSONB,
	%s
)`, serialPK(d), baseColumns),
				`CREATE UNIQUE INDEX IF NOT EXISTS uq_role_permissions_active
	ON role_permissions (role_id, permission_id) WHERE is_granted AND NOT is_deleted`,
				`CREATE INDEX IF NOT EXISTS ix_role_permissions_role
	ON role_permissions (role_id)`,

				fmt.Sprintf(`CREATE TABLE IF NOT EXISTS user_roles (
	%s,
	user_id BIGINT NOT NULL REFERENCES users(id),
	role_id BIGINT NOT NULL REFERENCES roles(id),
	tenant_id BIGINT NOT NULL REFERENCES tenants(id),
	is_assigned BOOLEAN NOT NULL DEFAULT TRUE,
	granted_by BIGINT,
	granted_at TIMESTAMP,
	revoked_by BIGINT,
	revoked_at TIMESTAMP,
	effective_from TIMESTAMP,
	effective_to TIMESTAMP,
	reason TEXT NOT NULL DEFAULT '',
	%s
)`, serialPK(d), baseColumns),
				`CREATE UNIQUE INDEX IF NOT EXISTS uq_user_roles_active
	ON user_roles (user_id, role_id, tenant_id) WHERE is_assigned AND NOT is_deleted`,
				`CREATE INDEX IF NOT EXISTS ix_user_roles_user_tenant
	ON user_roles (user_id, tenant_id)`,
			},
		},
		{
			Version: 3,
			Name:    "create_tenant_users",
			Statements: []string{
				fmt.Sprintf(`CREATE TABLE IF NOT EXISTS tenant_users (
	%s,
	tenant_id BIGINT NOT NULL REFERENCES tenants(id),
	user_id BIGINT NOT NULL REFERENCES users(id),
	is_primary BOOLEAN NOT NULL DEFAULT FALSE,
	is_assigned BOOLEAN NOT NULL DEFAULT TRUE,
	expires_at TIMESTAMP,
	%s
)`, serialPK(d), baseColumns),
				`CREATE UNIQUE INDEX IF NOT EXISTS uq_tenant_users_membership
	ON tenant_users (tenant_id, user_id) WHERE NOT is_deleted`,
				`CREATE UNIQUE INDEX IF NOT EXISTS uq_tenant_users_primary
	ON tenant_users (user_id) WHERE is_primary AND is_assigned AND NOT is_deleted`,
			},
		},
		{
			Version: 4,
			Name:    "create_audit_records",
			Statements: []string{
				fmt.Sprintf(`CREATE TABLE IF NOT EXISTS audit_records (
	%s,
	business_type VARCHAR(64) NOT NULL,
	target_id BIGINT NOT NULL,
	operation_type VARCHAR(32) NOT NULL,
	actor_id BIGINT,
	actor_name VARCHAR(255) NOT NULL DEFAULT '',
	tenant_id BIGINT,
	request_id VARCHAR(64) NOT NULL DEFAULT '',
	reason TEXT NOT NULL DEFAULT '',
	before_state JSONB,
	after_state JSONB,
	metadata JSONB,
	occurred_at TIMESTAMP NOT NULL
)`, serialPK(d)),
				`CREATE INDEX IF NOT EXISTS ix_audit_records_business_target
	ON audit_records (business_type, target_id)`,
				`CREATE INDEX IF NOT EXISTS ix_audit_records_occurred
	ON audit_records (occurred_at)`,
			},
		},
	}

	migrations = append(migrations, auditTriggerMigration(d))
	return migrations
}

// auditTriggerMigration installs the append-only guard on audit_records.
// Any UPDATE or DELETE is rejected at the database layer, regardless of
// which code path issues it.
func auditTriggerMigration(d Dialect) Migration {
	if d == DialectPostgres {
		return Migration{
			Version: 5,
			Name:    "audit_append_only_triggers",
			Statements: []string{
				`CREATE OR REPLACE FUNCTION audit_records_append_only() RETURNS trigger AS $$
BEGIN
	RAISE EXCEPTION 'audit_records rows are append-only';
END;
$$ LANGUAGE plpgsql`,
				`DROP TRIGGER IF EXISTS trg_audit_records_no_update ON audit_records`,
				`CREATE TRIGGER trg_audit_records_no_update
	BEFORE UPDATE ON audit_records
	FOR EACH ROW EXECUTE FUNCTION audit_records_append_only()`,
				`DROP TRIGGER IF EXISTS trg_audit_records_no_delete ON audit_records`,
				`CREATE TRIGGER trg_audit_records_no_delete
	BEFORE DELETE ON audit_records
	FOR EACH ROW EXECUTE FUNCTION audit_records_append_only()`,
			},
		}
	}
	return Migration{
		Version: 5,
		Name:    "audit_append_only_triggers",
		Statements: []string{
			`CREATE TRIGGER IF NOT EXISTS trg_audit_records_no_update
	BEFORE UPDATE ON audit_records
BEGIN
	SELECT RAISE(ABORT, 'audit_records rows are append-only');
END`,
			`CREATE TRIGGER IF NOT EXISTS trg_audit_records_no_delete
	BEFORE DELETE ON audit_records
BEGIN
	SELECT RAISE(ABORT, 'audit_records rows are append-only');
END`,
		},
	}
}

// RunMigrations applies all pending migrations, recording applied versions
// in schema_migrations. Each migration runs in its own transaction.
func RunMigrations(ctx context.Context, db *sql.DB, d Dialect) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	name VARCHAR(255) NOT NULL,
	applied_at TIMESTAMP NOT NULL
)`); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	for _, m := range Migrations(d) {
		applied, err := migrationApplied(ctx, db, m.Version)
		if err != nil {
			return err
		}
		if applied {
			continue
		}

		err = WithTx(ctx, db, func(tx *sql.Tx) error {
			for _, stmt := range m.Statements {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
				}
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO schema_migrations (version, name, applied_at) VALUES ($1, $2, CURRENT_TIMESTAMP)`,
				m.Version, m.Name)
			if err != nil {
				return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	return nil
}

func migrationApplied(ctx context.Context, db *sql.DB, version int) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM schema_migrations WHERE version = $1`, version).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check migration %d: %w", version, err)
	}
	return count > 0, nil
}
