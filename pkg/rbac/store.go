package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/wardenhq/warden/pkg/errdefs"
	"github.com/wardenhq/warden/pkg/storage"
)

// Store holds the SQL for roles and grant rows. Every method takes a
// storage.Querier so the engine can run it inside or outside a
// transaction.
type Store struct {
	dialect storage.Dialect
}

// NewStore creates an rbac store for the dialect.
func NewStore(dialect storage.Dialect) *Store {
	return &Store{dialect: dialect}
}

const roleColumns = `id, tenant_id, code, name, description, level, parent_id,
	is_enabled, is_system, is_default, created_at, updated_at, is_deleted, deleted_at`

func scanRole(row interface{ Scan(...interface{}) error }) (*Role, error) {
	r := &Role{}
	err := row.Scan(&r.ID, &r.TenantID, &r.Code, &r.Name, &r.Description, &r.Level, &r.ParentID,
		&r.IsEnabled, &r.IsSystem, &r.IsDefault, &r.CreatedAt, &r.UpdatedAt, &r.IsDeleted, &r.DeletedAt)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// InsertRole persists a validated role.
func (s *Store) InsertRole(ctx context.Context, q storage.Querier, role *Role) error {
	now := time.Now().UTC()
	role.CreatedAt = now
	role.UpdatedAt = now

	err := q.QueryRowContext(ctx, `
		INSERT INTO roles (tenant_id, code, name, description, level, parent_id, is_enabled, is_system, is_default, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`,
		role.TenantID, role.Code, role.Name, role.Description, role.Level, role.ParentID,
		role.IsEnabled, role.IsSystem, role.IsDefault, role.CreatedAt, role.UpdatedAt,
	).Scan(&role.ID)
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return errdefs.Conflict("role", "code "+role.Code+" already exists in tenant")
		}
		return fmt.Errorf("failed to insert role: %w", err)
	}
	return nil
}

// GetRole fetches a live role by id.
func (s *Store) GetRole(ctx context.Context, q storage.Querier, id int64) (*Role, error) {
	role, err := scanRole(q.QueryRowContext(ctx,
		`SELECT `+roleColumns+` FROM roles WHERE id = $1 AND NOT is_deleted`, id))
	if err == sql.ErrNoRows {
		return nil, errdefs.NotFound("role", strconv.FormatInt(id, 10))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query role: %w", err)
	}
	return role, nil
}

// GetRoleByCode fetches a live role by tenant and code.
func (s *Store) GetRoleByCode(ctx context.Context, q storage.Querier, tenantID int64, code string) (*Role, error) {
	role, err := scanRole(q.QueryRowContext(ctx,
		`SELECT `+roleColumns+` FROM roles WHERE tenant_id = $1 AND code = $2 AND NOT is_deleted`, tenantID, code))
	if err == sql.ErrNoRows {
		return nil, errdefs.NotFound("role", code)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query role: %w", err)
	}
	return role, nil
}

// UpdateRole persists mutable role fields.
func (s *Store) UpdateRole(ctx context.Context, q storage.Querier, role *Role) error {
	role.UpdatedAt = time.Now().UTC()
	res, err := q.ExecContext(ctx, `
		UPDATE roles SET name = $1, description = $2, level = $3, is_enabled = $4, is_default = $5, updated_at = $6
		WHERE id = $7 AND NOT is_deleted`,
		role.Name, role.Description, role.Level, role.IsEnabled, role.IsDefault, role.UpdatedAt, role.ID)
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errdefs.NotFound("role", strconv.FormatInt(role.ID, 10))
	}
	return nil
}

// SetRoleParent updates only the parent pointer. Graph checks are the
// engine's job.
func (s *Store) SetRoleParent(ctx context.Context, q storage.Querier, roleID int64, parentID *int64) error {
	res, err := q.ExecContext(ctx,
		`UPDATE roles SET parent_id = $1, updated_at = $2 WHERE id = $3 AND NOT is_deleted`,
		parentID, time.Now().UTC(), roleID)
	if err != nil {
		return fmt.Errorf("failed to set role parent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errdefs.NotFound("role", strconv.FormatInt(roleID, 10))
	}
	return nil
}

// DefaultRoles returns the tenant's enabled default roles.
func (s *Store) DefaultRoles(ctx context.Context, q storage.Querier, tenantID int64) ([]*Role, error) {
	return s.listRoles(ctx, q,
		`SELECT `+roleColumns+` FROM roles
		 WHERE tenant_id = $1 AND is_default AND is_enabled AND NOT is_deleted
		 ORDER BY id`, tenantID)
}

// ListRoles returns the tenant's live roles.
func (s *Store) ListRoles(ctx context.Context, q storage.Querier, tenantID int64) ([]*Role, error) {
	return s.listRoles(ctx, q,
		`SELECT `+roleColumns+` FROM roles WHERE tenant_id = $1 AND NOT is_deleted ORDER BY id`, tenantID)
}

func (s *Store) listRoles(ctx context.Context, q storage.Querier, query string, args ...interface{}) ([]*Role, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query roles: %w", err)
	}
	defer rows.Close()

	var roles []*Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate roles: %w", err)
	}
	return roles, nil
}

const rolePermissionColumns = `id, role_id, permission_id, tenant_id, is_granted,
	granted_by, granted_at, revoked_by, revoked_at, effective_from, effective_to,
	reason, metadata, created_at, updated_at, is_deleted, deleted_at`

func scanRolePermission(row interface{ Scan(...interface{}) error }) (*RolePermission, error) {
	g := &RolePermission{}
	var metadata []byte
	err := row.Scan(&g.ID, &g.RoleID, &g.PermissionID, &g.TenantID, &g.IsGranted,
		&g.GrantedBy, &g.GrantedAt, &g.RevokedBy, &g.RevokedAt, &g.EffectiveFrom, &g.EffectiveTo,
		&g.Reason, &metadata, &g.CreatedAt, &g.UpdatedAt, &g.IsDeleted, &g.DeletedAt)
	if err != nil {
		return nil, err
	}
	g.Metadata = metadata
	return g, nil
}

// InsertRolePermission persists a grant row.
func (s *Store) InsertRolePermission(ctx context.Context, q storage.Querier, g *RolePermission) error {
	now := time.Now().UTC()
	g.CreatedAt = now
	g.UpdatedAt = now

	var metadata interface{}
	if len(g.Metadata) > 0 {
		metadata = []byte(g.Metadata)
	}

	err := q.QueryRowContext(ctx, `
		INSERT INTO role_permissions (role_id, permission_id, tenant_id, is_granted,
			granted_by, granted_at, effective_from, effective_to, reason, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`,
		g.RoleID, g.PermissionID, g.TenantID, g.IsGranted,
		g.GrantedBy, g.GrantedAt, g.EffectiveFrom, g.EffectiveTo, g.Reason, metadata,
		g.CreatedAt, g.UpdatedAt,
	).Scan(&g.ID)
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return errdefs.Conflict("role_permission", "role already holds an active grant for this permission")
		}
		return fmt.Errorf("failed to insert role permission: %w", err)
	}
	return nil
}

// GetRolePermission fetches a live grant row by id.
func (s *Store) GetRolePermission(ctx context.Context, q storage.Querier, id int64) (*RolePermission, error) {
	g, err := scanRolePermission(q.QueryRowContext(ctx,
		`SELECT `+rolePermissionColumns+` FROM role_permissions WHERE id = $1 AND NOT is_deleted`, id))
	if err == sql.ErrNoRows {
		return nil, errdefs.NotFound("role_permission", strconv.FormatInt(id, 10))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query role permission: %w", err)
	}
	return g, nil
}

// FindBlockingGrant returns an active grant for the pair whose window is
// current or future relative to now, or nil. Such a grant blocks a new
// one.
func (s *Store) FindBlockingGrant(ctx context.Context, q storage.Querier, roleID, permissionID int64, now time.Time) (*RolePermission, error) {
	g, err := scanRolePermission(q.QueryRowContext(ctx,
		`SELECT `+rolePermissionColumns+` FROM role_permissions
		 WHERE role_id = $1 AND permission_id = $2 AND is_granted AND NOT is_deleted
		   AND (effective_to IS NULL OR effective_to > $3)
		 LIMIT 1`, roleID, permissionID, now))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query blocking grant: %w", err)
	}
	return g, nil
}

// RevokeRolePermissions flips the pair's active grant rows. Returns the
// number of rows revoked.
func (s *Store) RevokeRolePermissions(ctx context.Context, q storage.Querier, roleID, permissionID int64, revokedBy *int64, now time.Time) (int64, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE role_permissions
		SET is_granted = FALSE, revoked_by = $1, revoked_at = $2, updated_at = $2
		WHERE role_id = $3 AND permission_id = $4 AND is_granted AND NOT is_deleted`,
		revokedBy, now, roleID, permissionID)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke role permissions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n, nil
}

// ActivateRolePermission reinstates a revoked grant row.
func (s *Store) ActivateRolePermission(ctx context.Context, q storage.Querier, id int64, now time.Time) error {
	res, err := q.ExecContext(ctx, `
		UPDATE role_permissions
		SET is_granted = TRUE, revoked_by = NULL, revoked_at = NULL, updated_at = $1
		WHERE id = $2 AND NOT is_granted AND NOT is_deleted`,
		now, id)
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return errdefs.Conflict("role_permission", "role already holds an active grant for this permission")
		}
		return fmt.Errorf("failed to activate role permission: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errdefs.NotFound("role_permission", strconv.FormatInt(id, 10))
	}
	return nil
}

// UpdateRolePermissionWindow rewrites the effective window of a grant.
func (s *Store) UpdateRolePermissionWindow(ctx context.Context, q storage.Querier, id int64, from, to *time.Time) error {
	res, err := q.ExecContext(ctx, `
		UPDATE role_permissions SET effective_from = $1, effective_to = $2, updated_at = $3
		WHERE id = $4 AND NOT is_deleted`,
		from, to, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update grant window: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errdefs.NotFound("role_permission", strconv.FormatInt(id, 10))
	}
	return nil
}

const userRoleColumns = `id, user_id, role_id, tenant_id, is_assigned,
	granted_by, granted_at, revoked_by, revoked_at, effective_from, effective_to,
	reason, created_at, updated_at, is_deleted, deleted_at`

func scanUserRole(row interface{ Scan(...interface{}) error }) (*UserRole, error) {
	a := &UserRole{}
	err := row.Scan(&a.ID, &a.UserID, &a.RoleID, &a.TenantID, &a.IsAssigned,
		&a.GrantedBy, &a.GrantedAt, &a.RevokedBy, &a.RevokedAt, &a.EffectiveFrom, &a.EffectiveTo,
		&a.Reason, &a.CreatedAt, &a.UpdatedAt, &a.IsDeleted, &a.DeletedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// InsertUserRole persists an assignment row.
func (s *Store) InsertUserRole(ctx context.Context, q storage.Querier, a *UserRole) error {
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now

	err := q.QueryRowContext(ctx, `
		INSERT INTO user_roles (user_id, role_id, tenant_id, is_assigned,
			granted_by, granted_at, effective_from, effective_to, reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`,
		a.UserID, a.RoleID, a.TenantID, a.IsAssigned,
		a.GrantedBy, a.GrantedAt, a.EffectiveFrom, a.EffectiveTo, a.Reason,
		a.CreatedAt, a.UpdatedAt,
	).Scan(&a.ID)
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return errdefs.Conflict("user_role", "user already holds an active assignment for this role")
		}
		return fmt.Errorf("failed to insert user role: %w", err)
	}
	return nil
}

// GetUserRole fetches a live assignment row by id.
func (s *Store) GetUserRole(ctx context.Context, q storage.Querier, id int64) (*UserRole, error) {
	a, err := scanUserRole(q.QueryRowContext(ctx,
		`SELECT `+userRoleColumns+` FROM user_roles WHERE id = $1 AND NOT is_deleted`, id))
	if err == sql.ErrNoRows {
		return nil, errdefs.NotFound("user_role", strconv.FormatInt(id, 10))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user role: %w", err)
	}
	return a, nil
}

// FindBlockingAssignment returns an active current-or-future assignment
// for the pair, or nil.
func (s *Store) FindBlockingAssignment(ctx context.Context, q storage.Querier, userID, roleID int64, now time.Time) (*UserRole, error) {
	a, err := scanUserRole(q.QueryRowContext(ctx,
		`SELECT `+userRoleColumns+` FROM user_roles
		 WHERE user_id = $1 AND role_id = $2 AND is_assigned AND NOT is_deleted
		   AND (effective_to IS NULL OR effective_to > $3)
		 LIMIT 1`, userID, roleID, now))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query blocking assignment: %w", err)
	}
	return a, nil
}

// RevokeUserRoles flips the pair's active assignment rows. Returns the
// number of rows revoked.
func (s *Store) RevokeUserRoles(ctx context.Context, q storage.Querier, userID, roleID int64, revokedBy *int64, now time.Time) (int64, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE user_roles
		SET is_assigned = FALSE, revoked_by = $1, revoked_at = $2, updated_at = $2
		WHERE user_id = $3 AND role_id = $4 AND is_assigned AND NOT is_deleted`,
		revokedBy, now, userID, roleID)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke user roles: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n, nil
}

// ActivateUserRole reinstates a revoked assignment row.
func (s *Store) ActivateUserRole(ctx context.Context, q storage.Querier, id int64, now time.Time) error {
	res, err := q.ExecContext(ctx, `
		UPDATE user_roles
		SET is_assigned = TRUE, revoked_by = NULL, revoked_at = NULL, updated_at = $1
		WHERE id = $2 AND NOT is_assigned AND NOT is_deleted`,
		now, id)
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return errdefs.Conflict("user_role", "user already holds an active assignment for this role")
		}
		return fmt.Errorf("failed to activate user role: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errdefs.NotFound("user_role", strconv.FormatInt(id, 10))
	}
	return nil
}

// UpdateUserRoleWindow rewrites the effective window of an assignment.
func (s *Store) UpdateUserRoleWindow(ctx context.Context, q storage.Querier, id int64, from, to *time.Time) error {
	res, err := q.ExecContext(ctx, `
		UPDATE user_roles SET effective_from = $1, effective_to = $2, updated_at = $3
		WHERE id = $4 AND NOT is_deleted`,
		from, to, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update assignment window: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errdefs.NotFound("user_role", strconv.FormatInt(id, 10))
	}
	return nil
}

// UserAssignments returns the user's assignment rows in a tenant that are
// effective at t.
func (s *Store) UserAssignments(ctx context.Context, q storage.Querier, userID, tenantID int64, t time.Time) ([]*UserRole, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+userRoleColumns+` FROM user_roles
		WHERE user_id = $1 AND tenant_id = $2 AND is_assigned AND NOT is_deleted
		  AND (effective_from IS NULL OR effective_from <= $3)
		  AND (effective_to IS NULL OR effective_to > $3)
		ORDER BY id`, userID, tenantID, t)
	if err != nil {
		return nil, fmt.Errorf("failed to query assignments: %w", err)
	}
	defer rows.Close()

	var assignments []*UserRole
	for rows.Next() {
		a, err := scanUserRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		assignments = append(assignments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate assignments: %w", err)
	}
	return assignments, nil
}
