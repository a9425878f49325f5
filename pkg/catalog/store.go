package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/wardenhq/warden/pkg/errdefs"
	"github.com/wardenhq/warden/pkg/storage"
)

// Store persists tenants, users, and permissions.
type Store struct {
	db *sql.DB
}

// NewStore creates a catalog store backed by db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const tenantColumns = `id, code, name, description, is_enabled, is_system, expires_at,
	created_at, updated_at, is_deleted, deleted_at`

// CreateTenant validates and inserts a tenant.
func (s *Store) CreateTenant(ctx context.Context, tenant *Tenant) error {
	if err := tenant.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	tenant.CreatedAt = now
	tenant.UpdatedAt = now

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO tenants (code, name, description, is_enabled, is_system, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		tenant.Code, tenant.Name, tenant.Description, tenant.IsEnabled, tenant.IsSystem,
		tenant.ExpiresAt, tenant.CreatedAt, tenant.UpdatedAt,
	).Scan(&tenant.ID)
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return errdefs.Conflict("tenant", "code "+tenant.Code+" already exists")
		}
		return fmt.Errorf("failed to insert tenant: %w", err)
	}
	return nil
}

// GetTenant fetches a live tenant by id.
func (s *Store) GetTenant(ctx context.Context, id int64) (*Tenant, error) {
	return s.getTenant(ctx, `id = $1`, id)
}

// GetTenantByCode fetches a live tenant by code.
func (s *Store) GetTenantByCode(ctx context.Context, code string) (*Tenant, error) {
	return s.getTenant(ctx, `code = $1`, code)
}

func (s *Store) getTenant(ctx context.Context, where string, arg interface{}) (*Tenant, error) {
	t := &Tenant{}
	err := s.db.QueryRowContext(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE `+where+` AND NOT is_deleted`, arg,
	).Scan(&t.ID, &t.Code, &t.Name, &t.Description, &t.IsEnabled, &t.IsSystem, &t.ExpiresAt,
		&t.CreatedAt, &t.UpdatedAt, &t.IsDeleted, &t.DeletedAt)
	if err == sql.ErrNoRows {
		return nil, errdefs.NotFound("tenant", fmt.Sprintf("%v", arg))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query tenant: %w", err)
	}
	return t, nil
}

// SetTenantEnabled enables or disables a tenant. System tenants cannot be
// disabled.
func (s *Store) SetTenantEnabled(ctx context.Context, id int64, enabled bool) error {
	tenant, err := s.GetTenant(ctx, id)
	if err != nil {
		return err
	}
	if tenant.IsSystem && !enabled {
		return errdefs.Validation("is_enabled", "system tenants cannot be disabled")
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE tenants SET is_enabled = $1, updated_at = $2 WHERE id = $3 AND NOT is_deleted`,
		enabled, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update tenant: %w", err)
	}
	return nil
}

// SoftDeleteTenant marks a tenant deleted. System tenants are protected.
func (s *Store) SoftDeleteTenant(ctx context.Context, id int64) error {
	tenant, err := s.GetTenant(ctx, id)
	if err != nil {
		return err
	}
	if tenant.IsSystem {
		return errdefs.Validation("is_system", "system tenants cannot be deleted")
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`UPDATE tenants SET is_deleted = TRUE, deleted_at = $1, is_enabled = FALSE, updated_at = $1
		 WHERE id = $2 AND NOT is_deleted`, now, id)
	if err != nil {
		return fmt.Errorf("failed to soft-delete tenant: %w", err)
	}
	return nil
}

const userColumns = `id, username, email, mobile, display_name, status,
	created_at, updated_at, is_deleted, deleted_at`

// CreateUser validates and inserts a user.
func (s *Store) CreateUser(ctx context.Context, user *User) error {
	if err := user.Validate(); err != nil {
		return err
	}
	if user.Status == "" {
		user.Status = UserStatusActive
	}

	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (username, email, mobile, display_name, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		user.Username, user.Email, user.Mobile, user.DisplayName, user.Status,
		user.CreatedAt, user.UpdatedAt,
	).Scan(&user.ID)
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return errdefs.Conflict("user", "username, email, or mobile already in use")
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// GetUser fetches a live user by id.
func (s *Store) GetUser(ctx context.Context, id int64) (*User, error) {
	return s.getUser(ctx, `id = $1`, id)
}

// GetUserByUsername fetches a live user by username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return s.getUser(ctx, `username = $1`, username)
}

func (s *Store) getUser(ctx context.Context, where string, arg interface{}) (*User, error) {
	u := &User{}
	err := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE `+where+` AND NOT is_deleted`, arg,
	).Scan(&u.ID, &u.Username, &u.Email, &u.Mobile, &u.DisplayName, &u.Status,
		&u.CreatedAt, &u.UpdatedAt, &u.IsDeleted, &u.DeletedAt)
	if err == sql.ErrNoRows {
		return nil, errdefs.NotFound("user", fmt.Sprintf("%v", arg))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return u, nil
}

// SetUserStatus updates a user's account status.
func (s *Store) SetUserStatus(ctx context.Context, id int64, status string) error {
	u := &User{Username: "x", Status: status}
	if err := u.Validate(); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET status = $1, updated_at = $2 WHERE id = $3 AND NOT is_deleted`,
		status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update user status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errdefs.NotFound("user", strconv.FormatInt(id, 10))
	}
	return nil
}

const permissionColumns = `id, tenant_id, code, name, description, action, resource_type,
	is_enabled, is_system, created_at, updated_at, is_deleted, deleted_at`

// CreatePermission validates and inserts a permission. Global uniqueness
// applies when TenantID is nil, per-tenant uniqueness otherwise.
func (s *Store) CreatePermission(ctx context.Context, perm *Permission) error {
	if err := perm.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	perm.CreatedAt = now
	perm.UpdatedAt = now

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO permissions (tenant_id, code, name, description, action, resource_type, is_enabled, is_system, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		perm.TenantID, perm.Code, perm.Name, perm.Description, perm.Action, perm.ResourceType,
		perm.IsEnabled, perm.IsSystem, perm.CreatedAt, perm.UpdatedAt,
	).Scan(&perm.ID)
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return errdefs.Conflict("permission", "code "+perm.Code+" already exists")
		}
		return fmt.Errorf("failed to insert permission: %w", err)
	}
	return nil
}

// GetPermission fetches a live permission by id.
func (s *Store) GetPermission(ctx context.Context, id int64) (*Permission, error) {
	p := &Permission{}
	err := s.db.QueryRowContext(ctx,
		`SELECT `+permissionColumns+` FROM permissions WHERE id = $1 AND NOT is_deleted`, id,
	).Scan(&p.ID, &p.TenantID, &p.Code, &p.Name, &p.Description, &p.Action, &p.ResourceType,
		&p.IsEnabled, &p.IsSystem, &p.CreatedAt, &p.UpdatedAt, &p.IsDeleted, &p.DeletedAt)
	if err == sql.ErrNoRows {
		return nil, errdefs.NotFound("permission", strconv.FormatInt(id, 10))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query permission: %w", err)
	}
	return p, nil
}

// GetPermissionByCode fetches a live permission by code, checking the
// tenant's own permissions first and falling back to global ones.
func (s *Store) GetPermissionByCode(ctx context.Context, tenantID int64, code string) (*Permission, error) {
	p := &Permission{}
	err := s.db.QueryRowContext(ctx,
		`SELECT `+permissionColumns+` FROM permissions
		 WHERE code = $1 AND (tenant_id = $2 OR tenant_id IS NULL) AND NOT is_deleted
		 ORDER BY tenant_id IS NULL
		 LIMIT 1`, code, tenantID,
	).Scan(&p.ID, &p.TenantID, &p.Code, &p.Name, &p.Description, &p.Action, &p.ResourceType,
		&p.IsEnabled, &p.IsSystem, &p.CreatedAt, &p.UpdatedAt, &p.IsDeleted, &p.DeletedAt)
	if err == sql.ErrNoRows {
		return nil, errdefs.NotFound("permission", code)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query permission: %w", err)
	}
	return p, nil
}

// SetPermissionEnabled enables or disables a permission. System
// permissions cannot be disabled.
func (s *Store) SetPermissionEnabled(ctx context.Context, id int64, enabled bool) error {
	perm, err := s.GetPermission(ctx, id)
	if err != nil {
		return err
	}
	if perm.IsSystem && !enabled {
		return errdefs.Validation("is_enabled", "system permissions cannot be disabled")
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE permissions SET is_enabled = $1, updated_at = $2 WHERE id = $3 AND NOT is_deleted`,
		enabled, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update permission: %w", err)
	}
	return nil
}

// SoftDeletePermission marks a permission deleted. System permissions are
// protected.
func (s *Store) SoftDeletePermission(ctx context.Context, id int64) error {
	perm, err := s.GetPermission(ctx, id)
	if err != nil {
		return err
	}
	if perm.IsSystem {
		return errdefs.Validation("is_system", "system permissions cannot be deleted")
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`UPDATE permissions SET is_deleted = TRUE, deleted_at = $1, is_enabled = FALSE, updated_at = $1
		 WHERE id = $2 AND NOT is_deleted`, now, id)
	if err != nil {
		return fmt.Errorf("failed to soft-delete permission: %w", err)
	}
	return nil
}
