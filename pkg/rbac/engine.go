package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/wardenhq/warden/pkg/audit"
	"github.com/wardenhq/warden/pkg/errdefs"
	"github.com/wardenhq/warden/pkg/observability"
	"github.com/wardenhq/warden/pkg/storage"
)

// Engine is the write side of the authorization model: role graph
// mutations, grant lifecycle, and user role assignment. Every mutation
// runs in one transaction together with its audit record.
type Engine struct {
	db       *sql.DB
	store    *Store
	recorder *audit.Recorder
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewEngine creates an engine.
func NewEngine(db *sql.DB, store *Store, recorder *audit.Recorder, logger *observability.Logger, metrics *observability.Metrics) *Engine {
	return &Engine{
		db:       db,
		store:    store,
		recorder: recorder,
		logger:   logger,
		metrics:  metrics,
	}
}

// Store exposes the underlying store for read paths.
func (e *Engine) Store() *Store {
	return e.store
}

// RegisterAuditTypes registers the engine's business types with the
// audit registry. Call once at bootstrap.
func RegisterAuditTypes(registry *audit.Registry) error {
	entries := map[string]audit.Registration{
		BusinessTypeRole: {
			Label:      "role",
			Operations: []string{audit.OpCreate, audit.OpUpdate, audit.OpDelete},
		},
		BusinessTypeRolePermission: {
			Label:      "role permission grant",
			Operations: []string{audit.OpGrant, audit.OpRevoke, audit.OpActivate, audit.OpUpdateWindow, audit.OpCleanupExpired},
		},
		BusinessTypeUserRole: {
			Label:      "user role assignment",
			Operations: []string{audit.OpAssign, audit.OpRevoke, audit.OpActivate, audit.OpUpdateWindow, audit.OpCleanupExpired},
		},
	}
	for businessType, reg := range entries {
		if err := registry.Register(businessType, reg); err != nil {
			return err
		}
	}
	return nil
}

// CreateRole validates and persists a role. A parent must already exist
// in the same tenant.
func (e *Engine) CreateRole(ctx context.Context, role *Role) error {
	if err := role.Validate(); err != nil {
		return err
	}
	if err := e.checkTenantLive(ctx, role.TenantID); err != nil {
		return err
	}

	return storage.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		if role.ParentID != nil {
			parent, err := e.store.GetRole(ctx, tx, *role.ParentID)
			if err != nil {
				return err
			}
			if parent.TenantID != role.TenantID {
				return &errdefs.TenantMismatchError{Resource: "parent role", Want: role.TenantID, Got: parent.TenantID}
			}
		}
		if err := e.store.InsertRole(ctx, tx, role); err != nil {
			return err
		}
		e.countGrantOp("role", "create")
		return e.recorder.Record(ctx, tx, role.ID, nil, roleState(role))
	})
}

// UpdateRole revalidates and persists name, description, level, and the
// default flag. The parent pointer moves only through SetRoleParent.
func (e *Engine) UpdateRole(ctx context.Context, role *Role) error {
	if err := role.Validate(); err != nil {
		return err
	}

	return storage.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		before, err := e.store.GetRole(ctx, tx, role.ID)
		if err != nil {
			return err
		}
		if before.IsSystem && role.IsDefault {
			return errdefs.Validation("is_default", "system roles cannot be default")
		}
		role.IsEnabled = before.IsEnabled
		if err := e.store.UpdateRole(ctx, tx, role); err != nil {
			return err
		}
		return e.recorder.Record(ctx, tx, role.ID, roleState(before), roleState(role))
	})
}

// SetRoleEnabled enables or disables a role. System roles cannot be
// disabled. Disabling cuts the role and its descendants' inherited
// permissions out of resolution without touching any grant rows.
func (e *Engine) SetRoleEnabled(ctx context.Context, roleID int64, enabled bool) error {
	return storage.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		role, err := e.store.GetRole(ctx, tx, roleID)
		if err != nil {
			return err
		}
		if role.IsSystem && !enabled {
			return errdefs.Validation("is_enabled", "system roles cannot be disabled")
		}
		if role.IsEnabled == enabled {
			return nil
		}
		before := roleState(role)
		role.IsEnabled = enabled
		if err := e.store.UpdateRole(ctx, tx, role); err != nil {
			return err
		}
		return e.recorder.Record(ctx, tx, roleID, before, roleState(role))
	})
}

// SetRoleParent re-points a role's parent after cycle and tenant checks.
// On rejection the existing chain is untouched.
func (e *Engine) SetRoleParent(ctx context.Context, roleID int64, parentID *int64) error {
	return storage.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		role, err := e.store.GetRole(ctx, tx, roleID)
		if err != nil {
			return err
		}
		if role.IsSystem {
			return errdefs.Validation("parent_id", "system roles cannot inherit")
		}

		if parentID != nil {
			if *parentID == roleID {
				return &errdefs.CycleError{RoleID: roleID, Path: []int64{roleID, roleID}}
			}
			parent, err := e.store.GetRole(ctx, tx, *parentID)
			if err != nil {
				return err
			}
			if parent.TenantID != role.TenantID {
				return &errdefs.TenantMismatchError{Resource: "parent role", Want: role.TenantID, Got: parent.TenantID}
			}
			if err := e.store.checkNoCycle(ctx, tx, roleID, *parentID); err != nil {
				return err
			}
		}

		before := roleState(role)
		if err := e.store.SetRoleParent(ctx, tx, roleID, parentID); err != nil {
			return err
		}
		role.ParentID = parentID
		return e.recorder.Record(ctx, tx, roleID, before, roleState(role))
	})
}

// SoftDeleteRole marks a role deleted and disabled, revokes all of its
// active grants and assignments, and detaches its children — all in one
// transaction. System roles are protected.
func (e *Engine) SoftDeleteRole(ctx context.Context, roleID int64) error {
	return storage.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		role, err := e.store.GetRole(ctx, tx, roleID)
		if err != nil {
			return err
		}
		if role.IsSystem {
			return errdefs.Validation("is_system", "system roles cannot be deleted")
		}

		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx,
			`UPDATE roles SET is_deleted = TRUE, deleted_at = $1, is_enabled = FALSE, updated_at = $1
			 WHERE id = $2`, now, roleID); err != nil {
			return fmt.Errorf("failed to soft-delete role: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE role_permissions SET is_granted = FALSE, revoked_at = $1, updated_at = $1
			 WHERE role_id = $2 AND is_granted AND NOT is_deleted`, now, roleID); err != nil {
			return fmt.Errorf("failed to revoke role grants: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE user_roles SET is_assigned = FALSE, revoked_at = $1, updated_at = $1
			 WHERE role_id = $2 AND is_assigned AND NOT is_deleted`, now, roleID); err != nil {
			return fmt.Errorf("failed to revoke role assignments: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE roles SET parent_id = NULL, updated_at = $1
			 WHERE parent_id = $2 AND NOT is_deleted`, now, roleID); err != nil {
			return fmt.Errorf("failed to detach child roles: %w", err)
		}

		e.countGrantOp("role", "delete")
		return e.recorder.Record(ctx, tx, roleID, roleState(role), nil)
	})
}

// GrantOptions carries the optional fields of a grant or assignment.
type GrantOptions struct {
	EffectiveFrom *time.Time
	EffectiveTo   *time.Time
	GrantedBy     *int64
	Reason        string
}

// GrantRolePermission creates an active grant for the role/permission
// pair. A tenant-owned permission must belong to the role's tenant. An
// existing active grant whose window is current or future blocks a new
// one with ConflictError; the partial unique index backstops the check.
func (e *Engine) GrantRolePermission(ctx context.Context, roleID, permissionID int64, opts GrantOptions) (*RolePermission, error) {
	if err := validateWindow(opts.EffectiveFrom, opts.EffectiveTo); err != nil {
		return nil, err
	}

	var grant *RolePermission
	err := storage.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		role, err := e.store.GetRole(ctx, tx, roleID)
		if err != nil {
			return err
		}

		var permTenantID *int64
		var permExists bool
		err = tx.QueryRowContext(ctx,
			`SELECT tenant_id, TRUE FROM permissions WHERE id = $1 AND NOT is_deleted`, permissionID,
		).Scan(&permTenantID, &permExists)
		if err == sql.ErrNoRows {
			return errdefs.NotFound("permission", strconv.FormatInt(permissionID, 10))
		}
		if err != nil {
			return fmt.Errorf("failed to query permission: %w", err)
		}
		if permTenantID != nil && *permTenantID != role.TenantID {
			return &errdefs.TenantMismatchError{Resource: "permission", Want: role.TenantID, Got: *permTenantID}
		}

		now := time.Now().UTC()
		blocking, err := e.store.FindBlockingGrant(ctx, tx, roleID, permissionID, now)
		if err != nil {
			return err
		}
		if blocking != nil {
			e.countConflict("role_permission")
			return errdefs.Conflict("role_permission",
				fmt.Sprintf("grant %d is already active for this pair", blocking.ID))
		}

		grant = &RolePermission{
			RoleID:        roleID,
			PermissionID:  permissionID,
			TenantID:      role.TenantID,
			IsGranted:     true,
			GrantedBy:     opts.GrantedBy,
			GrantedAt:     &now,
			EffectiveFrom: opts.EffectiveFrom,
			EffectiveTo:   opts.EffectiveTo,
			Reason:        opts.Reason,
		}
		if err := e.store.InsertRolePermission(ctx, tx, grant); err != nil {
			if errdefs.IsConflict(err) {
				e.countConflict("role_permission")
			}
			return err
		}

		e.countGrantOp("role_permission", "grant")
		return e.recorder.Record(ctx, tx, grant.ID, nil, grantState(grant))
	})
	if err != nil {
		return nil, err
	}
	return grant, nil
}

// RevokeRolePermission deactivates the pair's active grants. Revoking an
// already-revoked or absent grant is a clean no-op returning false.
func (e *Engine) RevokeRolePermission(ctx context.Context, roleID, permissionID int64, revokedBy *int64) (bool, error) {
	var changed bool
	err := storage.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		n, err := e.store.RevokeRolePermissions(ctx, tx, roleID, permissionID, revokedBy, now)
		if err != nil {
			return err
		}
		changed = n > 0
		if !changed {
			return nil
		}
		e.countGrantOp("role_permission", "revoke")
		return e.recorder.Record(ctx, tx, roleID,
			map[string]interface{}{"is_granted": true, "permission_id": permissionID},
			map[string]interface{}{"is_granted": false, "permission_id": permissionID})
	})
	return changed, err
}

// ActivateRolePermission reinstates a previously revoked grant row,
// keeping its original window.
func (e *Engine) ActivateRolePermission(ctx context.Context, grantID int64) error {
	return storage.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		grant, err := e.store.GetRolePermission(ctx, tx, grantID)
		if err != nil {
			return err
		}
		if grant.IsGranted {
			return nil
		}

		now := time.Now().UTC()
		blocking, err := e.store.FindBlockingGrant(ctx, tx, grant.RoleID, grant.PermissionID, now)
		if err != nil {
			return err
		}
		if blocking != nil {
			e.countConflict("role_permission")
			return errdefs.Conflict("role_permission",
				fmt.Sprintf("grant %d is already active for this pair", blocking.ID))
		}

		if err := e.store.ActivateRolePermission(ctx, tx, grantID, now); err != nil {
			return err
		}
		e.countGrantOp("role_permission", "activate")
		return e.recorder.Record(ctx, tx, grantID,
			map[string]interface{}{"is_granted": false},
			map[string]interface{}{"is_granted": true})
	})
}

// UpdateRolePermissionWindow rewrites a grant's effective window.
func (e *Engine) UpdateRolePermissionWindow(ctx context.Context, grantID int64, from, to *time.Time) error {
	if err := validateWindow(from, to); err != nil {
		return err
	}

	return storage.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		before, err := e.store.GetRolePermission(ctx, tx, grantID)
		if err != nil {
			return err
		}
		if err := e.store.UpdateRolePermissionWindow(ctx, tx, grantID, from, to); err != nil {
			return err
		}
		e.countGrantOp("role_permission", "update_window")
		return e.recorder.Record(ctx, tx, grantID,
			windowState(before.EffectiveFrom, before.EffectiveTo),
			windowState(from, to))
	})
}

// AssignUserRole assigns a role to a user. The role must be enabled and
// the user must hold an assigned membership in the role's tenant.
func (e *Engine) AssignUserRole(ctx context.Context, userID, roleID int64, opts GrantOptions) (*UserRole, error) {
	if err := validateWindow(opts.EffectiveFrom, opts.EffectiveTo); err != nil {
		return nil, err
	}

	var assignment *UserRole
	err := storage.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		role, err := e.store.GetRole(ctx, tx, roleID)
		if err != nil {
			return err
		}
		if !role.IsEnabled {
			return errdefs.Validation("role_id", "role is disabled")
		}

		now := time.Now().UTC()
		var member bool
		err = tx.QueryRowContext(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM tenant_users
				WHERE tenant_id = $1 AND user_id = $2 AND is_assigned AND NOT is_deleted
				  AND (expires_at IS NULL OR expires_at > $3)
			)`, role.TenantID, userID, now).Scan(&member)
		if err != nil {
			return fmt.Errorf("failed to check membership: %w", err)
		}
		if !member {
			return errdefs.Validation("user_id", "user is not a member of the role's tenant")
		}

		blocking, err := e.store.FindBlockingAssignment(ctx, tx, userID, roleID, now)
		if err != nil {
			return err
		}
		if blocking != nil {
			e.countConflict("user_role")
			return errdefs.Conflict("user_role",
				fmt.Sprintf("assignment %d is already active for this pair", blocking.ID))
		}

		assignment = &UserRole{
			UserID:        userID,
			RoleID:        roleID,
			TenantID:      role.TenantID,
			IsAssigned:    true,
			GrantedBy:     opts.GrantedBy,
			GrantedAt:     &now,
			EffectiveFrom: opts.EffectiveFrom,
			EffectiveTo:   opts.EffectiveTo,
			Reason:        opts.Reason,
		}
		if err := e.store.InsertUserRole(ctx, tx, assignment); err != nil {
			if errdefs.IsConflict(err) {
				e.countConflict("user_role")
			}
			return err
		}

		e.countGrantOp("user_role", "assign")
		return e.recorder.Record(ctx, tx, assignment.ID, nil, assignmentState(assignment))
	})
	if err != nil {
		return nil, err
	}
	return assignment, nil
}

// RevokeUserRole deactivates the pair's active assignments. Idempotent,
// returning false on no-op.
func (e *Engine) RevokeUserRole(ctx context.Context, userID, roleID int64, revokedBy *int64) (bool, error) {
	var changed bool
	err := storage.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		n, err := e.store.RevokeUserRoles(ctx, tx, userID, roleID, revokedBy, now)
		if err != nil {
			return err
		}
		changed = n > 0
		if !changed {
			return nil
		}
		e.countGrantOp("user_role", "revoke")
		return e.recorder.Record(ctx, tx, userID,
			map[string]interface{}{"is_assigned": true, "role_id": roleID},
			map[string]interface{}{"is_assigned": false, "role_id": roleID})
	})
	return changed, err
}

// ActivateUserRole reinstates a previously revoked assignment row.
func (e *Engine) ActivateUserRole(ctx context.Context, assignmentID int64) error {
	return storage.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		assignment, err := e.store.GetUserRole(ctx, tx, assignmentID)
		if err != nil {
			return err
		}
		if assignment.IsAssigned {
			return nil
		}

		now := time.Now().UTC()
		blocking, err := e.store.FindBlockingAssignment(ctx, tx, assignment.UserID, assignment.RoleID, now)
		if err != nil {
			return err
		}
		if blocking != nil {
			e.countConflict("user_role")
			return errdefs.Conflict("user_role",
				fmt.Sprintf("assignment %d is already active for this pair", blocking.ID))
		}

		if err := e.store.ActivateUserRole(ctx, tx, assignmentID, now); err != nil {
			return err
		}
		e.countGrantOp("user_role", "activate")
		return e.recorder.Record(ctx, tx, assignmentID,
			map[string]interface{}{"is_assigned": false},
			map[string]interface{}{"is_assigned": true})
	})
}

// UpdateUserRoleWindow rewrites an assignment's effective window.
func (e *Engine) UpdateUserRoleWindow(ctx context.Context, assignmentID int64, from, to *time.Time) error {
	if err := validateWindow(from, to); err != nil {
		return err
	}

	return storage.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		before, err := e.store.GetUserRole(ctx, tx, assignmentID)
		if err != nil {
			return err
		}
		if err := e.store.UpdateUserRoleWindow(ctx, tx, assignmentID, from, to); err != nil {
			return err
		}
		e.countGrantOp("user_role", "update_window")
		return e.recorder.Record(ctx, tx, assignmentID,
			windowState(before.EffectiveFrom, before.EffectiveTo),
			windowState(from, to))
	})
}

// DefaultRoles returns the tenant's enabled default roles.
func (e *Engine) DefaultRoles(ctx context.Context, tenantID int64) ([]*Role, error) {
	return e.store.DefaultRoles(ctx, e.db, tenantID)
}

func (e *Engine) checkTenantLive(ctx context.Context, tenantID int64) error {
	var enabled bool
	err := e.db.QueryRowContext(ctx,
		`SELECT is_enabled FROM tenants WHERE id = $1 AND NOT is_deleted`, tenantID).Scan(&enabled)
	if err == sql.ErrNoRows {
		return errdefs.NotFound("tenant", strconv.FormatInt(tenantID, 10))
	}
	if err != nil {
		return fmt.Errorf("failed to query tenant: %w", err)
	}
	if !enabled {
		return errdefs.Validation("tenant_id", "tenant is disabled")
	}
	return nil
}

func (e *Engine) countGrantOp(entity, operation string) {
	if e.metrics != nil {
		e.metrics.GrantOperationsTotal.WithLabelValues(entity, operation).Inc()
	}
}

func (e *Engine) countConflict(entity string) {
	if e.metrics != nil {
		e.metrics.GrantConflictsTotal.WithLabelValues(entity).Inc()
	}
}

func roleState(r *Role) map[string]interface{} {
	state := map[string]interface{}{
		"code":       r.Code,
		"name":       r.Name,
		"level":      r.Level,
		"is_enabled": r.IsEnabled,
		"is_default": r.IsDefault,
	}
	if r.ParentID != nil {
		state["parent_id"] = *r.ParentID
	}
	return state
}

func grantState(g *RolePermission) map[string]interface{} {
	state := map[string]interface{}{
		"role_id":       g.RoleID,
		"permission_id": g.PermissionID,
		"is_granted":    g.IsGranted,
	}
	if g.EffectiveFrom != nil {
		state["effective_from"] = g.EffectiveFrom.UTC().Format(time.RFC3339)
	}
	if g.EffectiveTo != nil {
		state["effective_to"] = g.EffectiveTo.UTC().Format(time.RFC3339)
	}
	return state
}

func assignmentState(a *UserRole) map[string]interface{} {
	state := map[string]interface{}{
		"user_id":     a.UserID,
		"role_id":     a.RoleID,
		"is_assigned": a.IsAssigned,
	}
	if a.EffectiveFrom != nil {
		state["effective_from"] = a.EffectiveFrom.UTC().Format(time.RFC3339)
	}
	if a.EffectiveTo != nil {
		state["effective_to"] = a.EffectiveTo.UTC().Format(time.RFC3339)
	}
	return state
}

func windowState(from, to *time.Time) map[string]interface{} {
	state := map[string]interface{}{}
	if from != nil {
		state["effective_from"] = from.UTC().Format(time.RFC3339)
	}
	if to != nil {
		state["effective_to"] = to.UTC().Format(time.RFC3339)
	}
	if len(state) == 0 {
		state["unbounded"] = true
	}
	return state
}
