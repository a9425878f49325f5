package rbac

import (
	"encoding/json"
	"regexp"
	"time"

	"github.com/wardenhq/warden/pkg/errdefs"
)

// MaxChainDepth bounds the inheritance walk. Chains deeper than this are
// truncated; legitimate hierarchies never get close.
const MaxChainDepth = 20

// Audit business types emitted by the engine.
const (
	BusinessTypeRole           = "role"
	BusinessTypeRolePermission = "role_permission"
	BusinessTypeUserRole       = "user_role"
)

var roleCodePattern = regexp.MustCompile(`^[A-Z_][A-Z0-9_]{0,49}$`)

// Role is a named bundle of permissions within a tenant. Roles form a
// single-parent inheritance graph: a role carries its own grants plus
// those of its ancestors.
type Role struct {
	ID          int64
	TenantID    int64
	Code        string
	Name        string
	Description string
	Level       int
	ParentID    *int64
	IsEnabled   bool
	IsSystem    bool
	IsDefault   bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
	IsDeleted   bool
	DeletedAt   *time.Time
}

// Validate checks the role's fields before persistence.
func (r *Role) Validate() error {
	if !roleCodePattern.MatchString(r.Code) {
		return errdefs.Validation("code", "must be uppercase alphanumeric with _, max 50 chars, starting with a letter or _")
	}
	if r.Name == "" {
		return errdefs.Validation("name", "must not be empty")
	}
	if r.Level < 0 {
		return errdefs.Validation("level", "must not be negative")
	}
	if r.IsSystem {
		if r.ParentID != nil {
			return errdefs.Validation("parent_id", "system roles cannot inherit")
		}
		if r.IsDefault {
			return errdefs.Validation("is_default", "system roles cannot be default")
		}
	}
	return nil
}

// RolePermission grants a permission to a role, optionally bounded to the
// half-open window [EffectiveFrom, EffectiveTo). Nil bounds are unbounded.
type RolePermission struct {
	ID            int64
	RoleID        int64
	PermissionID  int64
	TenantID      int64
	IsGranted     bool
	GrantedBy     *int64
	GrantedAt     *time.Time
	RevokedBy     *int64
	RevokedAt     *time.Time
	EffectiveFrom *time.Time
	EffectiveTo   *time.Time
	Reason        string
	Metadata      json.RawMessage
	CreatedAt     time.Time
	UpdatedAt     time.Time
	IsDeleted     bool
	DeletedAt     *time.Time
}

// EffectiveAt reports whether the grant is in force at t.
func (g *RolePermission) EffectiveAt(t time.Time) bool {
	return g.IsGranted && !g.IsDeleted && windowContains(g.EffectiveFrom, g.EffectiveTo, t)
}

// UserRole assigns a role to a user within a tenant, with the same
// half-open effective window semantics as RolePermission.
type UserRole struct {
	ID            int64
	UserID        int64
	RoleID        int64
	TenantID      int64
	IsAssigned    bool
	GrantedBy     *int64
	GrantedAt     *time.Time
	RevokedBy     *int64
	RevokedAt     *time.Time
	EffectiveFrom *time.Time
	EffectiveTo   *time.Time
	Reason        string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	IsDeleted     bool
	DeletedAt     *time.Time
}

// EffectiveAt reports whether the assignment is in force at t.
func (a *UserRole) EffectiveAt(t time.Time) bool {
	return a.IsAssigned && !a.IsDeleted && windowContains(a.EffectiveFrom, a.EffectiveTo, t)
}

// windowContains reports whether t falls in [from, to), treating nil
// bounds as unbounded.
func windowContains(from, to *time.Time, t time.Time) bool {
	if from != nil && t.Before(*from) {
		return false
	}
	if to != nil && !t.Before(*to) {
		return false
	}
	return true
}

// validateWindow rejects inverted windows. Equal or reversed bounds would
// make the grant unsatisfiable by construction.
func validateWindow(from, to *time.Time) error {
	if from != nil && to != nil && !from.Before(*to) {
		return errdefs.Validation("effective_to", "must be after effective_from")
	}
	return nil
}
