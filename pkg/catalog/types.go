package catalog

import (
	"regexp"
	"strings"
	"time"

	"github.com/wardenhq/warden/pkg/errdefs"
)

// User account statuses.
const (
	UserStatusActive = "active"
	UserStatusFrozen = "frozen"
	UserStatusBanned = "banned"
	UserStatusClosed = "closed"
)

var (
	tenantCodePattern = regexp.MustCompile(`^[a-z][a-z0-9_-]{0,63}$`)

	// permission codes are resource:action with an optional scope segment,
	// e.g. "article:edit" or "article:edit:own".
	permissionCodePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*:[a-z][a-z0-9_]*(:[a-z0-9_*]+)?$`)
)

// Tenant is an isolated namespace for roles, permissions, and memberships.
type Tenant struct {
	ID          int64
	Code        string
	Name        string
	Description string
	IsEnabled   bool
	IsSystem    bool
	ExpiresAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	IsDeleted   bool
	DeletedAt   *time.Time
}

// Validate checks the tenant's fields before persistence.
func (t *Tenant) Validate() error {
	if !tenantCodePattern.MatchString(t.Code) {
		return errdefs.Validation("code", "must be lowercase alphanumeric with _ or -, max 64 chars, starting with a letter")
	}
	if t.Name == "" {
		return errdefs.Validation("name", "must not be empty")
	}
	if t.IsSystem && t.ExpiresAt != nil {
		return errdefs.Validation("expires_at", "system tenants cannot expire")
	}
	return nil
}

// User is a principal that can hold roles across tenants.
type User struct {
	ID          int64
	Username    string
	Email       *string
	Mobile      *string
	DisplayName string
	Status      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	IsDeleted   bool
	DeletedAt   *time.Time
}

// Validate checks the user's fields before persistence.
func (u *User) Validate() error {
	if u.Username == "" {
		return errdefs.Validation("username", "must not be empty")
	}
	switch u.Status {
	case "", UserStatusActive, UserStatusFrozen, UserStatusBanned, UserStatusClosed:
	default:
		return errdefs.Validation("status", "unknown status "+u.Status)
	}
	return nil
}

// Permission is a grantable capability. A nil TenantID makes it global,
// visible to every tenant. System permissions are always global.
type Permission struct {
	ID           int64
	TenantID     *int64
	Code         string
	Name         string
	Description  string
	Action       string
	ResourceType string
	IsEnabled    bool
	IsSystem     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
	IsDeleted    bool
	DeletedAt    *time.Time
}

// Validate checks the permission's fields before persistence, deriving
// Action and ResourceType from the code when unset.
func (p *Permission) Validate() error {
	if !permissionCodePattern.MatchString(p.Code) {
		return errdefs.Validation("code", "must match resource:action with an optional scope segment")
	}
	if p.Name == "" {
		return errdefs.Validation("name", "must not be empty")
	}
	if p.IsSystem && p.TenantID != nil {
		return errdefs.Validation("tenant_id", "system permissions must be global")
	}

	parts := strings.Split(p.Code, ":")
	if p.ResourceType == "" {
		p.ResourceType = parts[0]
	}
	if p.Action == "" {
		p.Action = parts[1]
	}
	return nil
}

// IsGlobal reports whether the permission is visible to every tenant.
func (p *Permission) IsGlobal() bool {
	return p.TenantID == nil
}
